package database

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/celebrum-forecast/internal/models"
)

// WeatherRepository reads and writes analytics.weather_daily
type WeatherRepository struct {
	pool DatabasePool
}

func NewWeatherRepository(pool DatabasePool) *WeatherRepository {
	return &WeatherRepository{pool: pool}
}

// HistoricalWeather returns stored days in [from, to]. Rows are keyed by date only, so location is informational.
func (r *WeatherRepository) HistoricalWeather(ctx context.Context, location string, from, to time.Time) ([]models.WeatherDay, error) {
	query := `
		SELECT weather_date,
			COALESCE(location, ''),
			COALESCE(temp_min_c, 0)::float8,
			COALESCE(temp_max_c, 0)::float8,
			COALESCE(temp_avg_c, (temp_min_c + temp_max_c) / 2, 0)::float8,
			COALESCE(precipitation_mm, 0)::float8,
			COALESCE(snowfall_cm, 0)::float8,
			COALESCE(wind_max_ms, 0)::float8
		FROM analytics.weather_daily
		WHERE weather_date BETWEEN $1 AND $2
		ORDER BY weather_date
	`
	rows, err := r.pool.Query(ctx, query, models.TruncateDay(from), models.TruncateDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query weather: %w", err)
	}
	defer rows.Close()

	var days []models.WeatherDay
	for rows.Next() {
		var d models.WeatherDay
		if err := rows.Scan(&d.Date, &d.Location, &d.TempMin, &d.TempMax, &d.Temperature,
			&d.Precipitation, &d.Snowfall, &d.WindSpeed); err != nil {
			return nil, fmt.Errorf("failed to scan weather row: %w", err)
		}
		if d.Location == "" {
			d.Location = location
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating weather rows: %w", err)
	}
	return days, nil
}

// UpsertWeather writes days, replacing existing rows for the same date
func (r *WeatherRepository) UpsertWeather(ctx context.Context, days []models.WeatherDay) (int, error) {
	query := `
		INSERT INTO analytics.weather_daily (
			weather_date, location, temp_min_c, temp_max_c, temp_avg_c,
			precipitation_mm, snowfall_cm, wind_max_ms, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (weather_date) DO UPDATE SET
			location = EXCLUDED.location,
			temp_min_c = EXCLUDED.temp_min_c,
			temp_max_c = EXCLUDED.temp_max_c,
			temp_avg_c = EXCLUDED.temp_avg_c,
			precipitation_mm = EXCLUDED.precipitation_mm,
			snowfall_cm = EXCLUDED.snowfall_cm,
			wind_max_ms = EXCLUDED.wind_max_ms,
			updated_at = NOW()
	`
	written := 0
	for _, d := range days {
		_, err := r.pool.Exec(ctx, query,
			models.TruncateDay(d.Date), d.Location, d.TempMin, d.TempMax, d.Temperature,
			d.Precipitation, d.Snowfall, d.WindSpeed)
		if err != nil {
			return written, fmt.Errorf("failed to upsert weather for %s: %w", models.DayKey(d.Date), err)
		}
		written++
	}
	return written, nil
}
