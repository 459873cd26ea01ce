package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/models"
)

// Open-Meteo endpoints
const (
	DefaultArchiveURL  = "https://archive-api.open-meteo.com/v1/era5"
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	maxForecastDays    = 16
)

var dailyVariables = []string{
	"temperature_2m_max",
	"temperature_2m_min",
	"temperature_2m_mean",
	"precipitation_sum",
	"snowfall_sum",
	"windspeed_10m_max",
}

// OpenMeteoConfig configures the weather client
type OpenMeteoConfig struct {
	ArchiveURL  string
	ForecastURL string
	Latitude    float64
	Longitude   float64
	Timezone    string
	Timeout     time.Duration
	Retry       RetryPolicy
}

// DefaultOpenMeteoConfig points at Lipetsk
func DefaultOpenMeteoConfig() OpenMeteoConfig {
	return OpenMeteoConfig{
		ArchiveURL:  DefaultArchiveURL,
		ForecastURL: DefaultForecastURL,
		Latitude:    52.61,
		Longitude:   39.594,
		Timezone:    "Europe/Moscow",
		Timeout:     30 * time.Second,
		Retry:       DefaultRetryPolicy(),
	}
}

// dailyResponse is the subset of the Open-Meteo payload used here; missing values arrive as null
type dailyResponse struct {
	Daily struct {
		Time          []string   `json:"time"`
		TempMax       []*float64 `json:"temperature_2m_max"`
		TempMin       []*float64 `json:"temperature_2m_min"`
		TempMean      []*float64 `json:"temperature_2m_mean"`
		Precipitation []*float64 `json:"precipitation_sum"`
		Snowfall      []*float64 `json:"snowfall_sum"`
		WindMax       []*float64 `json:"windspeed_10m_max"`
	} `json:"daily"`
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// OpenMeteoClient fetches daily weather from the Open-Meteo archive and forecast APIs
type OpenMeteoClient struct {
	HTTPClient *http.Client
	cfg        OpenMeteoConfig
	logger     *logrus.Logger
}

// NewOpenMeteoClient creates a client
func NewOpenMeteoClient(cfg OpenMeteoConfig, logger *logrus.Logger) *OpenMeteoClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ArchiveURL == "" {
		cfg.ArchiveURL = DefaultArchiveURL
	}
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = DefaultForecastURL
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/Moscow"
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &OpenMeteoClient{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// HistoricalWeather implements HistoricalWeatherSource using the ERA5 archive
func (c *OpenMeteoClient) HistoricalWeather(ctx context.Context, location string, from, to time.Time) ([]models.WeatherDay, error) {
	params := c.baseParams()
	params.Set("start_date", models.DayKey(from))
	params.Set("end_date", models.DayKey(to))
	return c.fetch(ctx, c.cfg.ArchiveURL, params, location)
}

// ForecastWeather implements ForecastWeatherSource. Today is skipped so the first day returned is tomorrow.
func (c *OpenMeteoClient) ForecastWeather(ctx context.Context, location string, days int) ([]models.WeatherDay, error) {
	if days <= 0 {
		return nil, nil
	}
	params := c.baseParams()
	params.Set("forecast_days", strconv.Itoa(min(days+1, maxForecastDays)))
	weather, err := c.fetch(ctx, c.cfg.ForecastURL, params, location)
	if err != nil {
		return nil, err
	}
	if len(weather) > 0 {
		weather = weather[1:]
	}
	return weather, nil
}

func (c *OpenMeteoClient) baseParams() url.Values {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(c.cfg.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(c.cfg.Longitude, 'f', -1, 64))
	params.Set("daily", strings.Join(dailyVariables, ","))
	params.Set("timezone", c.cfg.Timezone)
	params.Set("wind_speed_unit", "ms")
	return params
}

func (c *OpenMeteoClient) fetch(ctx context.Context, endpoint string, params url.Values, location string) ([]models.WeatherDay, error) {
	var days []models.WeatherDay
	err := executeWithRetry(ctx, c.cfg.Retry, c.logger, "open-meteo", func(ctx context.Context) error {
		var err error
		days, err = c.fetchOnce(ctx, endpoint, params, location)
		return err
	})
	return days, err
}

func (c *OpenMeteoClient) fetchOnce(ctx context.Context, endpoint string, params url.Values, location string) ([]models.WeatherDay, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Celebrum-Forecast/1.0")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Debug("Error closing response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var payload dailyResponse
	if resp.StatusCode >= 400 {
		if err := json.Unmarshal(body, &payload); err == nil && payload.Reason != "" {
			return nil, &statusError{code: resp.StatusCode, msg: fmt.Sprintf("open-meteo error (%d): %s", resp.StatusCode, payload.Reason)}
		}
		return nil, &statusError{code: resp.StatusCode, msg: fmt.Sprintf("open-meteo error (%d): %s", resp.StatusCode, string(body))}
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &decodeError{err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	days := make([]models.WeatherDay, 0, len(payload.Daily.Time))
	for i, raw := range payload.Daily.Time {
		date, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			c.logger.WithError(err).WithField("date", raw).Debug("Skipping weather day with invalid date")
			continue
		}
		day := models.WeatherDay{
			Date:          date,
			Location:      location,
			TempMin:       valueAt(payload.Daily.TempMin, i),
			TempMax:       valueAt(payload.Daily.TempMax, i),
			Temperature:   valueAt(payload.Daily.TempMean, i),
			Precipitation: valueAt(payload.Daily.Precipitation, i),
			Snowfall:      valueAt(payload.Daily.Snowfall, i),
			WindSpeed:     valueAt(payload.Daily.WindMax, i),
		}
		if pointAt(payload.Daily.TempMean, i) == nil && pointAt(payload.Daily.TempMin, i) != nil && pointAt(payload.Daily.TempMax, i) != nil {
			day.Temperature = (day.TempMin + day.TempMax) / 2
		}
		days = append(days, day)
	}

	c.logger.WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"location":    location,
		"days":        len(days),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Fetched Open-Meteo weather")
	return days, nil
}

func pointAt(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

func valueAt(values []*float64, i int) float64 {
	if v := pointAt(values, i); v != nil {
		return *v
	}
	return 0
}
