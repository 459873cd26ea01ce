package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/irfndi/celebrum-forecast/internal/cache"
	"github.com/irfndi/celebrum-forecast/internal/models"
)

// ForecastRepository persists model parameters, predictions and realized revenue
type ForecastRepository struct {
	pool DatabasePool
	ttl  time.Duration
	now  func() time.Time
}

// NewForecastRepository creates a repository; stored parameters expire after ttl
func NewForecastRepository(pool DatabasePool, ttl time.Duration) *ForecastRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ForecastRepository{pool: pool, ttl: ttl, now: time.Now}
}

// SaveModelParameters stores trained parameters. A row for the same model and fingerprint is kept as is.
func (r *ForecastRepository) SaveModelParameters(ctx context.Context, params *models.ModelParameters) error {
	if params == nil {
		return errors.New("model parameters are nil")
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode %s parameters: %w", params.Model, err)
	}

	query := `
		INSERT INTO forecast.model_parameters (model_name, fingerprint, parameters, trained_at, training_size, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (model_name, fingerprint) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		string(params.Model), params.Fingerprint, payload, params.TrainedAt, params.TrainingSize, r.now().Add(r.ttl))
	if err != nil {
		return fmt.Errorf("failed to save %s parameters: %w", params.Model, err)
	}
	return nil
}

// GetModelParameters returns ErrNotFound for absent or expired rows
func (r *ForecastRepository) GetModelParameters(ctx context.Context, model models.ModelName, fingerprint string) (*models.ModelParameters, error) {
	query := `
		SELECT parameters
		FROM forecast.model_parameters
		WHERE model_name = $1 AND fingerprint = $2 AND expires_at > $3
	`
	var payload []byte
	err := r.pool.QueryRow(ctx, query, string(model), fingerprint, r.now()).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s parameters: %w", model, err)
	}

	var params models.ModelParameters
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("failed to decode %s parameters: %w", model, err)
	}
	return &params, nil
}

// LoadParameters implements cache.ParameterStore
func (r *ForecastRepository) LoadParameters(ctx context.Context, model models.ModelName, fingerprint string) (*models.ModelParameters, error) {
	params, err := r.GetModelParameters(ctx, model, fingerprint)
	if errors.Is(err, ErrNotFound) {
		return nil, cache.ErrCacheMiss
	}
	return params, err
}

// SaveParameters implements cache.ParameterStore
func (r *ForecastRepository) SaveParameters(ctx context.Context, params *models.ModelParameters) error {
	return r.SaveModelParameters(ctx, params)
}

// DeleteExpiredParameters removes rows past their expiry
func (r *ForecastRepository) DeleteExpiredParameters(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM forecast.model_parameters WHERE expires_at <= $1`, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired parameters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateForecastPrediction stores one prediction row; ID and CreatedAt are filled when empty
func (r *ForecastRepository) CreateForecastPrediction(ctx context.Context, p *models.ForecastPrediction) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}

	query := `
		INSERT INTO forecast.predictions (id, run_id, model_name, forecast_date, horizon, day_of_week, predicted_revenue, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		p.ID, p.RunID, p.ModelName, p.ForecastDate, p.Horizon, p.DayOfWeek, p.PredictedRevenue, p.Confidence, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create prediction for %s on %s: %w", p.ModelName, models.DayKey(p.ForecastDate), err)
	}
	return nil
}

// UpdateActualRevenue records realized revenue on every prediction for the date
func (r *ForecastRepository) UpdateActualRevenue(ctx context.Context, date time.Time, revenue float64) (int64, error) {
	if revenue < 0 {
		return 0, fmt.Errorf("actual revenue must be non-negative, got %v", revenue)
	}
	query := `
		UPDATE forecast.predictions
		SET actual_revenue = $2, resolved_at = $3
		WHERE forecast_date = $1
	`
	tag, err := r.pool.Exec(ctx, query, models.TruncateDay(date), revenue, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to update actual revenue for %s: %w", models.DayKey(date), err)
	}
	return tag.RowsAffected(), nil
}

// GetModelMetrics aggregates realized accuracy per day of week and horizon
func (r *ForecastRepository) GetModelMetrics(ctx context.Context, model models.ModelName) ([]models.ModelMetric, error) {
	query := `
		SELECT day_of_week,
			horizon,
			(AVG(ABS(predicted_revenue - actual_revenue) / actual_revenue) * 100)::float8 AS mape,
			AVG(ABS(predicted_revenue - actual_revenue))::float8 AS mae,
			SQRT(AVG(POWER(predicted_revenue - actual_revenue, 2)))::float8 AS rmse,
			COUNT(*)::int AS sample_size
		FROM forecast.predictions
		WHERE model_name = $1 AND actual_revenue IS NOT NULL AND actual_revenue > 0
		GROUP BY day_of_week, horizon
		ORDER BY day_of_week, horizon
	`
	rows, err := r.pool.Query(ctx, query, string(model))
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics for %s: %w", model, err)
	}
	defer rows.Close()

	var metrics []models.ModelMetric
	for rows.Next() {
		var m models.ModelMetric
		if err := rows.Scan(&m.DayOfWeek, &m.Horizon, &m.MAPE, &m.MAE, &m.RMSE, &m.SampleSize); err != nil {
			return nil, fmt.Errorf("failed to scan metrics row: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metrics rows: %w", err)
	}
	return metrics, nil
}

// GetRunPredictions returns the rows written by one run ordered by model and date
func (r *ForecastRepository) GetRunPredictions(ctx context.Context, runID uuid.UUID) ([]models.ForecastPrediction, error) {
	query := `
		SELECT id, run_id, model_name, forecast_date, horizon, day_of_week, predicted_revenue::float8,
			confidence, actual_revenue::float8, created_at, resolved_at
		FROM forecast.predictions
		WHERE run_id = $1
		ORDER BY model_name, forecast_date
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []models.ForecastPrediction
	for rows.Next() {
		var p models.ForecastPrediction
		if err := rows.Scan(&p.ID, &p.RunID, &p.ModelName, &p.ForecastDate, &p.Horizon, &p.DayOfWeek,
			&p.PredictedRevenue, &p.Confidence, &p.ActualRevenue, &p.CreatedAt, &p.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prediction row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prediction rows: %w", err)
	}
	return out, nil
}
