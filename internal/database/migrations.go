package database

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// schema is applied in order; every statement is idempotent
var schema = []string{
	`CREATE SCHEMA IF NOT EXISTS forecast`,
	`CREATE SCHEMA IF NOT EXISTS analytics`,
	`CREATE TABLE IF NOT EXISTS forecast.model_parameters (
		model_name    TEXT        NOT NULL,
		fingerprint   TEXT        NOT NULL,
		parameters    JSONB       NOT NULL,
		trained_at    TIMESTAMPTZ NOT NULL,
		training_size INTEGER     NOT NULL,
		expires_at    TIMESTAMPTZ NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (model_name, fingerprint)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_model_parameters_expires_at ON forecast.model_parameters (expires_at)`,
	`CREATE TABLE IF NOT EXISTS forecast.predictions (
		id                UUID          PRIMARY KEY,
		run_id            UUID          NOT NULL,
		model_name        TEXT          NOT NULL,
		forecast_date     DATE          NOT NULL,
		horizon           INTEGER       NOT NULL,
		day_of_week       SMALLINT      NOT NULL,
		predicted_revenue NUMERIC(14,2) NOT NULL,
		confidence        DOUBLE PRECISION NOT NULL,
		actual_revenue    NUMERIC(14,2),
		created_at        TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
		resolved_at       TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_model_resolved ON forecast.predictions (model_name) WHERE actual_revenue IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_forecast_date ON forecast.predictions (forecast_date)`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_run_id ON forecast.predictions (run_id)`,
	`CREATE TABLE IF NOT EXISTS analytics.weather_daily (
		weather_date     DATE PRIMARY KEY,
		location         TEXT,
		temp_min_c       NUMERIC(5,2),
		temp_max_c       NUMERIC(5,2),
		temp_avg_c       NUMERIC(5,2),
		precipitation_mm NUMERIC(6,2),
		snowfall_cm      NUMERIC(6,2),
		wind_max_ms      NUMERIC(5,2),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the forecast and analytics tables when missing
func Migrate(ctx context.Context, pool DatabasePool, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	logger.WithField("statements", len(schema)).Info("Database schema is up to date")
	return nil
}
