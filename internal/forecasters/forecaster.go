// Package forecasters implements the individual revenue forecasting strategies.
//
// Every forecaster is split into Fit, which produces an immutable parameter payload, and
// Predict, which projects that payload over future covariate stubs. Forecasters hold no
// mutable state and are safe for concurrent use.
package forecasters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

// ErrInsufficientHistory is returned by Fit when the history is shorter than MinHistory
var ErrInsufficientHistory = errors.New("insufficient history")

// Traits tag a forecaster for contextual ensemble weighting
type Traits struct {
	Stable   bool
	Adaptive bool
	Seasonal bool
}

// Forecaster is one independently trained strategy
type Forecaster interface {
	Name() models.ModelName
	Traits() Traits
	MinHistory() int
	Fit(ctx context.Context, history []models.Observation) (models.ParamPayload, error)
	Predict(ctx context.Context, params models.ParamPayload, history []models.Observation, future []models.FutureCovariateStub) ([]float64, error)
}

// ParameterCache stores fitted parameters by model and data fingerprint
type ParameterCache interface {
	Get(ctx context.Context, model models.ModelName, fingerprint string) (*models.ModelParameters, bool)
	Put(ctx context.Context, params *models.ModelParameters)
}

// Result is the outcome of one forecaster run
type Result struct {
	Predictions []float64
	CacheHit    bool
	Degraded    bool
}

// Run fits (or reuses cached parameters for) a forecaster and predicts the future stubs.
// Histories shorter than the forecaster's minimum degrade to the average of the last value
// and the overall mean. Outputs are always finite and non-negative.
func Run(ctx context.Context, f Forecaster, cache ParameterCache, fingerprint string, history []models.Observation, future []models.FutureCovariateStub) (Result, error) {
	if len(history) < f.MinHistory() {
		return Result{Predictions: DegradedForecast(history, len(future)), Degraded: true}, nil
	}

	var payload models.ParamPayload
	hit := false
	if cache != nil && fingerprint != "" {
		if cached, ok := cache.Get(ctx, f.Name(), fingerprint); ok && cached.Payload != nil && cached.Payload.Model() == f.Name() {
			payload = cached.Payload
			hit = true
		}
	}

	if payload == nil {
		fitted, err := f.Fit(ctx, history)
		if err != nil {
			return Result{}, fmt.Errorf("failed to fit %s: %w", f.Name(), err)
		}
		payload = fitted
		if cache != nil && fingerprint != "" {
			cache.Put(ctx, &models.ModelParameters{
				Model:         f.Name(),
				Fingerprint:   fingerprint,
				TrainedAt:     time.Now().UTC(),
				TrainingSize:  len(history),
				LastTrainedOn: history[len(history)-1].Date,
				Payload:       payload,
			})
		}
	}

	predictions, err := f.Predict(ctx, payload, history, future)
	if err != nil {
		return Result{CacheHit: hit}, fmt.Errorf("failed to predict with %s: %w", f.Name(), err)
	}
	if len(predictions) != len(future) {
		return Result{CacheHit: hit}, fmt.Errorf("%s returned %d predictions for %d days", f.Name(), len(predictions), len(future))
	}
	return Result{Predictions: Sanitize(predictions, utils.Mean(models.Revenues(history))), CacheHit: hit}, nil
}

// DegradedForecast repeats the average of the last value and the overall mean
func DegradedForecast(history []models.Observation, horizon int) []float64 {
	out := make([]float64, horizon)
	if len(history) == 0 {
		return out
	}
	revenues := models.Revenues(history)
	level := (revenues[len(revenues)-1] + utils.Mean(revenues)) / 2
	for i := range out {
		out[i] = level
	}
	return out
}

// MeanForecast repeats the historical mean
func MeanForecast(history []models.Observation, horizon int) []float64 {
	mean := utils.Mean(models.Revenues(history))
	out := make([]float64, horizon)
	for i := range out {
		out[i] = mean
	}
	return out
}

// Sanitize replaces non-finite values with fallback and negative values with zero
func Sanitize(values []float64, fallback float64) []float64 {
	if !utils.IsFinite(fallback) || fallback < 0 {
		fallback = 0
	}
	out := make([]float64, len(values))
	for i, v := range values {
		switch {
		case !utils.IsFinite(v):
			out[i] = fallback
		case v < 0:
			out[i] = 0
		default:
			out[i] = v
		}
	}
	return out
}

func payloadError(want models.ModelName, got models.ParamPayload) error {
	if got == nil {
		return fmt.Errorf("%s: missing parameters", want)
	}
	return fmt.Errorf("%s: unexpected parameters for %s", want, got.Model())
}
