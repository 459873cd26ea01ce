package forecasters

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

// BatchRunner executes the hierarchical interpolation network out of process
type BatchRunner interface {
	Forecast(ctx context.Context, history []models.Observation, horizon int) ([]float64, error)
}

// AvailabilityProbe reports whether the external runtime can be used
type AvailabilityProbe interface {
	Available(ctx context.Context) bool
}

// NHITS delegates to an external batch process and falls back to the historical mean silently
type NHITS struct {
	runner BatchRunner
	probe  AvailabilityProbe
	logger *logrus.Logger
}

// NewNHITS creates the forecaster; a nil runner always yields the mean
func NewNHITS(runner BatchRunner, probe AvailabilityProbe, logger *logrus.Logger) *NHITS {
	if logger == nil {
		logger = logrus.New()
	}
	return &NHITS{runner: runner, probe: probe, logger: logger}
}

func (*NHITS) Name() models.ModelName { return models.ModelNHITS }
func (*NHITS) Traits() Traits         { return Traits{Adaptive: true} }
func (*NHITS) MinHistory() int        { return 14 }

func (n *NHITS) Fit(ctx context.Context, history []models.Observation) (models.ParamPayload, error) {
	if len(history) < n.MinHistory() {
		return nil, ErrInsufficientHistory
	}
	return &models.NHITSParams{Mean: utils.Mean(models.Revenues(history))}, nil
}

func (n *NHITS) Predict(ctx context.Context, params models.ParamPayload, history []models.Observation, future []models.FutureCovariateStub) ([]float64, error) {
	p, ok := params.(*models.NHITSParams)
	if !ok {
		return nil, payloadError(n.Name(), params)
	}
	fallback := make([]float64, len(future))
	for i := range fallback {
		fallback[i] = p.Mean
	}
	if n.runner == nil || (n.probe != nil && !n.probe.Available(ctx)) {
		return fallback, nil
	}

	values, err := n.runner.Forecast(ctx, history, len(future))
	if err != nil {
		n.logger.WithError(err).Debug("NHITS process unavailable, using historical mean")
		return fallback, nil
	}
	out := make([]float64, len(future))
	for i := range out {
		out[i] = p.Mean
		if i < len(values) && utils.IsFinite(values[i]) && values[i] > 0 {
			out[i] = values[i]
		}
	}
	return out, nil
}
