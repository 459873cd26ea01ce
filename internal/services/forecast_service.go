package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/irfndi/celebrum-forecast/internal/anomaly"
	"github.com/irfndi/celebrum-forecast/internal/cache"
	"github.com/irfndi/celebrum-forecast/internal/config"
	"github.com/irfndi/celebrum-forecast/internal/ensemble"
	"github.com/irfndi/celebrum-forecast/internal/forecasters"
	"github.com/irfndi/celebrum-forecast/internal/metrics"
	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/postprocess"
	"github.com/irfndi/celebrum-forecast/internal/telemetry"
	"github.com/irfndi/celebrum-forecast/internal/timeseries"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

// Fallback reasons reported per model
const (
	ReasonTimeout = "timeout"
	ReasonPanic   = "panic"
	ReasonError   = "error"
)

// ForecastServiceConfig tunes the orchestrator
type ForecastServiceConfig struct {
	DefaultHorizon     int
	MaxHorizon         int
	ModelTimeout       time.Duration
	Location           string
	FingerprintTail    int
	PersistPredictions bool
	Evaluator          ensemble.EvaluatorConfig
	Ensemble           ensemble.Config
	Postprocess        postprocess.Config
}

// DefaultForecastServiceConfig returns the production settings
func DefaultForecastServiceConfig() ForecastServiceConfig {
	return ForecastServiceConfig{
		DefaultHorizon:     7,
		MaxHorizon:         90,
		ModelTimeout:       30 * time.Second,
		Location:           "Lipetsk,RU",
		FingerprintTail:    cache.DefaultFingerprintTail,
		PersistPredictions: true,
		Evaluator:          ensemble.DefaultEvaluatorConfig(),
		Ensemble:           ensemble.DefaultConfig(),
		Postprocess:        postprocess.DefaultConfig(),
	}
}

// ForecastServiceConfigFrom maps loaded settings onto the orchestrator config.
// Base weight keys are matched to model names case-insensitively.
func ForecastServiceConfigFrom(cfg *config.Config) ForecastServiceConfig {
	out := DefaultForecastServiceConfig()
	if cfg == nil {
		return out
	}
	if cfg.Forecast.DefaultHorizon > 0 {
		out.DefaultHorizon = cfg.Forecast.DefaultHorizon
	}
	if cfg.Forecast.MaxHorizon > 0 {
		out.MaxHorizon = cfg.Forecast.MaxHorizon
	}
	out.ModelTimeout = cfg.Forecast.ModelTimeoutDuration()
	if cfg.Forecast.Location != "" {
		out.Location = cfg.Forecast.Location
	}
	if cfg.Cache.FingerprintTail > 0 {
		out.FingerprintTail = cfg.Cache.FingerprintTail
	}
	out.PersistPredictions = cfg.Forecast.PersistPredictions

	out.Evaluator.Enabled = cfg.Forecast.CrossValidation
	out.Evaluator.Interval = cfg.Forecast.CrossValidationInterval()
	if cfg.Forecast.CrossValidationMin > 0 {
		out.Evaluator.MinHistory = cfg.Forecast.CrossValidationMin
	}

	for key, w := range cfg.Ensemble.BaseWeights {
		for _, name := range models.AllModels {
			if strings.EqualFold(key, string(name)) {
				out.Ensemble.BaseWeights[name] = w
			}
		}
	}
	if cfg.Ensemble.VolatilityThreshold > 0 {
		out.Ensemble.VolatilityThreshold = cfg.Ensemble.VolatilityThreshold
	}
	if cfg.Ensemble.AdvisorBaseWeight > 0 {
		out.Ensemble.AdvisorBaseWeight = cfg.Ensemble.AdvisorBaseWeight
	}
	if cfg.Postprocess != (postprocess.Config{}) {
		out.Postprocess = cfg.Postprocess
	}
	return out
}

// ExternalSource supplies signals for a run and never fails
type ExternalSource interface {
	Historical(ctx context.Context, location string) *models.ExternalData
	Forecast(ctx context.Context, location string, from time.Time, days int) *models.ExternalData
}

// PredictionStore is the persistence collaborator used for feedback-driven recalibration
type PredictionStore interface {
	CreateForecastPrediction(ctx context.Context, p *models.ForecastPrediction) error
	GetModelMetrics(ctx context.Context, model models.ModelName) ([]models.ModelMetric, error)
	UpdateActualRevenue(ctx context.Context, date time.Time, revenue float64) (int64, error)
}

// ForecastDeps are the collaborators of the orchestrator; everything except Forecasters may be nil
type ForecastDeps struct {
	Forecasters []forecasters.Forecaster
	Cache       forecasters.ParameterCache
	External    ExternalSource
	Holidays    timeseries.HolidaySource
	Store       PredictionStore
	Advisor     *TrackedAdvisor
	Probe       forecasters.AvailabilityProbe
	Metrics     *metrics.Metrics
	Tracer      *telemetry.ForecastTracer
}

// ErrNoPredictionStore is returned by RecordActual when persistence is disabled
var ErrNoPredictionStore = errors.New("no prediction store configured")

// ForecastService runs the end-to-end forecast pipeline
type ForecastService struct {
	cfg         ForecastServiceConfig
	forecasters []forecasters.Forecaster
	cache       forecasters.ParameterCache
	external    ExternalSource
	store       PredictionStore
	advisor     *TrackedAdvisor
	probe       forecasters.AvailabilityProbe
	metrics     *metrics.Metrics
	tracer      *telemetry.ForecastTracer
	logger      *logrus.Logger

	builder   *timeseries.Builder
	detector  *anomaly.AnomalyDetector
	ensemble  *ensemble.AdaptiveEnsemble
	accuracy  *ensemble.AccuracyTracker
	processor *postprocess.Processor
	timeouts  *TimeoutManager

	now         func() time.Time
	ready       atomic.Bool
	diagnostics atomic.Pointer[models.EnsembleDiagnostics]
}

// NewForecastService wires the pipeline. Construction does no I/O; call WarmUp before serving.
func NewForecastService(cfg ForecastServiceConfig, deps ForecastDeps, logger *logrus.Logger) *ForecastService {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.DefaultHorizon <= 0 {
		cfg.DefaultHorizon = 7
	}
	if cfg.MaxHorizon < cfg.DefaultHorizon {
		cfg.MaxHorizon = max(cfg.DefaultHorizon, 90)
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 30 * time.Second
	}
	if cfg.Ensemble.BaseWeights == nil {
		cfg.Ensemble = ensemble.DefaultConfig()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.NewForecastTracer(nil)
	}

	var metricsSource ensemble.MetricsSource
	if deps.Store != nil {
		metricsSource = deps.Store
	}

	timeouts := DefaultTimeoutConfig()
	timeouts.ModelUnit = cfg.ModelTimeout

	return &ForecastService{
		cfg:         cfg,
		forecasters: deps.Forecasters,
		cache:       deps.Cache,
		external:    deps.External,
		store:       deps.Store,
		advisor:     deps.Advisor,
		probe:       deps.Probe,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		logger:      logger,
		builder:     timeseries.NewBuilder(deps.Holidays, timeseries.DefaultFallbacks(), logger),
		detector:    anomaly.NewAnomalyDetector(anomaly.DefaultConfig(), logger),
		ensemble:    ensemble.NewAdaptiveEnsemble(cfg.Ensemble, deps.Forecasters),
		accuracy:    ensemble.NewAccuracyTracker(cfg.Evaluator, metricsSource, logger),
		processor:   postprocess.NewProcessor(cfg.Postprocess, logger),
		timeouts:    NewTimeoutManager(timeouts, logger),
		now:         time.Now,
	}
}

// WarmUp probes optional collaborators once so the first forecast does not pay for it
func (s *ForecastService) WarmUp(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := logrus.Fields{"forecasters": len(s.forecasters)}
	if s.probe != nil {
		fields["nhits_available"] = s.probe.Available(ctx)
	}
	if s.advisor != nil {
		fields["advisor_available"] = s.advisor.IsAvailable(ctx)
	}
	if c, ok := s.cache.(*cache.ModelParameterCache); ok {
		fields["cache_removed"] = c.Cleanup()
	}
	s.ready.Store(true)
	s.logger.WithFields(fields).Info("Forecast service warmed up")
	return nil
}

// IsReady reports whether WarmUp has completed
func (s *ForecastService) IsReady() bool {
	return s.ready.Load()
}

// TimeoutStats reports the operations in flight and the per-type deadlines
func (s *ForecastService) TimeoutStats() TimeoutStats {
	return s.timeouts.Stats()
}

// LastDiagnostics returns the diagnostics of the most recent run, nil before the first
func (s *ForecastService) LastDiagnostics() *models.EnsembleDiagnostics {
	return s.diagnostics.Load()
}

// RecordActual stores realized revenue for a day and drops the accuracy snapshot
func (s *ForecastService) RecordActual(ctx context.Context, date time.Time, revenue float64) (int64, error) {
	if revenue < 0 || !utils.IsFinite(revenue) {
		return 0, utils.NewFieldError("revenue", "must be a non-negative number")
	}
	if date.IsZero() {
		return 0, utils.NewFieldError("date", "is required")
	}
	if s.store == nil {
		return 0, ErrNoPredictionStore
	}
	n, err := s.store.UpdateActualRevenue(ctx, date, revenue)
	if err != nil {
		return 0, fmt.Errorf("failed to record actual revenue: %w", err)
	}
	if n > 0 {
		s.accuracy.Invalidate()
	}
	return n, nil
}

func (s *ForecastService) validate(req *models.ForecastRequest) (int, error) {
	horizon := req.Horizon
	switch {
	case horizon < 0:
		return 0, utils.NewFieldError("horizon", "must not be negative")
	case horizon == 0:
		horizon = s.cfg.DefaultHorizon
	case horizon > s.cfg.MaxHorizon:
		return 0, utils.NewFieldError("horizon", "must not exceed %d", s.cfg.MaxHorizon)
	}
	for i, tx := range req.Transactions {
		if tx.Date.IsZero() {
			return 0, utils.NewFieldError(fmt.Sprintf("transactions[%d].date", i), "is required")
		}
	}
	for i, rec := range req.Profitability {
		if rec.Date.IsZero() {
			return 0, utils.NewFieldError(fmt.Sprintf("profitability[%d].date", i), "is required")
		}
	}
	return horizon, nil
}

// GenerateForecast runs the pipeline. Only invalid input returns an error; every collaborator
// failure degrades to a fallback.
func (s *ForecastService) GenerateForecast(ctx context.Context, req models.ForecastRequest) (*models.ForecastResult, error) {
	horizon, err := s.validate(&req)
	if err != nil {
		return nil, err
	}
	if !s.ready.Load() {
		if err := s.WarmUp(ctx); err != nil {
			return nil, err
		}
	}

	start := s.now()
	runID := uuid.New()
	ctx, span := s.tracer.StartRun(ctx, runID.String(), horizon, len(req.Transactions))
	defer telemetry.EndSpan(span, nil)

	logger := s.logger.WithFields(logrus.Fields{
		"run_id":       runID,
		"horizon":      horizon,
		"transactions": len(req.Transactions),
	})

	histExt := s.fetchHistorical(ctx)
	history := s.builder.Build(req.Transactions, req.Profitability, histExt)

	if len(history) == 0 {
		result := s.fallbackResult(ctx, runID, horizon)
		s.record(metrics.OutcomeFallback, start)
		logger.Warn("No observations, returning flat fallback forecast")
		return result, nil
	}

	corrected, report := s.detector.Filter(history)
	timeseries.RefreshIndicators(corrected)
	if s.metrics != nil {
		s.metrics.RecordAnomalies(len(report.Corrected))
	}

	last := corrected[len(corrected)-1].Date
	futureExt := s.fetchForecast(ctx, last.AddDate(0, 0, 1), horizon)
	stubs := s.builder.FutureStubs(last, horizon, futureExt)
	fingerprint := cache.Fingerprint(corrected, s.cfg.FingerprintTail)

	outputs, runs := s.runModels(ctx, runID, fingerprint, corrected, stubs)

	cvCtx, cvSpan := s.tracer.StartStage(ctx, "accuracy", attribute.Int("forecast.history_days", len(corrected)))
	snap := s.accuracy.Snapshot(cvCtx, s.forecasters, corrected)
	cvSpan.SetAttributes(attribute.String("forecast.accuracy_source", snap.Source))
	telemetry.EndSpan(cvSpan, nil)

	advice := s.consultAdvisor(ctx, runID, fingerprint, corrected, stubs)
	feedback := s.feedbackMAPE(ctx)

	profile := s.processor.NewProfile(corrected, len(report.Corrected))
	volatility := ensemble.Volatility(corrected)

	steps := make([]postprocess.StepInput, len(stubs))
	diagSteps := make([]models.EnsembleStep, len(stubs))
	for i, stub := range stubs {
		normalized := make(map[models.ModelName]float64, len(outputs))
		values := make([]float64, 0, len(outputs))
		for name, preds := range outputs {
			v := s.processor.Normalize(profile, preds[i])
			normalized[name] = v
			if utils.IsFinite(v) {
				values = append(values, v)
			}
		}
		var advisorInput *ensemble.AdvisorInput
		if advice != nil {
			advisorInput = &ensemble.AdvisorInput{
				Prediction:  s.processor.Normalize(profile, advice.values[i]),
				SuccessRate: advice.successRate,
			}
		}

		stepCtx := ensemble.StepContext{
			Date:        stub.Date,
			Horizon:     i + 1,
			DayOfWeek:   stub.DayOfWeek,
			IsWeekend:   stub.IsWeekend,
			IsHoliday:   stub.IsHoliday,
			Volatility:  volatility,
			HistoryDays: len(corrected),
		}
		blended, diag, ok := s.ensemble.Combine(stepCtx, normalized, snap, advisorInput)
		if !ok {
			blended = math.NaN()
		}
		diagSteps[i] = diag

		step := postprocess.StepInput{
			Stub:        stub,
			Horizon:     i + 1,
			Ensemble:    blended,
			ModelValues: values,
			Coverage:    coverage(stub, futureExt),
		}
		if mape, ok := feedback[stub.DayOfWeek]; ok {
			step.FeedbackMAPE = &mape
		}
		steps[i] = step
	}

	points := s.processor.Process(profile, steps)
	if s.metrics != nil && len(diagSteps) > 0 {
		weights := make(map[string]float64, len(diagSteps[0].NormalizedWeights))
		for name, w := range diagSteps[0].NormalizedWeights {
			weights[string(name)] = w
		}
		s.metrics.SetEnsembleWeights(weights)
	}

	s.diagnostics.Store(&models.EnsembleDiagnostics{
		RunID:     runID,
		CreatedAt: s.now().UTC(),
		Steps:     diagSteps,
		Models:    runs,
		Anomalies: report,
	})

	s.persist(ctx, runID, stubs, outputs, points)

	outcome := metrics.OutcomeOK
	fallbacks := 0
	for _, r := range runs {
		if r.FallbackReason != "" {
			fallbacks++
		}
	}
	if fallbacks == len(runs) {
		outcome = metrics.OutcomeFallback
	}
	s.record(outcome, start)

	logger.WithFields(logrus.Fields{
		"history_days":     len(corrected),
		"anomalies":        len(report.Corrected),
		"model_fallbacks":  fallbacks,
		"accuracy_source":  snap.Source,
		"duration_ms":      s.now().Sub(start).Milliseconds(),
		"first_prediction": points[0].PredictedRevenue,
	}).Info("Forecast generated")

	return &models.ForecastResult{
		RunID:       runID,
		GeneratedAt: s.now().UTC(),
		Points:      points,
		Fallback:    outcome == metrics.OutcomeFallback,
	}, nil
}

func (s *ForecastService) fetchHistorical(ctx context.Context) *models.ExternalData {
	if s.external == nil {
		return nil
	}
	ctx, span := s.tracer.StartStage(ctx, "external.historical")
	defer telemetry.EndSpan(span, nil)
	data := s.external.Historical(ctx, s.cfg.Location)
	if s.metrics != nil {
		s.metrics.RecordExternalFetch("historical", data.HasWeather())
	}
	return data
}

func (s *ForecastService) fetchForecast(ctx context.Context, from time.Time, days int) *models.ExternalData {
	if s.external == nil {
		return nil
	}
	ctx, span := s.tracer.StartStage(ctx, "external.forecast")
	defer telemetry.EndSpan(span, nil)
	data := s.external.Forecast(ctx, s.cfg.Location, from, days)
	if s.metrics != nil {
		s.metrics.RecordExternalFetch("forecast", data.HasWeather())
	}
	return data
}

type modelOutcome struct {
	result forecasters.Result
	run    models.ModelRun
}

// runModels fans out every forecaster, each racing the model timeout. Failures resolve to the historical mean.
func (s *ForecastService) runModels(ctx context.Context, runID uuid.UUID, fingerprint string, history []models.Observation, stubs []models.FutureCovariateStub) (map[models.ModelName][]float64, []models.ModelRun) {
	outcomes := make([]modelOutcome, len(s.forecasters))
	var g errgroup.Group
	for i, f := range s.forecasters {
		g.Go(func() error {
			outcomes[i] = s.runModel(ctx, runID, f, fingerprint, history, stubs)
			return nil
		})
	}
	_ = g.Wait()

	outputs := make(map[models.ModelName][]float64, len(outcomes))
	runs := make([]models.ModelRun, len(outcomes))
	for i, o := range outcomes {
		outputs[o.run.Model] = o.result.Predictions
		runs[i] = o.run
	}
	return outputs, runs
}

func (s *ForecastService) runModel(ctx context.Context, runID uuid.UUID, f forecasters.Forecaster, fingerprint string, history []models.Observation, stubs []models.FutureCovariateStub) modelOutcome {
	name := f.Name()
	ctx, span := s.tracer.StartModel(ctx, string(name))
	start := s.now()

	done := make(chan forecasters.Result, 1)
	err := s.timeouts.ExecuteWithTimeout(ctx, OperationModelUnit, runID.String()+":"+string(name), func(ctx context.Context) error {
		res, err := forecasters.Run(ctx, f, s.cache, fingerprint, history, stubs)
		if err != nil {
			return err
		}
		done <- res
		return nil
	})

	out := modelOutcome{run: models.ModelRun{Model: name}}
	if err == nil {
		out.result = <-done
	} else {
		out.run.FallbackReason = fallbackReason(err)
		out.result = forecasters.Result{Predictions: forecasters.MeanForecast(history, len(stubs))}
		s.logger.WithError(err).WithFields(logrus.Fields{
			"model":  name,
			"reason": out.run.FallbackReason,
		}).Warn("Model failed, using historical mean")
	}
	out.run.Duration = s.now().Sub(start)
	out.run.CacheHit = out.result.CacheHit
	out.run.Degraded = out.result.Degraded

	if s.metrics != nil {
		s.metrics.RecordModel(string(name), out.run.Duration, out.run.FallbackReason)
	}
	telemetry.RecordModelOutcome(span, out.run.CacheHit, out.run.FallbackReason)
	telemetry.EndSpan(span, err)

	s.logger.WithFields(logrus.Fields{
		"model":       name,
		"duration_ms": out.run.Duration.Milliseconds(),
		"cache_hit":   out.run.CacheHit,
		"degraded":    out.run.Degraded,
	}).Debug("Model finished")
	return out
}

func fallbackReason(err error) string {
	var timeoutErr *TimeoutError
	var panicErr *PanicError
	switch {
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &panicErr):
		return ReasonPanic
	default:
		return ReasonError
	}
}

type advisorAdvice struct {
	values      []float64
	successRate float64
}

func (s *ForecastService) consultAdvisor(ctx context.Context, runID uuid.UUID, fingerprint string, history []models.Observation, stubs []models.FutureCovariateStub) *advisorAdvice {
	if s.advisor == nil || !s.advisor.IsAvailable(ctx) {
		return nil
	}
	var values []float64
	err := s.timeouts.ExecuteWithTimeout(ctx, OperationExternalFetch, runID.String()+":advisor", func(ctx context.Context) error {
		v, err := s.advisor.Predict(ctx, fingerprint, history, stubs)
		values = v
		return err
	})
	if err != nil {
		return nil
	}
	return &advisorAdvice{values: values, successRate: s.advisor.GetMetrics().SuccessRate}
}

// feedbackMAPE returns the realized ensemble MAPE per weekday, weighted by sample size
func (s *ForecastService) feedbackMAPE(ctx context.Context) map[int]float64 {
	if s.store == nil {
		return nil
	}
	rows, err := s.store.GetModelMetrics(ctx, models.ModelEnsemble)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to load ensemble feedback metrics")
		return nil
	}
	var sum, weight [7]float64
	for _, r := range rows {
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 || !utils.IsFinite(r.MAPE) {
			continue
		}
		w := float64(max(1, r.SampleSize))
		sum[r.DayOfWeek] += r.MAPE * w
		weight[r.DayOfWeek] += w
	}
	out := make(map[int]float64)
	for d := range sum {
		if weight[d] > 0 {
			out[d] = sum[d] / weight[d]
		}
	}
	return out
}

// coverage is the share of external signals known for a day: holidays always, then weather, economy and sentiment
func coverage(stub models.FutureCovariateStub, ext *models.ExternalData) float64 {
	if ext == nil {
		return 0.25
	}
	known := 1.0
	key := models.DayKey(stub.Date)
	for _, w := range ext.Weather {
		if models.DayKey(w.Date) == key {
			known++
			break
		}
	}
	e := ext.Economic
	if e.ExchangeRate != nil || e.Inflation != nil || e.ConsumerConfidence != nil || e.Unemployment != nil {
		known++
	}
	for _, sd := range ext.Sentiment {
		if models.DayKey(sd.Date) == key {
			known++
			break
		}
	}
	return known / 4
}

func (s *ForecastService) fallbackResult(ctx context.Context, runID uuid.UUID, horizon int) *models.ForecastResult {
	today := models.TruncateDay(s.now())
	stubs := s.builder.FutureStubs(today, horizon, s.fetchForecast(ctx, today.AddDate(0, 0, 1), horizon))
	points := s.processor.Fallback(stubs, s.processor.NewProfile(nil, 0).Base)
	s.diagnostics.Store(&models.EnsembleDiagnostics{
		RunID:     runID,
		CreatedAt: s.now().UTC(),
		Steps:     []models.EnsembleStep{},
		Models:    []models.ModelRun{},
		Anomalies: models.AnomalyReport{Flagged: []models.AnomalyFlag{}, Corrected: []int{}},
	})
	return &models.ForecastResult{
		RunID:       runID,
		GeneratedAt: s.now().UTC(),
		Points:      points,
		Fallback:    true,
	}
}

// persist writes one prediction per model per day plus the ensemble; failures are logged and dropped
func (s *ForecastService) persist(ctx context.Context, runID uuid.UUID, stubs []models.FutureCovariateStub, outputs map[models.ModelName][]float64, points []models.ForecastPoint) {
	if s.store == nil || !s.cfg.PersistPredictions {
		return
	}
	ctx, span := s.tracer.StartStage(ctx, "persist")
	failures := 0
	write := func(p *models.ForecastPrediction) {
		err := s.timeouts.ExecuteWithTimeout(ctx, OperationPersistence, p.ID.String(), func(ctx context.Context) error {
			return s.store.CreateForecastPrediction(ctx, p)
		})
		if err != nil {
			failures++
			if failures == 1 {
				s.logger.WithError(err).WithField("run_id", runID).Warn("Failed to persist forecast prediction")
			}
		}
	}

	for i, stub := range stubs {
		for _, name := range models.AllModels {
			preds, ok := outputs[name]
			if !ok || i >= len(preds) {
				continue
			}
			write(&models.ForecastPrediction{
				ID:               uuid.New(),
				RunID:            runID,
				ModelName:        string(name),
				ForecastDate:     stub.Date,
				Horizon:          i + 1,
				DayOfWeek:        stub.DayOfWeek,
				PredictedRevenue: preds[i],
			})
		}
		if i < len(points) {
			write(&models.ForecastPrediction{
				ID:               uuid.New(),
				RunID:            runID,
				ModelName:        string(models.ModelEnsemble),
				ForecastDate:     stub.Date,
				Horizon:          i + 1,
				DayOfWeek:        stub.DayOfWeek,
				PredictedRevenue: float64(points[i].PredictedRevenue),
				Confidence:       points[i].Confidence,
			})
		}
	}
	span.SetAttributes(attribute.Int("forecast.persist_failures", failures))
	telemetry.EndSpan(span, nil)
	if failures > 1 {
		s.logger.WithFields(logrus.Fields{"run_id": runID, "failures": failures}).Warn("Some forecast predictions were not persisted")
	}
}

func (s *ForecastService) record(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordRun(outcome, s.now().Sub(start))
	}
}

// Shutdown cancels in-flight model units
func (s *ForecastService) Shutdown() {
	s.timeouts.Shutdown()
}
