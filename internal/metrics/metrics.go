package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus collectors of the forecast engine
type Metrics struct {
	ForecastRuns       *prometheus.CounterVec
	ForecastDuration   prometheus.Histogram
	ModelDuration      *prometheus.HistogramVec
	ModelFallbacks     *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	AnomaliesCorrected prometheus.Counter
	ExternalFetches    *prometheus.CounterVec
	EnsembleWeight     *prometheus.GaugeVec
}

// New creates and registers all metrics on reg; nil uses the default registerer
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ForecastRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecast_runs_total",
				Help: "Forecast runs by outcome",
			},
			[]string{"outcome"},
		),
		ForecastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecast_run_duration_seconds",
			Help:    "End to end forecast run latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ModelDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecast_model_duration_seconds",
				Help:    "Per model fit and predict latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		ModelFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecast_model_fallbacks_total",
				Help: "Model units resolved to the fallback series",
			},
			[]string{"model", "reason"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecast_parameter_cache_lookups_total",
				Help: "Parameter cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		AnomaliesCorrected: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecast_anomalies_corrected_total",
			Help: "History days replaced by the consensus anomaly filter",
		}),
		ExternalFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecast_external_fetches_total",
				Help: "External data fetches by kind and result",
			},
			[]string{"kind", "result"},
		),
		EnsembleWeight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forecast_ensemble_weight",
				Help: "Normalized ensemble weight of each model on the first forecast day of the last run",
			},
			[]string{"model"},
		),
	}
}

// RecordCacheLookup implements cache.Recorder
func (m *Metrics) RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordRun counts one run and its latency
func (m *Metrics) RecordRun(outcome string, d time.Duration) {
	m.ForecastRuns.WithLabelValues(outcome).Inc()
	m.ForecastDuration.Observe(d.Seconds())
}

// RecordModel observes one model unit; a non-empty reason counts a fallback
func (m *Metrics) RecordModel(model string, d time.Duration, fallbackReason string) {
	m.ModelDuration.WithLabelValues(model).Observe(d.Seconds())
	if fallbackReason != "" {
		m.ModelFallbacks.WithLabelValues(model, fallbackReason).Inc()
	}
}

func (m *Metrics) RecordAnomalies(corrected int) {
	if corrected > 0 {
		m.AnomaliesCorrected.Add(float64(corrected))
	}
}

func (m *Metrics) RecordExternalFetch(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "default"
	}
	m.ExternalFetches.WithLabelValues(kind, result).Inc()
}

// SetEnsembleWeights publishes the first-day weights of the latest run
func (m *Metrics) SetEnsembleWeights(weights map[string]float64) {
	m.EnsembleWeight.Reset()
	for model, w := range weights {
		m.EnsembleWeight.WithLabelValues(model).Set(w)
	}
}
