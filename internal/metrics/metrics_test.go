package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

func TestNew_RegistersCollectors(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordRun(OutcomeOK, time.Second)
	m.RecordModel("ARIMA", 10*time.Millisecond, "")
	m.RecordCacheLookup("memory", true)
	m.RecordExternalFetch("historical", true)
	m.SetEnsembleWeights(map[string]float64{"ARIMA": 1})

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["forecast_runs_total"])
	assert.True(t, names["forecast_run_duration_seconds"])
	assert.True(t, names["forecast_model_duration_seconds"])
	assert.True(t, names["forecast_parameter_cache_lookups_total"])
	assert.True(t, names["forecast_ensemble_weight"])
}

func TestMetrics_RecordCacheLookup(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCacheLookup("memory", true)
	m.RecordCacheLookup("memory", false)
	m.RecordCacheLookup("durable", false)
	m.RecordCacheLookup("durable", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("memory", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("memory", "miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("durable", "miss")))
}

func TestMetrics_RecordModel(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordModel("NHITS", time.Second, "timeout")
	m.RecordModel("NHITS", time.Second, "")
	m.RecordModel("LSTM", time.Second, "error")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelFallbacks.WithLabelValues("NHITS", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelFallbacks.WithLabelValues("LSTM", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ModelDuration))
}

func TestMetrics_Counters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRun(OutcomeFallback, 50*time.Millisecond)
	m.RecordAnomalies(3)
	m.RecordAnomalies(0)
	m.RecordExternalFetch("forecast", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForecastRuns.WithLabelValues(OutcomeFallback)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AnomaliesCorrected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalFetches.WithLabelValues("forecast", "default")))
}

func TestMetrics_SetEnsembleWeights(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetEnsembleWeights(map[string]float64{"ARIMA": 0.6, "Prophet": 0.4})
	m.SetEnsembleWeights(map[string]float64{"XGBoost": 1})

	assert.Equal(t, 1, testutil.CollectAndCount(m.EnsembleWeight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnsembleWeight.WithLabelValues("XGBoost")))
}
