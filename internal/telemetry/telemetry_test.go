package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "stdout", cfg.Exporter)
	assert.Equal(t, ServiceName, cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRatio)
}

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), DefaultConfig(), logrus.New())
	require.NoError(t, err)
	require.NotNil(t, p.TracerProvider())

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Writer = &buf

	p, err := Init(context.Background(), cfg, logrus.New())
	require.NoError(t, err)

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "exported-span")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "exported-span")
	assert.Contains(t, buf.String(), ServiceName)
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "zipkin"

	_, err := Init(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zipkin")
}

func TestProvider_ShutdownNil(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestForecastTracer_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ft := NewForecastTracer(tp)

	ctx, run := ft.StartRun(context.Background(), "run-1", 7, 120)
	_, model := ft.StartModel(ctx, "ARIMA")
	RecordModelOutcome(model, true, "")
	EndSpan(model, nil)

	_, failed := ft.StartModel(ctx, "NHITS")
	RecordModelOutcome(failed, false, "timeout")
	EndSpan(failed, errors.New("deadline exceeded"))

	_, stage := ft.StartStage(ctx, "postprocess")
	EndSpan(stage, nil)
	EndSpan(run, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 4)
	assert.Equal(t, "forecast.model", spans[0].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "forecast.postprocess", spans[2].Name())
	assert.Equal(t, "forecast.run", spans[3].Name())
	assert.Equal(t, spans[3].SpanContext().TraceID(), spans[0].SpanContext().TraceID())

	attrs := map[string]string{}
	for _, kv := range spans[1].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "timeout", attrs["forecast.fallback_reason"])
	assert.Equal(t, "false", attrs["forecast.cache_hit"])
}
