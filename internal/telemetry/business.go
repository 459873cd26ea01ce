package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const forecastTracerName = "github.com/irfndi/celebrum-forecast/forecast"

// ForecastTracer starts spans for the stages of a forecast run
type ForecastTracer struct {
	tracer trace.Tracer
}

// NewForecastTracer creates a tracer; a nil provider uses the global one
func NewForecastTracer(tp trace.TracerProvider) *ForecastTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &ForecastTracer{tracer: tp.Tracer(forecastTracerName)}
}

// StartRun opens the root span of a forecast run
func (ft *ForecastTracer) StartRun(ctx context.Context, runID string, horizon, transactions int) (context.Context, trace.Span) {
	return ft.tracer.Start(ctx, "forecast.run", trace.WithAttributes(
		attribute.String("forecast.run_id", runID),
		attribute.Int("forecast.horizon", horizon),
		attribute.Int("forecast.transactions", transactions),
	))
}

// StartModel opens the span of one model unit
func (ft *ForecastTracer) StartModel(ctx context.Context, model string) (context.Context, trace.Span) {
	return ft.tracer.Start(ctx, "forecast.model", trace.WithAttributes(attribute.String("forecast.model", model)))
}

// StartStage opens a span for a named pipeline stage
func (ft *ForecastTracer) StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ft.tracer.Start(ctx, "forecast."+stage, trace.WithAttributes(attrs...))
}

// RecordModelOutcome annotates a model span with its cache and fallback outcome
func RecordModelOutcome(span trace.Span, cacheHit bool, fallbackReason string) {
	span.SetAttributes(
		attribute.Bool("forecast.cache_hit", cacheHit),
		attribute.Bool("forecast.fallback", fallbackReason != ""),
	)
	if fallbackReason != "" {
		span.SetAttributes(attribute.String("forecast.fallback_reason", fallbackReason))
	}
}

// EndSpan records err on the span and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
