package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseLogrusLevel(t *testing.T) {
	tests := []struct {
		levelStr string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"info", logrus.InfoLevel},
		{"INFO", logrus.InfoLevel},    // case insensitive
		{"DEBUG", logrus.DebugLevel},  // case insensitive
		{"invalid", logrus.InfoLevel}, // default to info
		{"", logrus.InfoLevel},        // empty string defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.levelStr, func(t *testing.T) {
			result := ParseLogrusLevel(tt.levelStr)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNew_FormatterByEnvironment(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "production")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	WithComponent(logger, "orchestrator").Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "orchestrator", line["component"])
	assert.Equal(t, "hello", line["msg"])

	buf.Reset()
	dev := NewWithWriter(&buf, "info", "development")
	dev.Debug("hidden")
	dev.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestStandardEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "production")

	LogStartup(logger, "celebrum-forecast", "1.0.0", 8080)
	LogAPIRequest(logger, "POST", "/api/v1/forecast", 200, 42)
	LogShutdown(logger, "celebrum-forecast", "signal")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var startup, api map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &startup))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &api))
	assert.Equal(t, "startup", startup["event"])
	assert.Equal(t, float64(8080), startup["port"])
	assert.Equal(t, float64(200), api["status"])
	assert.Contains(t, lines[2], `"event":"shutdown"`)
}

func TestTraceHook(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "production")

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "run")
	logger.WithContext(ctx).Info("inside span")
	span.End()

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])

	buf.Reset()
	logger.Info("no context")
	assert.NotContains(t, buf.String(), "trace_id")
}
