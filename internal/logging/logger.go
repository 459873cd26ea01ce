// Package logging builds the logrus loggers shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// New creates a logger: JSON in production, text elsewhere
func New(logLevel, environment string) *logrus.Logger {
	return NewWithWriter(os.Stdout, logLevel, environment)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, logLevel, environment string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(ParseLogrusLevel(logLevel))
	if strings.EqualFold(environment, "production") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logger.AddHook(TraceHook{})
	return logger
}

// ParseLogrusLevel converts string level to logrus.Level
func ParseLogrusLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithComponent creates a logger entry with component context
func WithComponent(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}

// LogStartup logs service startup in a standardized format
func LogStartup(logger *logrus.Logger, serviceName, version string, port int) {
	logger.WithFields(logrus.Fields{
		"service": serviceName,
		"version": version,
		"port":    port,
		"event":   "startup",
	}).Info("Application startup")
}

// LogShutdown logs service shutdown in a standardized format
func LogShutdown(logger *logrus.Logger, serviceName, reason string) {
	logger.WithFields(logrus.Fields{
		"service": serviceName,
		"reason":  reason,
		"event":   "shutdown",
	}).Info("Application shutdown")
}

// LogAPIRequest logs one handled request
func LogAPIRequest(logger *logrus.Logger, method, path string, statusCode int, durationMs int64) {
	logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      statusCode,
		"duration_ms": durationMs,
		"event":       "api",
	}).Info("API request")
}

// TraceHook copies the active span's IDs onto entries logged with WithContext
type TraceHook struct{}

func (TraceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (TraceHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(entry.Context)
	if !sc.IsValid() {
		return nil
	}
	entry.Data["trace_id"] = sc.TraceID().String()
	entry.Data["span_id"] = sc.SpanID().String()
	return nil
}
