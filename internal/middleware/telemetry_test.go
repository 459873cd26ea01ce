package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingProvider() (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)), recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTelemetryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tp, recorder := newRecordingProvider()

	router := gin.New()
	router.Use(TelemetryMiddleware("forecast-test", tp))
	router.POST("/api/v1/forecast", func(c *gin.Context) {
		AddSpanAttribute(c, "forecast.horizon", 7)
		AddSpanAttribute(c, "forecast.fallback", false)
		AddSpanAttribute(c, "forecast.location", "Lipetsk,RU")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	t.Run("api request is traced", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/forecast", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		v, ok := spanAttr(spans[0], "forecast.horizon")
		require.True(t, ok)
		assert.Equal(t, int64(7), v.AsInt64())
		v, ok = spanAttr(spans[0], "forecast.location")
		require.True(t, ok)
		assert.Equal(t, "Lipetsk,RU", v.AsString())
	})

	t.Run("probe paths are skipped", func(t *testing.T) {
		before := len(recorder.Ended())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, recorder.Ended(), before)
	})
}

func TestRecordError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tp, recorder := newRecordingProvider()

	router := gin.New()
	router.Use(TelemetryMiddleware("forecast-test", tp))
	router.GET("/api/v1/forecast/diagnostics", func(c *gin.Context) {
		RecordError(c, errors.New("no run yet"), "diagnostics unavailable")
		c.JSON(http.StatusNotFound, gin.H{"error": "no run yet"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/forecast/diagnostics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestHealthCheckTelemetryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		status     int
		wantHealth string
		wantCode   codes.Code
	}{
		{"healthy", http.StatusOK, "healthy", codes.Ok},
		{"degraded", http.StatusServiceUnavailable, "degraded", codes.Error},
		{"server error", http.StatusInternalServerError, "server_error", codes.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, recorder := newRecordingProvider()
			router := gin.New()
			router.Use(HealthCheckTelemetryMiddleware(tp))
			router.GET("/health", func(c *gin.Context) { c.Status(tt.status) })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.status, w.Code)

			spans := recorder.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, "Health /health", spans[0].Name())
			v, ok := spanAttr(spans[0], "health.status")
			require.True(t, ok)
			assert.Equal(t, tt.wantHealth, v.AsString())
			assert.Equal(t, tt.wantCode, spans[0].Status().Code)
		})
	}
}

func TestHealthStatusFromCode(t *testing.T) {
	assert.Equal(t, "healthy", healthStatusFromCode(204))
	assert.Equal(t, "client_error", healthStatusFromCode(404))
	assert.Equal(t, "degraded", healthStatusFromCode(503))
	assert.Equal(t, "server_error", healthStatusFromCode(500))
	assert.Equal(t, "unknown", healthStatusFromCode(101))
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/api/v1/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	t.Run("generates when missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
		id := w.Header().Get(RequestIDHeader)
		assert.Len(t, id, 36)
		assert.Equal(t, id, w.Body.String())
	})

	t.Run("keeps a valid caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
		req.Header.Set(RequestIDHeader, "7f1c2a5e-6a7b-4c2d-9e8f-0a1b2c3d4e5f")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, "7f1c2a5e-6a7b-4c2d-9e8f-0a1b2c3d4e5f", w.Header().Get(RequestIDHeader))
	})

	t.Run("replaces a malformed caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
		req.Header.Set(RequestIDHeader, "<script>")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.NotEqual(t, "<script>", w.Header().Get(RequestIDHeader))
	})
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	router := gin.New()
	router.Use(RequestLogger(logger))
	router.POST("/api/v1/forecast", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/forecast", nil))
	assert.Contains(t, buf.String(), `"path":"/api/v1/forecast"`)
	assert.Contains(t, buf.String(), `"status":400`)

	buf.Reset()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String())
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS([]string{"http://localhost:3000"}))
	router.POST("/api/v1/forecast", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/forecast", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/forecast", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/forecast", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("wildcard", func(t *testing.T) {
		r := gin.New()
		r.Use(CORS([]string{"*"}))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", "https://any.example")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "https://any.example", w.Header().Get("Access-Control-Allow-Origin"))
	})
}
