package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-forecast/internal/forecasters"
	"github.com/irfndi/celebrum-forecast/internal/metrics"
	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/services"
)

type redisPinger struct {
	client *redis.Client
}

func (r redisPinger) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type testServer struct {
	router   *gin.Engine
	registry *prometheus.Registry
	redis    *miniredis.Miniredis
}

func newTestServer(t *testing.T, adminKey string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registry := prometheus.NewRegistry()
	cfg := services.DefaultForecastServiceConfig()
	cfg.Evaluator.Enabled = false
	cfg.ModelTimeout = 10 * time.Second

	svc := services.NewForecastService(cfg, services.ForecastDeps{
		Forecasters: forecasters.All(42, nil, nil, logger),
		Metrics:     metrics.New(registry),
	}, logger)
	require.NoError(t, svc.WarmUp(context.Background()))
	t.Cleanup(svc.Shutdown)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	router := gin.New()
	SetupRoutes(router, Deps{
		Engine:         svc,
		Redis:          redisPinger{client: client},
		Breakers:       services.NewCircuitBreakerManager(logger),
		Gatherer:       registry,
		Version:        "test",
		AllowedOrigins: []string{"http://localhost:3000"},
		AdminAPIKey:    adminKey,
		Logger:         logger,
	})
	return &testServer{router: router, registry: registry, redis: mr}
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func historyBody(days, horizon int) string {
	var sb strings.Builder
	sb.WriteString(`{"transactions":[`)
	start := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"date":%q,"amount":"%d"}`, start.AddDate(0, 0, i).Format(time.RFC3339), 900+(i%7)*20)
	}
	fmt.Fprintf(&sb, `],"horizon":%d}`, horizon)
	return sb.String()
}

func TestRoutes_ForecastEndToEnd(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodGet, "/api/v1/forecast/diagnostics", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/v1/forecast", historyBody(35, 5), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var body struct {
		Success bool                  `json:"success"`
		Data    models.ForecastResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data.Points, 5)
	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), body.Data.Points[0].Date.UTC())
	for _, p := range body.Data.Points {
		assert.Greater(t, p.PredictedRevenue, int64(0))
		assert.GreaterOrEqual(t, p.Confidence, 0.3)
		assert.LessOrEqual(t, p.Confidence, 0.95)
	}

	w = s.do(http.MethodGet, "/api/v1/forecast/diagnostics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), body.Data.RunID.String())
	assert.Contains(t, w.Body.String(), `"circuit_breakers"`)
	assert.Contains(t, w.Body.String(), `"open_circuit_breakers":[]`)
	assert.Contains(t, w.Body.String(), `"active_operations":0`)

	w = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `forecast_runs_total{outcome="ok"} 1`)
	assert.Contains(t, w.Body.String(), "forecast_ensemble_weight")
}

func TestRoutes_ForecastValidation(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodPost, "/api/v1/forecast", historyBody(10, -1), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "horizon")

	w = s.do(http.MethodPost, "/api/v1/forecast", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_Health(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"database":"disabled"`)

	s.redis.Close()
	w = s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)

	w = s.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_AdminEndpointsRequireKey(t *testing.T) {
	s := newTestServer(t, "secret")

	w := s.do(http.MethodGet, "/api/v1/admin/circuit-breakers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/v1/admin/circuit-breakers", "", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/v1/actuals", `{"date":"2024-05-01","revenue":1000}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// no prediction store is configured in this server
	w = s.do(http.MethodPost, "/api/v1/actuals", `{"date":"2024-05-01","revenue":1000}`,
		map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoutes_CORSPreflight(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodOptions, "/api/v1/forecast", "", map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
