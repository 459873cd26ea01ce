package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

const (
	statusHealthy     = "healthy"
	statusUnhealthy   = "unhealthy"
	statusDegraded    = "degraded"
	statusNotEnabled  = "disabled"
	healthCheckBudget = 5 * time.Second
)

// HealthChecker is satisfied by the Postgres and Redis clients
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessSource reports whether the forecast service finished warming up
type ReadinessSource interface {
	IsReady() bool
}

// HealthHandler serves liveness, readiness and dependency health
type HealthHandler struct {
	db      HealthChecker
	redis   HealthChecker
	service ReadinessSource
	version string
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

// NewHealthHandler creates a health handler. Nil checkers are reported as disabled;
// the engine degrades to its in-memory paths without them.
func NewHealthHandler(db, redis HealthChecker, service ReadinessSource, version string) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, service: service, version: version}
}

// HealthCheck verifies the optional stores. A failing store degrades the service
// rather than taking it down, so the status code is 503 only when nothing can serve.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckBudget)
	defer cancel()

	services := map[string]string{
		"database": check(ctx, h.db),
		"redis":    check(ctx, h.redis),
	}

	status := statusHealthy
	for _, s := range services {
		if s != statusHealthy && s != statusNotEnabled {
			status = statusDegraded
		}
	}
	if h.service != nil && !h.service.IsReady() {
		services["forecast"] = "warming_up"
		status = statusUnhealthy
	} else {
		services["forecast"] = statusHealthy
	}

	code := http.StatusOK
	if status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	if c.Request.Method == http.MethodHead {
		c.Status(code)
		return
	}
	c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	})
}

// ReadinessCheck reports ready once the forecast service has warmed up
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.service != nil && !h.service.IsReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// LivenessCheck only proves the process is responsive
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func check(ctx context.Context, hc HealthChecker) string {
	if hc == nil {
		return statusNotEnabled
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return statusUnhealthy + ": " + err.Error()
	}
	return statusHealthy
}
