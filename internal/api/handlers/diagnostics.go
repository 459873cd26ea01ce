package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/services"
)

// DiagnosticsSource exposes the most recent run's ensemble diagnostics
type DiagnosticsSource interface {
	LastDiagnostics() *models.EnsembleDiagnostics
}

// AdvisorMetricsSource exposes advisor call counters
type AdvisorMetricsSource interface {
	GetMetrics() services.AdvisorMetrics
}

// BreakerRegistry exposes and resets circuit breakers
type BreakerRegistry interface {
	GetAllStats() map[string]services.CircuitBreakerStats
	OpenBreakers() []string
	ResetAll()
}

// TimeoutStatsSource is implemented by engines that track in-flight operations
type TimeoutStatsSource interface {
	TimeoutStats() services.TimeoutStats
}

// ParameterCacheStats exposes the in-memory parameter cache size
type ParameterCacheStats interface {
	Len() int
	Evictions() int64
}

// DiagnosticsHandler serves run diagnostics and the state of resilience components.
// Every collaborator except the diagnostics source is optional.
type DiagnosticsHandler struct {
	source   DiagnosticsSource
	advisor  AdvisorMetricsSource
	breakers BreakerRegistry
	cache    ParameterCacheStats
}

// NewDiagnosticsHandler creates a new diagnostics handler
func NewDiagnosticsHandler(source DiagnosticsSource, advisor AdvisorMetricsSource, breakers BreakerRegistry, cache ParameterCacheStats) *DiagnosticsHandler {
	return &DiagnosticsHandler{source: source, advisor: advisor, breakers: breakers, cache: cache}
}

// GetDiagnostics returns the last run's ensemble steps, model outcomes and anomaly report
// @Summary Last forecast diagnostics
// @Tags forecast
// @Produce json
// @Success 200 {object} models.EnsembleDiagnostics
// @Router /api/v1/forecast/diagnostics [get]
func (h *DiagnosticsHandler) GetDiagnostics(c *gin.Context) {
	diag := h.source.LastDiagnostics()
	if diag == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "No forecast has been run yet",
		})
		return
	}

	data := gin.H{"ensemble": diag}
	if h.advisor != nil {
		data["advisor"] = h.advisor.GetMetrics()
	}
	if h.breakers != nil {
		data["circuit_breakers"] = h.breakers.GetAllStats()
		data["open_circuit_breakers"] = h.breakers.OpenBreakers()
	}
	if ts, ok := h.source.(TimeoutStatsSource); ok {
		data["timeouts"] = ts.TimeoutStats()
	}
	if h.cache != nil {
		data["parameter_cache"] = gin.H{
			"entries":   h.cache.Len(),
			"evictions": h.cache.Evictions(),
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// GetCircuitBreakers returns the state of every registered breaker
// @Summary Circuit breaker states
// @Tags admin
// @Produce json
// @Router /api/v1/admin/circuit-breakers [get]
func (h *DiagnosticsHandler) GetCircuitBreakers(c *gin.Context) {
	stats := map[string]services.CircuitBreakerStats{}
	if h.breakers != nil {
		stats = h.breakers.GetAllStats()
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

// ResetCircuitBreakers closes every breaker, e.g. after an upstream outage is fixed
// @Summary Reset circuit breakers
// @Tags admin
// @Produce json
// @Router /api/v1/admin/circuit-breakers/reset [post]
func (h *DiagnosticsHandler) ResetCircuitBreakers(c *gin.Context) {
	if h.breakers != nil {
		h.breakers.ResetAll()
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Circuit breakers reset successfully",
	})
}
