package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/celebrum-forecast/internal/api/handlers"
	"github.com/irfndi/celebrum-forecast/internal/middleware"
)

// Engine is everything the routes need from the forecast service
type Engine interface {
	handlers.ForecastEngine
	handlers.DiagnosticsSource
	handlers.ReadinessSource
}

// Deps collects the route collaborators. Only Engine is required; leave the
// others as untyped nil when the matching component is disabled.
type Deps struct {
	Engine         Engine
	DB             handlers.HealthChecker
	Redis          handlers.HealthChecker
	Advisor        handlers.AdvisorMetricsSource
	Breakers       handlers.BreakerRegistry
	ParameterCache handlers.ParameterCacheStats
	Gatherer       prometheus.Gatherer
	TracerProvider trace.TracerProvider

	ServiceName    string
	Version        string
	AllowedOrigins []string
	AdminAPIKey    string
	Logger         *logrus.Logger
}

// SetupRoutes registers every endpoint on router
func SetupRoutes(router *gin.Engine, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "celebrum-forecast"
	}

	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Engine, deps.Version)
	forecastHandler := handlers.NewForecastHandler(deps.Engine, logger)
	diagnosticsHandler := handlers.NewDiagnosticsHandler(deps.Engine, deps.Advisor, deps.Breakers, deps.ParameterCache)
	adminMiddleware := middleware.NewAdminMiddleware(deps.AdminAPIKey, logger)

	healthGroup := router.Group("/")
	healthGroup.Use(middleware.HealthCheckTelemetryMiddleware(deps.TracerProvider))
	{
		healthGroup.GET("/health", healthHandler.HealthCheck)
		healthGroup.HEAD("/health", healthHandler.HealthCheck)
		healthGroup.GET("/ready", healthHandler.ReadinessCheck)
		healthGroup.GET("/live", healthHandler.LivenessCheck)
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.TelemetryMiddleware(serviceName, deps.TracerProvider))
	{
		forecast := v1.Group("/forecast")
		{
			forecast.POST("", forecastHandler.GenerateForecast)
			forecast.GET("/diagnostics", diagnosticsHandler.GetDiagnostics)
		}

		actuals := v1.Group("/actuals")
		actuals.Use(adminMiddleware.RequireAdminAuth())
		{
			actuals.POST("", forecastHandler.RecordActual)
		}

		admin := v1.Group("/admin")
		admin.Use(adminMiddleware.RequireAdminAuth())
		{
			circuitBreakers := admin.Group("/circuit-breakers")
			{
				circuitBreakers.GET("", diagnosticsHandler.GetCircuitBreakers)
				circuitBreakers.POST("/reset", diagnosticsHandler.ResetCircuitBreakers)
			}
		}
	}
}
