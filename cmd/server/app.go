package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/api"
	"github.com/irfndi/celebrum-forecast/internal/cache"
	"github.com/irfndi/celebrum-forecast/internal/config"
	"github.com/irfndi/celebrum-forecast/internal/database"
	"github.com/irfndi/celebrum-forecast/internal/external"
	"github.com/irfndi/celebrum-forecast/internal/forecasters"
	"github.com/irfndi/celebrum-forecast/internal/metrics"
	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/services"
	"github.com/irfndi/celebrum-forecast/internal/telemetry"
)

// app owns every long-lived component of the server process
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	router    *gin.Engine
	service   *services.ForecastService
	telemetry *telemetry.Provider
	db        *database.PostgresDB
	redis     *database.RedisClient
	closers   []func()
}

// newApp wires the service graph. Postgres and Redis are optional: when disabled
// or unreachable the engine runs on its in-memory paths.
func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Environment,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = tp

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	var (
		routeDeps       api.Deps
		repo            *database.ForecastRepository
		weatherRepo     *database.WeatherRepository
		predictionStore services.PredictionStore
	)
	if cfg.Database.Enabled {
		db, err := database.NewPostgresConnection(ctx, cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Warn("Postgres unavailable, predictions will not be persisted")
		} else {
			a.db = db
			a.closers = append(a.closers, db.Close)
			pool := database.NewTracedDB(db.Pool, tp.TracerProvider())
			if cfg.Database.MigrateOnStart {
				if err := database.Migrate(ctx, pool, logger); err != nil {
					a.Close()
					return nil, fmt.Errorf("failed to migrate database: %w", err)
				}
			}
			repo = database.NewForecastRepository(pool, cfg.Cache.TTLDuration())
			weatherRepo = database.NewWeatherRepository(pool)
			predictionStore = repo
			routeDeps.DB = db
		}
	}
	if cfg.Redis.Enabled {
		rc, err := database.NewRedisConnection(ctx, cfg.Redis, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, parameter cache is memory only")
		} else {
			a.redis = rc
			a.closers = append(a.closers, rc.Close)
			routeDeps.Redis = rc
		}
	}

	var durable cache.ParameterStore
	switch cfg.Cache.Durable {
	case "redis":
		if a.redis != nil {
			durable = cache.NewRedisParameterStore(a.redis.Client, cfg.Cache.TTLDuration(), logger)
		}
	case "postgres":
		if repo != nil {
			durable = repo
		}
	}
	paramCache, err := cache.NewModelParameterCache(cache.Config{
		TTL:        cfg.Cache.TTLDuration(),
		MaxEntries: cfg.Cache.MaxEntries,
	}, durable, m, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create parameter cache: %w", err)
	}

	breakers := services.NewCircuitBreakerManager(logger)
	holidays := external.NewRussianCalendar()
	var ext services.ExternalSource
	if cfg.External.Enabled {
		ext = newExternalSource(cfg, holidays, weatherRepo, breakers, logger)
	}

	var (
		runner forecasters.BatchRunner
		probe  forecasters.AvailabilityProbe
	)
	if cfg.NHITS.Enabled {
		nhits := services.NewNhitsRunner(services.NhitsConfig{
			Python:      cfg.NHITS.Python,
			Script:      cfg.NHITS.Script,
			Timeout:     cfg.NHITS.TimeoutDuration(),
			ProbeTTL:    cfg.NHITS.ProbeTTLDuration(),
			MaxWarnings: cfg.NHITS.MaxWarnings,
			Cooldown:    cfg.NHITS.CooldownDuration(),
		}, logger)
		runner = nhits
		probe = nhits.Probe()
	}

	a.service = services.NewForecastService(services.ForecastServiceConfigFrom(cfg), services.ForecastDeps{
		Forecasters: forecasters.All(cfg.Forecast.Seed, runner, probe, logger),
		Cache:       paramCache,
		External:    ext,
		Holidays:    holidays,
		Store:       predictionStore,
		Probe:       probe,
		Metrics:     m,
		Tracer:      telemetry.NewForecastTracer(tp.TracerProvider()),
	}, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	routeDeps.Engine = a.service
	routeDeps.Breakers = breakers
	routeDeps.ParameterCache = paramCache
	routeDeps.Gatherer = registry
	routeDeps.TracerProvider = tp.TracerProvider()
	routeDeps.ServiceName = cfg.Telemetry.ServiceName
	routeDeps.Version = telemetry.ServiceVersion
	routeDeps.AllowedOrigins = cfg.Server.AllowedOrigins
	routeDeps.AdminAPIKey = cfg.Server.AdminAPIKey
	routeDeps.Logger = logger
	api.SetupRoutes(router, routeDeps)
	a.router = router

	return a, nil
}

func newExternalSource(cfg *config.Config, holidays *external.HolidayCalendar, weatherRepo *database.WeatherRepository, breakers *services.CircuitBreakerManager, logger *logrus.Logger) *external.SafeProvider {
	client := external.NewOpenMeteoClient(external.OpenMeteoConfig{
		ArchiveURL:  cfg.External.ArchiveURL,
		ForecastURL: cfg.External.ForecastURL,
		Latitude:    cfg.External.Latitude,
		Longitude:   cfg.External.Longitude,
		Timezone:    cfg.External.Timezone,
		Timeout:     cfg.External.TimeoutDuration(),
	}, logger)

	// stored weather first, the archive API when the table has no rows for the range
	history := []external.HistoricalWeatherSource{client}
	if weatherRepo != nil {
		history = []external.HistoricalWeatherSource{weatherRepo, client}
	}
	composite := external.NewCompositeProvider(external.ProviderConfig{
		HistoryDays: cfg.External.HistoryDays,
		Economic:    economicSnapshot(cfg.External),
	}, holidays, client, logger, history...)

	breaker := breakers.GetOrCreate("external", services.CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		MaxRequests:      1,
		ResetTimeout:     60 * time.Second,
	})
	return external.NewSafeProvider(composite, breaker, cfg.External.TimeoutDuration(), logger)
}

// economicSnapshot leaves unset indicators nil so the builder falls back to its defaults
func economicSnapshot(cfg config.ExternalConfig) models.EconomicSnapshot {
	ptr := func(v float64) *float64 {
		if v == 0 {
			return nil
		}
		return &v
	}
	return models.EconomicSnapshot{
		ExchangeRate:       ptr(cfg.ExchangeRate),
		Inflation:          ptr(cfg.Inflation),
		ConsumerConfidence: ptr(cfg.ConsumerConfidence),
		Unemployment:       ptr(cfg.Unemployment),
	}
}

// httpServer builds the server with the configured timeouts
func (a *app) httpServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.router,
		ReadTimeout:       a.cfg.Server.ReadTimeoutDuration(),
		WriteTimeout:      a.cfg.Server.WriteTimeoutDuration(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	if a.service != nil {
		a.service.Shutdown()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.logger.WithError(err).Warn("Failed to flush traces")
	}
}
