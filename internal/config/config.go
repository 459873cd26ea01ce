package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/irfndi/celebrum-forecast/internal/postprocess"
)

type Config struct {
	Environment string             `mapstructure:"environment"`
	LogLevel    string             `mapstructure:"log_level"`
	Server      ServerConfig       `mapstructure:"server"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Redis       RedisConfig        `mapstructure:"redis"`
	Forecast    ForecastConfig     `mapstructure:"forecast"`
	Cache       CacheConfig        `mapstructure:"cache"`
	NHITS       NHITSConfig        `mapstructure:"nhits"`
	External    ExternalConfig     `mapstructure:"external"`
	Ensemble    EnsembleConfig     `mapstructure:"ensemble"`
	Postprocess postprocess.Config `mapstructure:"postprocess"`
	Telemetry   TelemetryConfig    `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	ReadTimeout    string   `mapstructure:"read_timeout"`
	WriteTimeout   string   `mapstructure:"write_timeout"`
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
}

type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
	MigrateOnStart  bool   `mapstructure:"migrate_on_start"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ForecastConfig tunes the orchestrator
type ForecastConfig struct {
	DefaultHorizon       int    `mapstructure:"default_horizon"`
	MaxHorizon           int    `mapstructure:"max_horizon"`
	ModelTimeout         string `mapstructure:"model_timeout"`
	Seed                 uint64 `mapstructure:"seed"`
	Location             string `mapstructure:"location"`
	CrossValidation      bool   `mapstructure:"cross_validation"`
	CrossValidationEvery string `mapstructure:"cross_validation_every"`
	CrossValidationMin   int    `mapstructure:"cross_validation_min_history"`
	PersistPredictions   bool   `mapstructure:"persist_predictions"`
}

type CacheConfig struct {
	TTL             string `mapstructure:"ttl"`
	MaxEntries      int    `mapstructure:"max_entries"`
	FingerprintTail int    `mapstructure:"fingerprint_tail"`
	Durable         string `mapstructure:"durable"` // redis, postgres or none
}

// NHITSConfig configures the external batch process
type NHITSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Python      string `mapstructure:"python"`
	Script      string `mapstructure:"script"`
	Timeout     string `mapstructure:"timeout"`
	ProbeTTL    string `mapstructure:"probe_ttl"`
	MaxWarnings int    `mapstructure:"max_warnings"`
	Cooldown    string `mapstructure:"cooldown"`
}

type ExternalConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	ArchiveURL         string  `mapstructure:"archive_url"`
	ForecastURL        string  `mapstructure:"forecast_url"`
	Latitude           float64 `mapstructure:"latitude"`
	Longitude          float64 `mapstructure:"longitude"`
	Timezone           string  `mapstructure:"timezone"`
	Timeout            string  `mapstructure:"timeout"`
	HistoryDays        int     `mapstructure:"history_days"`
	ExchangeRate       float64 `mapstructure:"exchange_rate"`
	Inflation          float64 `mapstructure:"inflation"`
	ConsumerConfidence float64 `mapstructure:"consumer_confidence"`
	Unemployment       float64 `mapstructure:"unemployment"`
}

type EnsembleConfig struct {
	BaseWeights         map[string]float64 `mapstructure:"base_weights"`
	VolatilityThreshold float64            `mapstructure:"volatility_threshold"`
	AdvisorBaseWeight   float64            `mapstructure:"advisor_base_weight"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"` // stdout or otlp
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ModelTimeoutDuration returns the per-model deadline
func (c ForecastConfig) ModelTimeoutDuration() time.Duration {
	return durationOr(c.ModelTimeout, 30*time.Second)
}

// CrossValidationInterval returns how long an accuracy snapshot stays fresh
func (c ForecastConfig) CrossValidationInterval() time.Duration {
	return durationOr(c.CrossValidationEvery, 24*time.Hour)
}

// TTLDuration returns the parameter cache TTL
func (c CacheConfig) TTLDuration() time.Duration {
	return durationOr(c.TTL, 24*time.Hour)
}

func (c NHITSConfig) TimeoutDuration() time.Duration  { return durationOr(c.Timeout, 120*time.Second) }
func (c NHITSConfig) ProbeTTLDuration() time.Duration { return durationOr(c.ProbeTTL, time.Hour) }
func (c NHITSConfig) CooldownDuration() time.Duration { return durationOr(c.Cooldown, 30*time.Minute) }

func (c ExternalConfig) TimeoutDuration() time.Duration { return durationOr(c.Timeout, 30*time.Second) }

func (c ServerConfig) ReadTimeoutDuration() time.Duration  { return durationOr(c.ReadTimeout, 15*time.Second) }
func (c ServerConfig) WriteTimeoutDuration() time.Duration { return durationOr(c.WriteTimeout, 120*time.Second) }

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("database.database_url", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_URL environment variable: %w", err)
	}
	if err := viper.BindEnv("server.admin_api_key", "ADMIN_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind ADMIN_API_KEY environment variable: %w", err)
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks ranges and duration strings
func (c *Config) Validate() error {
	durations := map[string]string{
		"forecast.model_timeout":          c.Forecast.ModelTimeout,
		"forecast.cross_validation_every": c.Forecast.CrossValidationEvery,
		"cache.ttl":                       c.Cache.TTL,
		"nhits.timeout":                   c.NHITS.Timeout,
		"nhits.probe_ttl":                 c.NHITS.ProbeTTL,
		"nhits.cooldown":                  c.NHITS.Cooldown,
		"external.timeout":                c.External.Timeout,
		"server.read_timeout":             c.Server.ReadTimeout,
		"server.write_timeout":            c.Server.WriteTimeout,
	}
	for key, raw := range durations {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid %s duration: %w", key, err)
		}
	}

	if c.Forecast.DefaultHorizon <= 0 {
		return fmt.Errorf("forecast.default_horizon must be positive, got %d", c.Forecast.DefaultHorizon)
	}
	if c.Forecast.MaxHorizon < c.Forecast.DefaultHorizon {
		return fmt.Errorf("forecast.max_horizon (%d) must be at least default_horizon (%d)",
			c.Forecast.MaxHorizon, c.Forecast.DefaultHorizon)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	switch c.Cache.Durable {
	case "redis", "postgres", "none":
	default:
		return fmt.Errorf("cache.durable must be one of redis, postgres, none, got %q", c.Cache.Durable)
	}
	switch c.Telemetry.Exporter {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.exporter must be stdout or otlp, got %q", c.Telemetry.Exporter)
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "120s")
	viper.SetDefault("server.admin_api_key", "")

	// Set database defaults
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "coffee_kpi")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")
	viper.SetDefault("database.migrate_on_start", true)

	// Redis
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Forecast
	viper.SetDefault("forecast.default_horizon", 7)
	viper.SetDefault("forecast.max_horizon", 90)
	viper.SetDefault("forecast.model_timeout", "30s")
	viper.SetDefault("forecast.seed", 42)
	viper.SetDefault("forecast.location", "Lipetsk,RU")
	viper.SetDefault("forecast.cross_validation", true)
	viper.SetDefault("forecast.cross_validation_every", "24h")
	viper.SetDefault("forecast.cross_validation_min_history", 28)
	viper.SetDefault("forecast.persist_predictions", true)

	// Parameter cache
	viper.SetDefault("cache.ttl", "24h")
	viper.SetDefault("cache.max_entries", 200)
	viper.SetDefault("cache.fingerprint_tail", 7)
	viper.SetDefault("cache.durable", "redis")

	// NHITS
	viper.SetDefault("nhits.enabled", true)
	viper.SetDefault("nhits.python", "python3")
	viper.SetDefault("nhits.script", "scripts/nhits_forecast.py")
	viper.SetDefault("nhits.timeout", "120s")
	viper.SetDefault("nhits.probe_ttl", "1h")
	viper.SetDefault("nhits.max_warnings", 3)
	viper.SetDefault("nhits.cooldown", "30m")

	// External data
	viper.SetDefault("external.enabled", true)
	viper.SetDefault("external.archive_url", "https://archive-api.open-meteo.com/v1/era5")
	viper.SetDefault("external.forecast_url", "https://api.open-meteo.com/v1/forecast")
	viper.SetDefault("external.latitude", 52.61)
	viper.SetDefault("external.longitude", 39.594)
	viper.SetDefault("external.timezone", "Europe/Moscow")
	viper.SetDefault("external.timeout", "30s")
	viper.SetDefault("external.history_days", 365)
	viper.SetDefault("external.exchange_rate", 90.0)
	viper.SetDefault("external.inflation", 7.5)
	viper.SetDefault("external.consumer_confidence", -10.0)
	viper.SetDefault("external.unemployment", 3.0)

	// Ensemble
	viper.SetDefault("ensemble.base_weights", map[string]float64{
		"ARIMA": 0.15, "Prophet": 0.15, "LSTM": 0.12, "GRU": 0.12,
		"RandomForest": 0.12, "XGBoost": 0.12, "GradientBoosting": 0.12, "NHITS": 0.10,
	})
	viper.SetDefault("ensemble.volatility_threshold", 0.25)
	viper.SetDefault("ensemble.advisor_base_weight", 0.1)

	// Post-processing
	pp := postprocess.DefaultConfig()
	viper.SetDefault("postprocess.default_base_revenue", pp.DefaultBaseRevenue)
	viper.SetDefault("postprocess.base_median_share", pp.BaseMedianShare)
	viper.SetDefault("postprocess.base_recent_share", pp.BaseRecentShare)
	viper.SetDefault("postprocess.base_mean_share", pp.BaseMeanShare)
	viper.SetDefault("postprocess.ratio_min", pp.RatioMin)
	viper.SetDefault("postprocess.ratio_max", pp.RatioMax)
	viper.SetDefault("postprocess.weekday_factor_min", pp.WeekdayFactorMin)
	viper.SetDefault("postprocess.weekday_factor_max", pp.WeekdayFactorMax)
	viper.SetDefault("postprocess.month_factor_min", pp.MonthFactorMin)
	viper.SetDefault("postprocess.month_factor_max", pp.MonthFactorMax)
	viper.SetDefault("postprocess.baseline_first_day", pp.BaselineFirstDay)
	viper.SetDefault("postprocess.baseline_later_days", pp.BaselineLaterDays)
	viper.SetDefault("postprocess.baseline_volatile_bonus", pp.BaselineVolatileBonus)
	viper.SetDefault("postprocess.clamp_lower_factor", pp.ClampLowerFactor)
	viper.SetDefault("postprocess.clamp_upper_factor", pp.ClampUpperFactor)
	viper.SetDefault("postprocess.clamp_sigmas", pp.ClampSigmas)
	viper.SetDefault("postprocess.smoothing_threshold", pp.SmoothingThreshold)
	viper.SetDefault("postprocess.smoothing_week_start_bump", pp.SmoothingWeekStartBump)
	viper.SetDefault("postprocess.smoothing_pull_min", pp.SmoothingPullMin)
	viper.SetDefault("postprocess.smoothing_pull_max", pp.SmoothingPullMax)
	viper.SetDefault("postprocess.calibration_decay_days", pp.CalibrationDecayDays)
	viper.SetDefault("postprocess.calibration_min_bias", pp.CalibrationMinBias)
	viper.SetDefault("postprocess.calibration_max_bias", pp.CalibrationMaxBias)
	viper.SetDefault("postprocess.calibration_max_pull", pp.CalibrationMaxPull)
	viper.SetDefault("postprocess.calibration_horizon_pull", pp.CalibrationHorizonPull)
	viper.SetDefault("postprocess.confidence_min", pp.ConfidenceMin)
	viper.SetDefault("postprocess.confidence_max", pp.ConfidenceMax)
	viper.SetDefault("postprocess.confidence_decay", pp.ConfidenceDecay)
	viper.SetDefault("postprocess.trend_threshold", pp.TrendThreshold)
	viper.SetDefault("postprocess.volatility_threshold", pp.VolatilityThreshold)

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.exporter", "stdout")
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.service_name", "celebrum-forecast")
	viper.SetDefault("telemetry.sample_ratio", 1.0)
}
