package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Batch  BatchConfig  `yaml:"batch" mapstructure:"batch"`
	Fusion FusionConfig `yaml:"fusion" mapstructure:"fusion"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Retry  RetryConfig  `yaml:"retry" mapstructure:"retry"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`

	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// FusionConfig holds the numeric constants of the fusion engine.
type FusionConfig struct {
	// CanonicalMax is the upper bound of every relativized score.
	CanonicalMax float64 `yaml:"canonical_max" mapstructure:"canonical_max"`
	// CompensationShare is the share of the affiliate percentage credited
	// back on affiliated offers.
	CompensationShare          float64 `yaml:"compensation_share" mapstructure:"compensation_share"`
	DefaultCompensationPercent float64 `yaml:"default_compensation_percent" mapstructure:"default_compensation_percent"`
	PriceValidityDays          int     `yaml:"price_validity_days" mapstructure:"price_validity_days"`
	WorstLimit                 int     `yaml:"worst_limit" mapstructure:"worst_limit"`
	BestLimit                  int     `yaml:"best_limit" mapstructure:"best_limit"`
	VerticalPath               string  `yaml:"vertical_path" mapstructure:"vertical_path"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port      int     `yaml:"port" mapstructure:"port"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// RetryConfig configures retries of store writes.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// FetchConfig configures downloads of datasource feeds.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	HostRate    float64 `yaml:"host_rate" mapstructure:"host_rate"`
	HostBurst   int     `yaml:"host_burst" mapstructure:"host_burst"`
	WorkDir     string  `yaml:"work_dir" mapstructure:"work_dir"`
	// BreakerThreshold consecutive transient failures mark a host unavailable
	// for BreakerCooldownSecs.
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// MonitoringConfig configures the background health checker of `serve`.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RejectionRateThreshold float64 `yaml:"rejection_rate_threshold" mapstructure:"rejection_rate_threshold"`
	DLQDepthThreshold      int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FUSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "fusion.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("batch.workers", 8)
	v.SetDefault("fusion.canonical_max", 5.0)
	v.SetDefault("fusion.compensation_share", 0.2)
	v.SetDefault("fusion.default_compensation_percent", 3.0)
	v.SetDefault("fusion.price_validity_days", 2)
	v.SetDefault("fusion.worst_limit", 3)
	v.SetDefault("fusion.best_limit", 3)
	v.SetDefault("fusion.vertical_path", "vertical.yaml")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.burst", 40)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("fetch.user_agent", "product-fusion/1.0")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.host_rate", 5.0)
	v.SetDefault("fetch.host_burst", 5)
	v.SetDefault("fetch.breaker_threshold", 3)
	v.SetDefault("fetch.breaker_cooldown_secs", 60)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.rejection_rate_threshold", 0.5)
	v.SetDefault("monitoring.dlq_depth_threshold", 100)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by mode ("run", "serve" or "read").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "run":
		if c.Batch.Workers < 1 || c.Batch.Workers > 256 {
			errs = append(errs, "batch.workers must be between 1 and 256")
		}
		if c.Fusion.CanonicalMax <= 0 {
			errs = append(errs, "fusion.canonical_max must be > 0")
		}
		if c.Fusion.CompensationShare < 0 || c.Fusion.CompensationShare > 1 {
			errs = append(errs, "fusion.compensation_share must be between 0 and 1")
		}
		if c.Fusion.PriceValidityDays < 1 {
			errs = append(errs, "fusion.price_validity_days must be >= 1")
		}
		if c.Fetch.HostRate < 0 {
			errs = append(errs, "fetch.host_rate must be >= 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimit <= 0 {
			errs = append(errs, "server.rate_limit must be > 0")
		}
	case "read":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
