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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentCompanies int `yaml:"max_concurrent_companies" mapstructure:"max_concurrent_companies"`
}

// NormalizeConfig tunes the normalization pipeline.
type NormalizeConfig struct {
	BaseCurrency string `yaml:"base_currency" mapstructure:"base_currency"`
	// MappingsPath replaces the embedded concept table when set.
	MappingsPath       string `yaml:"mappings_path" mapstructure:"mappings_path"`
	QuarterlyThreshold int    `yaml:"quarterly_threshold" mapstructure:"quarterly_threshold"`
	// MonetaryPlaces is the rounding precision of converted amounts; -1
	// rounds to the nearest ten.
	MonetaryPlaces int32 `yaml:"monetary_places" mapstructure:"monetary_places"`
}

// RetryConfig configures retries of storage writes.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FUNDAMENTALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "fundamentals.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("batch.max_concurrent_companies", 4)
	v.SetDefault("normalize.base_currency", "USD")
	v.SetDefault("normalize.mappings_path", "")
	v.SetDefault("normalize.quarterly_threshold", 10)
	v.SetDefault("normalize.monetary_places", -1)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)

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
	cfg.Normalize.BaseCurrency = strings.ToUpper(strings.TrimSpace(cfg.Normalize.BaseCurrency))

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode "store" additionally
// requires a usable storage backend; mode "offline" skips it.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store":
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				errs = append(errs, "store.sqlite_path is required for the sqlite driver")
			}
		default:
			errs = append(errs, "store.driver must be postgres or sqlite, got "+c.Store.Driver)
		}
	case "offline":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if n := c.Batch.MaxConcurrentCompanies; n < 1 || n > 64 {
		errs = append(errs, "batch.max_concurrent_companies must be between 1 and 64")
	}
	if len(c.Normalize.BaseCurrency) != 3 {
		errs = append(errs, "normalize.base_currency must be a 3-letter currency code")
	}
	if c.Normalize.QuarterlyThreshold < 0 {
		errs = append(errs, "normalize.quarterly_threshold must be >= 0")
	}
	if p := c.Normalize.MonetaryPlaces; p < -6 || p > 10 {
		errs = append(errs, "normalize.monetary_places must be between -6 and 10")
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, "retry.max_attempts must be >= 0")
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
