package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "fundamentals.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentCompanies)
	assert.Equal(t, "USD", cfg.Normalize.BaseCurrency)
	assert.Equal(t, 10, cfg.Normalize.QuarterlyThreshold)
	assert.Equal(t, int32(-1), cfg.Normalize.MonetaryPlaces)
	assert.Empty(t, cfg.Normalize.MappingsPath)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, 5000, cfg.Retry.MaxBackoffMs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: /tmp/fs.db
log:
  level: debug
  format: console
batch:
  max_concurrent_companies: 8
normalize:
  base_currency: eur
  quarterly_threshold: 3
  monetary_places: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/fs.db", cfg.Store.SQLitePath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Batch.MaxConcurrentCompanies)
	assert.Equal(t, "EUR", cfg.Normalize.BaseCurrency)
	assert.Equal(t, 3, cfg.Normalize.QuarterlyThreshold)
	assert.Equal(t, int32(2), cfg.Normalize.MonetaryPlaces)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("FUNDAMENTALS_STORE_DRIVER", "postgres")
	t.Setenv("FUNDAMENTALS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("FUNDAMENTALS_NORMALIZE_QUARTERLY_THRESHOLD", "0")
	t.Setenv("FUNDAMENTALS_STORE_DATABASE_URL", "postgres://localhost/fs")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Normalize.QuarterlyThreshold)
	assert.Equal(t, "postgres://localhost/fs", cfg.Store.DatabaseURL)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/fs"
	cfg.Batch.MaxConcurrentCompanies = 4
	cfg.Normalize.BaseCurrency = "USD"
	cfg.Normalize.QuarterlyThreshold = 10
	cfg.Retry.MaxAttempts = 3
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid postgres", "store", func(*Config) {}, ""},
		{"valid sqlite", "store", func(c *Config) { c.Store.Driver = "sqlite"; c.Store.SQLitePath = "fs.db" }, ""},
		{"missing database url", "store", func(c *Config) { c.Store.DatabaseURL = "" }, "store.database_url is required"},
		{"missing sqlite path", "store", func(c *Config) { c.Store.Driver = "sqlite" }, "store.sqlite_path is required"},
		{"unknown driver", "store", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver must be postgres or sqlite"},
		{"offline ignores store", "offline", func(c *Config) { c.Store.Driver = "" }, ""},
		{"concurrency too low", "offline", func(c *Config) { c.Batch.MaxConcurrentCompanies = 0 }, "max_concurrent_companies"},
		{"concurrency too high", "offline", func(c *Config) { c.Batch.MaxConcurrentCompanies = 65 }, "max_concurrent_companies"},
		{"bad base currency", "offline", func(c *Config) { c.Normalize.BaseCurrency = "DOLLAR" }, "base_currency"},
		{"negative threshold", "offline", func(c *Config) { c.Normalize.QuarterlyThreshold = -1 }, "quarterly_threshold"},
		{"monetary places too coarse", "offline", func(c *Config) { c.Normalize.MonetaryPlaces = -7 }, "monetary_places"},
		{"monetary places too fine", "offline", func(c *Config) { c.Normalize.MonetaryPlaces = 11 }, "monetary_places"},
		{"negative attempts", "offline", func(c *Config) { c.Retry.MaxAttempts = -1 }, "max_attempts"},
		{"unknown mode", "serve", func(*Config) {}, "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Normalize.BaseCurrency = ""

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")
	assert.Contains(t, err.Error(), "base_currency")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
