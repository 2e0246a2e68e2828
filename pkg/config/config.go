// Package config provides configuration file support for Tierstore.
// It handles loading, validation, and environment variable interpolation
// for tierstore.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full Tierstore configuration.
type Config struct {
	Cache     CacheConfig     `mapstructure:"cache"`
	Store     StoreConfig     `mapstructure:"store"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// CacheConfig holds in-memory cache settings.
type CacheConfig struct {
	MaxEntries      int64         `mapstructure:"max_entries"`
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	StatsEnabled    bool          `mapstructure:"stats_enabled"`
}

// StoreConfig holds persistent device and degradation policy settings.
type StoreConfig struct {
	Backend            string   `mapstructure:"backend"`
	Path               string   `mapstructure:"path"`
	QuotaBytes         int64    `mapstructure:"quota_bytes"`
	SoftItemLimitBytes int64    `mapstructure:"soft_item_limit_bytes"`
	KeepRecords        int      `mapstructure:"keep_records"`
	MaxTextLen         int      `mapstructure:"max_text_len"`
	EphemeralFeatures  []string `mapstructure:"ephemeral_features"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxEntries:      1000,
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: time.Minute,
			StatsEnabled:    true,
		},
		Store: StoreConfig{
			Backend:            "sqlite",
			Path:               "tierstore.db",
			QuotaBytes:         8 << 20,
			SoftItemLimitBytes: 2 << 20,
			KeepRecords:        5,
			MaxTextLen:         1000,
			EphemeralFeatures:  []string{},
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Interpolate environment variables in string fields
	interpolateConfig(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid.
func Validate(cfg *Config) error {
	var errs []string

	// Cache validation
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Sprintf("cache.max_entries: must be non-negative, got %d", cfg.Cache.MaxEntries))
	}
	if cfg.Cache.DefaultTTL < 0 {
		errs = append(errs, "cache.default_ttl: must be non-negative")
	}
	if cfg.Cache.CleanupInterval < 0 {
		errs = append(errs, "cache.cleanup_interval: must be non-negative")
	}

	// Store validation
	validBackends := map[string]bool{"memory": true, "file": true, "sqlite": true, "": true}
	if !validBackends[cfg.Store.Backend] {
		errs = append(errs, fmt.Sprintf("store.backend: unsupported backend %q (supported: memory, file, sqlite)", cfg.Store.Backend))
	}
	if (cfg.Store.Backend == "file" || cfg.Store.Backend == "sqlite") && strings.TrimSpace(cfg.Store.Path) == "" {
		errs = append(errs, fmt.Sprintf("store.path: required for backend %q", cfg.Store.Backend))
	}
	if cfg.Store.QuotaBytes < 0 {
		errs = append(errs, fmt.Sprintf("store.quota_bytes: must be non-negative, got %d", cfg.Store.QuotaBytes))
	}
	if cfg.Store.SoftItemLimitBytes < 0 {
		errs = append(errs, "store.soft_item_limit_bytes: must be non-negative")
	}
	if cfg.Store.QuotaBytes > 0 && cfg.Store.SoftItemLimitBytes > cfg.Store.QuotaBytes {
		errs = append(errs, fmt.Sprintf("store.soft_item_limit_bytes: must not exceed quota_bytes (%d > %d)",
			cfg.Store.SoftItemLimitBytes, cfg.Store.QuotaBytes))
	}
	if cfg.Store.KeepRecords < 0 {
		errs = append(errs, "store.keep_records: must be non-negative")
	}
	if cfg.Store.MaxTextLen < 0 {
		errs = append(errs, "store.max_text_len: must be non-negative")
	}
	for _, f := range cfg.Store.EphemeralFeatures {
		if strings.Contains(f, "_") {
			errs = append(errs, fmt.Sprintf("store.ephemeral_features: feature %q must not contain underscores", f))
		}
	}

	// Telemetry validation
	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		return match
	})
}

// interpolateConfig applies environment variable interpolation to all
// string fields in the config.
func interpolateConfig(cfg *Config) {
	cfg.Store.Backend = InterpolateEnv(cfg.Store.Backend)
	cfg.Store.Path = InterpolateEnv(cfg.Store.Path)

	for i, f := range cfg.Store.EphemeralFeatures {
		cfg.Store.EphemeralFeatures[i] = InterpolateEnv(f)
	}

	cfg.Telemetry.Tracing.Exporter = InterpolateEnv(cfg.Telemetry.Tracing.Exporter)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to
// a tierstore.yaml file.
func GenerateTemplate() string {
	return `# Tierstore Configuration
# See: https://github.com/tierstore/tierstore

cache:
  max_entries: 1000
  default_ttl: 5m
  cleanup_interval: 1m
  stats_enabled: true

store:
  backend: sqlite      # memory, file, or sqlite
  path: tierstore.db   # file path (sqlite) or directory (file)
  quota_bytes: 8388608
  soft_item_limit_bytes: 2097152
  keep_records: 5
  max_text_len: 1000
  ephemeral_features:
    # - scratch

telemetry:
  tracing:
    enabled: false
    exporter: otlp       # otlp, stdout, or none
    endpoint: localhost:4317
    sample_rate: 1.0     # 0.0 to 1.0
    insecure: true
`
}
