// Package config loads the Helios application configuration.
//
// Configuration is read from an optional YAML file, then overridden by
// HELIOS_* environment variables and finally validated, which also fills in
// defaults. The "defaults" section is exposed to pipeline objects through
// the Defaults provider.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/wehubfusion/Helios/internal/nats"
	"github.com/wehubfusion/Helios/internal/tracing"
	"github.com/wehubfusion/Helios/pkg/concurrency"
	"github.com/wehubfusion/Helios/pkg/events"
	"github.com/wehubfusion/Helios/pkg/modifiers/expression"
	"github.com/wehubfusion/Helios/pkg/transport"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the complete application configuration.
type Config struct {
	Logging     LoggingConfig          `yaml:"logging"`
	Concurrency ConcurrencyConfig      `yaml:"concurrency"`
	Tracing     tracing.TracingConfig  `yaml:"tracing"`
	NATS        NATSConfig             `yaml:"nats"`
	Sentry      SentryConfig           `yaml:"sentry"`
	Azure       AzureConfig            `yaml:"azure"`
	Transport   transport.RouterConfig `yaml:"transport"`
	Animation   AnimationConfig        `yaml:"animation"`
	Metrics     MetricsConfig          `yaml:"metrics"`
	Expression  expression.Config      `yaml:"expression"`

	// Defaults holds per-class parameter defaults, e.g.
	// {"ComputePropertyModifier": {"outputProperty": "Energy"}}.
	Defaults map[string]any `yaml:"defaults"`
}

// LoggingConfig selects the zap configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ConcurrencyConfig overrides the detected worker pool parameters.
type ConcurrencyConfig struct {
	MaxWorkers       int           `yaml:"max_workers"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// NATSConfig enables publishing pipeline events to NATS.
type NATSConfig struct {
	nats.ConnectionConfig `yaml:",inline"`

	Enabled bool `yaml:"enabled"`
}

// SentryConfig enables error reporting.
type SentryConfig struct {
	events.SentryConfig `yaml:",inline"`

	Enabled bool `yaml:"enabled"`
}

// AzureConfig enables the azblob:// transport.
type AzureConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

// AnimationConfig sets the animation time base.
type AnimationConfig struct {
	TicksPerFrame int `yaml:"ticks_per_frame"`
}

// MetricsConfig exposes Prometheus metrics over HTTP when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// Default returns the configuration used without file or environment.
func Default() *Config {
	natsCfg := nats.DefaultConnectionConfig("nats://127.0.0.1:4222")
	return &Config{
		Logging:    LoggingConfig{Level: "info"},
		Tracing:    tracing.DefaultConfig("helios"),
		NATS:       NATSConfig{ConnectionConfig: *natsCfg},
		Transport:  *transport.DefaultRouterConfig(),
		Metrics:    MetricsConfig{Path: "/metrics"},
		Expression: expression.DefaultConfig(),
	}
}

// Load reads path (if not empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Logging.Level = getEnv("HELIOS_LOG_LEVEL", c.Logging.Level)
	c.Logging.Development = getEnvBool("HELIOS_LOG_DEVELOPMENT", c.Logging.Development)
	c.Concurrency.MaxWorkers = getEnvInt("HELIOS_MAX_WORKERS", c.Concurrency.MaxWorkers)

	c.Tracing.Enabled = getEnvBool("HELIOS_TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.OTLPEndpoint = getEnv("HELIOS_OTLP_ENDPOINT", c.Tracing.OTLPEndpoint)
	c.Tracing.Environment = getEnv("HELIOS_ENVIRONMENT", c.Tracing.Environment)

	if url := os.Getenv("HELIOS_NATS_URL"); url != "" {
		c.NATS.URL = url
		c.NATS.Enabled = true
	}
	if dsn := os.Getenv("HELIOS_SENTRY_DSN"); dsn != "" {
		c.Sentry.DSN = dsn
		c.Sentry.Enabled = true
	}
	c.Sentry.Environment = getEnv("HELIOS_ENVIRONMENT", c.Sentry.Environment)

	c.Azure.ConnectionString = getEnv("AZURE_STORAGE_CONNECTION_STRING", c.Azure.ConnectionString)
	c.Azure.ConnectionString = getEnv("HELIOS_AZURE_CONNECTION_STRING", c.Azure.ConnectionString)
	c.Transport.CacheDir = getEnv("HELIOS_CACHE_DIR", c.Transport.CacheDir)
	c.Metrics.Addr = getEnv("HELIOS_METRICS_ADDR", c.Metrics.Addr)
}

// Validate checks the configuration and fills unset fields with defaults.
func (c *Config) Validate() error {
	if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
	}
	if c.Concurrency.MaxWorkers < 0 {
		return errors.New("concurrency.max_workers must not be negative")
	}
	if err := c.Tracing.Validate(); err != nil {
		return err
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return errors.New("nats.url is required when NATS events are enabled")
		}
		c.NATS.ApplyDefaults()
	}
	if c.Sentry.Enabled && c.Sentry.DSN == "" {
		return errors.New("sentry.dsn is required when Sentry is enabled")
	}
	if c.Animation.TicksPerFrame < 0 {
		return errors.New("animation.ticks_per_frame must not be negative")
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	c.Transport.Validate()
	c.Expression.ApplyDefaults()
	return c.Expression.Validate()
}

// WorkerConfig returns the worker pool configuration: detected values
// overridden by the configured ones.
func (c *Config) WorkerConfig() *concurrency.Config {
	wc := concurrency.LoadConfig()
	if c.Concurrency.MaxWorkers > 0 {
		wc.MaxConcurrent = c.Concurrency.MaxWorkers
		wc.Source = concurrency.ConfigSourceDefault
	}
	if c.Concurrency.ProgressInterval > 0 {
		wc.ProgressInterval = c.Concurrency.ProgressInterval
	}
	wc.Validate()
	return wc
}

// UserDefaults returns the provider for the defaults section.
func (c *Config) UserDefaults() (*Defaults, error) {
	d, err := DefaultsFromMap(c.Defaults)
	if err != nil {
		return nil, err
	}
	if c.Animation.TicksPerFrame > 0 {
		if err := d.Set("AnimationSettings", "ticksPerFrame", c.Animation.TicksPerFrame); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// BuildLogger creates the application logger.
func (c LoggingConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
