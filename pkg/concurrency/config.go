package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
	ConfigSourceDefault    ConfigSource = "default"
)

// Config holds worker pool parameters
type Config struct {
	// MaxConcurrent bounds the number of worker tasks running at once
	MaxConcurrent int

	// ProgressInterval is the minimum time between two progress reports of one task
	ProgressInterval time.Duration

	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// DefaultConfig returns a configuration derived from the CPU count
func DefaultConfig() *Config {
	cpus := runtime.GOMAXPROCS(0)
	return &Config{
		MaxConcurrent:    max(cpus, 1),
		ProgressInterval: 200 * time.Millisecond,
		Source:           ConfigSourceDefault,
		EffectiveCPUs:    cpus,
	}
}

// LoadConfig loads the configuration with priority: env vars > auto-detection > defaults
func LoadConfig() *Config {
	config := DefaultConfig()
	config.IsKubernetes = isKubernetes()

	if workers := getEnvInt("HELIOS_MAX_WORKERS", 0); workers > 0 {
		config.MaxConcurrent = workers
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt("HELIOS_CONCURRENCY_MULTIPLIER", 0); multiplier > 0 {
		config.MaxConcurrent = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrent = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}

	if ms := getEnvInt("HELIOS_PROGRESS_INTERVAL_MS", 0); ms > 0 {
		config.ProgressInterval = time.Duration(ms) * time.Millisecond
	}

	config.Validate()
	return config
}

// Validate applies defaults to unset fields
func (c *Config) Validate() {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 200 * time.Millisecond
	}
	if c.EffectiveCPUs <= 0 {
		c.EffectiveCPUs = runtime.GOMAXPROCS(0)
	}
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns sensible defaults based on environment.
// Worker tasks are CPU bound, so the pool stays close to the CPU count.
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		return max(cpus, 1)
	}
	return max(cpus*2, 2)
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, ProgressInterval: %s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.ProgressInterval,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
