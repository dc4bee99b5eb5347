// Package expression evaluates user-supplied math expressions for modifiers.
// Expressions are JavaScript, compiled once and run in sandboxed goja
// runtimes taken from a pool, one runtime per worker goroutine.
package expression

import "fmt"

// SecurityLevel defines the restrictions applied to the runtimes.
const (
	SecurityLevelStrict     = "strict"
	SecurityLevelStandard   = "standard"
	SecurityLevelPermissive = "permissive"
)

// Config configures the sandbox and the runtime pool.
type Config struct {
	// SecurityLevel is one of strict, standard, permissive.
	SecurityLevel string `yaml:"security_level"`

	// MaxCallStackSize bounds the JavaScript call depth.
	MaxCallStackSize int `yaml:"max_call_stack_size"`

	// PoolMinSize runtimes are created up front.
	PoolMinSize int `yaml:"pool_min_size"`

	// PoolMaxSize bounds the number of live runtimes.
	PoolMaxSize int `yaml:"pool_max_size"`

	// MaxReuseCount is how often a runtime is handed out before it is
	// replaced by a fresh one.
	MaxReuseCount int `yaml:"max_reuse_count"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SecurityLevel:    SecurityLevelStandard,
		MaxCallStackSize: 100,
		PoolMinSize:      0,
		PoolMaxSize:      32,
		MaxReuseCount:    1000,
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.SecurityLevel == "" {
		c.SecurityLevel = d.SecurityLevel
	}
	if c.MaxCallStackSize == 0 {
		c.MaxCallStackSize = d.MaxCallStackSize
	}
	if c.PoolMaxSize == 0 {
		c.PoolMaxSize = d.PoolMaxSize
	}
	if c.MaxReuseCount == 0 {
		c.MaxReuseCount = d.MaxReuseCount
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SecurityLevel != SecurityLevelStrict &&
		c.SecurityLevel != SecurityLevelStandard &&
		c.SecurityLevel != SecurityLevelPermissive {
		return fmt.Errorf("invalid security level: %s", c.SecurityLevel)
	}
	if c.MaxCallStackSize <= 0 {
		return fmt.Errorf("max_call_stack_size must be positive")
	}
	if c.PoolMaxSize <= 0 {
		return fmt.Errorf("pool_max_size must be positive")
	}
	if c.PoolMinSize < 0 || c.PoolMinSize > c.PoolMaxSize {
		return fmt.Errorf("pool_min_size must be between 0 and pool_max_size")
	}
	if c.MaxReuseCount <= 0 {
		return fmt.Errorf("max_reuse_count must be positive")
	}
	return nil
}
