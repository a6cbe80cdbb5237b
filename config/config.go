// Package config handles corten.toml engine configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents a corten.toml engine configuration.
type Config struct {
	Tiering Tiering `toml:"tiering"`
	Caches  Caches  `toml:"caches"`
	Limits  Limits  `toml:"limits"`
	Profile Profile `toml:"profile"`
}

// Tiering configures tier promotion and the compilation pipeline.
type Tiering struct {
	BaselineThreshold   uint64 `toml:"baseline-threshold"`
	OptimizingThreshold uint64 `toml:"optimizing-threshold"`
	DeoptRetryBudget    int    `toml:"deopt-retry-budget"`
	CompileWorkers      int    `toml:"compile-workers"`
	CompileQueueSize    int    `toml:"compile-queue-size"`

	// Synchronous compiles on the requesting thread. Intended for tests
	// and debugging, not production.
	Synchronous bool `toml:"synchronous"`
}

// Caches configures inline caches.
type Caches struct {
	PolymorphicLimit int `toml:"polymorphic-limit"`
}

// Limits bounds runtime resources.
type Limits struct {
	MaxCallDepth int `toml:"max-call-depth"`
}

// Profile configures profile persistence.
type Profile struct {
	// DB is the path of the SQLite profile archive. Empty disables
	// warm starts.
	DB string `toml:"db"`
}

// Default returns the standard configuration.
func Default() *Config {
	return &Config{
		Tiering: Tiering{
			BaselineThreshold:   500,
			OptimizingThreshold: 10000,
			DeoptRetryBudget:    3,
			CompileWorkers:      1,
			CompileQueueSize:    100,
		},
		Caches: Caches{PolymorphicLimit: 4},
		Limits: Limits{MaxCallDepth: 1000},
	}
}

// Load parses a corten.toml file from the given directory. A missing
// file yields the defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "corten.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot honor.
func (c *Config) Validate() error {
	if c.Tiering.BaselineThreshold == 0 {
		return fmt.Errorf("baseline-threshold must be positive")
	}
	if c.Tiering.OptimizingThreshold <= c.Tiering.BaselineThreshold {
		return fmt.Errorf("optimizing-threshold must exceed baseline-threshold")
	}
	if c.Caches.PolymorphicLimit < 1 {
		return fmt.Errorf("polymorphic-limit must be at least 1")
	}
	if c.Limits.MaxCallDepth < 1 {
		return fmt.Errorf("max-call-depth must be at least 1")
	}
	return nil
}
