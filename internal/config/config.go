// Package config loads the engine's YAML-backed configuration, modeled
// on the teacher's internal/config nested-struct-with-yaml-tags style.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds every knob the engine, dispatcher, EDB layer, and
// persistence layer read at startup.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	EDB        EDBConfig        `yaml:"edb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Persist    PersistConfig    `yaml:"persist"`
}

// EngineConfig controls the semi-naive / parallel driver.
type EngineConfig struct {
	// NThreads bounds the parallel driver's worker pool.
	NThreads int `yaml:"nthreads"`

	// InterRuleThreads is loaded from the config file but no driver in
	// this module reads it; the parallel driver's concurrency is bounded
	// by NThreads alone.
	InterRuleThreads int `yaml:"inter_rule_threads"`

	// OptIntersect enables the range-intersection fetch bound: each atom
	// fetch's upper iteration bound is pinned to
	// min(requested, table.max_iteration) instead of left unbounded, in
	// internal/joinexec and internal/engine's pure-projection fast path.
	OptIntersect bool `yaml:"opt_intersect"`

	// OptFiltering enables FCTable's cross-block anti-join dedup.
	OptFiltering bool `yaml:"opt_filtering"`

	// Shuffle is loaded from the config file but no driver in this module
	// reads it; rules are always evaluated in declaration order.
	Shuffle bool `yaml:"shuffle"`
}

// DispatcherConfig controls Reasoner's materialize-vs-top-down choice.
type DispatcherConfig struct {
	// Threshold is the estimated result cardinality at or above which the
	// dispatcher resolves a bound query top-down instead of with a
	// magic-set guard. dlogc query takes its threshold from --threshold
	// and does not read this field.
	Threshold int64 `yaml:"threshold"`
}

// EDBConfig selects and configures the extensional fact backend.
type EDBConfig struct {
	// Backend is one of "memory", "sqlite", "files".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls internal/logging's base logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// PersistConfig controls internal/persist's materialized-fact writer.
type PersistConfig struct {
	// Decompress, if true, writes dictionary-decoded string terms
	// instead of raw term.Term integers.
	Decompress bool `yaml:"decompress"`

	// MinLevel skips blocks derived before this iteration; a predicate
	// with no block at or after it is not written.
	MinLevel int64 `yaml:"min_level"`
}

// Default returns the configuration a fresh engine starts with.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			NThreads:         4,
			InterRuleThreads: 4,
			OptIntersect:     true,
			OptFiltering:     true,
			Shuffle:          false,
		},
		Dispatcher: DispatcherConfig{
			Threshold: 10000,
		},
		EDB: EDBConfig{
			Backend: "memory",
			Path:    "",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
		},
		Persist: PersistConfig{
			Decompress: true,
			MinLevel:   0,
		},
	}
}

// Load reads path as YAML over the default configuration. A missing file
// is not an error: Load returns the defaults, mirroring the teacher's
// "config file not found, using defaults" convention.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes c to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir for %s: %w", path, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets deployment environments override the EDB
// location and backend without editing the checked-in config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DLOG_EDB_PATH"); v != "" {
		c.EDB.Path = v
	}
	if v := os.Getenv("DLOG_EDB_BACKEND"); v != "" {
		c.EDB.Backend = v
	}
	if v := os.Getenv("DLOG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks for configuration combinations the engine cannot run
// with.
func (c *Config) Validate() error {
	switch c.EDB.Backend {
	case "memory", "sqlite", "files":
	default:
		return fmt.Errorf("config: invalid edb backend %q (want memory, sqlite, or files)", c.EDB.Backend)
	}
	if c.EDB.Backend != "memory" && c.EDB.Path == "" {
		return fmt.Errorf("config: edb backend %q requires edb.path", c.EDB.Backend)
	}
	if c.Engine.NThreads < 1 {
		return fmt.Errorf("config: engine.nthreads must be >= 1")
	}
	return nil
}
