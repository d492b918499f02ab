// Package logging provides category-scoped structured logging for the
// engine, following the teacher's internal/logging shape (a fixed set of
// named categories, a package-level Initialize/CloseAll lifecycle, one
// logger handle per category) but backed by go.uber.org/zap instead of a
// hand-rolled file logger.
package logging

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one subsystem's log stream.
type Category string

const (
	CategoryBoot     Category = "boot"
	CategoryEngine   Category = "engine"
	CategoryParallel Category = "parallel"
	CategoryEDB      Category = "edb"
	CategoryPersist  Category = "persist"
	CategoryDispatch Category = "dispatch"
	CategoryCLI      Category = "cli"
)

var (
	mu      sync.Mutex
	base    *zap.Logger
	loggers map[Category]*zap.Logger
)

// Initialize builds the base zap logger at the given level ("debug",
// "info", "warn", "error") and resets the per-category cache. Passing an
// unrecognized level defaults to info, matching the teacher's lenient
// config parsing.
func Initialize(level string, development bool) error {
	mu.Lock()
	defer mu.Unlock()

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	base = l
	loggers = make(map[Category]*zap.Logger)
	return nil
}

// For returns the logger scoped to category, lazily deriving it from the
// base logger on first use. Initialize must have been called first; if it
// was not, For falls back to zap's global no-op logger so engine code
// never needs a nil check.
func For(cat Category) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		return zap.NewNop()
	}
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := base.With(zap.String("category", string(cat)))
	loggers[cat] = l
	return l
}

// CloseAll flushes and closes every category logger plus the base logger,
// aggregating any sync errors with multierr rather than stopping at the
// first one — most of these are expected (stdout/stderr don't support
// fsync on several platforms) and the caller just wants to know if a real
// file handle failed.
func CloseAll() error {
	mu.Lock()
	defer mu.Unlock()

	var err error
	for _, l := range loggers {
		err = multierr.Append(err, l.Sync())
	}
	if base != nil {
		err = multierr.Append(err, base.Sync())
	}
	loggers = nil
	base = nil
	return err
}
