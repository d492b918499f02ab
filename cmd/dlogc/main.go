// Command dlogc is the CLI front end for the bottom-up semi-naive
// Datalog engine: load a program and its EDB, saturate it, query it
// through the dispatcher, watch an EDB directory for changes, or browse
// a materialized run interactively.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dlog-engine/dlog/internal/config"
	"github.com/dlog-engine/dlog/internal/logging"
)

var (
	verbose    bool
	configPath string
	edbDir     string
	timeout    time.Duration

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dlogc",
	Short: "dlogc runs and queries a bottom-up semi-naive Datalog program",
	Long: `dlogc loads a small Prolog-like Datalog program, resolves its
extensional predicates against an EDB source, and either saturates it to
a fixpoint or answers one query through the dispatcher.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("dlogc: build logger: %w", err)
		}

		level := "info"
		if verbose {
			level = "debug"
		}
		if err := logging.Initialize(level, verbose); err != nil {
			return fmt.Errorf("dlogc: initialize logging: %w", err)
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("dlogc: load config: %w", err)
		}
		cfg = loaded
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "dlog.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&edbDir, "edb", "", "directory of flat-file EDB predicates (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "operation timeout")

	rootCmd.AddCommand(runCmd, queryCmd, checkCmd, explainCmd, watchCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
