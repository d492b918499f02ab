package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dlog-engine/dlog/internal/engine"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/parallel"
	"github.com/dlog-engine/dlog/internal/persist"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

var persistDir string

var runCmd = &cobra.Command{
	Use:   "run <program.dl>",
	Short: "Saturate a program to a fixpoint and print per-predicate row counts",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&persistDir, "persist", "", "directory to dump materialized facts into")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	dict := term.NewDictionary()
	parsed, err := loadProgram(args[0], dict)
	if err != nil {
		return err
	}
	src, err := openEDB(dict, parsed)
	if err != nil {
		return err
	}

	prog, err := program.New(parsed.Rules, parsed.EDBPredicates)
	if err != nil {
		return fmt.Errorf("dlogc: build program: %w", err)
	}

	optFiltering, optIntersect := engineOptionsFromConfig()
	store := facttable.NewStore(src, optFiltering)
	eng := engine.New(prog, store, dict, engine.Options{OptFiltering: optFiltering, OptIntersect: optIntersect}, logger.Named("engine"))

	var stats engine.Stats
	if cfg.Engine.NThreads > 1 {
		drv := parallel.New(eng, prog, parallel.Options{
			Options: engine.Options{OptFiltering: optFiltering, OptIntersect: optIntersect},
			Workers: cfg.Engine.NThreads,
		}, logger.Named("parallel"))
		pstats, err := drv.Run(ctx, 0)
		if err != nil {
			return fmt.Errorf("dlogc: run: %w", err)
		}
		stats = pstats.Stats
	} else {
		stats, err = eng.Run(ctx, 0)
		if err != nil {
			return fmt.Errorf("dlogc: run: %w", err)
		}
	}

	names := make([]string, 0, len(stats.DerivedByPredicate))
	for name := range stats.DerivedByPredicate {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-20s %d rows\n", name, stats.DerivedByPredicate[name])
	}
	fmt.Printf("rounds=%d final_iteration=%d skipped=%v\n", stats.Rounds, stats.FinalIteration, stats.SkippedEmptyRules)

	if persistDir != "" {
		runID, err := persistAll(persistDir, prog, store, dict)
		if err != nil {
			return err
		}
		fmt.Printf("persisted run %s to %s\n", runID, persistDir)
	}
	return nil
}

func persistAll(dir string, prog *program.Program, store *facttable.Store, dict *term.Dictionary) (string, error) {
	opts := persist.Options{Decompress: cfg.Persist.Decompress, MinLevel: cfg.Persist.MinLevel}
	return persist.Write(dir, prog.Predicates(), store, dict, opts)
}
