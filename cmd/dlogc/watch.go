package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dlog-engine/dlog/internal/engine"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <program.dl>",
	Short: "Watch the EDB directory and re-saturate on change",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "settle time before re-running after a change")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if edbDir == "" {
		edbDir = cfg.EDB.Path
	}
	if edbDir == "" {
		return fmt.Errorf("dlogc: watch requires --edb")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("dlogc: new watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(edbDir, 0o755); err != nil {
		return fmt.Errorf("dlogc: mkdir %s: %w", edbDir, err)
	}
	if err := watcher.Add(edbDir); err != nil {
		return fmt.Errorf("dlogc: watch %s: %w", edbDir, err)
	}

	ctx := cmd.Context()
	runOnce := func() {
		if err := saturateAndReport(ctx, args[0]); err != nil {
			logger.Error("watch: run failed", zap.Error(err))
		}
	}
	runOnce()

	var mu sync.Mutex
	pending := false
	debounceTimer := time.NewTimer(24 * time.Hour)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			pending = true
			mu.Unlock()
			debounceTimer.Reset(watchDebounce)
			logger.Debug("watch: change detected", zap.String("path", ev.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch: fsnotify error", zap.Error(err))
		case <-debounceTimer.C:
			mu.Lock()
			fire := pending
			pending = false
			mu.Unlock()
			if fire {
				runOnce()
			}
		}
	}
}

func saturateAndReport(ctx context.Context, progPath string) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dict := term.NewDictionary()
	parsed, err := loadProgram(progPath, dict)
	if err != nil {
		return err
	}
	src, err := openEDB(dict, parsed)
	if err != nil {
		return err
	}
	prog, err := program.New(parsed.Rules, parsed.EDBPredicates)
	if err != nil {
		return fmt.Errorf("build program: %w", err)
	}

	optFiltering, optIntersect := engineOptionsFromConfig()
	store := facttable.NewStore(src, optFiltering)
	eng := engine.New(prog, store, dict, engine.Options{OptFiltering: optFiltering, OptIntersect: optIntersect}, logger.Named("engine"))
	stats, err := eng.Run(runCtx, 0)
	if err != nil {
		return err
	}

	var names []string
	for name := range stats.DerivedByPredicate {
		names = append(names, name)
	}
	fmt.Printf("[%s] resaturated: %s\n", time.Now().Format(time.Kitchen), strings.Join(names, ", "))
	return nil
}
