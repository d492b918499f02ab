// Package parallel implements spec.md §4 Component G: a concurrent
// semi-naive driver. It runs the same per-rule evaluation path as
// internal/engine (via Engine.FireRule), but fires every round's rules in
// dependency-safe batches so independent rules run concurrently instead
// of one at a time.
//
// A round is split into batches using the rule dependency graph: two
// rules conflict if either one's head predicate feeds the other's body
// (directly — one derives into the predicate the other reads this round).
// Rules within a batch share no such edge, so firing them concurrently
// against the same FCTable-backed store cannot let one rule observe a
// partial delta produced by another rule in the same batch. Batches
// themselves still run one after another, preserving the semi-naive
// round structure engine.Engine relies on for its delta bookkeeping.
package parallel

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/engine"
	"github.com/dlog-engine/dlog/internal/program"
)

// Options configures the parallel driver in addition to the engine
// options every rule firing still obeys.
type Options struct {
	engine.Options

	// Workers bounds how many rules may fire concurrently within one
	// batch. <= 0 defaults to 4, matching internal/config's default
	// EngineConfig.NThreads.
	Workers int
}

// Stats mirrors engine.Stats with one addition: BatchSizes records how
// many rules ran concurrently in each batch across the whole run, for
// diagnosing how much parallelism a program actually exposed.
type Stats struct {
	engine.Stats
	BatchSizes []int
}

// Driver runs a program to a fixpoint using batched concurrent rule
// firing instead of engine.Engine's strictly sequential round-robin.
type Driver struct {
	eng    *engine.Engine
	prog   *program.Program
	opts   Options
	logger *zap.Logger
}

// New returns a Driver. eng is the underlying sequential-capable engine
// whose FireRule and Store this driver reuses for every individual rule.
func New(eng *engine.Engine, prog *program.Program, opts Options, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Driver{eng: eng, prog: prog, opts: opts, logger: logger}
}

// Run evaluates the program to a fixpoint, starting from startIteration,
// firing each round's non-conflicting rules concurrently.
func (d *Driver) Run(ctx context.Context, startIteration int64) (Stats, error) {
	stats := Stats{Stats: engine.Stats{
		DerivedByPredicate: make(map[string]int64),
		RuleInvocations:    make(map[string]int),
	}}

	if err := d.eng.BootstrapEDB(ctx); err != nil {
		return stats, err
	}

	edbOnly, recursive := program.Partition(d.prog.Rules())

	iteration := startIteration
	if iteration == 0 {
		iteration = 1
	}

	edbBatches := batchRules(edbOnly)
	if err := d.runBatches(ctx, edbBatches, iteration, &stats); err != nil {
		return stats, err
	}

	batches := batchRules(recursive)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		changed, err := d.runRound(ctx, batches, iteration, &stats)
		if err != nil {
			return stats, err
		}
		stats.Rounds++
		if !changed {
			break
		}
		iteration++
	}

	stats.FinalIteration = iteration
	d.prog.SetRules(append(append([]ast.Rule(nil), edbOnly...), recursive...))
	return stats, nil
}

// runBatches fires every batch once (used for the non-recursive
// bootstrap pass, which never needs more than one pass per rule).
func (d *Driver) runBatches(ctx context.Context, batches [][]*ast.Rule, iteration int64, stats *Stats) error {
	_, err := d.runRound(ctx, batches, iteration, stats)
	return err
}

// runRound fires every batch in order, each batch's rules concurrently,
// skipping rules already marked FailedBecauseEmpty (spec.md §4.F's
// sticky empty-EDB-atom short circuit) and newly detecting dead EDB
// atoms before firing. It reports whether anything changed this round.
func (d *Driver) runRound(ctx context.Context, batches [][]*ast.Rule, iteration int64, stats *Stats) (bool, error) {
	changed := false
	for _, batch := range batches {
		live := make([]*ast.Rule, 0, len(batch))
		for _, rule := range batch {
			if rule.FailedBecauseEmpty {
				continue
			}
			if empty, atomIdx := d.eng.DeadEDBAtom(rule); empty {
				rule.FailedBecauseEmpty = true
				rule.AtomFailure = atomIdx
				stats.SkippedEmptyRules = append(stats.SkippedEmptyRules, rule.Head.Pred.Name)
				continue
			}
			live = append(live, rule)
		}
		if len(live) == 0 {
			continue
		}
		stats.BatchSizes = append(stats.BatchSizes, len(live))

		derivedBy := make([]int64, len(live))
		g, gctx := errgroup.WithContext(ctx)
		sem := semaphore.NewWeighted(int64(d.opts.Workers))
		for i, rule := range live {
			i, rule := i, rule
			if err := sem.Acquire(gctx, 1); err != nil {
				return changed, err
			}
			g.Go(func() error {
				defer sem.Release(1)
				derived, err := d.eng.FireRule(gctx, rule, iteration)
				if err != nil {
					return err
				}
				derivedBy[i] = derived
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return changed, err
		}

		for i, rule := range live {
			stats.RuleInvocations[rule.Head.Pred.Name]++
			if derivedBy[i] > 0 {
				stats.DerivedByPredicate[rule.Head.Pred.Name] += derivedBy[i]
				changed = true
			}
		}
	}
	return changed, nil
}

// maxBatchSize caps how many mutually non-conflicting rules may share one
// group, per spec.md §4.G: "the size cap keeps groups fine-grained and
// improves load balance."
const maxBatchSize = 4

// batchRules groups rules into dependency-safe batches of at most
// maxBatchSize rules each: two rules conflict, and so can never share a
// batch, when they share a head predicate or when one's head predicate
// appears in the other's body (spec.md §4.G).
func batchRules(rules []ast.Rule) [][]*ast.Rule {
	n := len(rules)
	ptrs := make([]*ast.Rule, n)
	bodyPreds := make([]map[ast.PredID]bool, n)
	headPred := make([]ast.PredID, n)
	for i := range rules {
		ptrs[i] = &rules[i]
		headPred[i] = rules[i].Head.Pred.ID
		bp := make(map[ast.PredID]bool, len(rules[i].Body))
		for _, b := range rules[i].Body {
			bp[b.Pred.ID] = true
		}
		bodyPreds[i] = bp
	}

	// conflict[i][j]: rule i and rule j cannot share a batch — spec.md
	// §4.G: two rules conflict iff they share a head predicate, or one's
	// head predicate appears in the other's body.
	conflicts := func(i, j int) bool {
		if headPred[i] == headPred[j] {
			return true
		}
		return bodyPreds[i][headPred[j]] || bodyPreds[j][headPred[i]]
	}

	var batches [][]int
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return headPred[order[a]] < headPred[order[b]] })

	for _, i := range order {
		placed := false
		for b := range batches {
			if len(batches[b]) >= maxBatchSize {
				continue
			}
			ok := true
			for _, j := range batches[b] {
				if conflicts(i, j) {
					ok = false
					break
				}
			}
			if ok {
				batches[b] = append(batches[b], i)
				placed = true
				break
			}
		}
		if !placed {
			batches = append(batches, []int{i})
		}
	}

	out := make([][]*ast.Rule, len(batches))
	for b, idxs := range batches {
		rs := make([]*ast.Rule, len(idxs))
		for k, i := range idxs {
			rs[k] = ptrs[i]
		}
		out[b] = rs
	}
	return out
}
