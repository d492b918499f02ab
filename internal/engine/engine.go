// Package engine implements spec.md §4 Component F: the semi-naive
// fixpoint driver. It loads EDB predicates once, evaluates EDB-only rules
// as a bootstrap pass, then round-robins the remaining (recursive or
// mixed) rules — reordering each rule's body by ascending estimated
// cardinality and building fresh plan.Plans every round — until a full
// round derives no new fact anywhere.
package engine

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/joinexec"
	"github.com/dlog-engine/dlog/internal/joinproc"
	"github.com/dlog-engine/dlog/internal/plan"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

// Options toggles the two performance switches spec.md §9 and SPEC_FULL
// §5 call out.
type Options struct {
	// OptFiltering enables the FCTable cross-block anti-join dedup; when
	// false, tables only dedupe within one candidate block.
	OptFiltering bool

	// OptIntersect enables joinexec's and the pure-projection fast path's
	// range intersection: each atom fetch's upper iteration bound is
	// pinned to min(requested, table.max_iteration) instead of left
	// unbounded, per SPEC_FULL §5 item 2 / seminaiver.cpp's
	// produceDerivationInPreviousSteps.
	OptIntersect bool
}

// Stats summarizes one Run invocation for reporting and the dispatcher's
// mode decisions.
type Stats struct {
	Rounds             int
	FinalIteration     int64
	DerivedByPredicate map[string]int64
	RuleInvocations    map[string]int
	SkippedEmptyRules  []string
}

// EdbFetchFailed wraps a failure to load an EDB predicate's facts.
type EdbFetchFailed struct {
	Predicate string
	Cause     error
}

func (e *EdbFetchFailed) Error() string {
	return fmt.Sprintf("engine: fetch edb predicate %s: %v", e.Predicate, e.Cause)
}
func (e *EdbFetchFailed) Unwrap() error { return e.Cause }

// DictMiss reports a term encountered with no entry in the dictionary —
// it should be unreachable in a correctly wired engine, since every term
// reaching the store was interned first, but is surfaced rather than
// silently stringified.
type DictMiss struct{ Term term.Term }

func (e *DictMiss) Error() string { return fmt.Sprintf("engine: dictionary miss for term %d", e.Term) }

// PersistWriteFailed wraps a failure writing materialized facts out.
type PersistWriteFailed struct {
	Predicate string
	Cause     error
}

func (e *PersistWriteFailed) Error() string {
	return fmt.Sprintf("engine: persist predicate %s: %v", e.Predicate, e.Cause)
}
func (e *PersistWriteFailed) Unwrap() error { return e.Cause }

// InvariantViolation reports a broken internal invariant — e.g. an unsafe
// rule reaching the engine after the program layer should have rejected
// it.
type InvariantViolation struct{ Msg string }

func (e *InvariantViolation) Error() string { return "engine: invariant violation: " + e.Msg }

// Engine runs one program to a bottom-up fixpoint over one fact store.
type Engine struct {
	prog   *program.Program
	store  *facttable.Store
	dict   *term.Dictionary
	opts   Options
	logger *zap.Logger
}

// New returns an Engine. logger may be nil, in which case a no-op logger
// is used.
func New(prog *program.Program, store *facttable.Store, dict *term.Dictionary, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{prog: prog, store: store, dict: dict, opts: opts, logger: logger}
}

// Run evaluates the program to a fixpoint, starting from startIteration
// (0 for a fresh run, or a previously returned Stats.FinalIteration to
// resume a materialization after adding facts). It returns statistics
// about the run.
func (e *Engine) Run(ctx context.Context, startIteration int64) (Stats, error) {
	stats := Stats{
		DerivedByPredicate: make(map[string]int64),
		RuleInvocations:    make(map[string]int),
	}

	if err := e.bootstrapEDB(ctx); err != nil {
		return stats, err
	}

	edbOnly, recursive := program.Partition(e.prog.Rules())

	iteration := startIteration
	if iteration == 0 {
		iteration = 1
	}

	for i := range edbOnly {
		rule := &edbOnly[i]
		derived, err := e.fireRule(ctx, rule, iteration)
		if err != nil {
			return stats, err
		}
		if derived > 0 {
			stats.DerivedByPredicate[rule.Head.Pred.Name] += derived
		}
		stats.RuleInvocations[rule.Head.Pred.Name]++
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		changed := false
		for i := range recursive {
			rule := &recursive[i]
			if rule.FailedBecauseEmpty {
				continue
			}
			if empty, atomIdx := e.deadEDBAtom(rule); empty {
				rule.FailedBecauseEmpty = true
				rule.AtomFailure = atomIdx
				stats.SkippedEmptyRules = append(stats.SkippedEmptyRules, rule.Head.Pred.Name)
				continue
			}
			derived, err := e.fireRule(ctx, rule, iteration)
			if err != nil {
				return stats, err
			}
			stats.RuleInvocations[rule.Head.Pred.Name]++
			if derived > 0 {
				stats.DerivedByPredicate[rule.Head.Pred.Name] += derived
				changed = true
			}
		}
		stats.Rounds++
		if !changed {
			break
		}
		iteration++
	}

	stats.FinalIteration = iteration
	e.prog.SetRules(append(append([]ast.Rule(nil), edbOnly...), recursive...))
	return stats, nil
}

// BootstrapEDB loads every EDB predicate's facts once, per spec.md §4.A's
// "first touch" contract. Exported so internal/parallel's driver can
// reuse the same bootstrap step ahead of its own batched round loop.
func (e *Engine) BootstrapEDB(ctx context.Context) error {
	return e.bootstrapEDB(ctx)
}

func (e *Engine) bootstrapEDB(ctx context.Context) error {
	for _, pred := range e.prog.Predicates() {
		if pred.Kind != ast.EDB {
			continue
		}
		lit := mostGeneralLiteral(pred)
		if err := e.store.EnsureEDBLoaded(ctx, pred, lit); err != nil {
			return &EdbFetchFailed{Predicate: pred.Name, Cause: err}
		}
	}
	return nil
}

func mostGeneralLiteral(pred ast.Predicate) ast.Literal {
	args := make([]ast.Slot, pred.Arity)
	for i := range args {
		args[i] = ast.VarSlot(int32(i))
	}
	return ast.Literal{Pred: pred, Args: args}
}

// deadEDBAtom reports whether rule references an EDB predicate whose
// table is empty. EDB tables are loaded once and never grow, so this atom
// (and therefore the whole rule) can never fire — spec.md §4.F's
// empty-atom short circuit, made sticky by the caller setting
// FailedBecauseEmpty.
// DeadEDBAtom reports whether rule references an EDB predicate whose
// table is empty. Exported for internal/parallel's batching loop, which
// runs this same sticky short-circuit check outside engine.Run's own
// round loop.
func (e *Engine) DeadEDBAtom(rule *ast.Rule) (bool, int) {
	return e.deadEDBAtom(rule)
}

func (e *Engine) deadEDBAtom(rule *ast.Rule) (bool, int) {
	for i, lit := range rule.Body {
		if lit.Pred.Kind == ast.EDB && e.store.Table(lit.Pred).Empty() {
			return true, i
		}
	}
	return false, -1
}

// FireRule runs one rule for one round against e's store. It is exported
// so internal/parallel can drive individual rules concurrently while
// reusing exactly the same per-rule evaluation path the sequential driver
// uses.
func (e *Engine) FireRule(ctx context.Context, rule *ast.Rule, iteration int64) (derived int64, err error) {
	return e.fireRule(ctx, rule, iteration)
}

// Store exposes the engine's fact store, so callers building an
// alternative driver loop (internal/parallel) around the same engine
// share its tables.
func (e *Engine) Store() *facttable.Store { return e.store }

// fireRule runs one rule for one round: reorders its body by ascending
// estimated cardinality, builds the plans that round calls for (just the
// first, on the rule's very first invocation; every delta-bearing plan on
// later invocations), executes each against store, and reports how many
// new rows the head predicate's table gained.
func (e *Engine) fireRule(ctx context.Context, rule *ast.Rule, iteration int64) (int64, error) {
	order := e.reorder(rule)

	var plans []*plan.Plan
	if rule.LastExecution == 0 {
		built := plan.Build(rule, order)
		plans = built[:1]
	} else {
		plans = plan.Build(rule, order)
	}

	head := e.store.Table(rule.Head.Pred)
	before := head.RowCount()
	proc := joinproc.NewFinalProcessor(rule.Head, head)

	for _, p := range plans {
		if p.IsPureProjection {
			bodyLit := rule.Body[p.Order[0]]
			bodyTable := e.store.Table(bodyLit.Pred)
			min := int64(0)
			if p.Steps[0].Range == plan.RangeDelta {
				min = rule.LastExecution
			}
			max := int64(-1)
			if e.opts.OptIntersect {
				max = bodyTable.MaxIteration()
			}
			for _, b := range bodyTable.Filter(bodyLit, min, max) {
				proc.AddWholeBlock(b, iteration)
			}
			continue
		}
		if err := joinexec.Execute(ctx, p, rule.LastExecution, e.store, proc, e.opts.OptIntersect); err != nil {
			return 0, err
		}
	}

	proc.Consolidate()
	proc.Flush(iteration)

	rule.LastExecution = iteration

	after := head.RowCount()
	return after - before, nil
}

// reorder picks rule's body execution order per spec.md §4.F step 2b: the
// first atom is the one with the lowest estimated cardinality (ties
// broken by original position); every atom after that is chosen greedily
// from whatever remains by which one shares the most variables with the
// atoms already placed, so the running intermediate stays connected
// instead of drifting into an avoidable Cartesian product. Ties in shared
// variable count are broken by ascending cardinality, then by original
// position (spec.md §9's tie-breaking note).
func (e *Engine) reorder(rule *ast.Rule) []int {
	n := len(rule.Body)
	card := make([]int64, n)
	vars := make([]map[int32]struct{}, n)
	for i, lit := range rule.Body {
		card[i] = e.store.Table(lit.Pred).EstimateCardinality(0, -1)
		vars[i] = litVars(lit)
	}

	remaining := make([]int, n)
	for i := range remaining {
		remaining[i] = i
	}
	sort.SliceStable(remaining, func(a, b int) bool {
		return card[remaining[a]] < card[remaining[b]]
	})

	order := make([]int, 0, n)
	order = append(order, remaining[0])
	placed := cloneVarSet(vars[remaining[0]])
	remaining = remaining[1:]

	for len(remaining) > 0 {
		best := 0
		bestShared := -1
		for i, idx := range remaining {
			shared := sharedCount(vars[idx], placed)
			if shared > bestShared || (shared == bestShared && card[idx] < card[remaining[best]]) {
				bestShared = shared
				best = i
			}
		}
		chosen := remaining[best]
		order = append(order, chosen)
		for v := range vars[chosen] {
			placed[v] = struct{}{}
		}
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return order
}

func litVars(l ast.Literal) map[int32]struct{} {
	s := make(map[int32]struct{})
	for _, a := range l.Args {
		if a.IsVar {
			s[a.Var] = struct{}{}
		}
	}
	return s
}

func cloneVarSet(s map[int32]struct{}) map[int32]struct{} {
	out := make(map[int32]struct{}, len(s))
	for v := range s {
		out[v] = struct{}{}
	}
	return out
}

func sharedCount(vars, placed map[int32]struct{}) int {
	n := 0
	for v := range vars {
		if _, ok := placed[v]; ok {
			n++
		}
	}
	return n
}
