// Package dispatcher implements spec.md §4 Component H: the Reasoner
// that decides, per query, whether to run the full semi-naive fixpoint,
// resolve the query by pure top-down SLD, or rewrite the program with a
// magic-set guard and run a scoped fixpoint — trading full materialization
// against a query-shaped one based on the query's bound arguments, the
// predicate's recursiveness, and an already-observed table size.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/block"
	"github.com/dlog-engine/dlog/internal/edb"
	"github.com/dlog-engine/dlog/internal/engine"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/magic"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
	"github.com/dlog-engine/dlog/internal/topdown"
)

// Mode names the evaluation strategy Decide picked for a query.
type Mode int

const (
	ModeTopDown Mode = iota
	ModeMagicSet
	ModeMaterialize
)

func (m Mode) String() string {
	switch m {
	case ModeTopDown:
		return "top-down"
	case ModeMagicSet:
		return "magic-set"
	case ModeMaterialize:
		return "materialize"
	default:
		return "unknown"
	}
}

// Reasoner picks and runs an evaluation strategy for a query against one
// program and fact store.
type Reasoner struct {
	prog       *program.Program
	store      *facttable.Store
	dict       *term.Dictionary
	edbSource  edb.EDB
	engineOpts engine.Options
	threshold  int64
	logger     *zap.Logger
}

// New returns a Reasoner. threshold is the estimated/observed result
// cardinality at or above which Decide resolves a bound query top-down
// instead of with a magic-set guard (spec.md §4.H).
func New(prog *program.Program, store *facttable.Store, dict *term.Dictionary, edbSource edb.EDB, opts engine.Options, threshold int64, logger *zap.Logger) *Reasoner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reasoner{prog: prog, store: store, dict: dict, edbSource: edbSource, engineOpts: opts, threshold: threshold, logger: logger}
}

// EstimateSize reports the best available estimate of query's result
// cardinality without running anything: the table's current row count if
// the predicate has already been touched, 0 otherwise. A predicate that
// has never been touched isn't necessarily empty — it just hasn't been
// asked for yet — so this is a lower bound, not an upper one.
func (r *Reasoner) EstimateSize(query ast.Literal) int64 {
	return r.store.Table(query.Pred).EstimateCardinality(0, -1)
}

// Decide picks an evaluation mode for query, per spec.md §4.H: below
// threshold, pick MAGIC or TOPDOWN depending on whether query's predicate
// is recursively defined (unguarded SLD has no termination guarantee
// against recursion, so a recursive predicate needs the magic-set guard
// even when small); at or above threshold, always pick TOPDOWN — matching
// spec.md §8 scenario 5's worked example directly (T=100, estimate 50
// chooses MAGIC; estimate 10000 chooses TOPDOWN, not full
// materialization). An EDB query resolves top-down trivially since there
// is nothing to derive. A fully unbound query has no binding for
// magic-sets to push or for SLD to resolve against, so it always goes to
// full materialization regardless of the threshold.
func (r *Reasoner) Decide(query ast.Literal) Mode {
	if query.Pred.Kind == ast.EDB {
		return ModeTopDown
	}
	if len(boundPositions(query)) == 0 {
		return ModeMaterialize
	}
	if r.EstimateSize(query) >= r.threshold {
		return ModeTopDown
	}
	if r.recursivelyDefined(query.Pred) {
		return ModeMagicSet
	}
	return ModeTopDown
}

// Query runs Decide and then the corresponding strategy, returning every
// solution's bindings for query's free variables.
func (r *Reasoner) Query(ctx context.Context, query ast.Literal) ([]topdown.Solution, Mode, error) {
	mode := r.Decide(query)
	switch mode {
	case ModeTopDown:
		sols, err := r.TopDown(ctx, query)
		return sols, mode, err
	case ModeMagicSet:
		sols, err := r.MagicSet(ctx, query)
		return sols, mode, err
	default:
		sols, err := r.Materialize(ctx, query)
		return sols, mode, err
	}
}

// TopDown resolves query by pure SLD resolution, never touching the
// fixpoint driver.
func (r *Reasoner) TopDown(ctx context.Context, query ast.Literal) ([]topdown.Solution, error) {
	solver := topdown.New(r.prog, r.store, 0)
	var out []topdown.Solution
	err := solver.Solve(ctx, query, func(s topdown.Solution) bool {
		out = append(out, s)
		return true
	})
	return out, err
}

// Materialize runs the full semi-naive fixpoint over the whole program,
// then reads query's answers out of the resulting table.
func (r *Reasoner) Materialize(ctx context.Context, query ast.Literal) ([]topdown.Solution, error) {
	eng := engine.New(r.prog, r.store, r.dict, r.engineOpts, r.logger)
	if _, err := eng.Run(ctx, 0); err != nil {
		return nil, err
	}
	return readSolutions(r.store, query), nil
}

// MagicSet rewrites the program with a magic guard scoped to query, runs
// the fixpoint over a fresh store seeded with the guard fact (so
// materialization only derives what could feed into the query), and
// reads the answers back out.
func (r *Reasoner) MagicSet(ctx context.Context, query ast.Literal) ([]topdown.Solution, error) {
	edbPredicates := make(map[string]int)
	for _, p := range r.prog.Predicates() {
		if p.Kind == ast.EDB {
			edbPredicates[p.Name] = p.Arity
		}
	}

	rewritten, err := magic.Rewrite(r.prog.Rules(), edbPredicates, query)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: magic rewrite: %w", err)
	}

	newProg, err := program.New(rewritten.Rules, rewritten.EDBPredicates)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: rebuild program after magic rewrite: %w", err)
	}

	newStore := facttable.NewStore(r.edbSource, r.engineOpts.OptFiltering)
	seedPred, ok := newProg.PredicateByName(rewritten.SeedPredicateName)
	if !ok {
		return nil, fmt.Errorf("dispatcher: seed predicate %s missing after rewrite", rewritten.SeedPredicateName)
	}
	seedBlock := block.New(0, rewritten.SeedArity, [][]term.Term{rewritten.SeedArgs})
	newStore.Table(seedPred).Add(seedBlock)

	eng := engine.New(newProg, newStore, r.dict, r.engineOpts, r.logger)
	if _, err := eng.Run(ctx, 0); err != nil {
		return nil, err
	}

	queryPred, ok := newProg.PredicateByName(query.Pred.Name)
	if !ok {
		return nil, fmt.Errorf("dispatcher: query predicate %s missing after rewrite", query.Pred.Name)
	}
	resolvedQuery := ast.Literal{Pred: queryPred, Args: query.Args}
	return readSolutions(newStore, resolvedQuery), nil
}

func readSolutions(store *facttable.Store, query ast.Literal) []topdown.Solution {
	table := store.Table(query.Pred)
	var out []topdown.Solution
	for _, b := range table.Filter(query, 0, -1) {
		it := b.Iter()
		for {
			row, ok := it.Next()
			if !ok {
				break
			}
			sol := make(topdown.Solution)
			for i, slot := range query.Args {
				if slot.IsVar {
					sol[slot.Var] = row[i]
				}
			}
			out = append(out, sol)
		}
	}
	return out
}

func boundPositions(lit ast.Literal) []int {
	var out []int
	for i, a := range lit.Args {
		if !a.IsVar {
			out = append(out, i)
		}
	}
	return out
}

// recursivelyDefined reports whether pred's definition is reachable from
// itself through the program's rule dependency graph.
func (r *Reasoner) recursivelyDefined(pred ast.Predicate) bool {
	visited := make(map[ast.PredID]bool)
	var visit func(ast.PredID) bool
	visit = func(id ast.PredID) bool {
		if id == pred.ID {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		for _, rule := range r.prog.Rules() {
			if rule.Head.Pred.ID != id {
				continue
			}
			for _, b := range rule.Body {
				if visit(b.Pred.ID) {
					return true
				}
			}
		}
		return false
	}
	for _, rule := range r.prog.Rules() {
		if rule.Head.Pred.ID == pred.ID {
			for _, b := range rule.Body {
				if visit(b.Pred.ID) {
					return true
				}
			}
		}
	}
	return false
}
