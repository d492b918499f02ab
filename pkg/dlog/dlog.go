// Package dlog is the public entry point for embedding the engine in
// another Go program: load a program's source plus its EDB, run it to a
// fixpoint or query it through the dispatcher, and read back bindings —
// without reaching into internal/ directly.
package dlog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/dispatcher"
	"github.com/dlog-engine/dlog/internal/edb"
	"github.com/dlog-engine/dlog/internal/engine"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/parallel"
	"github.com/dlog-engine/dlog/internal/persist"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

// Re-exported so callers can build queries and inspect results without a
// second import of internal/ast or internal/term.
type (
	Term      = term.Term
	Literal   = ast.Literal
	Predicate = ast.Predicate
	Solution  = map[int32]term.Term
	Mode      = dispatcher.Mode
)

const (
	ModeTopDown     = dispatcher.ModeTopDown
	ModeMagicSet    = dispatcher.ModeMagicSet
	ModeMaterialize = dispatcher.ModeMaterialize
)

// Options configures an Engine at construction, mirroring
// internal/config.Config's Engine and Dispatcher sections.
type Options struct {
	OptFiltering        bool
	OptIntersect        bool
	Parallel            bool
	Workers             int
	DispatcherThreshold int64
	Logger              *zap.Logger
}

// Engine wraps one compiled program over one EDB source, exposing
// saturation, dispatch-based querying, and persistence without exposing
// the internal package layout.
type Engine struct {
	prog      *program.Program
	store     *facttable.Store
	dict      *term.Dictionary
	edbSource edb.EDB
	opts      Options
}

// Load parses src (the small Prolog-like rule/fact syntax documented by
// internal/program's parser), wires it to edbSource for any predicate
// never used as a rule head, and returns a ready-to-run Engine.
func Load(src string, edbSource edb.EDB, opts Options) (*Engine, error) {
	dict := term.NewDictionary()
	parsed, err := program.Parse(src, dict)
	if err != nil {
		return nil, fmt.Errorf("dlog: parse: %w", err)
	}

	edbArity := make(map[string]int, len(parsed.EDBPredicates))
	for name, arity := range parsed.EDBPredicates {
		edbArity[name] = arity
	}

	prog, err := program.New(parsed.Rules, edbArity)
	if err != nil {
		return nil, fmt.Errorf("dlog: build program: %w", err)
	}

	source := edbSource
	if source == nil {
		source = edb.NewMemoryEDB(dict, parsed.Facts)
	}

	store := facttable.NewStore(source, opts.OptFiltering)
	return &Engine{prog: prog, store: store, dict: dict, edbSource: source, opts: opts}, nil
}

// Run saturates the whole program to a fixpoint, using the sequential
// semi-naive driver or the batched concurrent one depending on
// opts.Parallel.
func (e *Engine) Run(ctx context.Context) (engine.Stats, error) {
	eng := engine.New(e.prog, e.store, e.dict, engine.Options{OptFiltering: e.opts.OptFiltering, OptIntersect: e.opts.OptIntersect}, e.opts.Logger)
	if !e.opts.Parallel {
		return eng.Run(ctx, 0)
	}
	drv := parallel.New(eng, e.prog, parallel.Options{
		Options: engine.Options{OptFiltering: e.opts.OptFiltering, OptIntersect: e.opts.OptIntersect},
		Workers: e.opts.Workers,
	}, e.opts.Logger)
	stats, err := drv.Run(ctx, 0)
	return stats.Stats, err
}

// Query resolves a literal through the dispatcher, picking top-down SLD,
// a magic-set-guarded fixpoint, or full materialization depending on the
// query's shape and the predicate's recursiveness.
func (e *Engine) Query(ctx context.Context, query Literal) ([]Solution, Mode, error) {
	engOpts := engine.Options{OptFiltering: e.opts.OptFiltering, OptIntersect: e.opts.OptIntersect}
	reasoner := dispatcher.New(e.prog, e.store, e.dict, e.edbSource, engOpts, e.opts.DispatcherThreshold, e.opts.Logger)
	sols, mode, err := reasoner.Query(ctx, query)
	if err != nil {
		return nil, mode, err
	}
	out := make([]Solution, len(sols))
	for i, s := range sols {
		out[i] = Solution(s)
	}
	return out, mode, nil
}

// ParseQuery parses a single literal such as "tc(a, X)" against e's
// dictionary, resolving it to e's predicate table.
func (e *Engine) ParseQuery(src string) (Literal, error) {
	lit, err := program.ParseQuery(src, e.dict)
	if err != nil {
		return Literal{}, err
	}
	pred, ok := e.prog.PredicateByName(lit.Pred.Name)
	if !ok {
		return Literal{}, fmt.Errorf("dlog: unknown predicate %s", lit.Pred.Name)
	}
	return ast.Literal{Pred: pred, Args: lit.Args}, nil
}

// Text resolves a Term back to its source text via the dictionary.
func (e *Engine) Text(t Term) (string, bool) { return e.dict.Lookup(t) }

// Predicates returns every declared predicate.
func (e *Engine) Predicates() []Predicate { return e.prog.Predicates() }

// Persist dumps every non-empty IDB predicate under dir, per
// internal/persist's store_on_files format, and returns the stamped run
// id.
func (e *Engine) Persist(dir string, opts persist.Options) (string, error) {
	return persist.Write(dir, e.prog.Predicates(), e.store, e.dict, opts)
}
