// Package topdown implements a minimal SLD (Selective Linear Definite
// clause) resolution iterator over a program.Program and facttable.Store,
// used by the dispatcher (spec.md §4.H) for EDB queries, for bound
// queries on non-recursive predicates below the size threshold, and for
// bound queries whose estimate is at or above that threshold.
//
// Unification uses a small union-find over per-call-scope variable
// cells, renaming each rule's variables apart on every invocation — the
// textbook "copy the clause, unify, recurse" scheme — rather than
// reusing the bottom-up engine's ground-term-only machinery.
package topdown

import (
	"context"
	"fmt"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

type ref struct {
	scope int
	v     int32
}

// cell is one union-find node for a single variable occurrence. Unbound
// cells chain through forward until reaching a root; a root either holds
// a concrete value or represents a still-free variable.
type cell struct {
	value   term.Term
	bound   bool
	forward *cell
}

func find(c *cell) *cell {
	for c.forward != nil {
		c = c.forward
	}
	return c
}

// env is the mutable unification state for one Solve call tree. It owns
// every cell allocated across every rule scope touched during the
// search, and is cloned (shallow, copy-on-write per branch) so that
// backtracking across alternative rules never sees another branch's
// bindings.
type env struct {
	cells map[ref]*cell
}

func newEnv() *env { return &env{cells: make(map[ref]*cell)} }

func (e *env) clone() *env {
	out := make(map[ref]*cell, len(e.cells))
	copies := make(map[*cell]*cell, len(e.cells))
	for k, v := range e.cells {
		cp := *v
		out[k] = &cp
		copies[v] = &cp
	}
	for _, c := range out {
		if c.forward != nil {
			c.forward = copies[c.forward]
		}
	}
	return &env{cells: out}
}

func (e *env) cellFor(r ref) *cell {
	if c, ok := e.cells[r]; ok {
		return c
	}
	c := &cell{}
	e.cells[r] = c
	return c
}

// resolved returns the current binding of r, following the union-find
// chain, or (0, false) if it is still free.
func (e *env) resolved(r ref) (term.Term, bool) {
	c := find(e.cellFor(r))
	if c.bound {
		return c.value, true
	}
	return 0, false
}

func (e *env) bindConst(r ref, v term.Term) bool {
	c := find(e.cellFor(r))
	if c.bound {
		return c.value == v
	}
	c.bound = true
	c.value = v
	return true
}

func (e *env) unifyRefs(a, b ref) bool {
	ca, cb := find(e.cellFor(a)), find(e.cellFor(b))
	if ca == cb {
		return true
	}
	switch {
	case ca.bound && cb.bound:
		return ca.value == cb.value
	case ca.bound:
		cb.forward = ca
	case cb.bound:
		ca.forward = cb
	default:
		ca.forward = cb
	}
	return true
}

// Solution is a fully resolved binding, reported by Solve for every
// distinct answer to the query's free variables.
type Solution map[int32]term.Term

// Solver answers queries against prog by SLD resolution, falling back to
// store lookups for leaf literals whose predicate has no defining rule
// (EDB predicates, or an IDB predicate with zero rules).
type Solver struct {
	prog     *program.Program
	store    *facttable.Store
	maxDepth int
	scopeSeq int
}

// New returns a Solver over prog and store. maxDepth <= 0 uses a default
// of 10000, generous relative to any realistic rule-dependency chain but
// enough to stop a pathological or buggy program from recursing forever.
func New(prog *program.Program, store *facttable.Store, maxDepth int) *Solver {
	if maxDepth <= 0 {
		maxDepth = 10000
	}
	return &Solver{prog: prog, store: store, maxDepth: maxDepth}
}

func (s *Solver) freshScope() int {
	s.scopeSeq++
	return s.scopeSeq
}

// Solve finds every solution to goal (read in its own, caller-supplied
// scope — Solve allocates scope 0 for it) and invokes yield once per
// solution. Solve stops early once yield returns false.
func (s *Solver) Solve(ctx context.Context, goal ast.Literal, yield func(Solution) bool) error {
	e := newEnv()
	const queryScope = 0
	return s.solve(ctx, e, goal, queryScope, 0, func(e *env) bool {
		sol := make(Solution)
		for _, a := range goal.Args {
			if a.IsVar {
				if v, ok := e.resolved(ref{queryScope, a.Var}); ok {
					sol[a.Var] = v
				}
			}
		}
		return yield(sol)
	})
}

func (s *Solver) solve(ctx context.Context, e *env, goal ast.Literal, scope int, depth int, yield func(*env) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > s.maxDepth {
		return fmt.Errorf("topdown: max recursion depth %d exceeded resolving %s", s.maxDepth, goal.Pred.Name)
	}

	var rules []ast.Rule
	for _, r := range s.prog.Rules() {
		if r.Head.Pred.ID == goal.Pred.ID {
			rules = append(rules, r)
		}
	}
	if goal.Pred.Kind == ast.EDB || len(rules) == 0 {
		return s.solveFromTable(e, goal, scope, yield)
	}

	for _, r := range rules {
		branch := e.clone()
		headScope := s.freshScope()
		if !unifyLiteral(branch, r.Head, headScope, goal, scope) {
			continue
		}
		stop := false
		err := s.solveBody(ctx, branch, r.Body, headScope, 0, depth+1, func(final *env) bool {
			ok := yield(final)
			if !ok {
				stop = true
			}
			return ok
		})
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (s *Solver) solveBody(ctx context.Context, e *env, body []ast.Literal, scope int, i int, depth int, yield func(*env) bool) error {
	if i == len(body) {
		return nil
	}
	if i == len(body)-1 {
		return s.solve(ctx, e, body[i], scope, depth, yield)
	}
	return s.solve(ctx, e, body[i], scope, depth, func(next *env) bool {
		cont := true
		err := s.solveBody(ctx, next, body, scope, i+1, depth, func(final *env) bool {
			cont = yield(final)
			return cont
		})
		if err != nil {
			cont = false
		}
		return cont
	})
}

// solveFromTable resolves goal against whatever facts the store already
// holds for its predicate — the EDB table, or a previously materialized
// IDB table.
func (s *Solver) solveFromTable(e *env, goal ast.Literal, scope int, yield func(*env) bool) error {
	table := s.store.Table(goal.Pred)
	for _, b := range table.Read(0, -1) {
		it := b.Iter()
		for {
			row, ok := it.Next()
			if !ok {
				break
			}
			branch := e.clone()
			matched := true
			for i, slot := range goal.Args {
				if slot.IsVar {
					if !branch.bindConst(ref{scope, slot.Var}, row[i]) {
						matched = false
						break
					}
				} else if slot.Const != row[i] {
					matched = false
					break
				}
			}
			if matched && !yield(branch) {
				return nil
			}
		}
	}
	return nil
}

// unifyLiteral unifies head (in headScope) against goal (in goalScope),
// mutating e. Both literals must belong to the same predicate and arity.
func unifyLiteral(e *env, head ast.Literal, headScope int, goal ast.Literal, goalScope int) bool {
	for i, h := range head.Args {
		g := goal.Args[i]
		switch {
		case h.IsVar && g.IsVar:
			if !e.unifyRefs(ref{headScope, h.Var}, ref{goalScope, g.Var}) {
				return false
			}
		case h.IsVar && !g.IsVar:
			if !e.bindConst(ref{headScope, h.Var}, g.Const) {
				return false
			}
		case !h.IsVar && g.IsVar:
			if !e.bindConst(ref{goalScope, g.Var}, h.Const) {
				return false
			}
		default:
			if h.Const != g.Const {
				return false
			}
		}
	}
	return true
}
