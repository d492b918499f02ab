// Package magic implements a single-query magic-set rewrite: given a
// program and one query literal with some arguments bound to constants,
// it adds a "magic" guard atom to every rule whose predicate is
// transitively reachable from the query, so the semi-naive driver only
// ever derives facts that could contribute to answering that query,
// instead of materializing every IDB predicate in full.
//
// This targets one query at a time rather than the general
// multi-adornment magic-sets construction: each predicate gets at most
// one adornment (the one induced by this query), so predicates are not
// renamed per adornment the way the textbook transformation does.
package magic

import (
	"fmt"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/term"
)

const magicPrefix = "magic_"

// Result is a rewritten program ready to hand to program.New, plus the
// single seed fact the caller must insert into the magic predicate's
// table before running the engine.
type Result struct {
	Rules         []ast.Rule
	EDBPredicates map[string]int

	SeedPredicateName string
	SeedArity         int
	SeedArgs          []term.Term
}

type worklistItem struct {
	predName string
	bound    []int // positions in that predicate's argument list considered bound
}

// Rewrite adorns rules with respect to query, assuming (as spec.md §9
// leaves open) that every rule head argument is a distinct variable —
// the common case this evaluator's parser produces, and the one every
// example program in spec.md §8 uses.
func Rewrite(rules []ast.Rule, edbPredicates map[string]int, query ast.Literal) (*Result, error) {
	rulesByHead := make(map[string][]ast.Rule)
	for _, r := range rules {
		rulesByHead[r.Head.Pred.Name] = append(rulesByHead[r.Head.Pred.Name], r)
	}

	isEDB := func(name string) bool {
		_, ok := edbPredicates[name]
		return ok
	}

	visited := make(map[string]bool)
	var worklist []worklistItem
	var guarded []ast.Rule
	var propagated []ast.Rule

	queryBound := boundPositions(query)
	worklist = append(worklist, worklistItem{predName: query.Pred.Name, bound: queryBound})

	for len(worklist) > 0 {
		item := worklist[0]
		worklist = worklist[1:]
		if visited[item.predName] {
			continue
		}
		visited[item.predName] = true

		defs := rulesByHead[item.predName]
		if len(defs) == 0 {
			continue // EDB predicate, or an IDB predicate with no rules
		}

		for _, r := range defs {
			boundVars, err := headVarsAt(r.Head, item.bound)
			if err != nil {
				return nil, err
			}
			guardLit := ast.Literal{
				Pred: ast.Predicate{Name: magicPrefix + item.predName, Arity: len(boundVars)},
				Args: varSlots(boundVars),
			}

			newBody := make([]ast.Literal, 0, len(r.Body)+1)
			newBody = append(newBody, guardLit)
			newBody = append(newBody, r.Body...)
			guarded = append(guarded, ast.Rule{Head: r.Head, Body: newBody})

			bound := make(map[int32]bool, len(boundVars))
			for _, v := range boundVars {
				bound[v] = true
			}

			for j, bl := range r.Body {
				if !isEDB(bl.Pred.Name) {
					var blBound []int
					var blBoundVars []int32
					for k, slot := range bl.Args {
						if slot.IsVar && bound[slot.Var] {
							blBound = append(blBound, k)
							blBoundVars = append(blBoundVars, slot.Var)
						}
					}
					magicLit := ast.Literal{
						Pred: ast.Predicate{Name: magicPrefix + bl.Pred.Name, Arity: len(blBoundVars)},
						Args: varSlots(blBoundVars),
					}
					propBody := make([]ast.Literal, 0, j+1)
					propBody = append(propBody, guardLit)
					propBody = append(propBody, r.Body[:j]...)
					propagated = append(propagated, ast.Rule{Head: magicLit, Body: propBody})

					if !visited[bl.Pred.Name] {
						worklist = append(worklist, worklistItem{predName: bl.Pred.Name, bound: blBound})
					}
				}
				for _, slot := range bl.Args {
					if slot.IsVar {
						bound[slot.Var] = true
					}
				}
			}
		}
	}

	final := make([]ast.Rule, 0, len(rules)+len(propagated))
	for _, r := range rules {
		if !visited[r.Head.Pred.Name] {
			final = append(final, r)
		}
	}
	final = append(final, guarded...)
	final = append(final, propagated...)

	newEDB := make(map[string]int, len(edbPredicates)+1)
	for k, v := range edbPredicates {
		newEDB[k] = v
	}
	seedName := magicPrefix + query.Pred.Name
	newEDB[seedName] = len(queryBound)

	seedArgs := make([]term.Term, len(queryBound))
	for i, pos := range queryBound {
		seedArgs[i] = query.Args[pos].Const
	}

	return &Result{
		Rules:             final,
		EDBPredicates:     newEDB,
		SeedPredicateName: seedName,
		SeedArity:         len(queryBound),
		SeedArgs:          seedArgs,
	}, nil
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

func headVarsAt(head ast.Literal, positions []int) ([]int32, error) {
	out := make([]int32, 0, len(positions))
	for _, p := range positions {
		slot := head.Args[p]
		if !slot.IsVar {
			return nil, fmt.Errorf("magic: head %s position %d is a constant, not a variable", head.Pred.Name, p)
		}
		out = append(out, slot.Var)
	}
	return out, nil
}

func varSlots(vars []int32) []ast.Slot {
	out := make([]ast.Slot, len(vars))
	for i, v := range vars {
		out[i] = ast.VarSlot(v)
	}
	return out
}
