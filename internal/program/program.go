// Package program implements the "Program" collaborator named by spec.md
// §1: it yields the rule set, literal/variable structure, predicate
// identities with EDB/IDB classification, and hands the magic-set
// rewriter (internal/magic) a rewritten copy of itself. None of that is
// the hard part of this repository — the fixpoint engine is — so this
// package stays close to the teacher's thin-collaborator framing.
package program

import (
	"fmt"
	"sort"

	"github.com/dlog-engine/dlog/internal/ast"
)

// Program is an immutable-after-construction Datalog program: a rule set
// plus the predicate table derived from it.
type Program struct {
	rules      []ast.Rule
	predicates map[string]*ast.Predicate
	byID       map[ast.PredID]*ast.Predicate
	nextID     ast.PredID
}

// New builds a Program from a rule set plus an explicit EDB predicate
// list (predicates that never appear as a rule head are EDB regardless,
// but a predicate with zero rules and zero EDB facts still needs a
// declared arity so the EDB facade knows what to ask for).
func New(rules []ast.Rule, edbPredicates map[string]int) (*Program, error) {
	p := &Program{
		predicates: make(map[string]*ast.Predicate),
		byID:       make(map[ast.PredID]*ast.Predicate),
	}

	for name, arity := range edbPredicates {
		if _, err := p.declare(name, arity, ast.EDB); err != nil {
			return nil, err
		}
	}

	for _, r := range rules {
		if _, err := p.declare(r.Head.Pred.Name, len(r.Head.Args), ast.IDB); err != nil {
			return nil, err
		}
		for _, b := range r.Body {
			kind := ast.EDB
			if existing, ok := p.predicates[b.Pred.Name]; ok {
				kind = existing.Kind
			}
			if _, err := p.declare(b.Pred.Name, len(b.Args), kind); err != nil {
				return nil, err
			}
		}
	}

	// Resolve every literal's Predicate to the canonical, ID-assigned
	// value now that classification is stable.
	resolved := make([]ast.Rule, len(rules))
	for i, r := range rules {
		resolved[i] = ast.Rule{
			Head: p.resolve(r.Head),
			Body: make([]ast.Literal, len(r.Body)),
		}
		for j, b := range r.Body {
			resolved[i].Body[j] = p.resolve(b)
		}
	}
	p.rules = resolved
	return p, nil
}

func (p *Program) declare(name string, arity int, kind ast.PredKind) (*ast.Predicate, error) {
	if existing, ok := p.predicates[name]; ok {
		if existing.Arity != arity {
			return nil, fmt.Errorf("program: predicate %s used with arity %d and %d", name, existing.Arity, arity)
		}
		// A predicate seen as a rule head is IDB even if an earlier
		// body occurrence guessed EDB.
		if kind == ast.IDB {
			existing.Kind = ast.IDB
		}
		return existing, nil
	}
	pr := &ast.Predicate{ID: p.nextID, Name: name, Arity: arity, Kind: kind}
	p.nextID++
	p.predicates[name] = pr
	p.byID[pr.ID] = pr
	return pr, nil
}

func (p *Program) resolve(l ast.Literal) ast.Literal {
	pr := p.predicates[l.Pred.Name]
	return ast.Literal{Pred: *pr, Args: l.Args}
}

// Rules returns the full rule set in declaration order.
func (p *Program) Rules() []ast.Rule { return p.rules }

// SetRules replaces the rule set, e.g. after LastExecution bookkeeping by
// the driver, or after a magic-set rewrite produced a new rule set over
// the same predicate table.
func (p *Program) SetRules(rules []ast.Rule) { p.rules = rules }

// IsIDB reports whether predID names an intensional predicate.
func (p *Program) IsIDB(id ast.PredID) bool {
	pr, ok := p.byID[id]
	return ok && pr.Kind == ast.IDB
}

// PredicateName returns the declared name for id.
func (p *Program) PredicateName(id ast.PredID) string {
	if pr, ok := p.byID[id]; ok {
		return pr.Name
	}
	return fmt.Sprintf("pred#%d", id)
}

// Predicate looks up the full Predicate record by id.
func (p *Program) Predicate(id ast.PredID) (ast.Predicate, bool) {
	pr, ok := p.byID[id]
	if !ok {
		return ast.Predicate{}, false
	}
	return *pr, true
}

// PredicateByName looks up the full Predicate record by name.
func (p *Program) PredicateByName(name string) (ast.Predicate, bool) {
	pr, ok := p.predicates[name]
	if !ok {
		return ast.Predicate{}, false
	}
	return *pr, true
}

// Predicates returns every declared predicate, sorted by id for
// deterministic iteration.
func (p *Program) Predicates() []ast.Predicate {
	out := make([]ast.Predicate, 0, len(p.byID))
	for _, pr := range p.byID {
		out = append(out, *pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Partition splits the rule set into EDB-only rules (spec.md §4.F step 1)
// and the remainder, preserving relative order within each group.
func Partition(rules []ast.Rule) (edbOnly, rest []ast.Rule) {
	for _, r := range rules {
		if r.EDBOnly() {
			edbOnly = append(edbOnly, r)
		} else {
			rest = append(rest, r)
		}
	}
	return edbOnly, rest
}
