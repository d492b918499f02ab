// Package ast holds the small Horn-clause vocabulary the engine evaluates:
// predicates, literals (atoms with variable or constant slots), and rules.
// It is deliberately minimal — the "Program" collaborator named by the
// spec — since the join planner and executor are the parts of this module
// that carry the engineering weight.
package ast

import (
	"fmt"
	"strings"

	"github.com/dlog-engine/dlog/internal/term"
)

// PredKind classifies a predicate as extensional (facts supplied from
// outside) or intensional (facts derived by rules).
type PredKind int

const (
	EDB PredKind = iota
	IDB
)

func (k PredKind) String() string {
	if k == EDB {
		return "EDB"
	}
	return "IDB"
}

// PMax bounds the dense predicate-id space used by the static
// per-predicate arrays described in spec.md §9. It is generous enough for
// any program this engine is likely to see; predicate IDs beyond it fall
// back to a map-backed table (see internal/facttable).
const PMax = 4096

// PredID is a dense small-integer predicate identifier.
type PredID int32

// Predicate is (id, arity, kind). Magic is true for predicates synthesized
// by the magic-set rewriter (internal/magic); such predicates are always
// IDB and are themselves subject to evaluation.
type Predicate struct {
	ID    PredID
	Name  string
	Arity int
	Kind  PredKind
	Magic bool
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s/%d", p.Name, p.Arity)
}

// Slot is one argument position of a Literal: either a bound Var or a
// ground Const. Exactly one of the two is meaningful, distinguished by
// IsVar.
type Slot struct {
	IsVar bool
	Var   int32     // small-integer variable id, meaningful iff IsVar
	Const term.Term // ground term, meaningful iff !IsVar
}

// VarSlot constructs a variable slot.
func VarSlot(v int32) Slot { return Slot{IsVar: true, Var: v} }

// ConstSlot constructs a constant slot.
func ConstSlot(c term.Term) Slot { return Slot{IsVar: false, Const: c} }

// Literal is an atom: a predicate applied to an argument tuple of slots.
type Literal struct {
	Pred Predicate
	Args []Slot
}

// NumVars returns the count of distinct variables appearing in the
// literal's argument list.
func (l Literal) NumVars() int {
	seen := make(map[int32]struct{}, len(l.Args))
	for _, a := range l.Args {
		if a.IsVar {
			seen[a.Var] = struct{}{}
		}
	}
	return len(seen)
}

// ConstPositions returns the argument indices holding constants, in
// ascending order.
func (l Literal) ConstPositions() []int {
	var out []int
	for i, a := range l.Args {
		if !a.IsVar {
			out = append(out, i)
		}
	}
	return out
}

// RepeatedVarPairs returns, for each pair of argument positions (i, j)
// with i < j that carry the same variable, the pair (i, j). These are
// the "repeated-variable filters" spec.md §4.D and §4.E refer to: a row
// only matches the literal if those two columns hold equal values.
func (l Literal) RepeatedVarPairs() [][2]int {
	firstOccurrence := make(map[int32]int, len(l.Args))
	var pairs [][2]int
	for i, a := range l.Args {
		if !a.IsVar {
			continue
		}
		if j, ok := firstOccurrence[a.Var]; ok {
			pairs = append(pairs, [2]int{j, i})
		} else {
			firstOccurrence[a.Var] = i
		}
	}
	return pairs
}

// SameVarSequenceAs reports whether l and other name the exact same
// sequence of variables in the exact same order — the condition spec.md
// §4.E uses to detect a "pure projection" rule body eligible for the
// whole-block clone fast path.
func (l Literal) SameVarSequenceAs(other Literal) bool {
	if len(l.Args) != len(other.Args) {
		return false
	}
	for i := range l.Args {
		a, b := l.Args[i], other.Args[i]
		if a.IsVar != b.IsVar {
			return false
		}
		if a.IsVar && a.Var != b.Var {
			return false
		}
		if !a.IsVar && a.Const != b.Const {
			return false
		}
	}
	return true
}

func (l Literal) String() string {
	parts := make([]string, len(l.Args))
	for i, a := range l.Args {
		if a.IsVar {
			parts[i] = fmt.Sprintf("V%d", a.Var)
		} else {
			parts[i] = fmt.Sprintf("%d", int64(a.Const))
		}
	}
	return fmt.Sprintf("%s(%s)", l.Pred.Name, strings.Join(parts, ", "))
}

// Rule is a single Horn clause: Head :- Body[0], ..., Body[k-1].
type Rule struct {
	Head Literal
	Body []Literal

	// LastExecution is the iteration this rule was last scheduled at
	// (spec.md §3 invariant 5). It advances only through the driver.
	LastExecution int64

	// FailedBecauseEmpty and AtomFailure implement the sticky
	// empty-atom short-circuit from spec.md §4.F step 2a. Honoring it
	// is optional per spec.md §9; this engine does honor it.
	FailedBecauseEmpty bool
	AtomFailure        int
}

// Recursive reports whether the rule's head predicate also appears in its
// body.
func (r Rule) Recursive() bool {
	for _, b := range r.Body {
		if b.Pred.ID == r.Head.Pred.ID {
			return true
		}
	}
	return false
}

// EDBOnly reports whether every body literal is an EDB atom.
func (r Rule) EDBOnly() bool {
	for _, b := range r.Body {
		if b.Pred.Kind != EDB {
			return false
		}
	}
	return true
}

func (r Rule) String() string {
	body := make([]string, len(r.Body))
	for i, b := range r.Body {
		body[i] = b.String()
	}
	return fmt.Sprintf("%s :- %s.", r.Head, strings.Join(body, ", "))
}
