// Package plan implements spec.md §4 Component E: per-rule execution
// plans. A plan fixes one body-literal order and records, for every atom
// after the first, the iteration range to query, the join coordinates
// against the accumulated intermediate row, and which columns of the
// output row come from the left (already-joined) side versus the right
// (newly joined) atom.
package plan

import (
	"github.com/dlog-engine/dlog/internal/ast"
)

// RangeKind selects which half-open iteration window an atom is queried
// over. RangeDelta is spec.md §3 invariant 5's "[last_execution, ∞)"; it
// is what makes the driver semi-naive instead of naive.
type RangeKind int

const (
	RangeAll RangeKind = iota
	RangeDelta
)

// ColumnSource says where one output column comes from: the running
// intermediate row (posFromFirst) or the atom just joined
// (posFromSecond), per spec.md §4.E.
type ColumnSource struct {
	FromLeft bool
	Index    int
}

// AtomStep is the per-atom execution metadata for one position in a
// plan's chosen order.
type AtomStep struct {
	Literal ast.Literal
	Range   RangeKind

	// JoinCoordinates lists (runningIndex, atomIndex) pairs that must be
	// equal for a candidate pair of rows to join. Empty means this atom
	// is joined with no shared variables — a Cartesian product.
	JoinCoordinates [][2]int

	// Output lists, for every column of the row produced after this
	// atom, whether it is carried from the left intermediate row or
	// taken from the atom's own row, and at what index.
	Output []ColumnSource

	// OutputVars names the variable id at each Output position, in the
	// same order, so the next atom's join coordinates and the final
	// head projection can be computed without re-deriving them.
	OutputVars []int32
}

// Cartesian reports whether this step has no join coordinates, i.e. its
// contribution is a Cartesian product with the accumulated row.
func (s AtomStep) Cartesian() bool { return len(s.JoinCoordinates) == 0 }

// Plan is one fully resolved execution order for a rule: which atom is
// first (scanned directly, no join), which atom (if any) carries the
// semi-naive delta range, and the join/projection metadata for every
// subsequent atom.
type Plan struct {
	Rule *ast.Rule

	// Order lists indices into Rule.Body, the chosen execution order.
	Order []int

	// Steps has one entry per Order position. Steps[0] is the first
	// atom: its Output is simply its distinct variables in order of
	// first occurrence (spec.md §4.E's "first atom" special case),
	// JoinCoordinates is always empty.
	Steps []AtomStep

	// DeltaAtomOrderPos is the position within Order whose Range is
	// RangeDelta; -1 for an EDB-only rule's single all-ranges plan.
	DeltaAtomOrderPos int

	// HeadProjection maps the final Steps[len-1].Output columns (plus
	// any head constants) onto the head literal's argument order, so the
	// final join processor can emit rows shaped exactly like the head.
	HeadProjection []ColumnSource

	// IsPureProjection is true for a single-body-atom rule whose body
	// literal has the identical variable sequence as the head — the
	// whole-block clone fast path from spec.md §4.E / §8 scenario 3.
	IsPureProjection bool
}

// HasCartesian reports whether any step beyond the first has no join
// coordinates.
func (p *Plan) HasCartesian() bool {
	for _, s := range p.Steps[1:] {
		if s.Cartesian() {
			return true
		}
	}
	return false
}

// Build constructs every semi-naive-valid plan for rule, given a chosen
// body order (ast.Rule.Body indices). One plan is built per IDB atom in
// the order (that atom carries RangeDelta, every other atom RangeAll); an
// EDB-only rule gets exactly one plan with every atom at RangeAll.
//
// Per spec.md §4.F step 2, callers use only the first returned plan on a
// rule's very first invocation (last_execution == 0, so RangeDelta and
// RangeAll coincide) and all returned plans on subsequent invocations.
func Build(rule *ast.Rule, order []int) []*Plan {
	if len(order) != len(rule.Body) {
		panic("plan: order must be a permutation of rule body indices")
	}

	idbPositions := make([]int, 0, len(order))
	for pos, bodyIdx := range order {
		if rule.Body[bodyIdx].Pred.Kind == ast.IDB {
			idbPositions = append(idbPositions, pos)
		}
	}

	if len(idbPositions) == 0 {
		return []*Plan{build(rule, order, -1)}
	}

	plans := make([]*Plan, 0, len(idbPositions))
	for _, deltaPos := range idbPositions {
		plans = append(plans, build(rule, order, deltaPos))
	}
	return plans
}

func build(rule *ast.Rule, order []int, deltaOrderPos int) *Plan {
	n := len(order)
	steps := make([]AtomStep, n)

	headVars := varSet(rule.Head)
	futureVars := make([]map[int32]struct{}, n+1)
	futureVars[n] = map[int32]struct{}{}
	for i := n - 1; i >= 0; i-- {
		fv := cloneSet(futureVars[i+1])
		for v := range varSet(rule.Body[order[i]]) {
			fv[v] = struct{}{}
		}
		futureVars[i] = fv
	}
	needed := func(i int) map[int32]struct{} {
		fv := cloneSet(futureVars[i+1])
		for v := range headVars {
			fv[v] = struct{}{}
		}
		return fv
	}

	// First atom: scanned directly, output is its own variables in
	// first-occurrence order.
	first := rule.Body[order[0]]
	firstVars, firstPositions := firstOccurrenceVars(first)
	steps[0] = AtomStep{
		Literal:    first,
		Range:      rangeFor(0, deltaOrderPos),
		OutputVars: firstVars,
		Output:     identitySources(firstPositions),
	}

	runningVars := firstVars
	runningByVar := indexByVar(runningVars)

	for i := 1; i < n; i++ {
		atom := rule.Body[order[i]]
		atomVars, atomPositions := firstOccurrenceVars(atom)
		atomByVar := indexByVarAt(atomVars, atomPositions)

		var coords [][2]int
		for v, leftIdx := range runningByVar {
			if rightIdx, ok := atomByVar[v]; ok {
				coords = append(coords, [2]int{leftIdx, rightIdx})
			}
		}

		need := needed(i)
		var outVars []int32
		var outSrc []ColumnSource
		added := make(map[int32]struct{})
		for _, v := range runningVars {
			if _, ok := need[v]; !ok {
				continue
			}
			if _, dup := added[v]; dup {
				continue
			}
			added[v] = struct{}{}
			outVars = append(outVars, v)
			outSrc = append(outSrc, ColumnSource{FromLeft: true, Index: runningByVar[v]})
		}
		for _, v := range atomVars {
			if _, ok := need[v]; !ok {
				continue
			}
			if _, dup := added[v]; dup {
				continue
			}
			added[v] = struct{}{}
			outVars = append(outVars, v)
			outSrc = append(outSrc, ColumnSource{FromLeft: false, Index: atomByVar[v]})
		}

		steps[i] = AtomStep{
			Literal:         atom,
			Range:           rangeFor(i, deltaOrderPos),
			JoinCoordinates: coords,
			Output:          outSrc,
			OutputVars:      outVars,
		}
		runningVars = outVars
		runningByVar = indexByVar(runningVars)
	}

	headProjection := make([]ColumnSource, len(rule.Head.Args))
	for i, slot := range rule.Head.Args {
		if slot.IsVar {
			idx, ok := runningByVar[slot.Var]
			if !ok {
				panic("plan: head variable not bound by body (unsafe rule)")
			}
			headProjection[i] = ColumnSource{FromLeft: true, Index: idx}
		} else {
			headProjection[i] = ColumnSource{FromLeft: false, Index: -1}
		}
	}

	return &Plan{
		Rule:              rule,
		Order:             order,
		Steps:             steps,
		DeltaAtomOrderPos: deltaOrderPos,
		HeadProjection:    headProjection,
		IsPureProjection:  len(rule.Body) == 1 && rule.Body[0].SameVarSequenceAs(rule.Head),
	}
}

func rangeFor(pos, deltaOrderPos int) RangeKind {
	if pos == deltaOrderPos {
		return RangeDelta
	}
	return RangeAll
}

func varSet(l ast.Literal) map[int32]struct{} {
	s := make(map[int32]struct{})
	for _, a := range l.Args {
		if a.IsVar {
			s[a.Var] = struct{}{}
		}
	}
	return s
}

func cloneSet(s map[int32]struct{}) map[int32]struct{} {
	out := make(map[int32]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func firstOccurrenceVars(l ast.Literal) ([]int32, []int) {
	var vars []int32
	var positions []int
	seen := make(map[int32]struct{})
	for i, a := range l.Args {
		if !a.IsVar {
			continue
		}
		if _, ok := seen[a.Var]; ok {
			continue
		}
		seen[a.Var] = struct{}{}
		vars = append(vars, a.Var)
		positions = append(positions, i)
	}
	return vars, positions
}

func identitySources(positions []int) []ColumnSource {
	out := make([]ColumnSource, len(positions))
	for i, p := range positions {
		out[i] = ColumnSource{FromLeft: true, Index: p}
	}
	return out
}

func indexByVar(vars []int32) map[int32]int {
	m := make(map[int32]int, len(vars))
	for i, v := range vars {
		m[v] = i
	}
	return m
}

func indexByVarAt(vars []int32, positions []int) map[int32]int {
	m := make(map[int32]int, len(vars))
	for i, v := range vars {
		m[v] = positions[i]
	}
	return m
}
