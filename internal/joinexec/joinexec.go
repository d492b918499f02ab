// Package joinexec implements spec.md §4 Component D: the pipelined
// left-deep join executor that walks a plan.Plan's steps in order,
// fetching each atom's matching rows from the fact table store and
// joining them against the accumulated intermediate row using whichever
// strategy — nested loop, hash, or sorted merge — fits the two sides'
// estimated cardinality.
package joinexec

import (
	"context"
	"sort"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/joinproc"
	"github.com/dlog-engine/dlog/internal/plan"
	"github.com/dlog-engine/dlog/internal/term"
)

// Strategy names one of the three join algorithms Execute can pick.
type Strategy int

const (
	StrategyNestedLoop Strategy = iota
	StrategyHash
	StrategyMerge
)

// Tuning thresholds for ChooseStrategy. Below nestedLoopMaxProduct a plain
// nested loop is cheaper than building a hash table; above mergeMinRows a
// single-column join sorts both sides instead of hashing, trading an
// O(n log n) sort for lower constant factors on very large deltas.
const (
	nestedLoopMaxProduct = 4096
	mergeMinRows         = 8192
)

// ChooseStrategy picks a join algorithm from the two sides' row counts and
// the number of shared join columns, per spec.md §4.D.
func ChooseStrategy(leftRows, rightRows int64, coords [][2]int) Strategy {
	if len(coords) == 0 {
		return StrategyNestedLoop
	}
	if leftRows*rightRows <= nestedLoopMaxProduct {
		return StrategyNestedLoop
	}
	if len(coords) == 1 && leftRows+rightRows > mergeMinRows {
		return StrategyMerge
	}
	return StrategyHash
}

// Execute runs p's pipeline: fetch the first atom's rows, then repeatedly
// join the accumulated intermediate rows with the next atom's rows, and
// finally project into the head literal's shape and hand every resulting
// row to proc. lastExecution supplies the concrete lower bound for any
// step whose plan.RangeDelta was chosen at plan-build time. optIntersect
// toggles SPEC_FULL §5 item 2's range intersection: when enabled, every
// atom fetch caps its requested upper bound at min(requested, table's
// current max iteration) instead of reading unbounded, per
// seminaiver.cpp's produceDerivationInPreviousSteps.
//
// Execute returns as soon as an intermediate stage is empty — spec.md
// §4.F's empty-atom short circuit — without visiting later atoms.
func Execute(ctx context.Context, p *plan.Plan, lastExecution int64, store *facttable.Store, proc joinproc.Processor, optIntersect bool) error {
	if len(p.Steps) == 0 {
		return nil
	}

	current, err := fetchProjected(store, p.Steps[0], lastExecution, optIntersect)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		return nil
	}

	for i := 1; i < len(p.Steps); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := p.Steps[i]
		right, err := fetchRaw(store, step, lastExecution, optIntersect)
		if err != nil {
			return err
		}
		if len(right) == 0 {
			return nil
		}
		current = joinStep(current, right, step)
		if len(current) == 0 {
			return nil
		}
	}

	for _, row := range current {
		proc.ProcessResult(projectHead(row, p.HeadProjection, p.Rule.Head), false)
	}
	return nil
}

func rangeBounds(r plan.RangeKind, lastExecution int64) int64 {
	if r == plan.RangeDelta {
		return lastExecution
	}
	return 0
}

// requestMax returns the upper iteration bound to pass to FCTable.Filter
// for one atom fetch. With optIntersect off, the request is unbounded
// (-1), matching Filter's own fallback to the table's current max
// iteration. With optIntersect on, the request is pinned to the table's
// max iteration explicitly, so the intersection
// min(requestedMax, table.max_iteration) from SPEC_FULL §5 item 2 is
// actually computed here rather than left for Filter's default to paper
// over.
func requestMax(store *facttable.Store, pred ast.Predicate, optIntersect bool) int64 {
	if !optIntersect {
		return -1
	}
	return store.Table(pred).MaxIteration()
}

// fetchProjected fetches step's literal rows and projects them down to
// step.Output immediately — used only for the first atom, which has no
// left-hand side to join against.
func fetchProjected(store *facttable.Store, step plan.AtomStep, lastExecution int64, optIntersect bool) ([][]term.Term, error) {
	raw, err := fetchRaw(store, step, lastExecution, optIntersect)
	if err != nil {
		return nil, err
	}
	out := make([][]term.Term, len(raw))
	for i, row := range raw {
		out[i] = project(row, nil, step.Output)
	}
	return out, nil
}

func fetchRaw(store *facttable.Store, step plan.AtomStep, lastExecution int64, optIntersect bool) ([][]term.Term, error) {
	min := rangeBounds(step.Range, lastExecution)
	max := requestMax(store, step.Literal.Pred, optIntersect)
	table := store.Table(step.Literal.Pred)
	blocks := table.Filter(step.Literal, min, max)
	var rows [][]term.Term
	for _, b := range blocks {
		it := b.Iter()
		for {
			row, ok := it.Next()
			if !ok {
				break
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func joinStep(left, right [][]term.Term, step plan.AtomStep) [][]term.Term {
	if step.Cartesian() {
		out := make([][]term.Term, 0, len(left)*len(right))
		for _, l := range left {
			for _, r := range right {
				out = append(out, project(l, r, step.Output))
			}
		}
		return out
	}

	switch ChooseStrategy(int64(len(left)), int64(len(right)), step.JoinCoordinates) {
	case StrategyMerge:
		return mergeJoin(left, right, step)
	case StrategyHash:
		return hashJoin(left, right, step)
	default:
		return nestedLoopJoin(left, right, step)
	}
}

func nestedLoopJoin(left, right [][]term.Term, step plan.AtomStep) [][]term.Term {
	var out [][]term.Term
	for _, l := range left {
		for _, r := range right {
			if matches(l, r, step.JoinCoordinates) {
				out = append(out, project(l, r, step.Output))
			}
		}
	}
	return out
}

// hashJoin builds a hash table on the smaller side, keyed by its join
// column values, and probes it with the larger side.
func hashJoin(left, right [][]term.Term, step plan.AtomStep) [][]term.Term {
	buildLeft := len(left) <= len(right)

	type buildRow struct {
		row []term.Term
	}
	index := make(map[string][]buildRow)

	var buildSide, probeSide [][]term.Term
	var buildCols, probeCols []int
	for _, c := range step.JoinCoordinates {
		buildCols = append(buildCols, c[0])
		probeCols = append(probeCols, c[1])
	}
	if buildLeft {
		buildSide, probeSide = left, right
	} else {
		buildSide, probeSide = right, left
		buildCols, probeCols = probeCols, buildCols
	}

	for _, row := range buildSide {
		k := hashKey(row, buildCols)
		index[k] = append(index[k], buildRow{row: row})
	}

	var out [][]term.Term
	for _, row := range probeSide {
		k := hashKey(row, probeCols)
		for _, cand := range index[k] {
			if buildLeft {
				out = append(out, project(cand.row, row, step.Output))
			} else {
				out = append(out, project(row, cand.row, step.Output))
			}
		}
	}
	return out
}

// mergeJoin handles the single-join-column case by sorting both sides on
// that column and merging, grouping equal keys on each side so duplicate
// values still produce every matching pair.
func mergeJoin(left, right [][]term.Term, step plan.AtomStep) [][]term.Term {
	lc, rc := step.JoinCoordinates[0][0], step.JoinCoordinates[0][1]

	ls := append([][]term.Term(nil), left...)
	rs := append([][]term.Term(nil), right...)
	sort.Slice(ls, func(i, j int) bool { return ls[i][lc] < ls[j][lc] })
	sort.Slice(rs, func(i, j int) bool { return rs[i][rc] < rs[j][rc] })

	var out [][]term.Term
	i, j := 0, 0
	for i < len(ls) && j < len(rs) {
		switch {
		case ls[i][lc] < rs[j][rc]:
			i++
		case ls[i][lc] > rs[j][rc]:
			j++
		default:
			key := ls[i][lc]
			gi := i
			for gi < len(ls) && ls[gi][lc] == key {
				gi++
			}
			gj := j
			for gj < len(rs) && rs[gj][rc] == key {
				gj++
			}
			for a := i; a < gi; a++ {
				for b := j; b < gj; b++ {
					out = append(out, project(ls[a], rs[b], step.Output))
				}
			}
			i, j = gi, gj
		}
	}
	return out
}

func matches(left, right []term.Term, coords [][2]int) bool {
	for _, c := range coords {
		if left[c[0]] != right[c[1]] {
			return false
		}
	}
	return true
}

func hashKey(row []term.Term, cols []int) string {
	buf := make([]byte, 0, len(cols)*8)
	for _, c := range cols {
		v := uint64(row[c])
		for i := 0; i < 8; i++ {
			buf = append(buf, byte(v))
			v >>= 8
		}
	}
	return string(buf)
}

// project builds one output row from left/right source rows according to
// src, which is either a plan.AtomStep.Output (right may be nil for the
// first atom) or a plan.Plan.HeadProjection (right unused).
func project(left, right []term.Term, src []plan.ColumnSource) []term.Term {
	out := make([]term.Term, len(src))
	for i, s := range src {
		if s.FromLeft || right == nil {
			out[i] = left[s.Index]
		} else {
			out[i] = right[s.Index]
		}
	}
	return out
}

func projectHead(row []term.Term, headProjection []plan.ColumnSource, head ast.Literal) []term.Term {
	out := make([]term.Term, len(headProjection))
	for i, s := range headProjection {
		if s.Index < 0 {
			out[i] = head.Args[i].Const
		} else {
			out[i] = row[s.Index]
		}
	}
	return out
}
