// Package facttable implements the per-predicate fact table (spec.md §4
// Component A): an append-only, ordered sequence of blocks tagged with
// the iteration that produced them, offering range reads, literal-filtered
// views, deduplicating writes, and cardinality estimates.
package facttable

import (
	"strconv"
	"strings"
	"sync"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/block"
	"github.com/dlog-engine/dlog/internal/term"
)

// FCTable holds every block derived so far for one predicate.
//
// Invariants (spec.md §3): block iterations are non-decreasing; no two
// rows are multiset-equal (set semantics, enforced by Add's anti-join
// when filtering is enabled); reads never observe a torn write.
type FCTable struct {
	mu sync.RWMutex

	pred ast.Predicate

	blocks       []*block.Block
	minIteration int64
	maxIteration int64
	rowCount     int64

	// seen holds every row ever accepted, for the anti-join in Add.
	// Disabled by OptFiltering=false (spec.md §4.A, SPEC_FULL §5 item 3).
	seen map[string]struct{}

	filterCache map[string][]*block.Block

	optFiltering bool
}

// New returns an empty FCTable for pred. optFiltering toggles the
// table-level anti-join deduplication in Add.
func New(pred ast.Predicate, optFiltering bool) *FCTable {
	return &FCTable{
		pred:         pred,
		seen:         make(map[string]struct{}),
		filterCache:  make(map[string][]*block.Block),
		optFiltering: optFiltering,
	}
}

// Predicate returns the owning predicate.
func (t *FCTable) Predicate() ast.Predicate { return t.pred }

// RowCount returns the total number of distinct rows stored.
func (t *FCTable) RowCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rowCount
}

// MinIteration and MaxIteration bound the iterations of stored blocks.
// Both are zero for an empty table.
func (t *FCTable) MinIteration() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.minIteration
}

func (t *FCTable) MaxIteration() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxIteration
}

func (t *FCTable) Empty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rowCount == 0
}

// Read returns every block whose iteration falls in [min, max), in
// storage (non-decreasing iteration) order.
func (t *FCTable) Read(min, max int64) []*block.Block {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.readLocked(min, max)
}

func (t *FCTable) readLocked(min, max int64) []*block.Block {
	out := make([]*block.Block, 0, len(t.blocks))
	for _, b := range t.blocks {
		if b.Iteration >= min && (max < 0 || b.Iteration < max) {
			out = append(out, b)
		}
	}
	return out
}

// Add appends a candidate block to the table, performing the anti-join
// described in spec.md §4.A: for each earlier block, subtract its rows
// from the candidate; if any rows survive, append the residue as a new
// block at the candidate's iteration and return it. Returns (nil, false)
// if nothing new was added.
//
// When optFiltering is disabled, the candidate is appended unconditionally
// (minus only within-candidate duplicates), matching SPEC_FULL §5 item 3.
func (t *FCTable) Add(candidate *block.Block) (*block.Block, bool) {
	if candidate == nil || candidate.NumRows() == 0 {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	bu := block.NewBuilder(candidate.Arity)
	local := make(map[string]struct{}, candidate.NumRows())
	it := candidate.Iter()
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		key := rowKey(row)
		if _, dup := local[key]; dup {
			continue
		}
		if t.optFiltering {
			if _, dup := t.seen[key]; dup {
				continue
			}
		}
		local[key] = struct{}{}
		bu.Append(row)
	}

	residue := bu.Build(candidate.Iteration)
	if residue == nil {
		return nil, false
	}

	for key := range local {
		t.seen[key] = struct{}{}
	}

	t.blocks = append(t.blocks, residue)
	if len(t.blocks) == 1 || residue.Iteration < t.minIteration {
		t.minIteration = residue.Iteration
	}
	if residue.Iteration > t.maxIteration {
		t.maxIteration = residue.Iteration
	}
	t.rowCount += int64(residue.NumRows())
	t.filterCache = make(map[string][]*block.Block)
	return residue, true
}

// Filter returns the blocks of t, each reduced to the rows matching lit's
// constant positions and repeated-variable constraints, restricted to
// iterations in [min, requestedMax]. requestedMax is an inclusive upper
// bound; -1 means unbounded. Per SPEC_FULL §5 item 2, the effective upper
// bound used is min(requestedMax, t.maxIteration) — when requestedMax is
// -1 (the common case: a plan step with no caller-supplied ceiling) this
// still resolves to the table's actual current max iteration rather than
// an open-ended scan, matching seminaiver.cpp's
// produceDerivationInPreviousSteps range intersection. Views are cached
// per literal shape and requested bound (spec.md §4.A).
func (t *FCTable) Filter(lit ast.Literal, min, requestedMax int64) []*block.Block {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := literalShapeKey(lit, min, requestedMax)
	if cached, ok := t.filterCache[key]; ok {
		return cached
	}

	effectiveMax := t.maxIteration
	if requestedMax >= 0 && requestedMax < effectiveMax {
		effectiveMax = requestedMax
	}

	constPos := lit.ConstPositions()
	repeated := lit.RepeatedVarPairs()

	var out []*block.Block
	for _, b := range t.readLocked(min, effectiveMax+1) {
		fb := filterBlock(b, lit, constPos, repeated)
		if fb != nil {
			out = append(out, fb)
		}
	}
	t.filterCache[key] = out
	return out
}

func filterBlock(b *block.Block, lit ast.Literal, constPos []int, repeated [][2]int) *block.Block {
	bu := block.NewBuilder(b.Arity)
	it := b.Iter()
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		if matchesLiteral(row, lit, constPos, repeated) {
			bu.Append(row)
		}
	}
	return bu.Build(b.Iteration)
}

func matchesLiteral(row []term.Term, lit ast.Literal, constPos []int, repeated [][2]int) bool {
	for _, i := range constPos {
		if row[i] != lit.Args[i].Const {
			return false
		}
	}
	for _, pair := range repeated {
		if row[pair[0]] != row[pair[1]] {
			return false
		}
	}
	return true
}

// EstimateCardinality sums per-block row counts for blocks in [min, max).
// It is an upper bound: it does not apply lit's filter, matching the
// "estimate" contract in spec.md §8's estimate-bounds law (refined upper
// bound chosen and fixed here).
func (t *FCTable) EstimateCardinality(min, max int64) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var n int64
	for _, b := range t.blocks {
		if b.Iteration >= min && (max < 0 || b.Iteration < max) {
			n += int64(b.NumRows())
		}
	}
	return n
}

func rowKey(row []term.Term) string {
	var sb strings.Builder
	for i, v := range row {
		if i > 0 {
			sb.WriteByte(0)
		}
		sb.WriteString(strconv.FormatInt(int64(v), 36))
	}
	return sb.String()
}

func literalShapeKey(lit ast.Literal, min, max int64) string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatInt(min, 10))
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatInt(max, 10))
	for _, a := range lit.Args {
		sb.WriteByte('|')
		if a.IsVar {
			sb.WriteByte('v')
			sb.WriteString(strconv.FormatInt(int64(a.Var), 10))
		} else {
			sb.WriteByte('c')
			sb.WriteString(strconv.FormatInt(int64(a.Const), 10))
		}
	}
	return sb.String()
}
