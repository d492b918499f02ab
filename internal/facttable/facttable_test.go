package facttable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/block"
	"github.com/dlog-engine/dlog/internal/term"
)

func r(vals ...int64) []term.Term {
	out := make([]term.Term, len(vals))
	for i, v := range vals {
		out[i] = term.Term(v)
	}
	return out
}

func edgePred() ast.Predicate {
	return ast.Predicate{ID: 1, Name: "edge", Arity: 2, Kind: ast.IDB}
}

func TestAddDeduplicatesAcrossBlocksWhenFiltering(t *testing.T) {
	tbl := New(edgePred(), true)

	first := block.New(1, 2, [][]term.Term{r(1, 2), r(3, 4)})
	residue, ok := tbl.Add(first)
	require.True(t, ok)
	assert.Equal(t, 2, residue.NumRows())

	second := block.New(2, 2, [][]term.Term{r(1, 2), r(5, 6)})
	residue2, ok := tbl.Add(second)
	require.True(t, ok)
	assert.Equal(t, 1, residue2.NumRows())
	assert.Equal(t, r(5, 6), residue2.Row(0))

	assert.Equal(t, int64(3), tbl.RowCount())
}

func TestAddAllDuplicatesYieldsNoResidue(t *testing.T) {
	tbl := New(edgePred(), true)
	tbl.Add(block.New(1, 2, [][]term.Term{r(1, 2)}))

	residue, ok := tbl.Add(block.New(2, 2, [][]term.Term{r(1, 2)}))
	assert.False(t, ok)
	assert.Nil(t, residue)
}

func TestAddWithFilteringDisabledKeepsDuplicatesAcrossBlocks(t *testing.T) {
	tbl := New(edgePred(), false)
	tbl.Add(block.New(1, 2, [][]term.Term{r(1, 2)}))
	residue, ok := tbl.Add(block.New(2, 2, [][]term.Term{r(1, 2)}))

	require.True(t, ok)
	assert.Equal(t, 1, residue.NumRows())
	assert.Equal(t, int64(2), tbl.RowCount())
}

func TestAddDedupsWithinCandidateEvenWhenFilteringDisabled(t *testing.T) {
	tbl := New(edgePred(), false)
	residue, ok := tbl.Add(block.New(1, 2, [][]term.Term{r(1, 2), r(1, 2)}))

	require.True(t, ok)
	assert.Equal(t, 1, residue.NumRows())
}

func TestAddNilOrEmptyBlock(t *testing.T) {
	tbl := New(edgePred(), true)
	_, ok := tbl.Add(nil)
	assert.False(t, ok)

	_, ok = tbl.Add(block.New(1, 2, nil))
	assert.False(t, ok)
}

func TestReadRespectsIterationRange(t *testing.T) {
	tbl := New(edgePred(), true)
	tbl.Add(block.New(1, 2, [][]term.Term{r(1, 1)}))
	tbl.Add(block.New(2, 2, [][]term.Term{r(2, 2)}))
	tbl.Add(block.New(3, 2, [][]term.Term{r(3, 3)}))

	all := tbl.Read(0, -1)
	assert.Len(t, all, 3)

	delta := tbl.Read(2, -1)
	assert.Len(t, delta, 2)

	bounded := tbl.Read(0, 2)
	assert.Len(t, bounded, 1)
}

func TestMinMaxIterationAndEmpty(t *testing.T) {
	tbl := New(edgePred(), true)
	assert.True(t, tbl.Empty())
	assert.Equal(t, int64(0), tbl.MinIteration())
	assert.Equal(t, int64(0), tbl.MaxIteration())

	tbl.Add(block.New(5, 2, [][]term.Term{r(1, 1)}))
	tbl.Add(block.New(2, 2, [][]term.Term{r(2, 2)}))

	assert.False(t, tbl.Empty())
	assert.Equal(t, int64(2), tbl.MinIteration())
	assert.Equal(t, int64(5), tbl.MaxIteration())
}

func TestFilterByConstantPosition(t *testing.T) {
	tbl := New(edgePred(), true)
	tbl.Add(block.New(1, 2, [][]term.Term{r(1, 2), r(1, 3), r(2, 4)}))

	lit := ast.Literal{
		Pred: edgePred(),
		Args: []ast.Slot{ast.ConstSlot(term.Term(1)), ast.VarSlot(0)},
	}
	blocks := tbl.Filter(lit, 0, -1)
	require.Len(t, blocks, 1)
	assert.Equal(t, 2, blocks[0].NumRows())
}

func TestFilterByRepeatedVariable(t *testing.T) {
	tbl := New(edgePred(), true)
	tbl.Add(block.New(1, 2, [][]term.Term{r(1, 1), r(1, 2)}))

	lit := ast.Literal{
		Pred: edgePred(),
		Args: []ast.Slot{ast.VarSlot(0), ast.VarSlot(0)},
	}
	blocks := tbl.Filter(lit, 0, -1)
	require.Len(t, blocks, 1)
	assert.Equal(t, 1, blocks[0].NumRows())
	assert.Equal(t, r(1, 1), blocks[0].Row(0))
}

func TestFilterCacheInvalidatedByAdd(t *testing.T) {
	tbl := New(edgePred(), true)
	tbl.Add(block.New(1, 2, [][]term.Term{r(1, 2)}))

	lit := ast.Literal{
		Pred: edgePred(),
		Args: []ast.Slot{ast.ConstSlot(term.Term(1)), ast.VarSlot(0)},
	}
	first := tbl.Filter(lit, 0, -1)
	assert.Len(t, first, 1)

	tbl.Add(block.New(2, 2, [][]term.Term{r(1, 9)}))
	second := tbl.Filter(lit, 0, -1)

	var total int
	for _, b := range second {
		total += b.NumRows()
	}
	assert.Equal(t, 2, total)
}

func TestEstimateCardinalityIgnoresFilterButRespectsRange(t *testing.T) {
	tbl := New(edgePred(), true)
	tbl.Add(block.New(1, 2, [][]term.Term{r(1, 2), r(3, 4)}))
	tbl.Add(block.New(2, 2, [][]term.Term{r(5, 6)}))

	assert.Equal(t, int64(3), tbl.EstimateCardinality(0, -1))
	assert.Equal(t, int64(1), tbl.EstimateCardinality(2, -1))
}

// TestFilterRequestedMaxIntersectsWithTableMax covers SPEC_FULL §5 item 2:
// the effective upper bound is min(requestedMax, table.max_iteration), so
// a requested max above the table's actual max iteration still returns
// every block, and a requested max that excludes the table's last block
// excludes it from the result.
func TestFilterRequestedMaxIntersectsWithTableMax(t *testing.T) {
	tbl := New(edgePred(), true)
	tbl.Add(block.New(1, 2, [][]term.Term{r(1, 2)}))
	tbl.Add(block.New(3, 2, [][]term.Term{r(3, 4)}))

	lit := ast.Literal{Pred: edgePred(), Args: []ast.Slot{ast.VarSlot(0), ast.VarSlot(1)}}

	// Requesting a max far beyond the table's actual max (3) still yields
	// both blocks: the intersection caps at the table's own max, not the
	// requested ceiling.
	all := tbl.Filter(lit, 0, 1000)
	var total int
	for _, b := range all {
		total += b.NumRows()
	}
	assert.Equal(t, 2, total)

	// Requesting max=1 excludes the block at iteration 3.
	capped := tbl.Filter(lit, 0, 1)
	total = 0
	for _, b := range capped {
		total += b.NumRows()
	}
	assert.Equal(t, 1, total)
}
