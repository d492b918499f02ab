package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/edb"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

func build(t *testing.T, src string, opts Options) (*Engine, *program.Program, *facttable.Store, *term.Dictionary) {
	t.Helper()
	dict := term.NewDictionary()
	parsed, err := program.Parse(src, dict)
	require.NoError(t, err)
	prog, err := program.New(parsed.Rules, parsed.EDBPredicates)
	require.NoError(t, err)
	source := edb.NewMemoryEDB(dict, parsed.Facts)
	store := facttable.NewStore(source, opts.OptFiltering)
	eng := New(prog, store, dict, opts, nil)
	return eng, prog, store, dict
}

func TestRunTransitiveClosure(t *testing.T) {
	src := `
edge(a, b).
edge(b, c).
edge(c, d).
tc(X, Y) :- edge(X, Y).
tc(X, Z) :- tc(X, Y), edge(Y, Z).
`
	eng, prog, store, dict := build(t, src, Options{OptFiltering: true})
	stats, err := eng.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Greater(t, stats.Rounds, 0)

	tcPred, ok := prog.PredicateByName("tc")
	require.True(t, ok)
	tbl := store.Table(tcPred)
	assert.Equal(t, int64(6), tbl.RowCount()) // ab,bc,cd,ac,bd,ad

	a := dict.Intern("a")
	d := dict.Intern("d")
	found := false
	for _, b := range tbl.Read(0, -1) {
		it := b.Iter()
		for {
			row, ok := it.Next()
			if !ok {
				break
			}
			if row[0] == a && row[1] == d {
				found = true
			}
		}
	}
	assert.True(t, found, "expected tc(a, d) to be derived")
}

func TestRunEmptyEDBShortCircuitsRule(t *testing.T) {
	src := `
tc(X, Y) :- edge(X, Y).
`
	eng, prog, store, _ := build(t, src, Options{OptFiltering: true})
	stats, err := eng.Run(context.Background(), 0)
	require.NoError(t, err)

	tcPred, _ := prog.PredicateByName("tc")
	assert.True(t, store.Table(tcPred).Empty())
	assert.Empty(t, stats.DerivedByPredicate)
}

func TestRunPureProjectionFastPath(t *testing.T) {
	src := `
edge(a, b).
edge(b, c).
copy(X, Y) :- edge(X, Y).
`
	eng, prog, store, _ := build(t, src, Options{OptFiltering: true})
	_, err := eng.Run(context.Background(), 0)
	require.NoError(t, err)

	copyPred, _ := prog.PredicateByName("copy")
	assert.Equal(t, int64(2), store.Table(copyPred).RowCount())
}

func TestRunResumesFromPreviousFinalIteration(t *testing.T) {
	src := `
edge(a, b).
edge(b, c).
tc(X, Y) :- edge(X, Y).
tc(X, Z) :- tc(X, Y), edge(Y, Z).
`
	eng, prog, store, _ := build(t, src, Options{OptFiltering: true})
	stats1, err := eng.Run(context.Background(), 0)
	require.NoError(t, err)

	// Resuming with no new facts should not derive anything new and
	// should not error, even though rules already carry LastExecution.
	stats2, err := eng.Run(context.Background(), stats1.FinalIteration)
	require.NoError(t, err)
	assert.Empty(t, stats2.DerivedByPredicate)

	tcPred, _ := prog.PredicateByName("tc")
	assert.Equal(t, int64(3), store.Table(tcPred).RowCount())
}

func TestRunRecursiveSelfSaturationOnDisconnectedEdges(t *testing.T) {
	src := `
edge(a, b).
edge(x, y).
tc(X, Y) :- edge(X, Y).
tc(X, Z) :- tc(X, Y), edge(Y, Z).
`
	eng, prog, store, _ := build(t, src, Options{OptFiltering: true})
	_, err := eng.Run(context.Background(), 0)
	require.NoError(t, err)

	tcPred, _ := prog.PredicateByName("tc")
	assert.Equal(t, int64(2), store.Table(tcPred).RowCount())
}

func TestRunWithFilteringDisabledStillTerminates(t *testing.T) {
	src := `
edge(a, b).
edge(b, c).
tc(X, Y) :- edge(X, Y).
tc(X, Z) :- tc(X, Y), edge(Y, Z).
`
	eng, _, _, _ := build(t, src, Options{OptFiltering: false})
	stats, err := eng.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Greater(t, stats.Rounds, 0)
}

// TestReorderKeepsVariablesConnected covers spec.md §4.F step 2b's second
// pass: among atoms not yet placed, the one sharing the most variables
// with what's already placed is chosen next, even when a cheaper but
// unconnected atom is available — picking the unconnected one first would
// force an avoidable Cartesian product.
func TestReorderKeepsVariablesConnected(t *testing.T) {
	src := `
a(1, 2).
c(2, 3). c(2, 4). c(2, 5). c(2, 6). c(2, 7). c(2, 8). c(2, 9). c(2, 10). c(2, 11). c(2, 12).
b(3, 9). b(4, 10). b(5, 11).
h(X, W) :- a(X, Y), b(Z, W), c(Y, Z).
`
	eng, prog, _, _ := build(t, src, Options{OptFiltering: true})
	require.NoError(t, eng.bootstrapEDB(context.Background()))

	hPred, ok := prog.PredicateByName("h")
	require.True(t, ok)
	var rule *ast.Rule
	for i, r := range prog.Rules() {
		if r.Head.Pred.ID == hPred.ID {
			rule = &prog.Rules()[i]
		}
	}
	require.NotNil(t, rule)

	order := eng.reorder(rule)
	// Body is [a(X,Y), b(Z,W), c(Y,Z)] (indices 0,1,2). a has the lowest
	// cardinality (1 row) and goes first. Of the two remaining, b (3
	// rows) is cheaper than c (10 rows) but shares no variable with a;
	// c shares Y with a, so the connectivity pass must place c second
	// despite its higher cardinality.
	require.Equal(t, []int{0, 2, 1}, order)
}

func TestRunContextCancellation(t *testing.T) {
	src := `
edge(a, b).
tc(X, Y) :- edge(X, Y).
`
	eng, _, _, _ := build(t, src, Options{OptFiltering: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.Run(ctx, 0)
	assert.Error(t, err)
}
