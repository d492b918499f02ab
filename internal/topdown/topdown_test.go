package topdown

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

func setupTC(t *testing.T) (*program.Program, *facttable.Store) {
	t.Helper()
	dict := term.NewDictionary()
	src := `
edge(a, b).
edge(b, c).
edge(c, d).
tc(X, Y) :- edge(X, Y).
tc(X, Z) :- tc(X, Y), edge(Y, Z).
`
	parsed, err := program.Parse(src, dict)
	require.NoError(t, err)
	prog, err := program.New(parsed.Rules, parsed.EDBPredicates)
	require.NoError(t, err)

	source := edb.NewMemoryEDB(dict, parsed.Facts)
	store := facttable.NewStore(source, true)
	edgePred, _ := prog.PredicateByName("edge")
	lit := ast.Literal{Pred: edgePred, Args: []ast.Slot{ast.VarSlot(0), ast.VarSlot(1)}}
	require.NoError(t, store.EnsureEDBLoaded(context.Background(), edgePred, lit))

	return prog, store
}

func TestSolveEDBQueryBoundFirstArg(t *testing.T) {
	prog, store := setupTC(t)
	edgePred, _ := prog.PredicateByName("edge")
	tbl := store.Table(edgePred)
	var aTerm term.Term
	for _, b := range tbl.Read(0, -1) {
		it := b.Iter()
		for {
			row, ok := it.Next()
			if !ok {
				break
			}
			aTerm = row[0]
			break
		}
		break
	}

	query := ast.Literal{Pred: edgePred, Args: []ast.Slot{ast.ConstSlot(aTerm), ast.VarSlot(0)}}
	solver := New(prog, store, 0)

	var sols []Solution
	err := solver.Solve(context.Background(), query, func(s Solution) bool {
		sols = append(sols, s)
		return true
	})
	require.NoError(t, err)
	assert.Len(t, sols, 1)
}

func TestSolveRecursivePredicateFindsAllAnswers(t *testing.T) {
	prog, store := setupTC(t)
	tcPred, _ := prog.PredicateByName("tc")

	query := ast.Literal{Pred: tcPred, Args: []ast.Slot{ast.VarSlot(0), ast.VarSlot(1)}}
	solver := New(prog, store, 0)

	var sols []Solution
	err := solver.Solve(context.Background(), query, func(s Solution) bool {
		sols = append(sols, s)
		return true
	})
	require.NoError(t, err)
	// edge(a,b),edge(b,c),edge(c,d) directly, plus transitive combos:
	// (a,b) (b,c) (c,d) (a,c) (b,d) (a,d) = 6
	assert.Len(t, sols, 6)
}

func TestSolveYieldStopsEarly(t *testing.T) {
	prog, store := setupTC(t)
	tcPred, _ := prog.PredicateByName("tc")
	query := ast.Literal{Pred: tcPred, Args: []ast.Slot{ast.VarSlot(0), ast.VarSlot(1)}}
	solver := New(prog, store, 0)

	count := 0
	err := solver.Solve(context.Background(), query, func(s Solution) bool {
		count++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSolveMaxDepthExceeded(t *testing.T) {
	prog, store := setupTC(t)
	tcPred, _ := prog.PredicateByName("tc")
	query := ast.Literal{Pred: tcPred, Args: []ast.Slot{ast.VarSlot(0), ast.VarSlot(1)}}
	solver := New(prog, store, 1)

	err := solver.Solve(context.Background(), query, func(s Solution) bool { return true })
	assert.Error(t, err)
}

func TestSolveScopeIsolationAcrossRuleInvocations(t *testing.T) {
	// Two independent rules defining the same head predicate with
	// overlapping variable ids (V0, V1) must not have their bindings
	// cross-contaminate, since each gets a fresh scope.
	dict := term.NewDictionary()
	src := `
p(a).
p(b).
q(X) :- p(X).
q(X) :- p(X).
`
	parsed, err := program.Parse(src, dict)
	require.NoError(t, err)
	prog, err := program.New(parsed.Rules, parsed.EDBPredicates)
	require.NoError(t, err)
	source := edb.NewMemoryEDB(dict, parsed.Facts)
	store := facttable.NewStore(source, true)
	pPred, _ := prog.PredicateByName("p")
	require.NoError(t, store.EnsureEDBLoaded(context.Background(), pPred, ast.Literal{Pred: pPred, Args: []ast.Slot{ast.VarSlot(0)}}))

	qPred, _ := prog.PredicateByName("q")
	query := ast.Literal{Pred: qPred, Args: []ast.Slot{ast.VarSlot(0)}}
	solver := New(prog, store, 0)

	var sols []Solution
	err = solver.Solve(context.Background(), query, func(s Solution) bool {
		sols = append(sols, s)
		return true
	})
	require.NoError(t, err)
	// Two rules, each matching both facts: 4 total solutions.
	assert.Len(t, sols, 4)
}
