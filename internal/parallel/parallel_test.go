package parallel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/edb"
	"github.com/dlog-engine/dlog/internal/engine"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

// TestMain wraps every test in this package with a goroutine-leak check,
// matching SPEC_FULL §3.5: the errgroup/semaphore workers this driver
// spawns per batch must all exit once Run returns.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func build(t *testing.T, src string, opts Options) (*Driver, *engine.Engine, *program.Program, *facttable.Store, *term.Dictionary) {
	t.Helper()
	dict := term.NewDictionary()
	parsed, err := program.Parse(src, dict)
	require.NoError(t, err)
	prog, err := program.New(parsed.Rules, parsed.EDBPredicates)
	require.NoError(t, err)
	source := edb.NewMemoryEDB(dict, parsed.Facts)
	store := facttable.NewStore(source, opts.OptFiltering)
	eng := engine.New(prog, store, dict, opts.Options, nil)
	drv := New(eng, prog, opts, nil)
	return drv, eng, prog, store, dict
}

func TestDriverRunTransitiveClosureMatchesSequential(t *testing.T) {
	src := `
edge(a, b).
edge(b, c).
edge(c, d).
tc(X, Y) :- edge(X, Y).
tc(X, Z) :- tc(X, Y), edge(Y, Z).
`
	drv, _, prog, store, _ := build(t, src, Options{Options: engine.Options{OptFiltering: true}, Workers: 4})
	stats, err := drv.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Greater(t, stats.Rounds, 0)

	tcPred, ok := prog.PredicateByName("tc")
	require.True(t, ok)
	assert.Equal(t, int64(6), store.Table(tcPred).RowCount())
}

func TestDriverRunIsSetEquivalentAcrossWorkerCounts(t *testing.T) {
	src := `
edge(a, b).
edge(b, c).
edge(c, d).
edge(d, e).
tc(X, Y) :- edge(X, Y).
tc(X, Z) :- tc(X, Y), edge(Y, Z).
`
	var counts []int64
	for _, workers := range []int{1, 2, 8} {
		drv, _, prog, store, _ := build(t, src, Options{Options: engine.Options{OptFiltering: true}, Workers: workers})
		_, err := drv.Run(context.Background(), 0)
		require.NoError(t, err)
		tcPred, _ := prog.PredicateByName("tc")
		counts = append(counts, store.Table(tcPred).RowCount())
	}
	for _, c := range counts[1:] {
		assert.Equal(t, counts[0], c, "parallel equivalence: final table size must not depend on worker count")
	}
}

func TestDriverRunEmptyEDBShortCircuitsRule(t *testing.T) {
	src := `
tc(X, Y) :- edge(X, Y).
`
	drv, _, prog, store, _ := build(t, src, Options{Options: engine.Options{OptFiltering: true}})
	stats, err := drv.Run(context.Background(), 0)
	require.NoError(t, err)

	tcPred, _ := prog.PredicateByName("tc")
	assert.True(t, store.Table(tcPred).Empty())
	assert.Empty(t, stats.DerivedByPredicate)
}

func TestDriverRunContextCancellation(t *testing.T) {
	src := `
edge(a, b).
tc(X, Y) :- edge(X, Y).
`
	drv, _, _, _, _ := build(t, src, Options{Options: engine.Options{OptFiltering: true}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := drv.Run(ctx, 0)
	assert.Error(t, err)
}

// TestBatchRulesNeverGroupsSameHeadPredicate is spec.md §8 concrete
// scenario 6: two rules defining the same head predicate are never
// placed in the same group, even though nothing would race if they
// were (FCTable.Add serializes on its own mutex) — the conflict
// relation in spec.md §4.G is defined purely on predicate identity.
func TestBatchRulesNeverGroupsSameHeadPredicate(t *testing.T) {
	p := mustPredicate(0, "p", 2)
	a := mustPredicate(1, "a", 2)
	b := mustPredicate(2, "b", 2)

	r1 := ast.Rule{Head: lit(p, 0, 1), Body: []ast.Literal{lit(a, 0, 1)}}
	r2 := ast.Rule{Head: lit(p, 0, 1), Body: []ast.Literal{lit(b, 0, 1)}}

	batches := batchRules([]ast.Rule{r1, r2})
	for _, batch := range batches {
		seen := map[ast.PredID]bool{}
		for _, r := range batch {
			assert.False(t, seen[r.Head.Pred.ID], "two rules with the same head predicate shared a batch")
			seen[r.Head.Pred.ID] = true
		}
	}
	assert.Len(t, batches, 2, "same-head rules must land in separate batches")
}

// TestBatchRulesAllowsDisjointRulesInOneGroup is spec.md §8 concrete
// scenario 6's other half: three rules with pairwise disjoint head and
// body predicates may all run in one group.
func TestBatchRulesAllowsDisjointRulesInOneGroup(t *testing.T) {
	a := mustPredicate(0, "a", 2)
	b := mustPredicate(1, "b", 2)
	c := mustPredicate(2, "c", 2)
	x := mustPredicate(3, "x", 2)
	y := mustPredicate(4, "y", 2)
	z := mustPredicate(5, "z", 2)

	rules := []ast.Rule{
		{Head: lit(a, 0, 1), Body: []ast.Literal{lit(x, 0, 1)}},
		{Head: lit(b, 0, 1), Body: []ast.Literal{lit(y, 0, 1)}},
		{Head: lit(c, 0, 1), Body: []ast.Literal{lit(z, 0, 1)}},
	}
	batches := batchRules(rules)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
}

// TestBatchRulesCapsGroupSize checks the "at most 4 rules per group"
// cap from spec.md §4.G even when far more rules are mutually
// non-conflicting.
func TestBatchRulesCapsGroupSize(t *testing.T) {
	var rules []ast.Rule
	for i := 0; i < 10; i++ {
		head := mustPredicate(ast.PredID(i*2), "h", 2)
		body := mustPredicate(ast.PredID(i*2+1), "b", 2)
		rules = append(rules, ast.Rule{Head: lit(head, 0, 1), Body: []ast.Literal{lit(body, 0, 1)}})
	}
	batches := batchRules(rules)
	for _, batch := range batches {
		assert.LessOrEqual(t, len(batch), maxBatchSize)
	}
}

// TestBatchRulesConflictsOnBodyDependency checks the second half of the
// conflict relation: a rule whose head feeds another rule's body must
// not share that rule's batch, even with two distinct head predicates.
func TestBatchRulesConflictsOnBodyDependency(t *testing.T) {
	x := mustPredicate(0, "x", 2)
	p1 := mustPredicate(1, "p1", 2)
	p2 := mustPredicate(2, "p2", 2)
	y := mustPredicate(3, "y", 2)

	producer := ast.Rule{Head: lit(p1, 0, 1), Body: []ast.Literal{lit(x, 0, 1)}}
	consumer := ast.Rule{Head: lit(p2, 0, 1), Body: []ast.Literal{lit(p1, 0, 2), lit(y, 2, 1)}}

	batches := batchRules([]ast.Rule{producer, consumer})
	assert.Len(t, batches, 2, "a rule reading another rule's head predicate must not share its batch")
}

func mustPredicate(id ast.PredID, name string, arity int) ast.Predicate {
	return ast.Predicate{ID: id, Name: name, Arity: arity, Kind: ast.IDB}
}

func lit(pred ast.Predicate, vars ...int32) ast.Literal {
	args := make([]ast.Slot, len(vars))
	for i, v := range vars {
		args[i] = ast.VarSlot(v)
	}
	return ast.Literal{Pred: pred, Args: args}
}
