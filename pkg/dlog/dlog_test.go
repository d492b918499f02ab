package dlog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlog-engine/dlog/internal/persist"
	"github.com/dlog-engine/dlog/pkg/dlog"
)

const transitiveClosureSrc = `
edge(a, b).
edge(b, c).
edge(c, d).
tc(X, Y) :- edge(X, Y).
tc(X, Z) :- tc(X, Y), edge(Y, Z).
`

func TestLoadRunAndQuery(t *testing.T) {
	eng, err := dlog.Load(transitiveClosureSrc, nil, dlog.Options{OptFiltering: true})
	require.NoError(t, err)

	stats, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, stats.Rounds, 0)

	q, err := eng.ParseQuery("tc(a, X)")
	require.NoError(t, err)

	sols, _, err := eng.Query(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, sols, 3)
}

func TestLoadWithParallelOption(t *testing.T) {
	eng, err := dlog.Load(transitiveClosureSrc, nil, dlog.Options{OptFiltering: true, Parallel: true, Workers: 4})
	require.NoError(t, err)

	stats, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, stats.Rounds, 0)

	tcFound := false
	for _, p := range eng.Predicates() {
		if p.Name == "tc" {
			tcFound = true
		}
	}
	assert.True(t, tcFound)
}

func TestPersistWritesNonEmptyIDBPredicates(t *testing.T) {
	eng, err := dlog.Load(transitiveClosureSrc, nil, dlog.Options{OptFiltering: true})
	require.NoError(t, err)
	_, err = eng.Run(context.Background())
	require.NoError(t, err)

	dir := t.TempDir()
	runID, err := eng.Persist(dir, persist.Options{Decompress: true})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
}

func TestParseQueryRejectsUnknownPredicate(t *testing.T) {
	eng, err := dlog.Load(transitiveClosureSrc, nil, dlog.Options{OptFiltering: true})
	require.NoError(t, err)
	_, err = eng.ParseQuery("nope(a, X)")
	assert.Error(t, err)
}
