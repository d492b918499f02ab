package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlog-engine/dlog/internal/edb"
	"github.com/dlog-engine/dlog/internal/engine"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

func buildStore(t *testing.T) (*program.Program, *facttable.Store, *term.Dictionary) {
	t.Helper()
	dict := term.NewDictionary()
	src := `
edge(a, b).
edge(b, c).
tc(X, Y) :- edge(X, Y).
tc(X, Z) :- tc(X, Y), edge(Y, Z).
`
	parsed, err := program.Parse(src, dict)
	require.NoError(t, err)
	prog, err := program.New(parsed.Rules, parsed.EDBPredicates)
	require.NoError(t, err)
	source := edb.NewMemoryEDB(dict, parsed.Facts)
	store := facttable.NewStore(source, true)
	eng := engine.New(prog, store, dict, engine.Options{OptFiltering: true}, nil)
	_, err = eng.Run(context.Background(), 0)
	require.NoError(t, err)
	return prog, store, dict
}

func TestWriteDumpsOnlyNonEmptyIDBPredicates(t *testing.T) {
	prog, store, dict := buildStore(t)
	dir := t.TempDir()

	runID, err := Write(dir, prog.Predicates(), store, dict, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	_, err = os.Stat(filepath.Join(dir, "tc.facts"))
	assert.NoError(t, err, "tc is non-empty IDB, must have a .facts file")

	_, err = os.Stat(filepath.Join(dir, "edge.facts"))
	assert.True(t, os.IsNotExist(err), "edge is EDB, must not be dumped by store_on_files")
}

func TestWriteManifestRecordsRunIDAndPredicates(t *testing.T) {
	prog, store, dict := buildStore(t)
	dir := t.TempDir()

	runID, err := Write(dir, prog.Predicates(), store, dict, Options{})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, runID, m.RunID)
	assert.Contains(t, m.Predicates, "tc")
}

func TestWriteDecompressEmitsDictionaryText(t *testing.T) {
	prog, store, dict := buildStore(t)
	dir := t.TempDir()

	_, err := Write(dir, prog.Predicates(), store, dict, Options{Decompress: true})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "tc.facts"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "a")
	assert.NotContains(t, string(data), "\t1\t", "decompressed output should not carry raw numeric ids as columns")
}

func TestWriteMinLevelSkipsEarlierIterations(t *testing.T) {
	prog, store, dict := buildStore(t)
	dir := t.TempDir()

	tcPred, ok := prog.PredicateByName("tc")
	require.True(t, ok)
	maxIter := store.Table(tcPred).MaxIteration()

	_, err := Write(dir, prog.Predicates(), store, dict, Options{MinLevel: maxIter + 1})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "tc.facts"))
	assert.True(t, os.IsNotExist(err), "a MinLevel past every block's iteration must skip the predicate entirely")
}
