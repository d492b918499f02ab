// Package persist implements spec.md's "store_on_files" materialization
// dump: one text file per non-empty IDB predicate, written directly
// under the given directory next to a manifest.json that records a
// google/uuid run id. A second Write to the same directory overwrites
// the earlier files and manifest.
//
// Each predicate file holds one row per line, tab-separated, the
// iteration the row was derived at followed by its columns. Columns are
// dictionary-decoded text when PersistConfig.Decompress is set,
// otherwise the raw dictionary-encoded term ids — useful for a
// from-scratch reload that re-interns the same strings through the same
// dictionary.
package persist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/block"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/term"
)

// Options controls what Write emits, mirroring internal/config's
// PersistConfig fields.
type Options struct {
	// Decompress writes dictionary-decoded text columns instead of raw
	// term ids.
	Decompress bool

	// MinLevel skips blocks derived before this iteration — useful for
	// dumping only what a resumed run added since the last checkpoint.
	MinLevel int64
}

// Manifest records one Write call's provenance: which run produced the
// dump, when, and which predicate files it wrote.
type Manifest struct {
	RunID      string    `json:"run_id"`
	WrittenAt  time.Time `json:"written_at"`
	Predicates []string  `json:"predicates"`
}

// Write dumps every predicate in preds that has rows at iteration >=
// opts.MinLevel into dir/<predicate>.facts, then writes dir/manifest.json
// describing the run. dir is created if it does not exist. It returns
// the run id it stamped into the manifest.
func Write(dir string, preds []ast.Predicate, store *facttable.Store, dict *term.Dictionary, opts Options) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("persist: mkdir %s: %w", dir, err)
	}

	runID := uuid.New().String()
	var written []string

	sorted := append([]ast.Predicate(nil), preds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, pred := range sorted {
		if pred.Kind != ast.IDB {
			continue
		}
		table := store.Table(pred)
		blocks := table.Read(opts.MinLevel, -1)
		if len(blocks) == 0 {
			continue
		}

		path := filepath.Join(dir, pred.Name+".facts")
		if err := writePredicateFile(path, blocks, dict, opts.Decompress); err != nil {
			return runID, err
		}
		written = append(written, pred.Name)
	}

	manifest := Manifest{RunID: runID, WrittenAt: time.Now(), Predicates: written}
	manifestPath := filepath.Join(dir, "manifest.json")
	f, err := os.Create(manifestPath)
	if err != nil {
		return runID, fmt.Errorf("persist: create manifest: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		return runID, fmt.Errorf("persist: write manifest: %w", err)
	}
	return runID, nil
}

func writePredicateFile(path string, blocks []*block.Block, dict *term.Dictionary, decompress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("persist: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, b := range blocks {
		it := b.Iter()
		for {
			row, ok := it.Next()
			if !ok {
				break
			}
			cols := make([]string, len(row)+1)
			cols[0] = strconv.FormatInt(b.Iteration, 10)
			for i, t := range row {
				if decompress {
					cols[i+1] = dict.MustLookup(t)
				} else {
					cols[i+1] = strconv.FormatInt(int64(t), 10)
				}
			}
			if _, err := w.WriteString(strings.Join(cols, "\t")); err != nil {
				return err
			}
			if err := w.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}
