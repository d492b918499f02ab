// Package edb implements the extensional-database facade spec.md §1 and
// §6 name as an external collaborator: it resolves an extensional atom
// with iteration bounds to a lazy sequence of tuple tables, supports
// dictionary lookups, and reports cardinality estimates. Three backends
// are provided: an in-memory store (tests, small programs), a flat-file
// store (one fact-per-line, used by the CLI when --edb is given), and a SQLite-backed store
// for larger extensional databases.
package edb

import (
	"context"
	"fmt"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/block"
	"github.com/dlog-engine/dlog/internal/term"
)

// EDB is the interface the engine consumes (spec.md §6's "EDB layer
// (consumed)"). All three methods may perform I/O and therefore may
// block and may fail; a Fetch error aborts Run per spec.md §7.
type EDB interface {
	// Fetch resolves lit's predicate to the blocks of all its ground
	// tuples. The backends in this package filter neither by lit's
	// constant positions nor by [min, max); callers filter through the
	// fact table. EDB tuples are conventionally tagged with iteration 0.
	Fetch(ctx context.Context, lit ast.Literal, min, max int64) (BlockIterator, error)

	// Estimate reports an approximate row count for the same query. The
	// plan reorderer and the dispatcher do not call it; they use the
	// loaded fact table's EstimateCardinality.
	Estimate(ctx context.Context, lit ast.Literal, min, max int64) (int64, error)

	// DictLookup resolves a term back to its source text, if known to
	// this backend's dictionary.
	DictLookup(t term.Term) (string, bool)
}

// BlockIterator is the two-level lazy sequence spec.md §9 calls for:
// finite, restartable per block, single-shot per row.
type BlockIterator interface {
	// Next advances to the next block and returns it, or (nil, false)
	// when exhausted.
	Next() (*block.Block, bool)
}

// ErrFetchFailed wraps a backend error as spec.md §7's EdbFetchFailed
// kind.
type ErrFetchFailed struct {
	Literal ast.Literal
	Cause   error
}

func (e *ErrFetchFailed) Error() string {
	return fmt.Sprintf("edb: fetch failed for %s: %v", e.Literal, e.Cause)
}

func (e *ErrFetchFailed) Unwrap() error { return e.Cause }

// sliceIterator adapts a pre-materialized slice of blocks to
// BlockIterator; every in-memory-shaped backend returns one of these.
type sliceIterator struct {
	blocks []*block.Block
	pos    int
}

func (s *sliceIterator) Next() (*block.Block, bool) {
	if s.pos >= len(s.blocks) {
		return nil, false
	}
	b := s.blocks[s.pos]
	s.pos++
	return b, true
}

// NewSliceIterator exposes sliceIterator to backend implementations
// outside this file (flatfile.go, sqlite.go).
func NewSliceIterator(blocks []*block.Block) BlockIterator {
	return &sliceIterator{blocks: blocks}
}
