package edb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/block"
	"github.com/dlog-engine/dlog/internal/term"
)

// SQLiteEDB resolves extensional literals against a SQLite database,
// using the pure-Go modernc.org/sqlite driver so the engine binary needs
// no cgo toolchain. One predicate maps to one table, named after the
// predicate, with text columns c0..c(arity-1).
type SQLiteEDB struct {
	db   *sql.DB
	dict *term.Dictionary

	mu    sync.Mutex
	cache map[string][]*block.Block
}

// OpenSQLiteEDB opens (or creates) the database file at path.
func OpenSQLiteEDB(path string, dict *term.Dictionary) (*SQLiteEDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("edb: open sqlite %s: %w", path, err)
	}
	return &SQLiteEDB{db: db, dict: dict, cache: make(map[string][]*block.Block)}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteEDB) Close() error { return s.db.Close() }

func (s *SQLiteEDB) load(ctx context.Context, name string, arity int) ([]*block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blocks, ok := s.cache[name]; ok {
		return blocks, nil
	}

	cols := make([]string, arity)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d", i)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), name)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			s.cache[name] = nil
			return nil, nil // table absent is an empty EDB predicate, not a fetch error
		}
		return nil, fmt.Errorf("edb: query %s: %w", name, err)
	}
	defer rows.Close()

	scanTargets := make([]any, arity)
	scanValues := make([]string, arity)
	for i := range scanValues {
		scanTargets[i] = &scanValues[i]
	}

	var out [][]term.Term
	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("edb: scan %s: %w", name, err)
		}
		row := make([]term.Term, arity)
		for i, v := range scanValues {
			row[i] = s.dict.Intern(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var blocks []*block.Block
	if len(out) > 0 {
		blocks = []*block.Block{block.New(0, arity, out)}
	}
	s.cache[name] = blocks
	return blocks, nil
}

func (s *SQLiteEDB) Fetch(ctx context.Context, lit ast.Literal, min, max int64) (BlockIterator, error) {
	blocks, err := s.load(ctx, lit.Pred.Name, lit.Pred.Arity)
	if err != nil {
		return nil, err
	}
	return NewSliceIterator(blocks), nil
}

func (s *SQLiteEDB) Estimate(ctx context.Context, lit ast.Literal, min, max int64) (int64, error) {
	blocks, err := s.load(ctx, lit.Pred.Name, lit.Pred.Arity)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, b := range blocks {
		n += int64(b.NumRows())
	}
	return n, nil
}

func (s *SQLiteEDB) DictLookup(t term.Term) (string, bool) { return s.dict.Lookup(t) }
