package edb

import (
	"context"
	"sync"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/block"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

// MemoryEDB holds every fact in process memory, keyed by predicate name.
// It is the default backend for tests and small programs loaded from a
// parsed source file (program.ParseResult.Facts).
type MemoryEDB struct {
	mu   sync.RWMutex
	dict *term.Dictionary
	rows map[string][][]term.Term
}

// NewMemoryEDB returns an EDB backed by facts, interning each argument
// through dict.
func NewMemoryEDB(dict *term.Dictionary, facts []program.Fact) *MemoryEDB {
	m := &MemoryEDB{dict: dict, rows: make(map[string][][]term.Term)}
	for _, f := range facts {
		row := make([]term.Term, len(f.Args))
		for i, a := range f.Args {
			row[i] = dict.Intern(a)
		}
		m.rows[f.Predicate] = append(m.rows[f.Predicate], row)
	}
	return m
}

func (m *MemoryEDB) Fetch(ctx context.Context, lit ast.Literal, min, max int64) (BlockIterator, error) {
	m.mu.RLock()
	rows := m.rows[lit.Pred.Name]
	m.mu.RUnlock()
	if len(rows) == 0 {
		return NewSliceIterator(nil), nil
	}
	b := block.New(0, lit.Pred.Arity, rows)
	return NewSliceIterator([]*block.Block{b}), nil
}

func (m *MemoryEDB) Estimate(ctx context.Context, lit ast.Literal, min, max int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.rows[lit.Pred.Name])), nil
}

func (m *MemoryEDB) DictLookup(t term.Term) (string, bool) { return m.dict.Lookup(t) }
