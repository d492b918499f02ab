package facttable

import (
	"context"
	"sync"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/edb"
)

// Store maps predicate ids to their (at most one) FCTable. Predicate ids
// below ast.PMax use a dense slice, per spec.md §9's design note; ids
// beyond that fall back to a map, so a program is never rejected purely
// for having a large predicate space.
type Store struct {
	mu           sync.RWMutex
	dense        [ast.PMax]*FCTable
	overflow     map[ast.PredID]*FCTable
	edbSource    edb.EDB
	optFiltering bool

	// loaded remembers which EDB predicates have already been pulled
	// in from the backing store, so "first touch" only fetches once.
	loaded map[ast.PredID]bool
}

// NewStore returns a Store that lazily loads EDB predicates through
// source and creates IDB tables on first write.
func NewStore(source edb.EDB, optFiltering bool) *Store {
	return &Store{
		overflow:     make(map[ast.PredID]*FCTable),
		edbSource:    source,
		optFiltering: optFiltering,
		loaded:       make(map[ast.PredID]bool),
	}
}

func (s *Store) get(id ast.PredID) *FCTable {
	if int(id) < ast.PMax {
		return s.dense[id]
	}
	return s.overflow[id]
}

func (s *Store) set(id ast.PredID, t *FCTable) {
	if int(id) < ast.PMax {
		s.dense[id] = t
	} else {
		s.overflow[id] = t
	}
}

// Table returns the FCTable for pred, creating an empty one if this is
// the first write to an IDB predicate (spec.md §3 invariant 3).
func (s *Store) Table(pred ast.Predicate) *FCTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.get(pred.ID)
	if t == nil {
		t = New(pred, s.optFiltering)
		s.set(pred.ID, t)
	}
	return t
}

// EnsureEDBLoaded performs the "first touch" load spec.md §4.A describes:
// an EDB predicate's facts are fetched once from the backing edb.EDB and
// wrapped into the predicate's FCTable as iteration-0 blocks, after which
// the predicate behaves exactly like an IDB table for reads.
func (s *Store) EnsureEDBLoaded(ctx context.Context, pred ast.Predicate, mostGeneral ast.Literal) error {
	s.mu.Lock()
	if s.loaded[pred.ID] {
		s.mu.Unlock()
		return nil
	}
	s.loaded[pred.ID] = true
	s.mu.Unlock()

	t := s.Table(pred)
	if s.edbSource == nil {
		return nil
	}
	it, err := s.edbSource.Fetch(ctx, mostGeneral, 0, -1)
	if err != nil {
		return &edb.ErrFetchFailed{Literal: mostGeneral, Cause: err}
	}
	for {
		b, ok := it.Next()
		if !ok {
			break
		}
		t.Add(b.CloneWithIteration(0))
	}
	return nil
}

// AllTables returns every FCTable created so far, for summary /
// persistence passes.
func (s *Store) AllTables() map[ast.PredID]*FCTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ast.PredID]*FCTable)
	for id := 0; id < ast.PMax; id++ {
		if s.dense[id] != nil {
			out[ast.PredID(id)] = s.dense[id]
		}
	}
	for id, t := range s.overflow {
		out[id] = t
	}
	return out
}
