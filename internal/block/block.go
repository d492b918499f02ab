// Package block implements the internal table (spec.md §4 Component B):
// one immutable block of fixed-arity tuples, stored column-wise so that
// anti-joins and filters can scan a single column without reshuffling the
// whole table.
package block

import "github.com/dlog-engine/dlog/internal/term"

// Block is one immutable, column-oriented chunk of rows of a fixed arity,
// tagged with the iteration that produced it (spec.md §3's FCBlock).
type Block struct {
	Iteration int64
	Arity     int
	cols      [][]term.Term // cols[c] has one entry per row
}

// New builds a Block from row-major data. Rows must all have length
// arity; callers that already have column-major data should use
// NewFromColumns to avoid the transpose.
func New(iteration int64, arity int, rows [][]term.Term) *Block {
	cols := make([][]term.Term, arity)
	for c := range cols {
		cols[c] = make([]term.Term, len(rows))
	}
	for r, row := range rows {
		for c := 0; c < arity; c++ {
			cols[c][r] = row[c]
		}
	}
	return &Block{Iteration: iteration, Arity: arity, cols: cols}
}

// NewFromColumns builds a Block directly from column-major data. cols must
// have len == arity and all columns the same length.
func NewFromColumns(iteration int64, cols [][]term.Term) *Block {
	arity := len(cols)
	return &Block{Iteration: iteration, Arity: arity, cols: cols}
}

// NumRows returns the row count.
func (b *Block) NumRows() int {
	if b.Arity == 0 {
		return 0
	}
	return len(b.cols[0])
}

// Column returns the vector of values at column c across every row —
// the "vectorised extraction" spec.md §2 Component B calls for.
func (b *Block) Column(c int) []term.Term { return b.cols[c] }

// Row materializes row i as a slice; prefer Column / a RowIter for
// hot paths, this exists for single-row lookups (e.g. printing).
func (b *Block) Row(i int) []term.Term {
	row := make([]term.Term, b.Arity)
	for c := 0; c < b.Arity; c++ {
		row[c] = b.cols[c][i]
	}
	return row
}

// CloneWithIteration returns a new Block sharing this block's column data
// but tagged with a different iteration. This backs the pure-projection
// fast path (spec.md §4.E, §8 scenario 3): a rule `q(X,Y) :- p(X,Y).`
// clones p's block wholesale instead of materialising rows.
func (b *Block) CloneWithIteration(iteration int64) *Block {
	return &Block{Iteration: iteration, Arity: b.Arity, cols: b.cols}
}

// RowIter iterates rows of a Block one at a time (single-shot per row,
// restartable per block — spec.md §9's two-level lazy sequence shape).
type RowIter struct {
	b   *Block
	pos int
}

// Iter returns a fresh RowIter over b.
func (b *Block) Iter() *RowIter { return &RowIter{b: b} }

// Next returns the next row and true, or (nil, false) when exhausted.
func (it *RowIter) Next() ([]term.Term, bool) {
	if it.pos >= it.b.NumRows() {
		return nil, false
	}
	row := it.b.Row(it.pos)
	it.pos++
	return row, true
}

// Builder accumulates rows column-wise before freezing into a Block —
// the growable typed buffer spec.md §4.C's join processors write into.
type Builder struct {
	arity int
	cols  [][]term.Term
}

// NewBuilder returns an empty Builder for the given arity.
func NewBuilder(arity int) *Builder {
	cols := make([][]term.Term, arity)
	return &Builder{arity: arity, cols: cols}
}

// Append adds one row. len(row) must equal the builder's arity.
func (bu *Builder) Append(row []term.Term) {
	for c, v := range row {
		bu.cols[c] = append(bu.cols[c], v)
	}
}

// Len returns the number of rows appended so far.
func (bu *Builder) Len() int {
	if bu.arity == 0 {
		return 0
	}
	return len(bu.cols[0])
}

// Build freezes the accumulated rows into a Block tagged with iteration.
// An empty Builder yields a nil Block.
func (bu *Builder) Build(iteration int64) *Block {
	if bu.Len() == 0 {
		return nil
	}
	return &Block{Iteration: iteration, Arity: bu.arity, cols: bu.cols}
}
