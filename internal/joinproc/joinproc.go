// Package joinproc implements the join output sinks from spec.md §4
// Component C: InterTableJoinProcessor, which buffers intermediate join
// rows for the next pipeline stage, and FinalTableJoinProcessor, which
// writes a rule's last join stage into the head predicate's fact table.
//
// Both processors implement a small two-variant interface rather than an
// inheritance hierarchy: process results, consolidate, and report the
// buffered row count. There is no add-columns or output-membership
// capability.
package joinproc

import (
	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/block"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/term"
)

// Processor is the sink every join stage writes its output rows into.
type Processor interface {
	// ProcessResult appends one output row. unique, when true, is a hint
	// from the caller that this row is provably not a duplicate of any
	// row already buffered (e.g. the join key alone determines
	// uniqueness), letting the processor skip its own check.
	ProcessResult(row []term.Term, unique bool)

	// Consolidate deduplicates the rows buffered so far, in place.
	Consolidate()

	// Len reports how many rows are currently buffered.
	Len() int
}

// InterTableProcessor buffers rows for a non-final join stage: the
// concatenated (left-projection, right-projection) rows spec.md §4.C
// describes. Its output becomes the next stage's left-hand intermediate
// table.
type InterTableProcessor struct {
	arity int
	rows  [][]term.Term
	seen  map[string]struct{}
}

// NewInterTableProcessor returns an empty processor for rows of the
// given arity.
func NewInterTableProcessor(arity int) *InterTableProcessor {
	return &InterTableProcessor{arity: arity, seen: make(map[string]struct{})}
}

func (p *InterTableProcessor) ProcessResult(row []term.Term, unique bool) {
	if !unique {
		key := rowKey(row)
		if _, dup := p.seen[key]; dup {
			return
		}
		p.seen[key] = struct{}{}
	}
	cp := make([]term.Term, len(row))
	copy(cp, row)
	p.rows = append(p.rows, cp)
}

func (p *InterTableProcessor) Consolidate() {
	if len(p.rows) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(p.rows))
	out := p.rows[:0]
	for _, row := range p.rows {
		k := rowKey(row)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	p.rows = out
}

func (p *InterTableProcessor) Len() int { return len(p.rows) }

// Block freezes the buffered rows into an intermediate block tagged with
// iteration. Intermediate blocks live only between two adjacent atoms
// (spec.md §3's Lifecycle paragraph), so callers discard it once the next
// stage has consumed it.
func (p *InterTableProcessor) Block(iteration int64) *block.Block {
	if len(p.rows) == 0 {
		return nil
	}
	return block.New(iteration, p.arity, p.rows)
}

// Rows exposes the buffered rows directly, for the next join stage to
// treat as its left-hand side without a block round-trip.
func (p *InterTableProcessor) Rows() [][]term.Term { return p.rows }

// FinalProcessor is the sink for a rule's last body atom: it buffers
// output rows and, at Flush, hands them to the head predicate's FCTable
// as a new block tagged with the iteration (spec.md §4.C). The block
// records no rule, plan index or head literal.
type FinalProcessor struct {
	head  ast.Literal
	table *facttable.FCTable
	rows  [][]term.Term
	seen  map[string]struct{}
}

// NewFinalProcessor returns a processor that will write into table when
// Flush is called.
func NewFinalProcessor(head ast.Literal, table *facttable.FCTable) *FinalProcessor {
	return &FinalProcessor{head: head, table: table, seen: make(map[string]struct{})}
}

func (p *FinalProcessor) ProcessResult(row []term.Term, unique bool) {
	if !unique {
		key := rowKey(row)
		if _, dup := p.seen[key]; dup {
			return
		}
		p.seen[key] = struct{}{}
	}
	cp := make([]term.Term, len(row))
	copy(cp, row)
	p.rows = append(p.rows, cp)
}

func (p *FinalProcessor) Consolidate() {
	if len(p.rows) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(p.rows))
	out := p.rows[:0]
	for _, row := range p.rows {
		k := rowKey(row)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	p.rows = out
}

func (p *FinalProcessor) Len() int { return len(p.rows) }

// Flush builds a candidate block from the buffered rows and hands it to
// the head FCTable's Add, which performs the cross-block anti-join
// (spec.md §4.A) before accepting any new rows. It returns the newly
// accepted block, or nil if every row was already present.
func (p *FinalProcessor) Flush(iteration int64) *block.Block {
	if len(p.rows) == 0 {
		return nil
	}
	candidate := block.New(iteration, len(p.head.Args), p.rows)
	accepted, _ := p.table.Add(candidate)
	return accepted
}

// AddWholeBlock implements the pure-projection fast path: a rule whose
// single body literal has the same variable sequence as its head can
// clone the body's block wholesale (spec.md §4.E, §8 scenario 3) instead
// of going through ProcessResult/Flush at all.
func (p *FinalProcessor) AddWholeBlock(b *block.Block, iteration int64) *block.Block {
	accepted, _ := p.table.Add(b.CloneWithIteration(iteration))
	return accepted
}

func rowKey(row []term.Term) string {
	buf := make([]byte, 0, len(row)*9)
	for _, t := range row {
		v := uint64(t)
		for i := 0; i < 8; i++ {
			buf = append(buf, byte(v))
			v >>= 8
		}
		buf = append(buf, '|')
	}
	return string(buf)
}
