package edb

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/block"
	"github.com/dlog-engine/dlog/internal/term"
)

// FlatFileEDB reads one fact-per-line text files, one file per predicate,
// from a directory (predicate "edge" reads "<dir>/edge.facts"). Each line
// is whitespace-separated argument text, interned through dict. Files are
// read lazily on first Fetch and cached, since a program only ever
// touches the EDB predicates it actually uses.
type FlatFileEDB struct {
	dir  string
	dict *term.Dictionary

	mu    sync.Mutex
	cache map[string][]*block.Block
}

// NewFlatFileEDB returns an EDB backed by fact files under dir.
func NewFlatFileEDB(dir string, dict *term.Dictionary) *FlatFileEDB {
	return &FlatFileEDB{dir: dir, dict: dict, cache: make(map[string][]*block.Block)}
}

func (f *FlatFileEDB) load(name string, arity int) ([]*block.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if blocks, ok := f.cache[name]; ok {
		return blocks, nil
	}

	path := filepath.Join(f.dir, name+".facts")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			f.cache[name] = nil
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var rows [][]term.Term
	sc := bufio.NewScanner(file)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != arity {
			return nil, fmt.Errorf("edb: %s:%d: expected %d fields, got %d", path, lineNo, arity, len(fields))
		}
		row := make([]term.Term, arity)
		for i, s := range fields {
			row[i] = f.dict.Intern(s)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var blocks []*block.Block
	if len(rows) > 0 {
		blocks = []*block.Block{block.New(0, arity, rows)}
	}
	f.cache[name] = blocks
	return blocks, nil
}

func (f *FlatFileEDB) Fetch(ctx context.Context, lit ast.Literal, min, max int64) (BlockIterator, error) {
	blocks, err := f.load(lit.Pred.Name, lit.Pred.Arity)
	if err != nil {
		return nil, err
	}
	return NewSliceIterator(blocks), nil
}

func (f *FlatFileEDB) Estimate(ctx context.Context, lit ast.Literal, min, max int64) (int64, error) {
	blocks, err := f.load(lit.Pred.Name, lit.Pred.Arity)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, b := range blocks {
		n += int64(b.NumRows())
	}
	return n, nil
}

func (f *FlatFileEDB) DictLookup(t term.Term) (string, bool) { return f.dict.Lookup(t) }
