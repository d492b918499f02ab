package main

import (
	"fmt"
	"os"

	"github.com/dlog-engine/dlog/internal/edb"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

// loadProgram reads path and parses it; openEDB builds the EDB backend.
func loadProgram(path string, dict *term.Dictionary) (*program.ParseResult, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dlogc: read %s: %w", path, err)
	}
	parsed, err := program.Parse(string(src), dict)
	if err != nil {
		return nil, fmt.Errorf("dlogc: parse %s: %w", path, err)
	}
	return parsed, nil
}

func openEDB(dict *term.Dictionary, parsed *program.ParseResult) (edb.EDB, error) {
	dir := edbDir
	backend := cfg.EDB.Backend
	if dir == "" {
		dir = cfg.EDB.Path
	}
	if edbDir != "" && (backend == "" || backend == "memory") {
		backend = "files"
	}

	switch backend {
	case "files":
		if dir == "" {
			return nil, fmt.Errorf("dlogc: files EDB backend requires --edb or config EDB.Path")
		}
		return edb.NewFlatFileEDB(dir, dict), nil
	case "sqlite":
		if dir == "" {
			return nil, fmt.Errorf("dlogc: sqlite EDB backend requires --edb or config EDB.Path")
		}
		return edb.OpenSQLiteEDB(dir, dict)
	default:
		return edb.NewMemoryEDB(dict, parsed.Facts), nil
	}
}

func engineOptionsFromConfig() (bool, bool) {
	return cfg.Engine.OptFiltering, cfg.Engine.OptIntersect
}
