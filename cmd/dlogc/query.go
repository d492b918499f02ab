package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/dispatcher"
	"github.com/dlog-engine/dlog/internal/engine"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

var dispatchThreshold int64

var queryCmd = &cobra.Command{
	Use:   "query <program.dl> <literal>",
	Short: "Answer one query literal through the dispatcher",
	Long: `Decides between top-down SLD resolution, a magic-set-guarded
fixpoint, or full materialization based on the query's bound arguments
and the predicate's recursiveness, then prints every solution's
bindings.

Example:
  dlogc query tc.dl "tc(a, X)"`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().Int64Var(&dispatchThreshold, "threshold", 10000, "estimated row count at or above which the dispatcher resolves a bound query top-down")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	dict := term.NewDictionary()
	parsed, err := loadProgram(args[0], dict)
	if err != nil {
		return err
	}
	src, err := openEDB(dict, parsed)
	if err != nil {
		return err
	}
	prog, err := program.New(parsed.Rules, parsed.EDBPredicates)
	if err != nil {
		return fmt.Errorf("dlogc: build program: %w", err)
	}

	queryLit, err := program.ParseQuery(args[1], dict)
	if err != nil {
		return fmt.Errorf("dlogc: parse query: %w", err)
	}
	pred, ok := prog.PredicateByName(queryLit.Pred.Name)
	if !ok {
		return fmt.Errorf("dlogc: unknown predicate %s", queryLit.Pred.Name)
	}
	queryLit = ast.Literal{Pred: pred, Args: queryLit.Args}

	optFiltering, optIntersect := engineOptionsFromConfig()
	store := facttable.NewStore(src, optFiltering)
	engOpts := engine.Options{OptFiltering: optFiltering, OptIntersect: optIntersect}
	reasoner := dispatcher.New(prog, store, dict, src, engOpts, dispatchThreshold, logger.Named("dispatch"))

	sols, mode, err := reasoner.Query(ctx, queryLit)
	if err != nil {
		return fmt.Errorf("dlogc: query: %w", err)
	}

	fmt.Printf("mode=%s solutions=%d\n", mode, len(sols))
	for _, sol := range sols {
		fmt.Println(formatSolution(queryLit, sol, dict))
	}
	return nil
}

func formatSolution(lit ast.Literal, sol map[int32]term.Term, dict *term.Dictionary) string {
	parts := make([]string, len(lit.Args))
	for i, a := range lit.Args {
		if a.IsVar {
			if v, ok := sol[a.Var]; ok {
				parts[i], _ = dict.Lookup(v)
			} else {
				parts[i] = "_"
			}
			continue
		}
		parts[i], _ = dict.Lookup(a.Const)
	}
	out := lit.Pred.Name + "("
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out + ")"
}
