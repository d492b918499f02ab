package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/engine"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

var explainCmd = &cobra.Command{
	Use:   "explain <program.dl> <fact>",
	Short: "Render a provenance tree for a derived ground fact",
	Long: `Saturates the program, then walks backward from a ground fact
to the rule and body bindings that produced it, one level per body
literal still IDB, down to the EDB leaves. The tree is rendered as
Markdown through glamour.

Example:
  dlogc explain tc.dl "tc(a, c)"`,
	Args: cobra.ExactArgs(2),
	RunE: runExplain,
}

func runExplain(cmd *cobra.Command, args []string) error {
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

	optFiltering, optIntersect := engineOptionsFromConfig()
	store := facttable.NewStore(src, optFiltering)
	eng := engine.New(prog, store, dict, engine.Options{OptFiltering: optFiltering, OptIntersect: optIntersect}, logger.Named("engine"))
	if _, err := eng.Run(ctx, 0); err != nil {
		return fmt.Errorf("dlogc: saturate: %w", err)
	}

	factLit, err := program.ParseQuery(args[1], dict)
	if err != nil {
		return fmt.Errorf("dlogc: parse fact: %w", err)
	}
	pred, ok := prog.PredicateByName(factLit.Pred.Name)
	if !ok {
		return fmt.Errorf("dlogc: unknown predicate %s", factLit.Pred.Name)
	}
	factLit = ast.Literal{Pred: pred, Args: factLit.Args}
	for _, a := range factLit.Args {
		if a.IsVar {
			return fmt.Errorf("dlogc: explain requires a fully ground fact")
		}
	}

	var sb strings.Builder
	explain(prog, store, dict, factLit, 0, make(map[string]bool), &sb)

	out, err := glamour.Render(sb.String(), "dark")
	if err != nil {
		fmt.Print(sb.String())
		return nil
	}
	fmt.Print(out)
	return nil
}

// explain writes a Markdown bullet list tracing factLit back to the rule
// body that derived it, recursing into IDB body literals and stopping at
// EDB leaves or cycles already on the current path.
func explain(prog *program.Program, store *facttable.Store, dict *term.Dictionary, factLit ast.Literal, depth int, onPath map[string]bool, sb *strings.Builder) {
	key := factText(factLit, dict)
	indent := strings.Repeat("  ", depth)

	if onPath[key] {
		fmt.Fprintf(sb, "%s- %s (cycle)\n", indent, key)
		return
	}

	if factLit.Pred.Kind == ast.EDB {
		fmt.Fprintf(sb, "%s- %s (edb)\n", indent, key)
		return
	}

	rule, binding := findDerivation(prog, store, factLit)
	if rule == nil {
		fmt.Fprintf(sb, "%s- %s (no derivation found)\n", indent, key)
		return
	}

	fmt.Fprintf(sb, "%s- %s\n", indent, key)
	onPath[key] = true
	for _, b := range rule.Body {
		bodyLit := groundLiteral(b, binding)
		explain(prog, store, dict, bodyLit, depth+1, onPath, sb)
	}
	delete(onPath, key)
}

func factText(lit ast.Literal, dict *term.Dictionary) string {
	parts := make([]string, len(lit.Args))
	for i, a := range lit.Args {
		parts[i], _ = dict.Lookup(a.Const)
	}
	return lit.Pred.Name + "(" + strings.Join(parts, ", ") + ")"
}

// findDerivation finds the first rule whose head matches factLit's
// predicate and arguments for some body row already in store, returning
// the rule and the variable binding that head match implies.
func findDerivation(prog *program.Program, store *facttable.Store, factLit ast.Literal) (*ast.Rule, map[int32]term.Term) {
	rules := prog.Rules()
	for i := range rules {
		rule := &rules[i]
		if rule.Head.Pred.ID != factLit.Pred.ID {
			continue
		}
		binding := make(map[int32]term.Term)
		if !bindHead(rule.Head, factLit, binding) {
			continue
		}
		if ok := satisfyBody(store, rule.Body, 0, binding); ok {
			return rule, binding
		}
	}
	return nil, nil
}

func bindHead(head, fact ast.Literal, binding map[int32]term.Term) bool {
	for i, slot := range head.Args {
		if slot.IsVar {
			if existing, ok := binding[slot.Var]; ok && existing != fact.Args[i].Const {
				return false
			}
			binding[slot.Var] = fact.Args[i].Const
		} else if slot.Const != fact.Args[i].Const {
			return false
		}
	}
	return true
}

// satisfyBody tries to extend binding so every body literal from index i
// onward matches some row currently in store, backtracking over every
// matching row of each literal in order and keeping the first full match.
func satisfyBody(store *facttable.Store, body []ast.Literal, i int, binding map[int32]term.Term) bool {
	if i == len(body) {
		return true
	}
	lit := body[i]
	table := store.Table(lit.Pred)
	for _, b := range table.Read(0, -1) {
		it := b.Iter()
		for {
			row, ok := it.Next()
			if !ok {
				break
			}
			trial := cloneBinding(binding)
			if matchRow(lit, row, trial) && satisfyBody(store, body, i+1, trial) {
				for k, v := range trial {
					binding[k] = v
				}
				return true
			}
		}
	}
	return false
}

func matchRow(lit ast.Literal, row []term.Term, binding map[int32]term.Term) bool {
	for i, slot := range lit.Args {
		if slot.IsVar {
			if existing, ok := binding[slot.Var]; ok {
				if existing != row[i] {
					return false
				}
				continue
			}
			binding[slot.Var] = row[i]
		} else if slot.Const != row[i] {
			return false
		}
	}
	return true
}

func cloneBinding(b map[int32]term.Term) map[int32]term.Term {
	out := make(map[int32]term.Term, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

func groundLiteral(lit ast.Literal, binding map[int32]term.Term) ast.Literal {
	args := make([]ast.Slot, len(lit.Args))
	for i, slot := range lit.Args {
		if slot.IsVar {
			args[i] = ast.ConstSlot(binding[slot.Var])
		} else {
			args[i] = slot
		}
	}
	return ast.Literal{Pred: lit.Pred, Args: args}
}
