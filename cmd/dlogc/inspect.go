package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dlog-engine/dlog/internal/ast"
	"github.com/dlog-engine/dlog/internal/engine"
	"github.com/dlog-engine/dlog/internal/facttable"
	"github.com/dlog-engine/dlog/internal/program"
	"github.com/dlog-engine/dlog/internal/term"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <program.dl>",
	Short: "Saturate a program and browse its derived tables interactively",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

// predicateItem adapts a saturated predicate's row count to list.Item.
type predicateItem struct {
	pred ast.Predicate
	rows int64
}

func (i predicateItem) Title() string       { return i.pred.Name }
func (i predicateItem) Description() string { return fmt.Sprintf("%d rows, arity %d", i.rows, i.pred.Arity) }
func (i predicateItem) FilterValue() string { return i.pred.Name }

type inspectModel struct {
	list     list.Model
	viewport viewport.Model
	store    *facttable.Store
	dict     *term.Dictionary
	width    int
	height   int
}

func newInspectModel(prog *program.Program, store *facttable.Store, dict *term.Dictionary) inspectModel {
	preds := prog.Predicates()
	sort.Slice(preds, func(i, j int) bool { return preds[i].Name < preds[j].Name })

	items := make([]list.Item, 0, len(preds))
	for _, p := range preds {
		rows := store.Table(p).RowCount()
		items = append(items, predicateItem{pred: p, rows: rows})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Predicates"
	l.Styles.Title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))

	vp := viewport.New(0, 0)
	vp.SetContent("Select a predicate to view its rows.")

	return inspectModel{list: l, viewport: vp, store: store, dict: dict}
}

func (m inspectModel) Init() tea.Cmd { return nil }

func (m inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		listWidth := m.width / 3
		m.list.SetSize(listWidth, m.height-2)
		m.viewport.Width = m.width - listWidth - 2
		m.viewport.Height = m.height - 2

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			m.viewport.SetContent(m.renderSelected())
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m inspectModel) View() string {
	return lipgloss.JoinHorizontal(lipgloss.Top, m.list.View(), m.viewport.View())
}

func (m inspectModel) renderSelected() string {
	item, ok := m.list.SelectedItem().(predicateItem)
	if !ok {
		return ""
	}
	var sb strings.Builder
	table := m.store.Table(item.pred)
	for _, b := range table.Read(0, -1) {
		it := b.Iter()
		for {
			row, ok := it.Next()
			if !ok {
				break
			}
			parts := make([]string, len(row))
			for i, t := range row {
				parts[i] = m.dict.MustLookup(t)
			}
			fmt.Fprintf(&sb, "%s(%s)\n", item.pred.Name, strings.Join(parts, ", "))
		}
	}
	return sb.String()
}

func runInspect(cmd *cobra.Command, args []string) error {
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

	p := tea.NewProgram(newInspectModel(prog, store, dict), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
