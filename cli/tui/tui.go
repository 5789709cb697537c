package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/scriptcover/types"
)

// View types with a TUI.
const (
	ViewReport  = "report"
	ViewSummary = "summary"
)

type keyMap struct {
	Quit key.Binding
	Next key.Binding
	Prev key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Next: key.NewBinding(
		key.WithKeys("n", "right", "tab"),
		key.WithHelp("n", "next unit"),
	),
	Prev: key.NewBinding(
		key.WithKeys("p", "left", "shift+tab"),
		key.WithHelp("p", "previous unit"),
	),
}

// Run starts the TUI for viewType.
// Returns an error if the view type doesn't support TUI or data does not
// match it.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	var model tea.Model
	switch viewType {
	case ViewReport:
		tree, ok := data.(*types.ReportTree)
		if !ok {
			return fmt.Errorf("invalid data type %T for %s", data, viewType)
		}
		model = NewReportModel(tree)
	case ViewSummary:
		summary, ok := data.(*types.Summary)
		if !ok {
			return fmt.Errorf("invalid data type %T for %s", data, viewType)
		}
		model = NewSummaryModel(summary)
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	switch viewType {
	case ViewReport, ViewSummary:
		return true
	default:
		return false
	}
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewReport, ViewSummary}
}
