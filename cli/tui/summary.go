package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/scriptcover/report"
	"github.com/pithecene-io/scriptcover/types"
)

// SummaryModel shows a context's summary: stat boxes and the per-unit rows.
type SummaryModel struct {
	summary  *types.Summary
	width    int
	height   int
	quitting bool
}

// NewSummaryModel creates a summary view.
func NewSummaryModel(s *types.Summary) SummaryModel {
	return SummaryModel{summary: s}
}

// Init implements tea.Model.
func (m SummaryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m SummaryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m SummaryModel) View() string {
	if m.quitting {
		return ""
	}
	if m.summary == nil {
		return "No summary\n" + HelpStyle.Render("Press q or Ctrl+C to quit")
	}
	s := m.summary

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Coverage summary " + s.ContextID))
	b.WriteString("\n\n")

	tracked := 0
	for _, f := range s.PerUnit {
		if f.Tracked {
			tracked++
		}
	}
	boxes := []string{
		m.renderStatBox("Global", PercentStyle(s.GlobalPercent).Render(s.GlobalPercent+"%")),
		m.renderStatBox("Commands", fmt.Sprintf("%d", s.CommandCount)),
		m.renderStatBox("Units", fmt.Sprintf("%d/%d", tracked, len(s.PerUnit))),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	for _, f := range s.PerUnit {
		name := LabelStyle.Width(52).Render(report.ShortenFileName(f.FileName))
		var value string
		if f.Tracked {
			value = PercentStyle(f.Percent).Render(fmt.Sprintf("%6s%%", f.Percent)) +
				MutedStyle.Render(fmt.Sprintf("  %d/%d", f.ExecutedCount, f.CommandCount))
		} else {
			value = ErrorStyle.Render("not instrumented")
		}
		b.WriteString(name + " " + value + "\n")
	}

	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

func (m SummaryModel) renderStatBox(label, value string) string {
	content := StatLabelStyle.Render(label) + "\n" + StatValueStyle.Render(value)
	return StatBoxStyle.Render(content)
}
