package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/scriptcover/report"
	"github.com/pithecene-io/scriptcover/types"
)

// headerHeight is the number of rows above the viewport.
const headerHeight = 4

type unitRef struct {
	page, unit int
}

// ReportModel browses a report tree one unit at a time.
type ReportModel struct {
	tree     *types.ReportTree
	units    []unitRef
	current  int
	viewport viewport.Model
	ready    bool
	quitting bool
}

// NewReportModel creates a report browser for tree.
func NewReportModel(tree *types.ReportTree) ReportModel {
	m := ReportModel{tree: tree}
	if tree != nil {
		for p, page := range tree.Pages {
			for u := range page.Units {
				m.units = append(m.units, unitRef{page: p, unit: u})
			}
		}
	}
	return m
}

// Init implements tea.Model.
func (m ReportModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ReportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := max(msg.Height-headerHeight-2, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.viewport.SetContent(m.unitBody())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Next):
			m.show(m.current + 1)
			return m, nil
		case key.Matches(msg, keys.Prev):
			m.show(m.current - 1)
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m *ReportModel) show(i int) {
	if len(m.units) == 0 {
		return
	}
	m.current = (i + len(m.units)) % len(m.units)
	if m.ready {
		m.viewport.SetContent(m.unitBody())
		m.viewport.GotoTop()
	}
}

// Current returns the page and unit shown, or nil when the tree is empty.
func (m ReportModel) Current() (*types.PageReport, *types.UnitReport) {
	if len(m.units) == 0 {
		return nil, nil
	}
	ref := m.units[m.current]
	page := &m.tree.Pages[ref.page]
	return page, &page.Units[ref.unit]
}

// View implements tea.Model.
func (m ReportModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(m.unitBody())
	}
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("n/p switch unit • ↑/↓ scroll • q quit"))
	return b.String()
}

func (m ReportModel) header() string {
	if m.tree == nil {
		return TitleStyle.Render("Coverage report")
	}
	global := m.tree.Global
	title := TitleStyle.Render("Coverage report " + m.tree.ContextID)
	line := fmt.Sprintf("global %s %d/%d commands",
		PercentStyle(global.Percent).Render(global.Percent+"%"), global.Executed, global.Total)

	page, unit := m.Current()
	if unit == nil {
		return title + "\n" + line
	}
	where := fmt.Sprintf("[%d/%d] %s › %s %s",
		m.current+1, len(m.units),
		page.URL, report.ShortenFileName(unit.FileName),
		PercentStyle(unit.Stat.Percent).Render(unit.Stat.Percent+"%"))
	return title + "\n" + line + "\n" + where
}

func (m ReportModel) unitBody() string {
	_, unit := m.Current()
	if unit == nil {
		return MutedStyle.Render("(no units)")
	}
	var b strings.Builder
	if unit.Error != "" {
		b.WriteString(ErrorStyle.Render("not instrumented: " + unit.Error))
		b.WriteString("\n")
	}
	for _, p := range unit.Problems {
		b.WriteString(ErrorStyle.Render("problem: " + p))
		b.WriteString("\n")
	}
	for _, line := range unit.Lines {
		if line.Style == types.LineHeader {
			b.WriteString(LineStyle(line.Style).Render(line.Text))
			b.WriteString("\n")
			continue
		}
		gutter := MutedStyle.Render(fmt.Sprintf("%5d %6s ", line.Number, execLabel(line)))
		b.WriteString(gutter + LineStyle(line.Style).Render(line.Text))
		b.WriteString("\n")
	}
	return b.String()
}

func execLabel(line types.ReportLine) string {
	if line.BlockID == 0 {
		return ""
	}
	return fmt.Sprintf("x%d", line.Execs)
}
