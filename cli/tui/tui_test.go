package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/scriptcover/types"
)

func TestIsTUISupported(t *testing.T) {
	tests := []struct {
		viewType string
		want     bool
	}{
		{"report", true},
		{"summary", true},
		{"contexts", false},
		{"version", false},
		{"run", false},
		{"unknown", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.viewType, func(t *testing.T) {
			got := IsTUISupported(tt.viewType)
			if got != tt.want {
				t.Errorf("IsTUISupported(%q) = %v, want %v", tt.viewType, got, tt.want)
			}
		})
	}
}

func TestSupportedTUIViews(t *testing.T) {
	views := SupportedTUIViews()
	if len(views) != 2 {
		t.Errorf("SupportedTUIViews() returned %d views, expected 2", len(views))
	}
	for _, v := range views {
		if !IsTUISupported(v) {
			t.Errorf("SupportedTUIViews() returned %q but IsTUISupported returns false", v)
		}
	}
}

func TestRun_UnsupportedViewType(t *testing.T) {
	if err := Run("contexts", nil); err == nil {
		t.Error("Expected error for unsupported view type")
	}
}

func TestRun_WrongDataType(t *testing.T) {
	if err := Run(ViewReport, &types.Summary{}); err == nil {
		t.Error("Expected error for mismatched data")
	}
}

func testTree() *types.ReportTree {
	return &types.ReportTree{
		ContextID: "tab-1",
		Global:    types.Stat{Executed: 2, Total: 3, Percent: "66.7"},
		Pages: []types.PageReport{{
			URL: "https://example.com/",
			Units: []types.UnitReport{
				{
					FileName: "https://example.com/ (internal script)",
					Stat:     types.Stat{Executed: 1, Total: 2, Percent: "50.0"},
					Lines: []types.ReportLine{
						{Number: 1, Text: "first_statement;", Style: types.LineCovered},
						{Number: 2, Text: "never_ran;", Style: types.LineNeutral, BlockID: 1},
					},
				},
				{
					FileName: "https://example.com/app.js",
					External: true,
					Stat:     types.Stat{Executed: 1, Total: 1, Percent: "100.0"},
					Lines: []types.ReportLine{
						{Text: "Script from file https://example.com/app.js", Style: types.LineHeader},
						{Number: 1, Text: "from_app;", Style: types.LineCovered},
					},
				},
			},
		}},
	}
}

func TestReportModel_Navigation(t *testing.T) {
	var m tea.Model = NewReportModel(testTree())
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	view := m.View()
	if !strings.Contains(view, "first_statement;") || !strings.Contains(view, "[1/2]") {
		t.Fatalf("first unit not shown:\n%s", view)
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	view = m.View()
	if !strings.Contains(view, "from_app;") || !strings.Contains(view, "[2/2]") {
		t.Fatalf("second unit not shown:\n%s", view)
	}

	// Wraps around.
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	if _, unit := m.(ReportModel).Current(); unit == nil || unit.External {
		t.Errorf("expected wrap to the first unit, got %+v", unit)
	}

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil || m.View() != "" {
		t.Error("q should quit")
	}
}

func TestReportModel_Empty(t *testing.T) {
	m := NewReportModel(&types.ReportTree{Global: types.Stat{Percent: "0"}})
	if !strings.Contains(m.View(), "(no units)") {
		t.Errorf("empty report view:\n%s", m.View())
	}
}

func TestSummaryModel_View(t *testing.T) {
	m := NewSummaryModel(&types.Summary{
		ContextID:     "tab-1",
		GlobalPercent: "62.5",
		CommandCount:  16,
		PerUnit: []types.FileStat{
			{FileName: "app.js", ExecutedCount: 10, CommandCount: 16, Percent: "62.5", Tracked: true},
			{FileName: "broken.js", Tracked: false},
		},
	})
	view := m.View()
	for _, want := range []string{"tab-1", "62.5", "app.js", "not instrumented", "1/2"} {
		if !strings.Contains(view, want) {
			t.Errorf("summary view missing %q:\n%s", want, view)
		}
	}
}
