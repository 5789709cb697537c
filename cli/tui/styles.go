// Package tui provides Bubble Tea views of coverage data.
//
// TUI mode is opt-in (--tui) and read-only. It renders the same payloads
// as the non-TUI renderers.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/scriptcover/report"
	"github.com/pithecene-io/scriptcover/types"
)

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(16)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// HeaderLineStyle marks the start of an external file's commands.
	HeaderLineStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlightColor)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// StatBoxStyle for stat display boxes.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)

	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Align(lipgloss.Center)
)

// PercentStyle colors a percentage like the status display does.
func PercentStyle(percent string) lipgloss.Style {
	if report.PercentColor(percent) == report.ColorGreen {
		return SuccessStyle
	}
	return ErrorStyle
}

// LineStyle returns the style of a report line.
func LineStyle(style types.LineStyle) lipgloss.Style {
	switch style {
	case types.LineCovered:
		return SuccessStyle
	case types.LineHeader:
		return HeaderLineStyle
	default:
		return MutedStyle
	}
}
