package report

import (
	"strconv"
	"unicode/utf8"

	"github.com/pithecene-io/scriptcover/types"
)

// MaxFileNameLen is the longest file name shown unshortened.
const MaxFileNameLen = 50

// Summarize produces the status view of cov: the global percentage and
// one row per unit across all pages.
func Summarize(cov *types.AggregatedCoverage) *types.Summary {
	s := &types.Summary{GlobalPercent: "0", PerUnit: []types.FileStat{}}
	if cov == nil {
		return s
	}
	s.ContextID = cov.ContextID

	var executed, total int
	for _, page := range cov.Pages {
		for _, u := range page.ScriptObjects {
			w := walkUnit(u, false)
			executed += w.executed
			total += w.total
			s.PerUnit = append(s.PerUnit, types.FileStat{
				FileName:      u.FileName(),
				ExecutedCount: w.executed,
				CommandCount:  w.total,
				Percent:       ComputePercent(w.executed, w.total),
				Tracked:       !u.Flagged(),
			})
		}
	}
	s.GlobalPercent = ComputePercent(executed, total)
	s.CommandCount = total
	return s
}

// ShortenFileName keeps the head and tail of names longer than
// MaxFileNameLen runes, so the result is MaxFileNameLen runes long.
func ShortenFileName(name string) string {
	if utf8.RuneCountInString(name) <= MaxFileNameLen {
		return name
	}
	r := []rune(name)
	return string(r[:23]) + "..." + string(r[len(r)-24:])
}

// Color is the display color of a percentage.
type Color string

const (
	ColorGreen Color = "green"
	ColorRed   Color = "red"
)

// PercentColor is green above 50 percent and red otherwise.
func PercentColor(percent string) Color {
	v, err := strconv.ParseFloat(percent, 64)
	if err == nil && v > 50 {
		return ColorGreen
	}
	return ColorRed
}

// Tracker decides when a status display needs refreshing. The zero value
// is ready to use and reports the first non-trivial summary as a change.
type Tracker struct {
	lastPercent  string
	lastCommands int
	seen         bool
}

// Changed reports whether the global percentage or the command total moved
// since the previous call, and records s as current.
func (t *Tracker) Changed(s *types.Summary) bool {
	if s == nil {
		return false
	}
	prevPercent := t.lastPercent
	if !t.seen {
		prevPercent = "0"
	}
	changed := s.GlobalPercent != prevPercent || s.CommandCount != t.lastCommands
	t.lastPercent = s.GlobalPercent
	t.lastCommands = s.CommandCount
	t.seen = true
	return changed
}
