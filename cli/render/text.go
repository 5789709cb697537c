package render

import (
	"fmt"
	"io"

	"github.com/pithecene-io/scriptcover/report"
	"github.com/pithecene-io/scriptcover/types"
)

// ANSI colors of the text format.
const (
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
	ansiGray  = "\x1b[90m"
	ansiBold  = "\x1b[1m"
	ansiReset = "\x1b[0m"
)

// renderText writes reports and summaries as annotated listings. Other
// values fall back to the table layout.
func (r *Renderer) renderText(data any) error {
	switch v := data.(type) {
	case *types.ReportTree:
		return r.writeReport(v)
	case *types.Summary:
		return r.writeSummary(v)
	default:
		return r.renderTable(data)
	}
}

func (r *Renderer) paint(color, s string) string {
	if r.noColor || color == "" {
		return s
	}
	return color + s + ansiReset
}

func (r *Renderer) percent(p string) string {
	color := ansiRed
	if report.PercentColor(p) == report.ColorGreen {
		color = ansiGreen
	}
	return r.paint(color, p+"%")
}

func (r *Renderer) writeReport(tree *types.ReportTree) error {
	ew := &errWriter{w: r.out}
	ew.printf("%s %s (%d/%d commands)\n",
		r.paint(ansiBold, "Coverage "+tree.ContextID), r.percent(tree.Global.Percent),
		tree.Global.Executed, tree.Global.Total)

	for _, page := range tree.Pages {
		ew.printf("\n%s %s\n", r.paint(ansiBold, page.URL), r.percent(page.Stat.Percent))
		for _, unit := range page.Units {
			ew.printf("\n  %s %s (%d/%d)\n", report.ShortenFileName(unit.FileName),
				r.percent(unit.Stat.Percent), unit.Stat.Executed, unit.Stat.Total)
			if unit.Error != "" {
				ew.printf("    %s\n", r.paint(ansiRed, "not instrumented: "+unit.Error))
			}
			for _, p := range unit.Problems {
				ew.printf("    %s\n", r.paint(ansiRed, "problem: "+p))
			}
			for _, line := range unit.Lines {
				switch line.Style {
				case types.LineHeader:
					ew.printf("    %s\n", r.paint(ansiBold, line.Text))
				case types.LineCovered:
					ew.printf("  %5d %s\n", line.Number, r.paint(ansiGreen, line.Text))
				default:
					ew.printf("  %5d %s\n", line.Number, r.paint(ansiGray, line.Text))
				}
			}
		}
	}
	return ew.err
}

func (r *Renderer) writeSummary(s *types.Summary) error {
	ew := &errWriter{w: r.out}
	ew.printf("%s %s of %d commands\n", r.paint(ansiBold, "Coverage "+s.ContextID),
		r.percent(s.GlobalPercent), s.CommandCount)
	for _, f := range s.PerUnit {
		name := report.ShortenFileName(f.FileName)
		if !f.Tracked {
			ew.printf("  %-52s %s\n", name, r.paint(ansiRed, "not instrumented"))
			continue
		}
		ew.printf("  %-52s %s %s\n", name, r.percent(f.Percent),
			r.paint(ansiGray, fmt.Sprintf("%d/%d", f.ExecutedCount, f.CommandCount)))
	}
	return ew.err
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

