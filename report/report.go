// Package report turns aggregated coverage into renderable views: the full
// annotated report tree and the lightweight summary shown by status
// displays.
package report

import (
	"fmt"
	"strconv"

	"github.com/pithecene-io/scriptcover/probe"
	"github.com/pithecene-io/scriptcover/types"
)

// ComputePercent returns 100*executed/total with one decimal.
// A zero total yields "0".
func ComputePercent(executed, total int) string {
	if total <= 0 {
		return "0"
	}
	return strconv.FormatFloat(float64(executed)*100/float64(total), 'f', 1, 64)
}

// NewStat builds a Stat with its percentage.
func NewStat(executed, total int) types.Stat {
	return types.Stat{Executed: executed, Total: total, Percent: ComputePercent(executed, total)}
}

// walk is the outcome of the coloring walk over one unit.
type walk struct {
	executed int
	total    int
	lines    []types.ReportLine
	problems []string
}

// walkUnit colors the command table of u.
//
// A command is covered while every enclosing block executed. Entering a
// block with a zero count suppresses marking until the end marker of that
// same block; blocks opened inside a suppressed region do not move the
// suppression point.
func walkUnit(u *types.Unit, withLines bool) walk {
	var w walk
	if u == nil {
		return w
	}

	last := u.Counter
	if last > len(u.Commands)-1 {
		last = len(u.Commands) - 1
	}

	stack := probe.NewBlockStack(0)
	marking := true
	suppressing := -1

	for k := 1; k <= last; k++ {
		command := probe.Unescape(u.Commands[k])
		m := probe.ParseMarker(command)

		switch m.Kind {
		case probe.MarkerExtFile:
			if withLines {
				w.lines = append(w.lines, types.ReportLine{
					Text:  "Script from file " + m.Src,
					Style: types.LineHeader,
				})
			}

		case probe.MarkerBegin:
			if err := stack.Push(m.ID); err != nil {
				w.problems = append(w.problems, fmt.Sprintf("command %d: %v", k, err))
				return w
			}
			if marking && u.Executions(m.ID) == 0 {
				marking = false
				suppressing = m.ID
			}

		case probe.MarkerEnd:
			if res := stack.CheckedPop(m.ID); !res.OK() {
				w.problems = append(w.problems, popProblem(k, res))
			}
			if !marking && m.ID == suppressing {
				marking = true
				suppressing = -1
			}

		default:
			w.total++
			style := types.LineNeutral
			if marking {
				w.executed++
				style = types.LineCovered
			}
			if withLines {
				top, _ := stack.Top()
				w.lines = append(w.lines, types.ReportLine{
					Number:  w.total,
					Text:    command,
					Style:   style,
					Execs:   u.Executions(top),
					BlockID: top,
				})
			}
		}
	}

	if top, open := stack.Top(); open {
		w.problems = append(w.problems, fmt.Sprintf("%d block(s) left open, innermost %d", stack.Len(), top))
	}
	return w
}

func popProblem(k int, res probe.PopResult) string {
	if res.Status == probe.PopEmpty {
		return fmt.Sprintf("command %d: end of block %d with no block open", k, res.Expected)
	}
	return fmt.Sprintf("command %d: end of block %d while block %d is open", k, res.Expected, res.Got)
}

// Build constructs the report tree for cov. A nil cov yields an empty tree.
func Build(cov *types.AggregatedCoverage) *types.ReportTree {
	tree := &types.ReportTree{Pages: []types.PageReport{}}
	if cov == nil {
		tree.Global = NewStat(0, 0)
		return tree
	}
	tree.ContextID = cov.ContextID

	var globalExec, globalTotal int
	for _, page := range cov.Pages {
		pr := types.PageReport{URL: page.URL, Units: make([]types.UnitReport, 0, len(page.ScriptObjects))}
		var pageExec, pageTotal int
		for _, u := range page.ScriptObjects {
			w := walkUnit(u, true)
			pageExec += w.executed
			pageTotal += w.total
			pr.Units = append(pr.Units, types.UnitReport{
				FileName: u.FileName(),
				External: u.External,
				Stat:     NewStat(w.executed, w.total),
				Lines:    w.lines,
				Problems: w.problems,
				Error:    u.Error,
			})
		}
		pr.Stat = NewStat(pageExec, pageTotal)
		globalExec += pageExec
		globalTotal += pageTotal
		tree.Pages = append(tree.Pages, pr)
	}
	tree.Global = NewStat(globalExec, globalTotal)
	return tree
}

// Global returns the context-wide stat without building lines.
func Global(cov *types.AggregatedCoverage) types.Stat {
	if cov == nil {
		return NewStat(0, 0)
	}
	var executed, total int
	for _, page := range cov.Pages {
		for _, u := range page.ScriptObjects {
			w := walkUnit(u, false)
			executed += w.executed
			total += w.total
		}
	}
	return NewStat(executed, total)
}
