// Package instrument inserts block-level execution probes into JavaScript.
//
// Source is parsed with tree-sitter, re-serialized one statement per line
// with placeholder lines around every block, and the placeholders are then
// rewritten into marker comments and counter statements. The statements
// (and markers) are recorded in the unit's command table so reports can map
// execution counts back to source.
package instrument

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/probe"
	"github.com/pithecene-io/scriptcover/types"
)

// scriptCloseRe matches a closing script tag, which would end the
// enclosing <script> element early.
var scriptCloseRe = regexp.MustCompile(`(?i)</script`)

// Options configures an Instrumenter.
type Options struct {
	// MaxDepth bounds block nesting. Zero selects probe.DefaultMaxDepth.
	MaxDepth int
	// Logger receives per-unit diagnostics. May be nil.
	Logger *log.Logger
	// Collector receives counters. May be nil.
	Collector *metrics.Collector
}

// Instrumenter rewrites units. It holds no per-unit state and is safe for
// concurrent use.
type Instrumenter struct {
	maxDepth  int
	logger    *log.Logger
	collector *metrics.Collector
}

// New creates an Instrumenter.
func New(opts Options) *Instrumenter {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = probe.DefaultMaxDepth
	}
	return &Instrumenter{maxDepth: maxDepth, logger: opts.Logger, collector: opts.Collector}
}

// Normalize parses src and returns its normalized lines, placeholders
// included. Exposed for inspection tooling.
func (in *Instrumenter) Normalize(ctx context.Context, origin, src string) ([]string, error) {
	src = stripHTMLComment(src)
	data := []byte(src)
	tree, err := parseSource(ctx, origin, data)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	return normalize(tree.RootNode(), data, in.maxDepth)
}

// Instrument populates the derived fields of unit from its RawContent.
// index is the unit's slot in window.scriptObjects. On error the unit is
// left untouched.
func (in *Instrumenter) Instrument(ctx context.Context, unit *types.Unit, index int) (*types.Unit, error) {
	if unit.Empty && unit.RawContent == "" && unit.External {
		return unit, fmt.Errorf("%w: %s", ErrNoContent, unit.Src)
	}

	lines, err := in.Normalize(ctx, unit.Src, unit.RawContent)
	if err != nil {
		return unit, err
	}

	res, err := in.walk(unit, index, lines)
	if err != nil {
		return unit, err
	}

	unit.Instrumented = res.instrumented
	unit.Commands = res.commands
	unit.Counter = len(res.commands) - 1
	unit.BlockCounter = res.blocks
	unit.ExecutedBlock = make([]int64, res.blocks+1)
	unit.Error = ""

	if probe.StatementCount(unit.Commands) == 0 {
		unit.Empty = true
		in.collector.IncEmptyUnit()
		in.logger.Warn("unit has no statements", map[string]any{
			"src":   unit.Src,
			"index": index,
		})
	}
	in.collector.IncUnitInstrumented()
	return unit, nil
}

type walkResult struct {
	instrumented string
	commands     []string
	blocks       int
}

// walk rewrites placeholder lines and builds the command table.
func (in *Instrumenter) walk(unit *types.Unit, index int, lines []string) (*walkResult, error) {
	commands := []string{""}
	out := make([]string, 0, len(lines)+1)

	if unit.External {
		marker := probe.ExtFileMarker(unit.Src)
		out = append(out, marker)
		commands = append(commands, probe.Escape(marker))
	}

	stack := probe.NewBlockStack(in.maxDepth)
	blocks := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]

		kind, ordinal := parsePlaceholder(trimmed)
		switch kind {
		case phBegin:
			blocks++
			if ordinal != blocks {
				return nil, &StackMismatchError{Origin: unit.Src, Line: i + 1, Expected: blocks, Got: ordinal,
					Detail: fmt.Sprintf("block %d opened out of order, expected %d", ordinal, blocks)}
			}
			if err := stack.Push(blocks); err != nil {
				return nil, err
			}
			text := indent + probe.BeginMarker(blocks)
			out = append(out, text)
			commands = append(commands, probe.Escape(text))

		case phCounter:
			top, ok := stack.Top()
			if !ok {
				return nil, &StackMismatchError{Origin: unit.Src, Line: i + 1, Detail: "counter outside any block"}
			}
			out = append(out, indent+probe.CounterStatement(index, top))

		case phEnd:
			if res := stack.CheckedPop(ordinal); !res.OK() {
				return nil, &StackMismatchError{Origin: unit.Src, Line: i + 1, Expected: res.Expected, Got: res.Got}
			}
			text := indent + probe.EndMarker(ordinal)
			out = append(out, text)
			commands = append(commands, probe.Escape(text))

		default:
			commands = append(commands, probe.Escape(line))
			out = append(out, scriptCloseRe.ReplaceAllString(line, `<\/script`))
		}
	}

	if top, open := stack.Top(); open {
		return nil, &StackMismatchError{Origin: unit.Src, Line: len(lines), Expected: top,
			Detail: fmt.Sprintf("%d block(s) left open, innermost %d", stack.Len(), top)}
	}

	text := strings.Join(out, "\n")
	if text != "" {
		text += "\n"
	}
	return &walkResult{instrumented: text, commands: commands, blocks: blocks}, nil
}

// InstrumentAll instruments every unit in order, using its position in
// units as the registry index. A unit that fails is flagged and keeps its
// slot with an empty command table; its siblings are unaffected.
func (in *Instrumenter) InstrumentAll(ctx context.Context, units []*types.Unit) []UnitError {
	var failed []UnitError
	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(units); j++ {
				failed = append(failed, in.flag(units[j], j, err))
			}
			return failed
		}
		if unit.Error != "" {
			// Flagged upstream (e.g. fetch failure).
			resetTables(unit)
			in.collector.IncUnitFlagged()
			failed = append(failed, UnitError{Index: i, Origin: unit.Src, Err: errors.New(unit.Error)})
			continue
		}
		if _, err := in.Instrument(ctx, unit, i); err != nil {
			failed = append(failed, in.flag(unit, i, err))
		}
	}
	return failed
}

func (in *Instrumenter) flag(unit *types.Unit, index int, err error) UnitError {
	resetTables(unit)
	unit.Error = err.Error()

	var (
		parseErr *ParseError
		stackErr *StackMismatchError
	)
	switch {
	case errors.As(err, &parseErr):
		in.collector.IncParseError()
		in.logger.Warn("unit excluded: parse error", map[string]any{
			"src": unit.Src, "index": index, "line": parseErr.Line, "column": parseErr.Column, "error": parseErr.Message,
		})
	case errors.As(err, &stackErr):
		in.collector.IncStackMismatch()
		in.logger.Error("unit excluded: block stack mismatch", map[string]any{
			"src": unit.Src, "index": index, "error": stackErr.Error(),
		})
	default:
		in.logger.Warn("unit excluded", map[string]any{"src": unit.Src, "index": index, "error": err.Error()})
	}
	in.collector.IncUnitFlagged()
	return UnitError{Index: index, Origin: unit.Src, Err: err}
}

func resetTables(unit *types.Unit) {
	unit.Instrumented = ""
	unit.Commands = []string{""}
	unit.ExecutedBlock = []int64{0}
	unit.Counter = 0
	unit.BlockCounter = 0
}

// Accessory returns the script that registers every unit in
// window.scriptObjects. It must run before any instrumented unit.
func Accessory(units []*types.Unit) (string, error) {
	var b strings.Builder
	b.WriteString("window.scriptObjects = window.scriptObjects || [];\n")
	for i, u := range units {
		data, err := json.Marshal(u)
		if err != nil {
			return "", fmt.Errorf("encode unit %d: %w", i, err)
		}
		fmt.Fprintf(&b, "window.scriptObjects[%d] = %s;\n", i, data)
	}
	return b.String(), nil
}
