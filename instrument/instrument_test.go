package instrument

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/probe"
	"github.com/pithecene-io/scriptcover/types"
)

const page = "http://example.test/index.html"

func inlineUnit(src string) *types.Unit {
	u := types.NewUnit(types.InlineOrigin(page), false, 0)
	u.RawContent = src
	return u
}

func unescaped(u *types.Unit) []string {
	out := make([]string, len(u.Commands))
	for i, c := range u.Commands {
		out[i] = probe.Unescape(c)
	}
	return out
}

func TestNormalize_BlockPlaceholders(t *testing.T) {
	in := New(Options{})
	lines, err := in.Normalize(t.Context(), "t.js", "var a = 1;\nif (a) {\n  a++;\n}\n")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"var a = 1;",
		"if (a) {",
		"    %COVER_BEGIN:1%",
		"    %COVER_COUNTER%",
		"    a++;",
		"    %COVER_END:1%",
		"}",
	}, lines)
}

func TestNormalize_BracelessBodiesAreWrapped(t *testing.T) {
	in := New(Options{})
	lines, err := in.Normalize(t.Context(), "t.js", "if (x) y(); else z();")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"if (x) {",
		"    %COVER_BEGIN:1%",
		"    %COVER_COUNTER%",
		"    y();",
		"    %COVER_END:1%",
		"} else {",
		"    %COVER_BEGIN:2%",
		"    %COVER_COUNTER%",
		"    z();",
		"    %COVER_END:2%",
		"}",
	}, lines)
}

func TestNormalize_ElseIfIsNotWrapped(t *testing.T) {
	in := New(Options{})
	lines, err := in.Normalize(t.Context(), "t.js", "if (a) { b(); } else if (c) { d(); }")
	require.NoError(t, err)
	assert.Contains(t, lines, "} else if (c) {")
	assert.Equal(t, 2, countPrefix(lines, "%COVER_BEGIN:"))
}

func TestNormalize_DirectiveStaysAheadOfCounter(t *testing.T) {
	in := New(Options{})
	lines, err := in.Normalize(t.Context(), "t.js", `function f() { "use strict"; return 1; }`)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"function f() {",
		"    %COVER_BEGIN:1%",
		`    "use strict";`,
		"    %COVER_COUNTER%",
		"    return 1;",
		"    %COVER_END:1%",
		"}",
	}, lines)
}

func TestNormalize_TerminatesASIStatements(t *testing.T) {
	in := New(Options{})
	lines, err := in.Normalize(t.Context(), "t.js", "a = 1\nb = 2\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"a = 1;", "b = 2;"}, lines)
}

func TestNormalize_CollapsesMultilineStatements(t *testing.T) {
	in := New(Options{})
	src := "var total = 1 +\n    2 + // two\n    3;\nvar t = `x\ny`;\n"
	lines, err := in.Normalize(t.Context(), "t.js", src)
	require.NoError(t, err)
	assert.Equal(t, []string{"var total = 1 + 2 + 3;", "var t = `x\\ny`;"}, lines)
}

// evalOut runs src in a fresh VM and returns the global out.
func evalOut(t *testing.T, src string) string {
	t.Helper()
	vm := goja.New()
	_, err := vm.RunString("var window = this;\nvar out;\n" + src)
	require.NoError(t, err)
	return vm.Get("out").String()
}

func TestInstrument_TemplateValuesSurvive(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"continuation", "out = `a\\\nb`;", "ab"},
		{"escaped backslash before break", "out = `a\\\\\nb`;", "a\\\nb"},
		{"raw break", "out = `a\nb`;", "a\nb"},
		{"continuation inside block", "if (true) {\n  out = `x${1 + 1}\\\n  y`;\n}", "x2  y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, evalOut(t, tt.src))

			u, err := New(Options{}).Instrument(t.Context(), inlineUnit(tt.src), 0)
			require.NoError(t, err)
			accessory, err := Accessory([]*types.Unit{u})
			require.NoError(t, err)
			assert.Equal(t, tt.want, evalOut(t, accessory+u.Instrumented))
		})
	}
}

func TestTemplateText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a\nb", `a\nb`},
		{"a\r\nb", `a\nb`},
		{"a\\\nb", "ab"},
		{"a\\\r\nb", "ab"},
		{"a\\\\\nb", `a\\\nb`},
		{"a\\\\\\\nb", `a\\b`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, templateText(tt.in), "%q", tt.in)
	}
}

func TestNormalize_SwitchCasesAreBlocks(t *testing.T) {
	in := New(Options{})
	lines, err := in.Normalize(t.Context(), "t.js", "switch (x) { case 1: a(); break; default: b(); }")
	require.NoError(t, err)
	assert.Equal(t, 2, countPrefix(lines, "%COVER_BEGIN:"))
	assert.Contains(t, lines, "    case 1:")
	assert.Contains(t, lines, "    default:")
}

func TestNormalize_StripsLeadingHTMLComment(t *testing.T) {
	in := New(Options{})
	lines, err := in.Normalize(t.Context(), "t.js", "<!-- hide\nvar a = 1;\n//-->\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"var a = 1;"}, lines)
}

func TestInstrument_SimpleBlock(t *testing.T) {
	in := New(Options{})
	u, err := in.Instrument(t.Context(), inlineUnit("var a = 1;\nif (a) {\n  a++;\n}\n"), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, u.BlockCounter)
	assert.Equal(t, 6, u.Counter)
	assert.Len(t, u.Commands, u.Counter+1)
	assert.Equal(t, []int64{0, 0}, u.ExecutedBlock)
	assert.Equal(t, []string{
		"",
		"var a = 1;",
		"if (a) {",
		"    //COVER_BLOCK_BEGIN:1",
		"    a++;",
		"    //COVER_BLOCK_END:1",
		"}",
	}, unescaped(u))
	assert.Equal(t, 4, probe.StatementCount(u.Commands))

	want := "var a = 1;\n" +
		"if (a) {\n" +
		"    //COVER_BLOCK_BEGIN:1\n" +
		"    " + probe.CounterStatement(0, 1) + "\n" +
		"    a++;\n" +
		"    //COVER_BLOCK_END:1\n" +
		"}\n"
	assert.Equal(t, want, u.Instrumented)
}

func TestInstrument_RoundTrip(t *testing.T) {
	src := `
function outer(n) {
  for (var i = 0; i < n; i++) {
    if (i % 2) continue;
    while (n--) { try { work(i); } catch (e) { log(e); } finally { done(); } }
  }
  var cb = function () { return [1, 2].map(x => { return x * 2; }); };
  do n++; while (n < 3)
  return cb;
}
class Shape { area() { return 0; } }
`
	in := New(Options{})
	lines, err := in.Normalize(t.Context(), "t.js", src)
	require.NoError(t, err)

	u, err := in.Instrument(t.Context(), inlineUnit(src), 3)
	require.NoError(t, err)

	nonMarker := 0
	for _, l := range lines {
		if kind, _ := parsePlaceholder(strings.TrimSpace(l)); kind == notPlaceholder {
			nonMarker++
		}
	}
	assert.Equal(t, nonMarker, probe.StatementCount(u.Commands))
	assert.Len(t, u.Commands, u.Counter+1)
	require.Positive(t, u.BlockCounter)

	begins := regexp.MustCompile(`//COVER_BLOCK_BEGIN:(\d+)\n`).FindAllStringSubmatch(u.Instrumented, -1)
	ends := regexp.MustCompile(`//COVER_BLOCK_END:(\d+)\n`).FindAllStringSubmatch(u.Instrumented, -1)
	require.Len(t, begins, u.BlockCounter)
	require.Len(t, ends, u.BlockCounter)

	seenBegin := map[string]int{}
	seenEnd := map[string]int{}
	for i := range begins {
		seenBegin[begins[i][1]]++
		seenEnd[ends[i][1]]++
	}
	for id := 1; id <= u.BlockCounter; id++ {
		key := strconv.Itoa(id)
		assert.Equal(t, 1, seenBegin[key], "begin marker for block %d", id)
		assert.Equal(t, 1, seenEnd[key], "end marker for block %d", id)
	}
	assert.Contains(t, u.Instrumented, "window.scriptObjects[3].executedBlock[1]")
}

func TestInstrument_ExternalProvenance(t *testing.T) {
	u := types.NewUnit("http://example.test/lib.js", true, 1)
	u.RawContent = "lib();"

	_, err := New(Options{}).Instrument(t.Context(), u, 0)
	require.NoError(t, err)

	cmds := unescaped(u)
	assert.Equal(t, "//COVER_FROM_EXT_FILE:http://example.test/lib.js", cmds[1])
	assert.True(t, strings.HasPrefix(u.Instrumented, "//COVER_FROM_EXT_FILE:http://example.test/lib.js\n"))
	assert.Equal(t, 1, probe.StatementCount(u.Commands))
}

func TestInstrument_EscapesScriptClose(t *testing.T) {
	u, err := New(Options{}).Instrument(t.Context(), inlineUnit(`var s = "</script>";`), 0)
	require.NoError(t, err)
	assert.Contains(t, u.Instrumented, `"<\/script>"`)
	assert.NotContains(t, u.Instrumented, "</script>")
	assert.Equal(t, `var s = "</script>";`, unescaped(u)[1])
}

func TestInstrument_ParseErrorIsNotMasked(t *testing.T) {
	u := inlineUnit("var a = 1;\nif (a {\n")
	_, err := New(Options{}).Instrument(t.Context(), u, 0)
	require.ErrorIs(t, err, ErrParse)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
	assert.Equal(t, "", u.Instrumented)
}

func TestInstrument_ZeroStatementsFlaggedNotFatal(t *testing.T) {
	c := metrics.NewCollector("strict", "goja", "memory")
	u, err := New(Options{Collector: c}).Instrument(t.Context(), inlineUnit("// nothing here\n"), 0)
	require.NoError(t, err)
	assert.True(t, u.Empty)
	assert.Equal(t, 0, u.Counter)
	assert.Equal(t, int64(1), c.Snapshot().EmptyUnits)
}

func TestInstrument_DepthBound(t *testing.T) {
	src := strings.Repeat("if (a) {", 5) + strings.Repeat("}", 5)
	_, err := New(Options{MaxDepth: 3}).Instrument(t.Context(), inlineUnit(src), 0)
	require.ErrorIs(t, err, probe.ErrStackOverflow)
}

func TestWalk_DetectsMismatchedEnd(t *testing.T) {
	in := New(Options{})
	lines := []string{
		"%COVER_BEGIN:1%",
		"%COVER_COUNTER%",
		"%COVER_BEGIN:2%",
		"%COVER_END:1%",
	}
	_, err := in.walk(inlineUnit(""), 0, lines)
	require.ErrorIs(t, err, ErrStackMismatch)

	var serr *StackMismatchError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 1, serr.Expected)
	assert.Equal(t, 2, serr.Got)
}

func TestWalk_DetectsUnclosedBlock(t *testing.T) {
	_, err := New(Options{}).walk(inlineUnit(""), 0, []string{"%COVER_BEGIN:1%", "a();"})
	require.ErrorIs(t, err, ErrStackMismatch)
}

func TestWalk_CounterOutsideBlock(t *testing.T) {
	_, err := New(Options{}).walk(inlineUnit(""), 0, []string{"%COVER_COUNTER%"})
	require.ErrorIs(t, err, ErrStackMismatch)
}

func TestInstrumentAll_IsolatesFailures(t *testing.T) {
	c := metrics.NewCollector("strict", "goja", "memory")
	fetched := types.NewUnit("http://example.test/missing.js", true, 3)
	fetched.Empty = true
	fetched.Error = "fetch failed: 404"

	units := []*types.Unit{
		inlineUnit("a();"),
		inlineUnit("if ("),
		inlineUnit("if (b) { c(); }"),
		fetched,
	}

	failed := New(Options{Collector: c}).InstrumentAll(t.Context(), units)
	require.Len(t, failed, 2)
	assert.Equal(t, 1, failed[0].Index)
	assert.ErrorIs(t, failed[0], ErrParse)
	assert.Equal(t, 3, failed[1].Index)

	assert.NotEmpty(t, units[0].Instrumented)
	assert.NotEmpty(t, units[1].Error)
	assert.Equal(t, []string{""}, units[1].Commands)
	assert.Contains(t, units[2].Instrumented, "window.scriptObjects[2].executedBlock[1]")
	assert.Equal(t, 0, units[3].Counter)

	s := c.Snapshot()
	assert.Equal(t, int64(2), s.UnitsInstrumented)
	assert.Equal(t, int64(2), s.UnitsFlagged)
	assert.Equal(t, int64(1), s.ParseErrors)
}

func TestInstrumentAll_CanceledContextFlagsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	units := []*types.Unit{inlineUnit("a();"), inlineUnit("b();")}
	failed := New(Options{}).InstrumentAll(ctx, units)
	assert.Len(t, failed, 2)
	assert.ErrorIs(t, failed[0], context.Canceled)
}

func TestAccessory(t *testing.T) {
	u := inlineUnit("a();")
	_, err := New(Options{}).Instrument(t.Context(), u, 0)
	require.NoError(t, err)

	script, err := Accessory([]*types.Unit{u})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(script), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "window.scriptObjects = window.scriptObjects || [];", lines[0])

	const prefix = "window.scriptObjects[0] = "
	require.True(t, strings.HasPrefix(lines[1], prefix))
	var decoded types.Unit
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(lines[1], prefix), ";")), &decoded))
	assert.Equal(t, u.Commands, decoded.Commands)
	assert.Equal(t, u.Src, decoded.Src)
}

func countPrefix(lines []string, prefix string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), prefix) {
			n++
		}
	}
	return n
}
