package report

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/scriptcover/probe"
	"github.com/pithecene-io/scriptcover/types"
)

func TestSummarize(t *testing.T) {
	inline := unitWithCommands(types.InlineOrigin("http://example.test/"), false, 1, []int64{2},
		"a", probe.BeginMarker(1), "b", probe.EndMarker(1))
	external := unitWithCommands("http://cdn.test/lib.js", true, 1, []int64{0},
		probe.ExtFileMarker("http://cdn.test/lib.js"), probe.BeginMarker(1), "c", probe.EndMarker(1))
	flagged := types.NewUnit("http://cdn.test/gone.js", true, 2)
	flagged.Error = "fetch failed"

	s := Summarize(coverage(inline, external, flagged))
	assert.Equal(t, "ctx-1", s.ContextID)
	assert.Equal(t, "66.7", s.GlobalPercent)
	assert.Equal(t, 3, s.CommandCount)
	require.Len(t, s.PerUnit, 3)
	assert.Equal(t, types.FileStat{FileName: "http://example.test/", ExecutedCount: 2, CommandCount: 2, Percent: "100.0", Tracked: true}, s.PerUnit[0])
	assert.Equal(t, types.FileStat{FileName: "http://cdn.test/lib.js", ExecutedCount: 0, CommandCount: 1, Percent: "0.0", Tracked: true}, s.PerUnit[1])
	assert.Equal(t, types.FileStat{FileName: "http://cdn.test/gone.js", Percent: "0", Tracked: false}, s.PerUnit[2])
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(types.NewAggregatedCoverage("ctx"))
	assert.Equal(t, "0", s.GlobalPercent)
	assert.Empty(t, s.PerUnit)
	assert.Equal(t, "0", Summarize(nil).GlobalPercent)
}

func TestShortenFileName(t *testing.T) {
	short := "http://example.test/app.js"
	assert.Equal(t, short, ShortenFileName(short))

	exact := strings.Repeat("a", MaxFileNameLen)
	assert.Equal(t, exact, ShortenFileName(exact))

	long := "http://example.test/" + strings.Repeat("x", 40) + "/bundle.min.js"
	got := ShortenFileName(long)
	assert.Len(t, got, 50)
	assert.True(t, strings.HasPrefix(got, long[:23]))
	assert.True(t, strings.HasSuffix(got, "..."+long[len(long)-24:]))

	wide := "http://example.test/" + strings.Repeat("ü", 30) + "/страница.js"
	got = ShortenFileName(wide)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MaxFileNameLen, utf8.RuneCountInString(got))
	assert.True(t, strings.HasPrefix(got, "http://example.test/üüü..."))
	assert.True(t, strings.HasSuffix(got, "üüüüüüüüüü/страница.js"))

	fits := strings.Repeat("é", MaxFileNameLen)
	assert.Equal(t, fits, ShortenFileName(fits), "counted in runes, not bytes")
}

func TestPercentColor(t *testing.T) {
	assert.Equal(t, ColorGreen, PercentColor("50.1"))
	assert.Equal(t, ColorRed, PercentColor("50.0"))
	assert.Equal(t, ColorRed, PercentColor("0"))
	assert.Equal(t, ColorRed, PercentColor("bogus"))
}

func TestTracker_Changed(t *testing.T) {
	var tr Tracker
	assert.False(t, tr.Changed(&types.Summary{GlobalPercent: "0"}), "nothing recorded yet")
	assert.True(t, tr.Changed(&types.Summary{GlobalPercent: "0", CommandCount: 4}), "command total moved")
	assert.False(t, tr.Changed(&types.Summary{GlobalPercent: "0", CommandCount: 4}))
	assert.True(t, tr.Changed(&types.Summary{GlobalPercent: "25.0", CommandCount: 4}))
	assert.False(t, tr.Changed(nil))
}
