package types

// LineStyle is the rendering class of one report line.
type LineStyle string

const (
	// LineCovered is a command that executed.
	LineCovered LineStyle = "covered"
	// LineNeutral is a command that never executed.
	LineNeutral LineStyle = "neutral"
	// LineHeader announces the file an external unit came from.
	LineHeader LineStyle = "header"
)

// Stat is a command counter pair with its display percentage.
type Stat struct {
	Executed int    `json:"executed" msgpack:"executed" yaml:"executed"`
	Total    int    `json:"total" msgpack:"total" yaml:"total"`
	Percent  string `json:"percent" msgpack:"percent" yaml:"percent"`
}

// ReportLine is one command of a unit as shown in a report.
type ReportLine struct {
	// Number is the command index within the unit.
	Number int       `json:"number" msgpack:"number" yaml:"number"`
	Text   string    `json:"text" msgpack:"text" yaml:"text"`
	Style  LineStyle `json:"style" msgpack:"style" yaml:"style"`
	// Execs is the count of the innermost open block, 0 at top level.
	Execs int64 `json:"execs" msgpack:"execs" yaml:"execs"`
	// BlockID is the innermost open block, 0 at top level.
	BlockID int `json:"block_id" msgpack:"block_id" yaml:"block_id"`
}

// UnitReport is the annotated command table of one unit.
type UnitReport struct {
	FileName string       `json:"file_name" msgpack:"file_name" yaml:"file_name"`
	External bool         `json:"external" msgpack:"external" yaml:"external"`
	Stat     Stat         `json:"stat" msgpack:"stat" yaml:"stat"`
	Lines    []ReportLine `json:"lines" msgpack:"lines" yaml:"lines"`
	// Problems lists marker inconsistencies found while walking.
	Problems []string `json:"problems,omitempty" msgpack:"problems,omitempty" yaml:"problems,omitempty"`
	// Error is copied from a flagged unit.
	Error string `json:"error,omitempty" msgpack:"error,omitempty" yaml:"error,omitempty"`
}

// PageReport groups the units of one document.
type PageReport struct {
	URL   string       `json:"url" msgpack:"url" yaml:"url"`
	Stat  Stat         `json:"stat" msgpack:"stat" yaml:"stat"`
	Units []UnitReport `json:"units" msgpack:"units" yaml:"units"`
}

// ReportTree is the renderable coverage report of one context.
type ReportTree struct {
	ContextID string       `json:"context_id" msgpack:"context_id" yaml:"context_id"`
	Global    Stat         `json:"global" msgpack:"global" yaml:"global"`
	Pages     []PageReport `json:"pages" msgpack:"pages" yaml:"pages"`
}

// FileStat is the per-unit row of a summary.
type FileStat struct {
	FileName      string `json:"fileName" msgpack:"fileName" yaml:"file_name"`
	ExecutedCount int    `json:"executedCount" msgpack:"executedCount" yaml:"executed_count"`
	CommandCount  int    `json:"commandCount" msgpack:"commandCount" yaml:"command_count"`
	Percent       string `json:"percent" msgpack:"percent" yaml:"percent"`
	// Tracked is false for units that were flagged and never instrumented.
	Tracked bool `json:"tracked" msgpack:"tracked" yaml:"tracked"`
}

// Summary is the lightweight status view of one context.
type Summary struct {
	ContextID     string     `json:"contextId" msgpack:"contextId" yaml:"context_id"`
	GlobalPercent string     `json:"globalPercent" msgpack:"globalPercent" yaml:"global_percent"`
	CommandCount  int        `json:"commandCount" msgpack:"commandCount" yaml:"command_count"`
	PerUnit       []FileStat `json:"perUnit" msgpack:"perUnit" yaml:"per_unit"`
}
