// Package types defines the wire and storage contracts shared by the
// instrumenter, the execution contexts and the aggregator.
//
//nolint:revive // types is a common Go package naming convention
package types

import "strings"

// InlineSuffix is appended to the page address to form the origin of an
// inline (non-fetched) unit.
const InlineSuffix = " (internal script)"

// InlineOrigin returns the origin sentinel for an inline unit on pageURL.
func InlineOrigin(pageURL string) string {
	return pageURL + InlineSuffix
}

// Unit is one instrumentable piece of source and, after execution, its
// per-block execution counts.
//
// The field names of the JSON form are shared with in-page probes, which
// serialize window.scriptObjects directly.
type Unit struct {
	// Src is the origin: the script URL, or InlineOrigin(page) for inline code.
	Src string `json:"src" msgpack:"src"`
	// External is true when the content was fetched from Src.
	External bool `json:"external,omitempty" msgpack:"external,omitempty"`
	// Position is the element index within the containing document.
	Position int `json:"position" msgpack:"position"`
	// RawContent is the original text. It is never serialized.
	RawContent string `json:"-" msgpack:"-"`
	// Instrumented is the rewritten source, produced once.
	Instrumented string `json:"instrumented" msgpack:"instrumented"`
	// Counter is the last used command index (len(Commands)-1).
	Counter int `json:"counter" msgpack:"counter"`
	// BlockCounter is the number of blocks; ids run 1..BlockCounter.
	BlockCounter int `json:"blockCounter" msgpack:"blockCounter"`
	// Commands holds escaped command text, 1-indexed; index 0 is "".
	Commands []string `json:"commands" msgpack:"commands"`
	// ExecutedBlock holds execution counts by block id, index 0 unused.
	ExecutedBlock []int64 `json:"executedBlock" msgpack:"executedBlock"`
	// Empty is set when no content was ever obtained for the unit.
	Empty bool `json:"empty,omitempty" msgpack:"empty,omitempty"`
	// Error describes why the unit was excluded from instrumentation.
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// NewUnit returns an empty unit with the command and block tables seeded
// with their unused index 0.
func NewUnit(src string, external bool, position int) *Unit {
	return &Unit{
		Src:           src,
		External:      external,
		Position:      position,
		Commands:      []string{""},
		ExecutedBlock: []int64{0},
	}
}

// IsInline reports whether the unit was embedded in the page.
func (u *Unit) IsInline() bool {
	return !u.External
}

// Flagged reports whether the unit was excluded from instrumentation.
func (u *Unit) Flagged() bool {
	return u.Error != "" || u.Empty
}

// FileName is the display name of the unit: the script address, or the
// page address for inline units.
func (u *Unit) FileName() string {
	if u.External {
		return u.Src
	}
	return strings.TrimSuffix(u.Src, InlineSuffix)
}

// Executions returns the count recorded for block id, 0 when absent.
func (u *Unit) Executions(id int) int64 {
	if id <= 0 || id >= len(u.ExecutedBlock) {
		return 0
	}
	return u.ExecutedBlock[id]
}

// Clone returns a deep copy of the unit.
func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}
	c := *u
	if u.Commands != nil {
		c.Commands = append([]string(nil), u.Commands...)
	}
	if u.ExecutedBlock != nil {
		c.ExecutedBlock = append([]int64(nil), u.ExecutedBlock...)
	}
	return &c
}
