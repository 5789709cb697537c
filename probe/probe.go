// Package probe defines the data contract between instrumented code and
// the coverage tooling: marker comments, the counter statement every block
// executes, the escaping applied to command text, and the block stack used
// to validate marker nesting.
package probe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Marker comment prefixes written into instrumented code and command tables.
const (
	BeginPrefix    = "//COVER_BLOCK_BEGIN:"
	EndPrefix      = "//COVER_BLOCK_END:"
	ExtFilePrefix  = "//COVER_FROM_EXT_FILE:"
	GlobalRegistry = "window.scriptObjects"
)

// MarkerKind classifies a command line.
type MarkerKind int

const (
	// MarkerNone is an ordinary statement.
	MarkerNone MarkerKind = iota
	// MarkerBegin opens a block.
	MarkerBegin
	// MarkerEnd closes a block.
	MarkerEnd
	// MarkerExtFile records the origin of an external unit.
	MarkerExtFile
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerBegin:
		return "begin"
	case MarkerEnd:
		return "end"
	case MarkerExtFile:
		return "ext_file"
	default:
		return "none"
	}
}

// Marker is a parsed command line.
type Marker struct {
	Kind MarkerKind
	// ID is the block id of begin/end markers.
	ID int
	// Src is the origin carried by an ext-file marker.
	Src string
}

var blockMarkerRe = regexp.MustCompile(`^\s*//COVER_BLOCK_(BEGIN|END):(\d+)\s*$`)

// BeginMarker returns the comment opening block id.
func BeginMarker(id int) string { return BeginPrefix + strconv.Itoa(id) }

// EndMarker returns the comment closing block id.
func EndMarker(id int) string { return EndPrefix + strconv.Itoa(id) }

// ExtFileMarker returns the provenance comment for an external unit.
// Line breaks in src are replaced so the marker stays on one line.
func ExtFileMarker(src string) string {
	src = strings.NewReplacer("\r", " ", "\n", " ").Replace(src)
	return ExtFilePrefix + src
}

// ParseMarker classifies an unescaped command line.
func ParseMarker(line string) Marker {
	if m := blockMarkerRe.FindStringSubmatch(line); m != nil {
		id, err := strconv.Atoi(m[2])
		if err != nil {
			return Marker{Kind: MarkerNone}
		}
		if m[1] == "BEGIN" {
			return Marker{Kind: MarkerBegin, ID: id}
		}
		return Marker{Kind: MarkerEnd, ID: id}
	}
	trimmed := strings.TrimSpace(line)
	if src, ok := strings.CutPrefix(trimmed, ExtFilePrefix); ok {
		return Marker{Kind: MarkerExtFile, Src: src}
	}
	return Marker{Kind: MarkerNone}
}

// CounterStatement returns the statement that records one execution of
// block blockID of the unit registered at unitIndex.
func CounterStatement(unitIndex, blockID int) string {
	slot := fmt.Sprintf("%s[%d].executedBlock[%d]", GlobalRegistry, unitIndex, blockID)
	return fmt.Sprintf("%s = (%s ? %s + 1 : 1);", slot, slot, slot)
}

// StatementCount returns the number of entries of an escaped command table
// that are ordinary statements. Index 0 is skipped.
func StatementCount(commands []string) int {
	n := 0
	for i := 1; i < len(commands); i++ {
		if ParseMarker(Unescape(commands[i])).Kind == MarkerNone {
			n++
		}
	}
	return n
}
