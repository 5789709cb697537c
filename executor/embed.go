// Package executor runs instrumented pages in an embedded JavaScript VM.
//
// A Page is an execution context: it registers the page's units, executes
// their instrumented code, runs driver code that exercises the page, and
// answers "collect now" with a coverage snapshot. Pages that need a real
// browser are executed by an external process instead (see runtime).
package executor

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"

	"github.com/pithecene-io/scriptcover/types"
)

// prelude provides the browser globals instrumented code relies on.
//
//go:embed bundle/prelude.js
var prelude string

// EmbeddedVersion returns the version of the embedded prelude.
func EmbeddedVersion() string {
	return types.Version
}

// EmbeddedSize returns the size of the embedded prelude in bytes.
func EmbeddedSize() int {
	return len(prelude)
}

// EmbeddedChecksum returns the SHA256 checksum of the embedded prelude.
func EmbeddedChecksum() string {
	hash := sha256.Sum256([]byte(prelude))
	return hex.EncodeToString(hash[:])
}
