// Package cmd provides CLI commands for the scriptcover binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml, text.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml, text",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for select read-only commands (report, summary).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (report, summary only)",
	}
)

// Flags selecting and tuning the coverage store.
var (
	// ConfigFlag points at a scriptcover.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a scriptcover.yaml config file",
		EnvVars: []string{"SCRIPTCOVER_CONFIG"},
	}

	StoreFlag = &cli.StringFlag{
		Name:  "store",
		Usage: "Coverage store backend: memory, badger, lode",
	}

	StorePathFlag = &cli.StringFlag{
		Name:  "store-path",
		Usage: "Store location (badger: directory, lode: directory or s3://bucket/prefix)",
	}

	DatasetFlag = &cli.StringFlag{
		Name:  "dataset",
		Usage: "Lode dataset name",
	}

	PolicyFlag = &cli.StringFlag{
		Name:  "policy",
		Usage: "Ingestion policy: strict or buffered",
	}

	FlushCountFlag = &cli.IntFlag{
		Name:  "flush-count",
		Usage: "Saves buffered before a flush (buffered policy)",
	}
)

// ContextFlag names the execution context coverage is kept for.
var ContextFlag = &cli.StringFlag{
	Name:    "context",
	Aliases: []string{"C"},
	Usage:   "Execution context ID",
}

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// StoreFlags returns the flags every command opening the store accepts.
func StoreFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		StoreFlag,
		StorePathFlag,
		DatasetFlag,
		PolicyFlag,
		FlushCountFlag,
	}
}

// withFlags concatenates flag groups.
func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
