package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/scriptcover/cli/render"
	"github.com/pithecene-io/scriptcover/executor"
	"github.com/pithecene-io/scriptcover/types"
)

// VersionResponse is the response for the version command.
// Reports the canonical project version (lockstep across all components).
type VersionResponse struct {
	Version         string `json:"version"`
	ContractVersion string `json:"contract_version"`
	Prelude         string `json:"prelude"`
	PreludeChecksum string `json:"prelude_checksum"`
	Commit          string `json:"commit"`
}

// VersionCommand returns the version command.
// All components share a single version (lockstep versioning).
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		// TUI not supported for version command
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", 1)
		}

		resp := VersionResponse{
			Version:         types.Version,
			ContractVersion: types.ContractVersion,
			Prelude:         executor.EmbeddedVersion(),
			PreludeChecksum: executor.EmbeddedChecksum(),
			Commit:          commit,
		}

		return r.Render(resp)
	}
}
