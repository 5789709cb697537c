// Package main provides the scriptcover-host entrypoint: a standalone
// coverage host that execution contexts reach over stdin and stdout.
//
// Usage:
//
//	scriptcover-host [--store badger --store-path <dir>] [--context <id>]...
//
// Exit codes:
//   - 0: input closed or interrupted
//   - 2: stream failure
//   - 3: store failure
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/scriptcover/cli/cmd"
	"github.com/pithecene-io/scriptcover/types"
)

const exitStreamFailure = 2

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit
		os.Exit(exitStreamFailure)
	}
}

func newApp() *cli.App {
	serve := cmd.ServeCommand()
	return &cli.App{
		Name:           "scriptcover-host",
		Usage:          "Coverage host speaking length-prefixed frames on stdin and stdout",
		Version:        types.Version,
		Flags:          serve.Flags,
		Action:         serve.Action,
		ExitErrHandler: exitErrHandler,
	}
}

// exitErrHandler handles errors from the CLI, respecting cli.ExitCoder.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	// Unexpected error: stdout is the frame stream, so report on stderr.
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitStreamFailure)
}
