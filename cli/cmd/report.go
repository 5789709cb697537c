package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/scriptcover/aggregate"
	"github.com/pithecene-io/scriptcover/cli/render"
	"github.com/pithecene-io/scriptcover/cli/tui"
	"github.com/pithecene-io/scriptcover/runtime"
	"github.com/pithecene-io/scriptcover/types"
)

// ReportCommand returns the report command.
func ReportCommand() *cli.Command {
	return &cli.Command{
		Name:   "report",
		Usage:  "Show the annotated coverage report of a context",
		Flags:  withFlags(StoreFlags(), []cli.Flag{requiredContextFlag()}, ReadOnlyFlags()),
		Action: readAction(tui.ViewReport, func(id string) types.Request { return &types.ShowCoverageRequest{ContextID: id} }),
	}
}

// SummaryCommand returns the summary command.
func SummaryCommand() *cli.Command {
	return &cli.Command{
		Name:   "summary",
		Usage:  "Show the coverage summary of a context",
		Flags:  withFlags(StoreFlags(), []cli.Flag{requiredContextFlag()}, ReadOnlyFlags()),
		Action: readAction(tui.ViewSummary, func(id string) types.Request { return &types.GetSummaryRequest{ContextID: id} }),
	}
}

func requiredContextFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     ContextFlag.Name,
		Aliases:  ContextFlag.Aliases,
		Usage:    ContextFlag.Usage,
		Required: true,
	}
}

// readAction answers a read request for --context from the store and
// renders the report or summary it returns.
func readAction(view string, request func(contextID string) types.Request) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		s, err := openSession(c, view, "")
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		if err := s.requirePersistent(view); err != nil {
			return err
		}

		host, err := runtime.NewHost(runtime.HostConfig{Aggregator: s.agg, Logger: s.logger, Collector: s.collector})
		if err != nil {
			return err
		}
		contextID := c.String("context")
		resp, err := host.Handle(c.Context, request(contextID))
		if err != nil {
			if errors.Is(err, aggregate.ErrContextNotFound) {
				return cli.Exit(fmt.Sprintf("context not found: %s", contextID), 1)
			}
			return err
		}

		var data any = resp.Summary
		if resp.Report != nil {
			data = resp.Report
		}
		if c.Bool("tui") {
			return r.RenderTUI(view, data)
		}
		return r.Render(data)
	}
}
