package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/scriptcover/aggregate"
	"github.com/pithecene-io/scriptcover/cli/render"
	"github.com/pithecene-io/scriptcover/lode"
	"github.com/pithecene-io/scriptcover/report"
	"github.com/pithecene-io/scriptcover/runtime"
	"github.com/pithecene-io/scriptcover/types"
)

// ContextEntry is one row of the contexts listing.
type ContextEntry struct {
	ContextID   string `json:"context_id"`
	Pages       int    `json:"pages"`
	Submissions int64  `json:"submissions"`
	Percent     string `json:"percent"`
	UpdatedAt   string `json:"updated_at"`
}

// ContextsCommand returns the contexts command.
func ContextsCommand() *cli.Command {
	return &cli.Command{
		Name:  "contexts",
		Usage: "List the contexts with stored coverage",
		Flags: withFlags(StoreFlags(), ReadOnlyFlags()),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for contexts command", 1)
			}
			s, err := openSession(c, "contexts", "")
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if err := s.requirePersistent("contexts"); err != nil {
				return err
			}

			ids, err := s.agg.Contexts(c.Context)
			if err != nil {
				return err
			}
			entries := make([]ContextEntry, 0, len(ids))
			for _, id := range ids {
				cov, err := s.agg.Coverage(c.Context, id)
				if err != nil {
					return err
				}
				entries = append(entries, ContextEntry{
					ContextID:   id,
					Pages:       len(cov.Pages),
					Submissions: cov.Submissions,
					Percent:     report.Global(cov).Percent,
					UpdatedAt:   cov.UpdatedAt,
				})
			}
			return r.Render(entries)
		},
	}
}

// ForgetCommand returns the forget command.
func ForgetCommand() *cli.Command {
	return &cli.Command{
		Name:      "forget",
		Usage:     "Drop the stored coverage of a context",
		ArgsUsage: "<context-id>",
		Flags:     StoreFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("forget requires exactly one context id", 1)
			}
			s, err := openSession(c, "forget", "")
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if err := s.requirePersistent("forget"); err != nil {
				return err
			}

			host, err := runtime.NewHost(runtime.HostConfig{Aggregator: s.agg, Logger: s.logger, Collector: s.collector})
			if err != nil {
				return err
			}
			id := c.Args().First()
			if _, err := host.Handle(c.Context, &types.CloseContextRequest{ContextID: id}); err != nil {
				if errors.Is(err, aggregate.ErrContextNotFound) {
					return cli.Exit(fmt.Sprintf("context not found: %s", id), 1)
				}
				return err
			}
			return s.policy.Flush(c.Context)
		},
	}
}

// StatsCommand returns the stats command, which shows the metrics record
// the last run wrote to the lode dataset.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show the latest recorded pipeline metrics (lode store)",
		Flags: withFlags(StoreFlags(), ReadOnlyFlags()),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for stats command", 1)
			}
			s, err := openSession(c, "stats", "")
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if s.lode == nil {
				return cli.Exit("stats reads metrics records; select the lode store (--store lode)", 1)
			}
			rec, err := s.lode.LatestMetrics(c.Context)
			if err != nil {
				if errors.Is(err, lode.ErrNoMetricsFound) {
					return cli.Exit("no metrics recorded yet", 1)
				}
				return err
			}
			return r.Render(rec)
		},
	}
}
