package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/scriptcover/cli/render"
	"github.com/pithecene-io/scriptcover/discovery"
	"github.com/pithecene-io/scriptcover/executor"
	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/report"
	"github.com/pithecene-io/scriptcover/runtime"
)

// DefaultConcurrency is how many pages run at once.
const DefaultConcurrency = 4

// PageRun is the outcome of running one page in-process.
type PageRun struct {
	ContextID string `json:"context_id"`
	PageURL   string `json:"page_url"`
	Units     int    `json:"units"`
	Flagged   int    `json:"flagged"`
	// Thrown counts units that threw while loading.
	Thrown   int    `json:"thrown"`
	Executed int    `json:"executed"`
	Commands int    `json:"commands"`
	Percent  string `json:"percent"`
	Error    string `json:"error,omitempty"`
}

// runOptions are the per-page settings of the run command.
type runOptions struct {
	contextID  string
	pageURL    string
	driver     string
	events     []string
	timerLimit int
	timeout    time.Duration
}

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Instrument pages and execute them in-process, recording coverage",
		ArgsUsage: "<page.html>...",
		Flags: withFlags(StoreFlags(), []cli.Flag{
			ContextFlag,
			&cli.StringFlag{
				Name:  "page-url",
				Usage: "Address the page is served from (single page only)",
			},
			&cli.StringFlag{
				Name:  "drive",
				Usage: "Script evaluated in each page after load, to exercise it",
			},
			&cli.StringSliceFlag{
				Name:  "event",
				Usage: "Event dispatched after loading (repeatable)",
				Value: cli.NewStringSlice("DOMContentLoaded", "load"),
			},
			&cli.IntFlag{
				Name:  "timer-limit",
				Usage: "Maximum timer callbacks run per page",
				Value: executor.DefaultTimerLimit,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-page time limit",
				Value: time.Minute,
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Pages run at once",
				Value: DefaultConcurrency,
			},
		}, []cli.Flag{FormatFlag, NoColorFlag}),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("run requires at least one page", 1)
	}
	if c.IsSet("page-url") && c.NArg() > 1 {
		return cli.Exit("--page-url applies to a single page", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	s, err := openSession(c, "run", "goja")
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	remote := s.fetcher()
	opts := runOptions{
		contextID:  c.String("context"),
		pageURL:    c.String("page-url"),
		driver:     c.String("drive"),
		events:     c.StringSlice("event"),
		timerLimit: c.Int("timer-limit"),
		timeout:    c.Duration("timeout"),
	}

	paths := c.Args().Slice()
	results := make([]PageRun, len(paths))
	var g errgroup.Group
	g.SetLimit(max(c.Int("concurrency"), 1))
	for i, path := range paths {
		g.Go(func() error {
			res, err := runPage(ctx, s, path, remote, opts)
			results[i] = res
			if err != nil {
				results[i].Error = err.Error()
				s.logger.Error("page run failed", map[string]any{"page": path, "error": err.Error()})
			}
			return err
		})
	}
	runErr := g.Wait()

	flushErr := s.policy.Flush(context.WithoutCancel(ctx))
	s.recordMetrics(ctx)

	if err := r.Render(results); err != nil {
		return err
	}
	switch {
	case runErr != nil:
		return cli.Exit("", exitFor(runErr))
	case flushErr != nil:
		return cli.Exit(fmt.Sprintf("policy flush failed: %v", flushErr), exitStoreFailure)
	}
	return nil
}

// runPage prepares, executes and collects one page, then submits its
// coverage.
func runPage(ctx context.Context, s *session, path string, remote discovery.Fetcher, opts runOptions) (PageRun, error) {
	res := PageRun{ContextID: opts.contextID, PageURL: opts.pageURL}
	if res.ContextID == "" {
		res.ContextID = uuid.NewString()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return res, err
	}
	if res.PageURL == "" {
		res.PageURL = fileURL(abs)
	}
	logger := s.logger.With(log.Meta{ContextID: res.ContextID, PageURL: res.PageURL, Component: "run"})

	f, err := os.Open(abs)
	if err != nil {
		return res, err
	}
	defer f.Close()

	prepared, err := runtime.PreparePage(ctx, f, runtime.PrepareConfig{
		PageURL:        res.PageURL,
		Fetcher:        &discovery.FileFetcher{Root: filepath.Dir(abs), Remote: remote},
		IgnorePrefixes: s.ignorePrefixes(),
		Instrumenter:   s.instrumenter(),
		Logger:         logger,
		Collector:      s.collector,
	})
	if err != nil {
		return res, err
	}
	res.Units = len(prepared.Units)
	res.Flagged = len(prepared.UnitErrors)

	page, err := executor.NewPage(prepared.URL, executor.Options{Logger: logger, Collector: s.collector})
	if err != nil {
		return res, err
	}
	thrown, err := page.Load(ctx, prepared.Units)
	res.Thrown = len(thrown)
	if err != nil {
		return res, err
	}
	for _, ev := range opts.events {
		if _, err := page.Dispatch(ctx, ev); err != nil {
			return res, fmt.Errorf("dispatch %s: %w", ev, err)
		}
	}
	// A failing driver still leaves coverage worth keeping.
	var driverErr error
	if opts.driver != "" {
		if driverErr = evalDriver(ctx, page, opts.driver); driverErr != nil {
			logger.Warn("driver failed", map[string]any{"error": driverErr.Error()})
		}
	}
	if _, err := page.DrainTimers(ctx, opts.timerLimit); err != nil {
		logger.Warn("timer callback failed", map[string]any{"error": err.Error()})
	}

	snap, err := page.Collect(ctx)
	if err != nil {
		return res, err
	}
	if _, err := s.agg.Accept(ctx, res.ContextID, snap); err != nil {
		return res, err
	}
	cov, err := s.agg.Coverage(ctx, res.ContextID)
	if err != nil {
		return res, err
	}
	for _, p := range report.Build(cov).Pages {
		if p.URL == snap.URL {
			res.Executed, res.Commands, res.Percent = p.Stat.Executed, p.Stat.Total, p.Stat.Percent
		}
	}
	logger.Info("page covered", map[string]any{
		"percent":  res.Percent,
		"commands": res.Commands,
		"thrown":   res.Thrown,
	})
	return res, driverErr
}

func evalDriver(ctx context.Context, page *executor.Page, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = page.Eval(ctx, filepath.Base(path), string(src))
	return err
}
