package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/scriptcover/discovery"
	"github.com/pithecene-io/scriptcover/runtime"
)

// ExecCommand returns the exec command.
// exec drives an external harness (a browser driver, a headless runtime)
// that speaks the frame protocol on its stdin and stdout.
func ExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Instrument a page and execute it in an external harness",
		ArgsUsage: "<page.html>",
		Flags: withFlags(StoreFlags(), []cli.Flag{
			ContextFlag,
			&cli.StringFlag{
				Name:     "executor",
				Usage:    "Path to the harness binary",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "executor-arg",
				Usage: "Argument passed to the harness (repeatable)",
			},
			&cli.StringFlag{
				Name:  "page-url",
				Usage: "Address the page is served from (default: its file URL)",
			},
			&cli.StringFlag{
				Name:  "out-dir",
				Usage: "Directory receiving the instrumented page (default: next to the page)",
			},
			&cli.DurationFlag{
				Name:  "collect-interval",
				Usage: "Ask the harness for coverage this often (0 disables)",
			},
			&cli.DurationFlag{
				Name:  "deadline",
				Usage: "Close the harness input after this long",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON run report to this path (- for stderr)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
		}),
		Action: execAction,
	}
}

func execAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exec requires exactly one page", 1)
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	s, err := openSession(c, "exec", "external")
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	cfg := &runtime.RunConfig{
		ContextID:       c.String("context"),
		PagePath:        c.Args().First(),
		PageURL:         c.String("page-url"),
		OutputDir:       c.String("out-dir"),
		ExecutorPath:    c.String("executor"),
		ExecutorArgs:    c.StringSlice("executor-arg"),
		IgnorePrefixes:  s.ignorePrefixes(),
		Instrumenter:    s.instrumenter(),
		Aggregator:      s.agg,
		Policy:          s.policy,
		CollectInterval: s.collectInterval(c, 0),
		Deadline:        c.Duration("deadline"),
		Logger:          s.logger,
		Collector:       s.collector,
	}
	orchestrator, err := runtime.NewRunOrchestrator(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid run: %v", err), exitCrash)
	}
	// The orchestrator defaults the fetcher to the page directory; remote
	// scripts go through the configured HTTP fetcher.
	if ff, ok := cfg.Fetcher.(*discovery.FileFetcher); ok {
		ff.Remote = s.fetcher()
	}

	result, err := orchestrator.Execute(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("execution failed: %v", err), exitCrash)
	}
	exitCode := result.Outcome.ExitCode()
	s.recordMetrics(ctx)

	if path := c.String("report"); path != "" {
		rep := runtime.BuildRunReport(result, s.collector.Snapshot(), s.cfg.Policy.Name, exitCode)
		if err := runtime.WriteRunReport(rep, path); err != nil {
			s.logger.Warn("failed to write run report", map[string]any{"error": err.Error()})
		}
	}
	if !c.Bool("quiet") {
		printRunResult(c.App.Writer, result, s.cfg.Policy.Name)
	}
	if exitCode != exitSuccess {
		return cli.Exit("", exitCode)
	}
	return nil
}

func printRunResult(w io.Writer, result *runtime.RunResult, policyName string) {
	fmt.Fprintf(w, "\ncontext_id=%s, outcome=%s, duration=%s\n",
		result.ContextID,
		result.Outcome.Status,
		result.Duration.Round(time.Millisecond),
	)

	fmt.Fprintf(w, "\n=== Run Result ===\n")
	fmt.Fprintf(w, "Context:      %s\n", result.ContextID)
	fmt.Fprintf(w, "Page:         %s\n", result.PageURL)
	fmt.Fprintf(w, "Instrumented: %s\n", result.InstrumentedPath)
	fmt.Fprintf(w, "Outcome:      %s\n", result.Outcome.Status)
	fmt.Fprintf(w, "Message:      %s\n", result.Outcome.Message)
	fmt.Fprintf(w, "Exit code:    %d\n", result.ExitCode)
	fmt.Fprintf(w, "Units:        %d (%d flagged)\n", result.Units, result.Flagged)
	fmt.Fprintf(w, "Requests:     %d (%d submissions, %d rejected)\n", result.Requests, result.Submissions, result.Rejected)

	if result.Summary != nil {
		fmt.Fprintf(w, "\n=== Coverage ===\n")
		fmt.Fprintf(w, "Global:       %s%%\n", result.Summary.GlobalPercent)
		fmt.Fprintf(w, "Commands:     %d\n", result.Summary.CommandCount)
	}

	if result.PolicyStats != nil {
		fmt.Fprintf(w, "\n=== Policy Stats ===\n")
		fmt.Fprintf(w, "Policy:       %s\n", policyName)
		fmt.Fprintf(w, "Saves:        %d\n", result.PolicyStats.Saves)
		fmt.Fprintf(w, "Persisted:    %d\n", result.PolicyStats.Persisted)
		fmt.Fprintf(w, "Flushes:      %d\n", result.PolicyStats.Flushes)
		fmt.Fprintf(w, "Errors:       %d\n", result.PolicyStats.Errors)
	}

	if result.StderrOutput != "" {
		fmt.Fprintf(w, "\n=== Executor Stderr ===\n")
		fmt.Fprintf(w, "%s", result.StderrOutput)
	}
}
