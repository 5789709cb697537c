package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/scriptcover/aggregate"
	"github.com/pithecene-io/scriptcover/discovery"
	"github.com/pithecene-io/scriptcover/instrument"
	"github.com/pithecene-io/scriptcover/ipc"
	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/policy"
	"github.com/pithecene-io/scriptcover/report"
	"github.com/pithecene-io/scriptcover/types"
)

// Executor abstracts executor process lifecycle for testing.
type Executor interface {
	Start(ctx context.Context) error
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Wait() (*ExecutorResult, error)
	Kill() error
}

// ExecutorFactory creates an Executor. Used for test injection.
type ExecutorFactory func(config *ExecutorConfig) Executor

// RunConfig configures a single run.
type RunConfig struct {
	// ContextID identifies the execution context. Generated when empty.
	ContextID string
	// PagePath is the HTML page to instrument.
	PagePath string
	// PageURL is the address of the page. Defaults to the file URL of
	// PagePath.
	PageURL string
	// OutputDir receives the instrumented page. Defaults to the directory
	// of PagePath.
	OutputDir string
	// ExecutorPath is the harness binary.
	ExecutorPath string
	// ExecutorArgs are passed to the harness.
	ExecutorArgs []string
	// Fetcher loads external scripts, for discovery and for loadScript
	// requests. Defaults to a FileFetcher rooted at the page directory.
	Fetcher discovery.Fetcher
	// IgnorePrefixes are script origins left untouched.
	IgnorePrefixes []string
	// Instrumenter is optional.
	Instrumenter *instrument.Instrumenter
	// Aggregator receives the submissions. Required.
	Aggregator *aggregate.Aggregator
	// Policy, when set, is flushed when the run ends and its stats reported.
	Policy policy.Policy
	// CollectInterval, when positive, sends collect triggers periodically.
	CollectInterval time.Duration
	// Deadline, when positive, closes the harness input after this long,
	// asking it to submit a final snapshot and exit.
	Deadline time.Duration
	// ExecutorFactory overrides executor creation (for testing).
	// If nil, uses NewExecutorManager.
	ExecutorFactory ExecutorFactory
	// Logger and Collector may be nil.
	Logger    *log.Logger
	Collector *metrics.Collector
}

// RunResult represents the result of a run.
type RunResult struct {
	ContextID string
	PageURL   string
	// InstrumentedPath is where the instrumented page was written.
	InstrumentedPath string
	Outcome          *RunOutcome
	// ExitCode is the harness exit code, -1 when it never ran.
	ExitCode int
	Duration time.Duration
	// Units and Flagged count the page's units and the excluded ones.
	Units   int
	Flagged int
	// Requests, Submissions and Rejected are ingestion counters.
	Requests    int64
	Submissions int64
	Rejected    int64
	// Summary is the context's coverage after the run; nil if none.
	Summary *types.Summary
	// PolicyStats is set when a policy was configured.
	PolicyStats  *policy.Stats
	StderrOutput string
}

// RunOrchestrator prepares a page and runs it in an external harness,
// aggregating what the harness submits.
type RunOrchestrator struct {
	config    *RunConfig
	logger    *log.Logger
	startTime time.Time
}

// NewRunOrchestrator validates config and fills its defaults.
func NewRunOrchestrator(config *RunConfig) (*RunOrchestrator, error) {
	if config.PagePath == "" {
		return nil, errors.New("page path is required")
	}
	if config.ExecutorPath == "" && config.ExecutorFactory == nil {
		return nil, errors.New("executor path is required")
	}
	if config.Aggregator == nil {
		return nil, errors.New("aggregator is required")
	}
	if config.ContextID == "" {
		config.ContextID = uuid.NewString()
	}
	abs, err := filepath.Abs(config.PagePath)
	if err != nil {
		return nil, fmt.Errorf("resolve page path: %w", err)
	}
	if config.PageURL == "" {
		config.PageURL = "file://" + filepath.ToSlash(abs)
	}
	if config.OutputDir == "" {
		config.OutputDir = filepath.Dir(abs)
	}
	if config.Fetcher == nil {
		config.Fetcher = &discovery.FileFetcher{Root: filepath.Dir(abs)}
	}

	logger := config.Logger.With(log.Meta{ContextID: config.ContextID, PageURL: config.PageURL, Component: "run"})

	return &RunOrchestrator{
		config: config,
		logger: logger,
	}, nil
}

// InstrumentedName returns the file name used for the instrumented copy
// of pagePath.
func InstrumentedName(pagePath string) string {
	base := filepath.Base(pagePath)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + ".instrumented" + ext
}

// Execute executes the run end-to-end.
//
// Execution flow:
//  1. Discover and instrument the page, write the instrumented copy
//  2. Start the harness
//  3. Ingest its requests, answering on its input (concurrent with
//     periodic collect triggers)
//  4. Wait for harness exit
//  5. Flush policy
//  6. Determine outcome
//
// Errors before the harness starts (unreadable page, unwritable output)
// are returned; everything after is reported in the outcome.
func (r *RunOrchestrator) Execute(ctx context.Context) (*RunResult, error) {
	r.startTime = time.Now()
	cfg := r.config

	r.logger.Info("starting run", map[string]any{
		"page":     cfg.PagePath,
		"executor": cfg.ExecutorPath,
	})

	page, outPath, err := r.prepare(ctx)
	if err != nil {
		return nil, err
	}

	host, err := NewHost(HostConfig{
		Aggregator: cfg.Aggregator,
		Fetcher:    cfg.Fetcher,
		Logger:     r.logger,
		Collector:  cfg.Collector,
	})
	if err != nil {
		return nil, err
	}

	execConfig := &ExecutorConfig{
		ExecutorPath: cfg.ExecutorPath,
		Args:         cfg.ExecutorArgs,
		ContextID:    cfg.ContextID,
		PageURL:      cfg.PageURL,
		PagePath:     outPath,
	}
	var executor Executor
	if cfg.ExecutorFactory != nil {
		executor = cfg.ExecutorFactory(execConfig)
	} else {
		executor = NewExecutorManager(execConfig)
	}

	if err := executor.Start(ctx); err != nil {
		cfg.Collector.IncExecutorLaunchFailure()
		r.logger.Error("failed to start executor", map[string]any{
			"error": err.Error(),
		})
		result := r.buildResult(ctx, page, outPath, &RunOutcome{
			Status:  OutcomeExecutorCrash,
			Message: fmt.Sprintf("failed to start executor: %v", err),
		}, nil, nil)
		return result, nil
	}
	cfg.Collector.IncExecutorLaunchSuccess()

	stdin := &harnessInput{w: executor.Stdin()}
	enc := ipc.NewFrameEncoder(stdin)
	host.Register(cfg.ContextID, NewFrameTrigger(enc))
	defer host.Unregister(cfg.ContextID)

	ingestion := NewIngestionEngine(executor.Stdout(), enc, host, r.logger, cfg.Collector)
	ingestionDone := make(chan error, 1)
	go func() {
		ingestionDone <- ingestion.Run(ctx)
	}()

	loopCtx, stopLoops := context.WithCancel(ctx)
	if cfg.CollectInterval > 0 {
		go func() {
			_ = CollectLoop(loopCtx, cfg.CollectInterval, r.logger, func(ctx context.Context) error {
				_, err := host.Handle(ctx, &types.CollectRequest{ContextID: cfg.ContextID})
				return err
			})
		}()
	}
	if cfg.Deadline > 0 {
		timer := time.AfterFunc(cfg.Deadline, func() {
			r.logger.Info("run deadline reached, closing executor input", nil)
			_ = stdin.Close()
		})
		defer timer.Stop()
	}

	// Ingestion must finish before Wait: Wait closes the stdout pipe.
	ingErr := <-ingestionDone
	stopLoops()
	_ = stdin.Close()

	if ingErr != nil {
		r.logger.Warn("killing executor due to ingestion error", map[string]any{
			"error":      ingErr.Error(),
			"is_handler": IsHandlerError(ingErr),
		})
		_ = executor.Kill()
	}

	execResult, execErr := executor.Wait()
	flushErr := r.flush(ctx)

	var outcome *RunOutcome
	switch {
	case execErr != nil:
		r.logger.Error("executor wait failed", map[string]any{
			"error": execErr.Error(),
		})
		outcome = &RunOutcome{
			Status:  OutcomeExecutorCrash,
			Message: fmt.Sprintf("executor wait failed: %v", execErr),
		}
	case ingErr != nil:
		r.logger.Error("ingestion failed", map[string]any{
			"error":     ingErr.Error(),
			"exit_code": execResult.ExitCode,
		})
		outcome = outcomeFromIngestionError(ingErr)
	case flushErr != nil:
		outcome = &RunOutcome{
			Status:  OutcomeStoreFailure,
			Message: fmt.Sprintf("policy flush failed: %v", flushErr),
		}
	default:
		outcome = DetermineOutcome(execResult.ExitCode, ingestion.Submissions())
	}

	result := r.buildResult(ctx, page, outPath, outcome, ingestion, execResult)
	r.logger.Info("run completed", map[string]any{
		"outcome":     outcome.Status,
		"exit_code":   result.ExitCode,
		"duration":    result.Duration.String(),
		"submissions": result.Submissions,
	})
	return result, nil
}

func (r *RunOrchestrator) prepare(ctx context.Context) (*PreparedPage, string, error) {
	cfg := r.config
	f, err := os.Open(cfg.PagePath)
	if err != nil {
		return nil, "", fmt.Errorf("open page: %w", err)
	}
	defer f.Close()

	page, err := PreparePage(ctx, f, PrepareConfig{
		PageURL:        cfg.PageURL,
		Fetcher:        cfg.Fetcher,
		IgnorePrefixes: cfg.IgnorePrefixes,
		Instrumenter:   cfg.Instrumenter,
		Logger:         r.logger,
		Collector:      cfg.Collector,
	})
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, "", fmt.Errorf("render instrumented page: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create output dir: %w", err)
	}
	outPath := filepath.Join(cfg.OutputDir, InstrumentedName(cfg.PagePath))
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return nil, "", fmt.Errorf("write instrumented page: %w", err)
	}
	return page, outPath, nil
}

// flush flushes the policy, best effort, even when ctx is canceled.
func (r *RunOrchestrator) flush(ctx context.Context) error {
	if r.config.Policy == nil {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	err := r.config.Policy.Flush(flushCtx)
	if err != nil {
		r.logger.Warn("policy flush failed (best effort)", map[string]any{
			"error": err.Error(),
		})
	}
	return err
}

// buildResult constructs the final run result.
func (r *RunOrchestrator) buildResult(
	ctx context.Context,
	page *PreparedPage,
	outPath string,
	outcome *RunOutcome,
	ingestion *IngestionEngine,
	execResult *ExecutorResult,
) *RunResult {
	cfg := r.config
	result := &RunResult{
		ContextID:        cfg.ContextID,
		PageURL:          cfg.PageURL,
		InstrumentedPath: outPath,
		Outcome:          outcome,
		ExitCode:         -1,
		Duration:         time.Since(r.startTime),
		Units:            len(page.Units),
		Flagged:          len(page.UnitErrors),
	}

	if execResult != nil {
		result.ExitCode = execResult.ExitCode
		result.StderrOutput = string(execResult.StderrBytes)
	}
	if ingestion != nil {
		result.Requests = ingestion.Requests()
		result.Submissions = ingestion.Submissions()
		result.Rejected = ingestion.Rejected()
	}

	if cov, err := cfg.Aggregator.Coverage(context.WithoutCancel(ctx), cfg.ContextID); err == nil {
		result.Summary = report.Summarize(cov)
	} else if !errors.Is(err, aggregate.ErrContextNotFound) {
		r.logger.Warn("could not summarize coverage", map[string]any{"error": err.Error()})
	}

	if cfg.Policy != nil {
		ps := cfg.Policy.Stats()
		result.PolicyStats = &ps
		cfg.Collector.AbsorbPolicyStats(ps.Saves, ps.Persisted, ps.Flushes, ps.Errors)
	}

	return result
}

// harnessInput is the harness's stdin. Writes after Close are dropped.
type harnessInput struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func (h *harnessInput) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return len(p), nil
	}
	return h.w.Write(p)
}

func (h *harnessInput) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.w.Close()
}
