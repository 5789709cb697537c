package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/scriptcover/iox"
	"github.com/pithecene-io/scriptcover/ipc"
	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/report"
	"github.com/pithecene-io/scriptcover/runtime"
	"github.com/pithecene-io/scriptcover/types"
)

// ServeCommand returns the serve command.
// serve is the host end of the frame protocol over stdin and stdout: it
// answers requests from any number of execution contexts and periodically
// asks the contexts it knows for their coverage.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Answer coverage requests framed on stdin, responding on stdout",
		Flags:  ServeFlags(),
		Action: serveAction,
	}
}

// ServeFlags returns the flags of the serve command.
func ServeFlags() []cli.Flag {
	return withFlags(StoreFlags(), []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "context",
			Usage: "Context to poll for coverage from the start (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "collect-interval",
			Usage: "Ask known contexts for coverage this often (0 disables)",
			Value: runtime.DefaultCollectInterval,
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address (e.g. :9464)",
		},
	})
}

func serveAction(c *cli.Context) error {
	ctx, cancel := signalContext(c.Context)
	defer cancel()

	s, err := openSession(c, "serve", "external")
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	addr := c.String("metrics-addr")
	if addr == "" {
		addr = s.cfg.Metrics.Addr
	}
	if addr != "" {
		if err := s.serveMetrics(addr); err != nil {
			return cli.Exit(fmt.Sprintf("metrics listener: %v", err), exitCrash)
		}
	}

	interval := s.collectInterval(c, c.Duration("collect-interval"))
	err = serveStream(ctx, s, c.App.Reader, c.App.Writer, interval, c.StringSlice("context"))
	flushErr := s.policy.Flush(context.WithoutCancel(ctx))
	s.recordMetrics(ctx)

	switch {
	case err == nil, runtime.IsCanceledError(err):
	case runtime.IsHandlerError(err):
		return cli.Exit(fmt.Sprintf("store failure: %v", err), exitStoreFailure)
	default:
		return cli.Exit(fmt.Sprintf("stream failure: %v", err), exitCrash)
	}
	if flushErr != nil {
		return cli.Exit(fmt.Sprintf("policy flush failed: %v", flushErr), exitStoreFailure)
	}
	return nil
}

// serveStream runs the ingestion loop on in until EOF, writing responses
// and collect triggers to out.
func serveStream(ctx context.Context, s *session, in io.Reader, out io.Writer, interval time.Duration, contexts []string) error {
	enc := ipc.NewFrameEncoder(out)
	trigger := runtime.NewFrameTrigger(enc)

	host, err := runtime.NewHost(runtime.HostConfig{
		Aggregator:     s.agg,
		Fetcher:        s.fetcher(),
		DefaultTrigger: trigger,
		Logger:         s.logger,
		Collector:      s.collector,
	})
	if err != nil {
		return err
	}
	for _, id := range contexts {
		host.Register(id, trigger)
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	if interval > 0 {
		status := newStatusBoard(host, s.logger)
		go func() {
			_ = runtime.CollectLoop(loopCtx, interval, s.logger, func(ctx context.Context) error {
				var errs []error
				for _, id := range host.Contexts() {
					if _, err := host.Handle(ctx, &types.CollectRequest{ContextID: id}); err != nil {
						errs = append(errs, err)
					}
					status.refresh(ctx, id)
				}
				return errors.Join(errs...)
			})
		}()
	}

	engine := runtime.NewIngestionEngine(in, enc, host, s.logger, s.collector)
	err = engine.Run(ctx)
	s.logger.Info("serve stopped", map[string]any{
		"requests":    engine.Requests(),
		"submissions": engine.Submissions(),
		"rejected":    engine.Rejected(),
	})
	return err
}

// statusBoard logs a context's coverage status whenever its global
// percentage or command total moves.
type statusBoard struct {
	host     *runtime.Host
	logger   *log.Logger
	trackers map[string]*report.Tracker
}

func newStatusBoard(host *runtime.Host, logger *log.Logger) *statusBoard {
	return &statusBoard{host: host, logger: logger, trackers: map[string]*report.Tracker{}}
}

// refresh is only called from the collect loop goroutine.
func (b *statusBoard) refresh(ctx context.Context, contextID string) {
	resp, err := b.host.Handle(ctx, &types.GetSummaryRequest{ContextID: contextID})
	if err != nil || resp.Summary == nil {
		return
	}
	t, ok := b.trackers[contextID]
	if !ok {
		t = &report.Tracker{}
		b.trackers[contextID] = t
	}
	if t.Changed(resp.Summary) {
		b.logger.Info("coverage status", map[string]any{
			"context_id": contextID,
			"percent":    resp.Summary.GlobalPercent,
			"commands":   resp.Summary.CommandCount,
			"color":      string(report.PercentColor(resp.Summary.GlobalPercent)),
		})
	}
}

// serveMetrics exposes the session's counters on addr until the session
// closes.
func (s *session) serveMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.collector.WithExporter(metrics.NewExporter(reg, s.cfg.Store.Backend))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", map[string]any{"error": err.Error()})
		}
	}()
	s.logger.Info("serving metrics", map[string]any{"addr": ln.Addr().String()})

	s.closers.Push(iox.Closer(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}))
	return nil
}
