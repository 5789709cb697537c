package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/scriptcover/adapter"
	"github.com/pithecene-io/scriptcover/adapter/redis"
	"github.com/pithecene-io/scriptcover/adapter/webhook"
	"github.com/pithecene-io/scriptcover/aggregate"
	"github.com/pithecene-io/scriptcover/cli/config"
	"github.com/pithecene-io/scriptcover/discovery"
	"github.com/pithecene-io/scriptcover/instrument"
	"github.com/pithecene-io/scriptcover/iox"
	"github.com/pithecene-io/scriptcover/lode"
	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/policy"
	"github.com/pithecene-io/scriptcover/store/badger"
)

// Exit codes of commands that run pages.
const (
	exitSuccess      = 0
	exitScriptError  = 1
	exitCrash        = 2
	exitStoreFailure = 3
)

// session is the wiring shared by one command invocation: config, the
// store behind its policy, the aggregator and the teardown stack.
type session struct {
	cfg       *config.Config
	logger    *log.Logger
	collector *metrics.Collector
	policy    policy.Policy
	agg       *aggregate.Aggregator
	// lode is set for the lode backend; metrics records are written to it.
	lode *lode.Store

	closers iox.Stack
}

// loadConfig reads --config, if any, and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("store") {
		cfg.Store.Backend = c.String("store")
	}
	if c.IsSet("store-path") {
		path := c.String("store-path")
		if rest, ok := strings.CutPrefix(path, "s3://"); ok {
			cfg.Store.Path = ""
			cfg.Store.Bucket, cfg.Store.Prefix = lode.ParseS3Path(rest)
		} else {
			cfg.Store.Path = path
			cfg.Store.Bucket = ""
		}
	}
	if c.IsSet("dataset") {
		cfg.Store.Dataset = c.String("dataset")
	}
	if c.IsSet("policy") {
		cfg.Policy.Name = c.String("policy")
	}
	if c.IsSet("flush-count") {
		cfg.Policy.FlushCount = c.Int("flush-count")
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = config.BackendMemory
	}
	if cfg.Policy.Name == "" {
		cfg.Policy.Name = "strict"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openSession builds the store, policy, adapter and aggregator described
// by the command's config and flags. The caller must close the session.
func openSession(c *cli.Context, component, executor string) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitCrash)
	}

	s := &session{
		cfg:       cfg,
		logger:    log.NewLogger(log.Meta{Component: component}),
		collector: metrics.NewCollector(cfg.Policy.Name, executor, cfg.Store.Backend),
	}

	sink, err := s.openBackend(c.Context)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	switch cfg.Policy.Name {
	case "buffered":
		flushCount := cfg.Policy.FlushCount
		if flushCount == 0 {
			flushCount = policy.DefaultFlushCount
		}
		bp, err := policy.NewBufferedPolicy(sink, policy.BufferedConfig{FlushCount: flushCount, Logger: s.logger})
		if err != nil {
			_ = closeStore(sink)
			return nil, err
		}
		s.policy = bp
	default:
		s.policy = policy.NewStrictPolicy(sink)
	}
	s.closers.Push(s.policy)

	notifier, err := buildAdapter(cfg.Adapter)
	if err != nil {
		_ = s.Close()
		return nil, cli.Exit(fmt.Sprintf("invalid adapter config: %v", err), exitCrash)
	}
	opts := aggregate.Options{Store: s.policy, Logger: s.logger, Collector: s.collector}
	if notifier != nil {
		s.closers.Push(notifier)
		opts.Notifier = notifier
	}
	s.agg = aggregate.New(opts)
	return s, nil
}

func (s *session) openBackend(ctx context.Context) (aggregate.Store, error) {
	sc := s.cfg.Store
	switch sc.Backend {
	case config.BackendBadger:
		return badger.Open(badger.Config{Path: sc.Path, Logger: s.logger})
	case config.BackendLode:
		lc := lode.Config{Dataset: sc.Dataset, Collector: s.collector}
		var (
			ls  *lode.Store
			err error
		)
		if sc.Bucket != "" {
			ls, err = lode.NewS3Store(ctx, lc, lode.S3Config{
				Bucket:       sc.Bucket,
				Prefix:       sc.Prefix,
				Region:       sc.Region,
				Endpoint:     sc.Endpoint,
				UsePathStyle: sc.S3PathStyle,
			})
		} else {
			ls, err = lode.NewFSStore(lc, sc.Path)
		}
		if err != nil {
			return nil, err
		}
		s.lode = ls
		return ls, nil
	default:
		return aggregate.NewMemoryStore(), nil
	}
}

// persistent reports whether coverage outlives the process.
func (s *session) persistent() bool {
	return s.cfg.Store.Backend != config.BackendMemory
}

// requirePersistent rejects commands that read stored coverage when the
// memory backend is selected.
func (s *session) requirePersistent(command string) error {
	if s.persistent() {
		return nil
	}
	return cli.Exit(fmt.Sprintf("%s reads stored coverage; select a persistent store (--store badger|lode)", command), 1)
}

// fetcher returns the HTTP fetcher configured by the fetch section.
func (s *session) fetcher() *discovery.HTTPFetcher {
	fc := s.cfg.Fetch
	retries := discovery.DefaultFetchRetries
	if fc.Retries != nil {
		retries = *fc.Retries
	}
	f := discovery.NewHTTPFetcher(discovery.HTTPConfig{
		Timeout: fc.Timeout.Duration,
		Retries: retries,
		Headers: fc.Headers,
	})
	s.closers.Push(f)
	return f
}

// ignorePrefixes returns the configured prefixes, nil selecting the
// discovery defaults.
func (s *session) ignorePrefixes() []string {
	return s.cfg.Fetch.IgnorePrefixes
}

func (s *session) instrumenter() *instrument.Instrumenter {
	return instrument.New(instrument.Options{
		MaxDepth:  s.cfg.Instrument.MaxDepth,
		Logger:    s.logger,
		Collector: s.collector,
	})
}

// collectInterval prefers the flag, then the config, then the default.
func (s *session) collectInterval(c *cli.Context, fallback time.Duration) time.Duration {
	if c.IsSet("collect-interval") {
		return c.Duration("collect-interval")
	}
	if s.cfg.Collect.Interval.Duration > 0 {
		return s.cfg.Collect.Interval.Duration
	}
	return fallback
}

// recordMetrics writes the collector snapshot to the lode dataset, when
// the lode backend is in use.
func (s *session) recordMetrics(ctx context.Context) {
	if s.lode == nil {
		return
	}
	ps := s.policy.Stats()
	s.collector.AbsorbPolicyStats(ps.Saves, ps.Persisted, ps.Flushes, ps.Errors)
	if err := s.lode.WriteMetrics(context.WithoutCancel(ctx), s.collector.Snapshot(), time.Now()); err != nil {
		s.logger.Warn("failed to record metrics", map[string]any{"error": err.Error()})
	}
}

// Close flushes the policy and releases everything the session opened.
func (s *session) Close() error {
	err := s.closers.Close()
	_ = s.logger.Sync()
	return err
}

// buildAdapter returns the configured notification adapter, or nil.
func buildAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	switch ac.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Secret:  ac.Secret,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		retries := redis.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		return redis.New(redis.Config{
			URL:       ac.URL,
			Channel:   ac.Channel,
			KeyPrefix: ac.KeyPrefix,
			KeyTTL:    ac.KeyTTL.Duration,
			Timeout:   ac.Timeout.Duration,
			Retries:   retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
	}
}

func closeStore(s aggregate.Store) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// exitFor maps an error from a page run to a CLI exit code.
func exitFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, aggregate.ErrStore):
		return exitStoreFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exitCrash
	default:
		return exitScriptError
	}
}

