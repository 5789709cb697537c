package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pithecene-io/scriptcover/aggregate"
	"github.com/pithecene-io/scriptcover/discovery"
	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/report"
	"github.com/pithecene-io/scriptcover/types"
)

var (
	// ErrNoFetcher is returned for loadScript when the host cannot fetch.
	ErrNoFetcher = errors.New("host has no script fetcher")
	// ErrNoTrigger is returned for a collect request on a context that has
	// no registered trigger.
	ErrNoTrigger = errors.New("no collect trigger registered")
)

// Trigger asks one execution context to submit its coverage now.
type Trigger interface {
	Collect(ctx context.Context, contextID string) error
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context, contextID string) error

// Collect calls f.
func (f TriggerFunc) Collect(ctx context.Context, contextID string) error { return f(ctx, contextID) }

// HostConfig configures a Host.
type HostConfig struct {
	// Aggregator is required.
	Aggregator *aggregate.Aggregator
	// Fetcher serves loadScript. Optional.
	Fetcher discovery.Fetcher
	// DefaultTrigger, when set, is registered for every context that
	// submits coverage and has no trigger yet.
	DefaultTrigger Trigger
	// Logger and Collector may be nil.
	Logger    *log.Logger
	Collector *metrics.Collector
}

// Host is the aggregation point: it answers every request kind on behalf
// of all execution contexts.
type Host struct {
	agg        *aggregate.Aggregator
	fetcher    discovery.Fetcher
	defTrigger Trigger
	logger     *log.Logger
	collector  *metrics.Collector

	mu       sync.RWMutex
	triggers map[string]Trigger
}

// NewHost creates a Host.
func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Aggregator == nil {
		return nil, errors.New("host: aggregator is required")
	}
	return &Host{
		agg:        cfg.Aggregator,
		fetcher:    cfg.Fetcher,
		defTrigger: cfg.DefaultTrigger,
		logger:     cfg.Logger,
		collector:  cfg.Collector,
		triggers:   make(map[string]Trigger),
	}, nil
}

// Register routes collect requests for contextID to t, replacing any
// previous trigger.
func (h *Host) Register(contextID string, t Trigger) {
	h.mu.Lock()
	h.triggers[contextID] = t
	h.mu.Unlock()
}

// Unregister removes the trigger of contextID.
func (h *Host) Unregister(contextID string) {
	h.mu.Lock()
	delete(h.triggers, contextID)
	h.mu.Unlock()
}

// Contexts returns the contexts with a registered trigger, sorted.
func (h *Host) Contexts() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.triggers))
	for id := range h.triggers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// adopt registers the default trigger for contextID unless it has one.
func (h *Host) adopt(contextID string) {
	if h.defTrigger == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.triggers[contextID]; !ok {
		h.triggers[contextID] = h.defTrigger
	}
	h.mu.Unlock()
}

func (h *Host) trigger(contextID string) (Trigger, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.triggers[contextID]
	return t, ok
}

// Handle executes one request. The returned response has seq 0; callers
// answering a frame stamp their own sequence number.
func (h *Host) Handle(ctx context.Context, req types.Request) (*types.Response, error) {
	resp := types.NewResponse(req.Action(), 0)

	switch r := req.(type) {
	case *types.LoadScriptRequest:
		if h.fetcher == nil {
			return nil, ErrNoFetcher
		}
		content, err := h.fetcher.Fetch(ctx, r.URL)
		if err != nil {
			h.collector.IncFetchFailure()
			return nil, &discovery.FetchError{URL: r.URL, Err: err}
		}
		h.collector.IncFetchSuccess()
		resp.Content = &content

	case *types.SubmitCoverageRequest:
		res, err := h.agg.Accept(ctx, r.ContextID, r.Snapshot)
		if err != nil {
			return nil, err
		}
		h.adopt(r.ContextID)
		h.logger.Debug("coverage accepted", map[string]any{
			"context_id":     r.ContextID,
			"page_url":       r.Snapshot.URL,
			"page_added":     res.PageAdded,
			"units_merged":   res.UnitsMerged,
			"units_appended": res.UnitsAppended,
		})
		cov, err := h.agg.Coverage(ctx, r.ContextID)
		if err != nil {
			return nil, err
		}
		resp.Summary = report.Summarize(cov)

	case *types.ShowCoverageRequest:
		cov, err := h.agg.Coverage(ctx, r.ContextID)
		if err != nil {
			return nil, err
		}
		resp.Report = report.Build(cov)

	case *types.GetSummaryRequest:
		cov, err := h.agg.Coverage(ctx, r.ContextID)
		if err != nil {
			return nil, err
		}
		resp.Summary = report.Summarize(cov)

	case *types.CollectRequest:
		t, ok := h.trigger(r.ContextID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoTrigger, r.ContextID)
		}
		if err := t.Collect(ctx, r.ContextID); err != nil {
			return nil, fmt.Errorf("collect %s: %w", r.ContextID, err)
		}

	case *types.CloseContextRequest:
		h.Unregister(r.ContextID)
		if err := h.agg.Forget(ctx, r.ContextID); err != nil {
			return nil, err
		}
		h.logger.Info("context closed", map[string]any{"context_id": r.ContextID})

	default:
		return nil, fmt.Errorf("%w: unsupported request %T", types.ErrInvalidRequest, req)
	}

	return resp, nil
}
