// Package aggregate merges coverage submissions into per-context
// cumulative coverage.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/report"
	"github.com/pithecene-io/scriptcover/types"
)

// ErrInvalidSubmission is returned for a submission without context id
// or snapshot.
var ErrInvalidSubmission = errors.New("invalid submission")

// ErrStore marks failures of the underlying Store. A submission that fails
// with ErrStore was not recorded.
var ErrStore = errors.New("coverage store failure")

// Notifier receives an event after each accepted submission.
// adapter.Adapter implementations satisfy it.
type Notifier interface {
	Publish(ctx context.Context, event *types.CoverageUpdatedEvent) error
}

// Options configures an Aggregator.
type Options struct {
	// Store holds the coverage. Defaults to a MemoryStore.
	Store Store
	// Notifier is optional.
	Notifier Notifier
	// Logger and Collector may be nil.
	Logger    *log.Logger
	Collector *metrics.Collector
	// Now defaults to time.Now.
	Now func() time.Time
}

// Aggregator owns the AggregatedCoverage of every context. Submissions
// for one context are serialized and fully merged and stored before the
// next is looked at; different contexts proceed independently.
type Aggregator struct {
	store     Store
	notifier  Notifier
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*contextLock
}

// contextLock serializes operations on one context. refs counts the
// holders and waiters; the entry leaves the map when it drops to zero.
type contextLock struct {
	sync.Mutex
	refs int
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	a := &Aggregator{
		store:     opts.Store,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		collector: opts.Collector,
		now:       opts.Now,
		locks:     make(map[string]*contextLock),
	}
	if a.store == nil {
		a.store = NewMemoryStore()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

func (a *Aggregator) lock(contextID string) func() {
	a.mu.Lock()
	l, ok := a.locks[contextID]
	if !ok {
		l = &contextLock{}
		a.locks[contextID] = l
	}
	l.refs++
	a.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		a.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(a.locks, contextID)
		}
		a.mu.Unlock()
	}
}

// Accept merges snap into the coverage of contextID and persists it.
// The caller keeps ownership of snap.
func (a *Aggregator) Accept(ctx context.Context, contextID string, snap *types.PageSnapshot) (MergeResult, error) {
	if contextID == "" || snap == nil {
		a.collector.IncSubmissionRejected()
		return MergeResult{}, fmt.Errorf("%w: context %q, snapshot present %t", ErrInvalidSubmission, contextID, snap != nil)
	}

	unlock := a.lock(contextID)
	cov, err := a.store.Load(ctx, contextID)
	if err != nil {
		unlock()
		a.collector.IncSubmissionRejected()
		return MergeResult{}, fmt.Errorf("%w: load coverage for %s: %w", ErrStore, contextID, err)
	}
	if cov == nil {
		cov = types.NewAggregatedCoverage(contextID)
	}

	res := Merge(cov, snap)
	cov.Submissions++
	cov.UpdatedAt = a.now().UTC().Format(time.RFC3339)

	if err := a.store.Save(ctx, cov); err != nil {
		unlock()
		a.collector.IncSubmissionRejected()
		return MergeResult{}, fmt.Errorf("%w: save coverage for %s: %w", ErrStore, contextID, err)
	}
	global := report.Global(cov)
	unlock()

	a.record(contextID, snap.URL, res)
	a.notify(ctx, contextID, snap.URL, global, res)
	return res, nil
}

func (a *Aggregator) record(contextID, url string, res MergeResult) {
	a.collector.IncSubmissionAccepted()
	if res.PageAdded {
		a.collector.IncPageAdded()
	}
	a.collector.AddUnitsMerged(res.UnitsMerged)
	a.collector.AddUnitsAppended(res.UnitsAppended)
	a.collector.AddMergeAmbiguities(len(res.Ambiguities))

	for _, amb := range res.Ambiguities {
		a.logger.Warn("submitted unit matches several stored units", map[string]any{
			"context_id":     contextID,
			"page_url":       amb.URL,
			"src":            amb.Origin,
			"incoming_index": amb.IncomingIndex,
			"candidates":     amb.Candidates,
		})
	}
	a.logger.Debug("coverage accepted", map[string]any{
		"context_id":     contextID,
		"page_url":       url,
		"page_added":     res.PageAdded,
		"units_merged":   res.UnitsMerged,
		"units_appended": res.UnitsAppended,
		"blocks_updated": res.BlocksUpdated,
	})
}

func (a *Aggregator) notify(ctx context.Context, contextID, url string, global types.Stat, res MergeResult) {
	if a.notifier == nil {
		return
	}
	event := &types.CoverageUpdatedEvent{
		EventID:       uuid.NewString(),
		ContextID:     contextID,
		PageURL:       url,
		GlobalPercent: global.Percent,
		Executed:      global.Executed,
		Total:         global.Total,
		PageAdded:     res.PageAdded,
		UnitsMerged:   res.UnitsMerged,
		UnitsAppended: res.UnitsAppended,
		Ambiguities:   len(res.Ambiguities),
		Ts:            a.now().UTC().Format(time.RFC3339),
	}
	if err := a.notifier.Publish(ctx, event); err != nil {
		a.logger.Warn("coverage notification failed", map[string]any{
			"context_id": contextID,
			"error":      err.Error(),
		})
	}
}

// Coverage returns a copy of the coverage of contextID.
func (a *Aggregator) Coverage(ctx context.Context, contextID string) (*types.AggregatedCoverage, error) {
	unlock := a.lock(contextID)
	defer unlock()
	cov, err := a.store.Load(ctx, contextID)
	if err != nil {
		return nil, fmt.Errorf("%w: load coverage for %s: %w", ErrStore, contextID, err)
	}
	if cov == nil {
		return nil, fmt.Errorf("%w: %s", ErrContextNotFound, contextID)
	}
	return cov.Clone(), nil
}

// Forget drops the coverage of contextID, e.g. when its tab closes.
func (a *Aggregator) Forget(ctx context.Context, contextID string) error {
	unlock := a.lock(contextID)
	defer unlock()
	if err := a.store.Delete(ctx, contextID); err != nil {
		return fmt.Errorf("%w: forget %s: %w", ErrStore, contextID, err)
	}
	return nil
}

// Contexts lists the contexts with stored coverage.
func (a *Aggregator) Contexts(ctx context.Context) ([]string, error) {
	return a.store.Contexts(ctx)
}
