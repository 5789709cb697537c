package policy

import (
	"context"

	"github.com/pithecene-io/scriptcover/types"
)

// StrictPolicy writes every save through to the sink before returning.
// Sink errors are returned to the caller.
type StrictPolicy struct {
	sink  Sink
	stats statsRecorder
}

// NewStrictPolicy creates a write-through policy.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink}
}

// Load implements aggregate.Store.
func (p *StrictPolicy) Load(ctx context.Context, contextID string) (*types.AggregatedCoverage, error) {
	return p.sink.Load(ctx, contextID)
}

// Save writes cov immediately.
func (p *StrictPolicy) Save(ctx context.Context, cov *types.AggregatedCoverage) error {
	p.stats.update(func(s *Stats) { s.Saves++ })
	if err := p.sink.Save(ctx, cov); err != nil {
		p.stats.update(func(s *Stats) { s.Errors++ })
		return err
	}
	p.stats.update(func(s *Stats) { s.Persisted++ })
	return nil
}

// Delete implements aggregate.Store.
func (p *StrictPolicy) Delete(ctx context.Context, contextID string) error {
	p.stats.update(func(s *Stats) { s.Deletes++ })
	if err := p.sink.Delete(ctx, contextID); err != nil {
		p.stats.update(func(s *Stats) { s.Errors++ })
		return err
	}
	return nil
}

// Contexts implements aggregate.Store.
func (p *StrictPolicy) Contexts(ctx context.Context) ([]string, error) {
	return p.sink.Contexts(ctx)
}

// Flush is a no-op for strict policy (nothing is deferred).
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.stats.update(func(s *Stats) { s.Flushes++ })
	return nil
}

// Close closes the underlying sink.
func (p *StrictPolicy) Close() error {
	return closeSink(p.sink)
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}
