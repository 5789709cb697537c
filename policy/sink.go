package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/scriptcover/aggregate"
	"github.com/pithecene-io/scriptcover/types"
)

// WriteOp is one sink operation, for ordering verification.
type WriteOp struct {
	Kind      string // "save" or "delete"
	ContextID string
}

// StubSink is an in-memory Sink that records every write and can be made
// to fail. Use for testing.
type StubSink struct {
	*aggregate.MemoryStore

	mu      sync.Mutex
	ops     []WriteOp
	saveErr error
	closed  bool
}

// NewStubSink creates an empty StubSink.
func NewStubSink() *StubSink {
	return &StubSink{MemoryStore: aggregate.NewMemoryStore()}
}

// FailSaves makes subsequent saves return err; nil restores success.
func (s *StubSink) FailSaves(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

// Save implements Sink.
func (s *StubSink) Save(ctx context.Context, cov *types.AggregatedCoverage) error {
	s.mu.Lock()
	err := s.saveErr
	if err == nil {
		s.ops = append(s.ops, WriteOp{Kind: "save", ContextID: cov.ContextID})
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Save(ctx, cov)
}

// Delete implements Sink.
func (s *StubSink) Delete(ctx context.Context, contextID string) error {
	s.mu.Lock()
	s.ops = append(s.ops, WriteOp{Kind: "delete", ContextID: contextID})
	s.mu.Unlock()
	return s.MemoryStore.Delete(ctx, contextID)
}

// Ops returns the recorded writes in order.
func (s *StubSink) Ops() []WriteOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WriteOp(nil), s.ops...)
}

// Close marks the sink closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *StubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
