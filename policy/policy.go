// Package policy controls how aggregated coverage reaches durable storage.
//
// A Policy sits between the aggregator and a Sink (badger, lode or an
// in-memory store) and itself satisfies aggregate.Store, so the aggregator
// never knows whether writes are immediate or deferred.
package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/scriptcover/aggregate"
)

// Sink is the durable store a policy writes to.
type Sink = aggregate.Store

// Policy is a persistence policy.
type Policy interface {
	aggregate.Store

	// Flush writes any deferred state to the sink.
	Flush(ctx context.Context) error

	// Close flushes and releases the sink, if it holds resources.
	Close() error

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats represents policy observability counters.
type Stats struct {
	// Saves is the number of Save calls received.
	Saves int64
	// Persisted is the number of coverage writes that reached the sink.
	Persisted int64
	// Deletes is the number of Delete calls received.
	Deletes int64
	// Flushes is the number of flush operations.
	Flushes int64
	// Errors is the number of failed sink writes.
	Errors int64
	// Dirty is the number of contexts waiting to be written.
	Dirty int64
}

// statsRecorder is a mutex-guarded Stats.
//
// StrictPolicy uses the locking methods. BufferedPolicy uses the Locked
// variants while holding its own mutex, so buffer state and counters move
// together.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func (r *statsRecorder) update(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// snapshotLocked is used by callers already serialized by their own lock.
func (r *statsRecorder) snapshotLocked(dirty int) Stats {
	s := r.stats
	s.Dirty = int64(dirty)
	return s
}

// closeSink closes sink when it holds resources.
func closeSink(sink Sink) error {
	if c, ok := sink.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
