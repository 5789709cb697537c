package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/types"
)

// DefaultFlushCount is the dirty-context threshold of DefaultBufferedConfig.
const DefaultFlushCount = 16

// ErrInvalidConfig is returned when BufferedConfig is invalid.
var ErrInvalidConfig = errors.New("invalid config: FlushCount must be positive")

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// FlushCount is the number of dirty contexts that triggers a flush.
	FlushCount int
	// Logger is optional.
	Logger *log.Logger
}

// DefaultBufferedConfig returns sensible defaults for buffered policy.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{FlushCount: DefaultFlushCount}
}

// BufferedPolicy keeps the latest coverage of each context in memory and
// writes it back to the sink when enough contexts are dirty, on Flush and
// on Close.
//
// Reads see buffered state first. A failed flush keeps the entries that
// could not be written so that the next flush retries them.
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu      sync.Mutex // guards dirty, deleted and stats
	dirty   map[string]*types.AggregatedCoverage
	deleted map[string]struct{}
	stats   statsRecorder
}

// NewBufferedPolicy creates a write-back policy.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.FlushCount <= 0 {
		return nil, ErrInvalidConfig
	}
	return &BufferedPolicy{
		sink:    sink,
		config:  config,
		logger:  config.Logger,
		dirty:   make(map[string]*types.AggregatedCoverage),
		deleted: make(map[string]struct{}),
	}, nil
}

// Load implements aggregate.Store.
func (p *BufferedPolicy) Load(ctx context.Context, contextID string) (*types.AggregatedCoverage, error) {
	p.mu.Lock()
	if cov, ok := p.dirty[contextID]; ok {
		p.mu.Unlock()
		return cov.Clone(), nil
	}
	if _, gone := p.deleted[contextID]; gone {
		p.mu.Unlock()
		return nil, nil
	}
	p.mu.Unlock()
	return p.sink.Load(ctx, contextID)
}

// Save buffers cov and flushes when the dirty threshold is reached.
func (p *BufferedPolicy) Save(ctx context.Context, cov *types.AggregatedCoverage) error {
	if cov == nil || cov.ContextID == "" {
		return errors.New("buffered policy: coverage without context id")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.stats.Saves++
	p.dirty[cov.ContextID] = cov.Clone()
	delete(p.deleted, cov.ContextID)

	if len(p.dirty) >= p.config.FlushCount {
		p.logger.Debug("dirty threshold reached, flushing", map[string]any{
			"dirty":       len(p.dirty),
			"flush_count": p.config.FlushCount,
		})
		return p.flushLocked(ctx)
	}
	return nil
}

// Delete drops buffered state and defers the sink delete to the next flush.
func (p *BufferedPolicy) Delete(_ context.Context, contextID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.stats.Deletes++
	delete(p.dirty, contextID)
	p.deleted[contextID] = struct{}{}
	return nil
}

// Contexts implements aggregate.Store.
func (p *BufferedPolicy) Contexts(ctx context.Context) ([]string, error) {
	stored, err := p.sink.Contexts(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	set := make(map[string]struct{}, len(stored)+len(p.dirty))
	for _, id := range stored {
		if _, gone := p.deleted[id]; !gone {
			set[id] = struct{}{}
		}
	}
	for id := range p.dirty {
		set[id] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Flush writes all buffered state to the sink.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(ctx)
}

// flushLocked writes pending deletes then dirty coverage in context id
// order. Caller must hold p.mu.
func (p *BufferedPolicy) flushLocked(ctx context.Context) error {
	p.stats.stats.Flushes++
	var errs []error

	for _, id := range sortedKeys(p.deleted) {
		if err := p.sink.Delete(ctx, id); err != nil {
			p.stats.stats.Errors++
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		delete(p.deleted, id)
	}

	for _, id := range sortedKeys(p.dirty) {
		if err := p.sink.Save(ctx, p.dirty[id]); err != nil {
			p.stats.stats.Errors++
			errs = append(errs, fmt.Errorf("save %s: %w", id, err))
			continue
		}
		p.stats.stats.Persisted++
		delete(p.dirty, id)
	}

	if len(errs) > 0 {
		p.logger.Error("buffered flush incomplete", map[string]any{
			"failed":  len(errs),
			"pending": len(p.dirty) + len(p.deleted),
		})
		return errors.Join(errs...)
	}
	return nil
}

// Close flushes and closes the sink. The sink is closed even when the
// flush fails.
func (p *BufferedPolicy) Close() error {
	flushErr := p.Flush(context.Background())
	return errors.Join(flushErr, closeSink(p.sink))
}

// Stats returns policy statistics.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(len(p.dirty))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
