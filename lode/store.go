// Package lode persists aggregated coverage in Lode datasets.
//
// Lode datasets are append-only: every Save writes a new coverage record
// and Delete writes a tombstone. Reads resolve the latest record per
// context. Records are Hive-partitioned by record_kind and day and
// encoded as JSON lines.
package lode

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/types"
)

// DefaultDataset is the dataset id used when none is configured.
const DefaultDataset = "scriptcover"

// Config holds Lode store configuration.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// Now defaults to time.Now.
	Now func() time.Time
	// Collector records store writes. May be nil.
	Collector *metrics.Collector
}

// NewDataset creates a Dataset with the layout and codec used by Store.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("record_kind", "day"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, Wrap(OpInit, dataset, err)
	}
	return ds, nil
}

// Store is an aggregate.Store over a Lode dataset.
type Store struct {
	dataset   lode.Dataset
	name      string
	now       func() time.Time
	collector *metrics.Collector

	mu  sync.Mutex // serializes writes and guards seq
	seq int64
}

// NewStore creates a Store with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewStore(cfg Config, factory lode.StoreFactory) (*Store, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := NewDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{dataset: ds, name: cfg.Dataset, now: now, collector: cfg.Collector}, nil
}

// NewFSStore creates a Store rooted at a local directory.
func NewFSStore(cfg Config, root string) (*Store, error) {
	return NewStore(cfg, lode.NewFSFactory(root))
}

// writeAttempts bounds retries of transient write failures.
const writeAttempts = 3

// writeBackoff is the pause before the second attempt; it doubles after.
var writeBackoff = 200 * time.Millisecond

// write appends record, retrying failures classified as transient.
func (s *Store) write(ctx context.Context, record map[string]any) error {
	delay := writeBackoff
	for attempt := 1; ; attempt++ {
		_, err := s.dataset.Write(ctx, []any{record}, lode.Metadata{})
		if err == nil {
			s.collector.IncStoreWriteSuccess()
			return nil
		}
		err = Wrap(OpSave, s.name, err)
		if attempt == writeAttempts || !Retryable(err) {
			s.collector.IncStoreWriteFailure()
			return err
		}
		select {
		case <-ctx.Done():
			s.collector.IncStoreWriteFailure()
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Save implements aggregate.Store.
func (s *Store) Save(ctx context.Context, cov *types.AggregatedCoverage) error {
	if cov == nil || cov.ContextID == "" {
		return fmt.Errorf("lode store: coverage without context id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.write(ctx, toCoverageRecordMap(cov.ContextID, cov, s.now(), s.seq))
}

// Delete implements aggregate.Store by writing a tombstone.
func (s *Store) Delete(ctx context.Context, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.write(ctx, toCoverageRecordMap(contextID, nil, s.now(), s.seq))
}

// latest resolves the newest coverage record of every context.
func (s *Store) latest(ctx context.Context) (map[string]*CoverageRecord, error) {
	snapshots, err := s.dataset.Snapshots(ctx)
	if err != nil {
		return nil, Wrap(OpLoad, s.name+"/snapshots", err)
	}

	out := make(map[string]*CoverageRecord)
	for _, snap := range snapshots {
		if !snapshotMatchesFilter(snap, "record_kind", RecordKindCoverage) {
			continue
		}
		data, err := s.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, Wrap(OpLoad, fmt.Sprintf("%s/snapshot/%s", s.name, snap.ID), err)
		}
		for _, item := range data {
			rec, err := fromRecordMap(item)
			if err != nil {
				return nil, &StorageError{Kind: ErrCorrupt, Op: OpDecode, Path: fmt.Sprintf("%s/snapshot/%s", s.name, snap.ID), Err: err}
			}
			if rec == nil {
				continue
			}
			if rec.newer(out[rec.ContextID]) {
				out[rec.ContextID] = rec
			}
		}
	}
	return out, nil
}

// Load implements aggregate.Store.
func (s *Store) Load(ctx context.Context, contextID string) (*types.AggregatedCoverage, error) {
	recs, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	rec := recs[contextID]
	if rec == nil || rec.Deleted {
		return nil, nil
	}
	return rec.Coverage, nil
}

// Contexts implements aggregate.Store.
func (s *Store) Contexts(ctx context.Context) ([]string, error) {
	recs, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for id, rec := range recs {
		if !rec.Deleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases store resources.
func (s *Store) Close() error {
	return nil
}
