package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/scriptcover/metrics"
)

// ErrNoMetricsFound is returned when no metrics records exist.
var ErrNoMetricsFound = errors.New("no metrics records found")

// WriteMetrics appends a metrics record for snap.
func (s *Store) WriteMetrics(ctx context.Context, snap metrics.Snapshot, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.dataset.Write(ctx, []any{toMetricsRecordMap(snap, at)}, lode.Metadata{}); err != nil {
		return Wrap(OpSave, s.name, err)
	}
	return nil
}

// QueryLatestMetrics returns the most recent metrics record of ds.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, Wrap(OpLoad, "snapshots", err)
	}

	// Snapshots are ordered by creation time.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "record_kind", RecordKindMetrics) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, Wrap(OpLoad, fmt.Sprintf("snapshot/%s", snap.ID), err)
		}
		for j := len(data) - 1; j >= 0; j-- {
			record, ok := data[j].(map[string]any)
			if ok && record["record_kind"] == RecordKindMetrics {
				return record, nil
			}
		}
	}
	return nil, ErrNoMetricsFound
}

// LatestMetrics is QueryLatestMetrics over the store's own dataset.
func (s *Store) LatestMetrics(ctx context.Context) (map[string]any, error) {
	return QueryLatestMetrics(ctx, s.dataset)
}

// snapshotMatchesFilter checks if any file of snap lies in the
// key=value partition.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so
// that kind=a does not match kind=ab.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
