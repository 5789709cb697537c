package lode

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/types"
)

// RecordKind discriminator values.
const (
	RecordKindCoverage = "coverage"
	RecordKindMetrics  = "metrics"
)

// savedAtLayout is fixed width so timestamps order lexically.
const savedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DeriveDay computes the partition day: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// CoverageRecord is the storage format of one saved AggregatedCoverage.
// A record with Deleted set is a tombstone.
type CoverageRecord struct {
	RecordKind string                    `json:"record_kind"`
	ContextID  string                    `json:"context_id"`
	Day        string                    `json:"day"`
	SavedAt    string                    `json:"saved_at"`
	Seq        int64                     `json:"seq"`
	Deleted    bool                      `json:"deleted,omitempty"`
	Coverage   *types.AggregatedCoverage `json:"coverage,omitempty"`
}

// newer reports whether r supersedes other.
func (r *CoverageRecord) newer(other *CoverageRecord) bool {
	if other == nil {
		return true
	}
	if r.SavedAt != other.SavedAt {
		return r.SavedAt > other.SavedAt
	}
	return r.Seq > other.Seq
}

func toCoverageRecordMap(contextID string, cov *types.AggregatedCoverage, at time.Time, seq int64) map[string]any {
	m := map[string]any{
		"record_kind": RecordKindCoverage,
		"context_id":  contextID,
		"day":         DeriveDay(at),
		"saved_at":    at.UTC().Format(savedAtLayout),
		"seq":         seq,
	}
	if cov == nil {
		m["deleted"] = true
	} else {
		m["coverage"] = cov
	}
	return m
}

// fromRecordMap decodes a generic record read back from the dataset.
// Records of other kinds return nil.
func fromRecordMap(item any) (*CoverageRecord, error) {
	m, ok := item.(map[string]any)
	if !ok || m["record_kind"] != RecordKindCoverage {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("re-encode coverage record: %w", err)
	}
	var rec CoverageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode coverage record: %w", err)
	}
	return &rec, nil
}

// toMetricsRecordMap flattens a metrics snapshot into a record.
func toMetricsRecordMap(snap metrics.Snapshot, at time.Time) map[string]any {
	counters := make(map[string]any)
	for name, v := range snap.Counters() {
		counters[name] = v
	}
	return map[string]any{
		"record_kind":     RecordKindMetrics,
		"day":             DeriveDay(at),
		"ts":              at.UTC().Format(time.RFC3339Nano),
		"policy":          snap.Policy,
		"executor":        snap.Executor,
		"storage_backend": snap.StorageBackend,
		"counters":        counters,
	}
}
