package lode

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/scriptcover/aggregate"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/types"
)

var _ aggregate.Store = (*Store)(nil)

func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

// steppingClock returns a clock advancing one second per call.
func steppingClock() func() time.Time {
	t := time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Config{Dataset: "scriptcover", Now: steppingClock()}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func coverageFor(id string, count int64) *types.AggregatedCoverage {
	u := types.NewUnit(types.InlineOrigin("http://example.test/"), false, 0)
	u.Instrumented = "var a = 1;\n"
	u.Commands = append(u.Commands, "var%20a%20%3D%201%3B")
	u.Counter = 1
	u.BlockCounter = 1
	u.ExecutedBlock = []int64{0, count}

	cov := types.NewAggregatedCoverage(id)
	cov.Pages = append(cov.Pages, &types.PageSnapshot{URL: "http://example.test/", ScriptObjects: []*types.Unit{u}})
	cov.Submissions = count
	return cov
}

func TestStore_SaveLoadLatestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for _, n := range []int64{1, 2, 3} {
		if err := s.Save(ctx, coverageFor("tab-1", n)); err != nil {
			t.Fatalf("Save(%d) failed: %v", n, err)
		}
	}

	got, err := s.Load(ctx, "tab-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil coverage")
	}
	if got.Submissions != 3 {
		t.Errorf("Submissions = %d, want 3", got.Submissions)
	}
	if c := got.Pages[0].ScriptObjects[0].Executions(1); c != 3 {
		t.Errorf("block 1 count = %d, want 3", c)
	}
	if got.Pages[0].ScriptObjects[0].Instrumented != "var a = 1;\n" {
		t.Errorf("Instrumented = %q", got.Pages[0].ScriptObjects[0].Instrumented)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Load(t.Context(), "nope")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Errorf("Load = %+v, want nil", got)
	}
}

func TestStore_DeleteWritesTombstone(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for _, id := range []string{"b", "a"} {
		if err := s.Save(ctx, coverageFor(id, 1)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	ids, err := s.Contexts(ctx)
	if err != nil {
		t.Fatalf("Contexts failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("Contexts = %v, want [b]", ids)
	}
	if got, _ := s.Load(ctx, "a"); got != nil {
		t.Errorf("Load(a) after delete = %+v, want nil", got)
	}

	// Saving again resurrects the context.
	if err := s.Save(ctx, coverageFor("a", 5)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Load(ctx, "a")
	if err != nil || got == nil || got.Submissions != 5 {
		t.Errorf("Load(a) = %+v, %v; want submissions 5", got, err)
	}
}

func TestStore_BackingAggregator(t *testing.T) {
	s := newTestStore(t)
	agg := aggregate.New(aggregate.Options{Store: s})
	snap := coverageFor("x", 2).Pages[0]

	for range 2 {
		if _, err := agg.Accept(t.Context(), "tab-7", snap); err != nil {
			t.Fatalf("Accept failed: %v", err)
		}
	}

	cov, err := agg.Coverage(t.Context(), "tab-7")
	if err != nil {
		t.Fatalf("Coverage failed: %v", err)
	}
	if cov.Submissions != 2 {
		t.Errorf("Submissions = %d, want 2", cov.Submissions)
	}
	if len(cov.Pages[0].ScriptObjects) != 1 {
		t.Errorf("units = %d, want 1 (resubmission must merge)", len(cov.Pages[0].ScriptObjects))
	}
}

func TestStore_WriteAndQueryMetrics(t *testing.T) {
	s := newTestStore(t)
	collector := metrics.NewCollector("buffered", "goja", "lode")
	collector.IncSubmissionAccepted()
	collector.AddUnitsMerged(4)

	at := time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)
	if err := s.WriteMetrics(t.Context(), collector.Snapshot(), at); err != nil {
		t.Fatalf("WriteMetrics failed: %v", err)
	}
	// Coverage writes must not shadow the metrics record.
	if err := s.Save(t.Context(), coverageFor("tab", 1)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	record, err := s.LatestMetrics(t.Context())
	if err != nil {
		t.Fatalf("LatestMetrics failed: %v", err)
	}
	if record["record_kind"] != RecordKindMetrics {
		t.Errorf("record_kind = %v, want %q", record["record_kind"], RecordKindMetrics)
	}
	if record["policy"] != "buffered" || record["storage_backend"] != "lode" {
		t.Errorf("dimensions = %v/%v", record["policy"], record["storage_backend"])
	}
	if record["day"] != "2026-02-04" {
		t.Errorf("day = %v", record["day"])
	}
	counters, ok := record["counters"].(map[string]any)
	if !ok {
		t.Fatalf("counters = %T", record["counters"])
	}
	if v, _ := counters["units_merged"].(float64); v != 4 {
		t.Errorf("units_merged = %v, want 4", counters["units_merged"])
	}
}

func TestQueryLatestMetrics_None(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LatestMetrics(t.Context()); !errors.Is(err, ErrNoMetricsFound) {
		t.Errorf("err = %v, want ErrNoMetricsFound", err)
	}
}

func TestStore_RejectsAnonymousCoverage(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(t.Context(), types.NewAggregatedCoverage("")); err == nil {
		t.Error("Save with empty context id succeeded")
	}
}

// failingStore is a lode.Store whose writes fail. With failures set,
// only that many puts fail and later ones succeed.
type failingStore struct {
	putErr   error
	failures int
	puts     int
}

func (s *failingStore) Put(_ context.Context, _ string, _ io.Reader) error {
	s.puts++
	if s.failures > 0 {
		if s.puts > s.failures {
			return nil
		}
	}
	return s.putErr
}

func (s *failingStore) Get(_ context.Context, _ string) (io.ReadCloser, error) { return nil, nil }

func (s *failingStore) Exists(_ context.Context, _ string) (bool, error) { return false, nil }

func (s *failingStore) List(_ context.Context, _ string) ([]string, error) { return nil, nil }

func (s *failingStore) Delete(_ context.Context, _ string) error { return nil }

func (s *failingStore) ReadRange(_ context.Context, _ string, _, _ int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *failingStore) ReaderAt(_ context.Context, _ string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*failingStore)(nil)

func TestStore_WriteFailureIsClassified(t *testing.T) {
	collector := metrics.NewCollector("strict", "goja", "lode")
	s, err := NewStore(Config{Collector: collector}, sharedFactory(&failingStore{putErr: errors.New("write /data: no space left on device")}))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	err = s.Save(t.Context(), coverageFor("tab", 1))
	if err == nil {
		t.Fatal("Save succeeded on failing store")
	}
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected *StorageError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrDiskFull) {
		t.Errorf("kind = %v, want ErrDiskFull", storageErr.Kind)
	}
	if storageErr.Op != OpSave {
		t.Errorf("Op = %q, want %s", storageErr.Op, OpSave)
	}
	if got := collector.Snapshot().StoreWriteFailure; got != 1 {
		t.Errorf("StoreWriteFailure = %d, want 1", got)
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"datasets/scriptcover/record_kind=coverage/day=2026-02-04/part.jsonl", true},
		{"datasets/scriptcover/record_kind=coverage_old/day=2026-02-04/part.jsonl", false},
		{"datasets/scriptcover/record_kind=metrics/day=2026-02-04/part.jsonl", false},
	}
	for _, tt := range tests {
		if got := matchesPartitionValue(tt.path, "record_kind", RecordKindCoverage); got != tt.want {
			t.Errorf("matchesPartitionValue(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.in, b, p)
		}
	}
}

func TestS3Config_Validate(t *testing.T) {
	cfg := S3Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted empty bucket")
	}
}

func TestStore_WriteRetriesTransientFailures(t *testing.T) {
	old := writeBackoff
	writeBackoff = time.Millisecond
	t.Cleanup(func() { writeBackoff = old })

	collector := metrics.NewCollector("strict", "goja", "lode")
	fs := &failingStore{putErr: errors.New("SlowDown: please reduce request rate"), failures: 1}
	s, err := NewStore(Config{Collector: collector}, sharedFactory(fs))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := s.Save(t.Context(), coverageFor("tab", 1)); err != nil {
		t.Fatalf("Save failed after a throttled attempt: %v", err)
	}
	if fs.puts < 2 {
		t.Errorf("puts = %d, want a retry", fs.puts)
	}
	snap := collector.Snapshot()
	if snap.StoreWriteSuccess != 1 || snap.StoreWriteFailure != 0 {
		t.Errorf("write counters = %d ok, %d failed", snap.StoreWriteSuccess, snap.StoreWriteFailure)
	}
}

func TestStore_PermanentFailureIsNotRetried(t *testing.T) {
	fs := &failingStore{putErr: errors.New("AccessDenied: no grant")}
	s, err := NewStore(Config{}, sharedFactory(fs))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := s.Save(t.Context(), coverageFor("tab", 1)); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Save error = %v, want ErrAccessDenied", err)
	}
	if fs.puts != 1 {
		t.Errorf("puts = %d, want 1", fs.puts)
	}
}
