package policy_test

import (
	"errors"
	"testing"

	"github.com/pithecene-io/scriptcover/aggregate"
	"github.com/pithecene-io/scriptcover/policy"
	"github.com/pithecene-io/scriptcover/types"
)

var (
	_ policy.Policy   = (*policy.StrictPolicy)(nil)
	_ policy.Policy   = (*policy.BufferedPolicy)(nil)
	_ aggregate.Store = (*policy.StubSink)(nil)
)

func TestStrictPolicy_SaveWritesThrough(t *testing.T) {
	sink := policy.NewStubSink()
	pol := policy.NewStrictPolicy(sink)

	if err := pol.Save(t.Context(), types.NewAggregatedCoverage("tab-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ops := sink.Ops()
	if len(ops) != 1 || ops[0] != (policy.WriteOp{Kind: "save", ContextID: "tab-1"}) {
		t.Errorf("ops = %v, want one save of tab-1", ops)
	}
	got, err := pol.Load(t.Context(), "tab-1")
	if err != nil || got == nil {
		t.Fatalf("Load = %v, %v", got, err)
	}

	stats := pol.Stats()
	if stats.Saves != 1 || stats.Persisted != 1 || stats.Errors != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStrictPolicy_SinkErrorReturned(t *testing.T) {
	sink := policy.NewStubSink()
	boom := errors.New("sink down")
	sink.FailSaves(boom)
	pol := policy.NewStrictPolicy(sink)

	if err := pol.Save(t.Context(), types.NewAggregatedCoverage("tab-1")); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	stats := pol.Stats()
	if stats.Errors != 1 || stats.Persisted != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStrictPolicy_DeleteAndContexts(t *testing.T) {
	sink := policy.NewStubSink()
	pol := policy.NewStrictPolicy(sink)
	for _, id := range []string{"a", "b"} {
		if err := pol.Save(t.Context(), types.NewAggregatedCoverage(id)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := pol.Delete(t.Context(), "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ids, err := pol.Contexts(t.Context())
	if err != nil {
		t.Fatalf("Contexts: %v", err)
	}
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("Contexts = %v, want [b]", ids)
	}
}

func TestStrictPolicy_FlushAndClose(t *testing.T) {
	sink := policy.NewStubSink()
	pol := policy.NewStrictPolicy(sink)

	if err := pol.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if pol.Stats().Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", pol.Stats().Flushes)
	}
	if err := pol.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sink.Closed() {
		t.Error("sink not closed")
	}
}
