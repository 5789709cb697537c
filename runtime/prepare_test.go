package runtime

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pithecene-io/scriptcover/discovery"
	"github.com/pithecene-io/scriptcover/metrics"
)

const preparePage = `<html><head>
<script>var a = 1; if (a) { a = 2; }</script>
<script src="https://cdn.test/app.js"></script>
<script src="https://cdn.test/broken.js"></script>
</head><body><p>hi</p></body></html>`

func TestPreparePage(t *testing.T) {
	fetcher := discovery.FetcherFunc(func(_ context.Context, url string) (string, error) {
		switch url {
		case "https://cdn.test/app.js":
			return "function g() { return 1; }\ng();", nil
		default:
			return "", errors.New("connection refused")
		}
	})
	collector := metrics.NewCollector("strict", "test", "memory")

	page, err := PreparePage(context.Background(), strings.NewReader(preparePage), PrepareConfig{
		PageURL:   "https://site.test/index.html",
		Fetcher:   fetcher,
		Collector: collector,
	})
	if err != nil {
		t.Fatalf("PreparePage: %v", err)
	}

	if len(page.Units) != 3 {
		t.Fatalf("units = %d, want 3", len(page.Units))
	}
	if len(page.UnitErrors) != 1 || page.UnitErrors[0].Origin != "https://cdn.test/broken.js" {
		t.Errorf("unit errors = %+v", page.UnitErrors)
	}
	for i, u := range page.Units[:2] {
		if u.Instrumented == "" || u.BlockCounter == 0 {
			t.Errorf("unit %d not instrumented: %+v", i, u)
		}
	}
	if !strings.Contains(page.Accessory, "window.scriptObjects") {
		t.Error("accessory does not register window.scriptObjects")
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "window.scriptObjects") {
		t.Error("rendered page lacks the accessory script")
	}
	if !strings.Contains(out, "<p>hi</p>") {
		t.Error("rendered page lost its body")
	}

	snap := collector.Snapshot()
	if snap.FetchSuccess != 1 || snap.FetchFailure != 1 {
		t.Errorf("fetch counters = %d/%d, want 1/1", snap.FetchSuccess, snap.FetchFailure)
	}
}

func TestPreparePage_WithoutFetcher(t *testing.T) {
	page, err := PreparePage(context.Background(), strings.NewReader(preparePage), PrepareConfig{
		PageURL: "https://site.test/index.html",
	})
	if err != nil {
		t.Fatalf("PreparePage: %v", err)
	}
	// External units are flagged, the inline one still runs instrumented.
	if len(page.UnitErrors) != 2 {
		t.Errorf("unit errors = %d, want 2", len(page.UnitErrors))
	}
}

func TestPreparePage_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := PreparePage(ctx, strings.NewReader(preparePage), PrepareConfig{PageURL: "https://site.test/"}); err == nil {
		t.Error("expected error for canceled context")
	}
}
