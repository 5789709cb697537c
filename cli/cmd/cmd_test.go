package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/scriptcover/aggregate"
	"github.com/pithecene-io/scriptcover/cli/config"
	"github.com/pithecene-io/scriptcover/ipc"
	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/probe"
	"github.com/pithecene-io/scriptcover/runtime"
	"github.com/pithecene-io/scriptcover/types"
)

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	flags := ReadOnlyFlags()

	hasTUI := false
	for _, f := range flags {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}

	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestCommands_UniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range Commands("test") {
		if seen[c.Name] {
			t.Errorf("duplicate command %q", c.Name)
		}
		seen[c.Name] = true
	}
	for _, want := range []string{"instrument", "run", "exec", "submit", "report", "summary", "contexts", "forget", "serve", "version"} {
		if !seen[want] {
			t.Errorf("missing command %q", want)
		}
	}
}

// runApp runs args against a fresh app and returns its output and the
// exit code carried by the error (0 when nil).
func runApp(t *testing.T, stdin io.Reader, args ...string) (string, int, error) {
	t.Helper()
	var out bytes.Buffer
	app := &cli.App{
		Name:           "scriptcover",
		Reader:         stdin,
		Writer:         &out,
		ErrWriter:      io.Discard,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands:       Commands("test"),
	}
	err := app.Run(append([]string{"scriptcover"}, args...))
	code := 0
	if err != nil {
		code = 1
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			code = ec.ExitCode()
		}
	}
	return out.String(), code, err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const testPage = `<html><body>
<script>
var hits = 0;
function hit(n) {
  if (n > 0) {
    hits += n;
  }
  return hits;
}
hit(1);
</script>
<script src="lib.js"></script>
</body></html>`

const testLib = `function unused() {
  return 42;
}
var loaded = true;
`

func writeTestPage(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "lib.js", testLib)
	return writeFile(t, dir, "index.html", testPage)
}

// testSnapshot is a one-unit snapshot with a top-level statement and a
// block executed execs times.
func testSnapshot(pageURL string, execs int64) *types.PageSnapshot {
	u := types.NewUnit(types.InlineOrigin(pageURL), false, 0)
	u.Instrumented = "a;\n{\nb;\n}"
	u.Commands = []string{"", "a%3B", probe.BeginMarker(1), "b%3B", probe.EndMarker(1)}
	u.Counter = 4
	u.BlockCounter = 1
	u.ExecutedBlock = []int64{0, execs}
	return &types.PageSnapshot{URL: pageURL, ScriptObjects: []*types.Unit{u}}
}

func TestInstrument_Script(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "app.js", "var x = 1;\nif (x) {\n  x++;\n}\n")
	unitsPath := filepath.Join(dir, "units.json")

	out, code, err := runApp(t, nil, "instrument", "-f", "json", "--units-json", unitsPath, src)
	if err != nil {
		t.Fatalf("instrument: %v (code %d)", err, code)
	}

	var resp InstrumentResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode response %q: %v", out, err)
	}
	if resp.Units != 1 || resp.Flagged != 0 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Output != filepath.Join(dir, "app.instrumented.js") {
		t.Errorf("output = %q", resp.Output)
	}

	data, err := os.ReadFile(resp.Output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "window.scriptObjects") {
		t.Error("instrumented script does not register its unit")
	}

	table, err := os.ReadFile(unitsPath)
	if err != nil {
		t.Fatalf("read units json: %v", err)
	}
	var units []types.Unit
	if err := json.Unmarshal(table, &units); err != nil {
		t.Fatalf("decode units: %v", err)
	}
	if len(units) != 1 || units[0].BlockCounter == 0 || units[0].Counter != len(units[0].Commands)-1 {
		t.Errorf("unit table = %+v", units)
	}
}

func TestInstrument_ScriptParseErrorFails(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "broken.js", "function (")

	_, code, err := runApp(t, nil, "instrument", "-f", "json", src)
	if err == nil {
		t.Fatal("expected an error for an unparsable script")
	}
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "broken.instrumented.js")); !os.IsNotExist(statErr) {
		t.Error("no output should be written for an unparsable script")
	}
}

func TestInstrument_Page(t *testing.T) {
	page := writeTestPage(t)
	out := filepath.Join(t.TempDir(), "out.html")

	stdout, _, err := runApp(t, nil, "instrument", "-f", "json", "-o", out, page)
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}
	var resp InstrumentResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Units != 2 || resp.Instrumented != 2 {
		t.Errorf("response = %+v", resp)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if !strings.Contains(string(data), "window.scriptObjects") {
		t.Error("page lacks the registration script")
	}
}

func TestInstrument_RequiresOneInput(t *testing.T) {
	if _, code, err := runApp(t, nil, "instrument"); err == nil || code != 1 {
		t.Fatalf("err = %v, code = %d", err, code)
	}
}

func TestRun_PersistsAndReports(t *testing.T) {
	page := writeTestPage(t)
	db := filepath.Join(t.TempDir(), "db")
	store := []string{"--store", "badger", "--store-path", db}

	out, code, err := runApp(t, nil, append([]string{"run", "-f", "json", "--context", "tab-1"}, append(store, page)...)...)
	if err != nil {
		t.Fatalf("run: %v (code %d)", err, code)
	}
	var runs []PageRun
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs %q: %v", out, err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].ContextID != "tab-1" || runs[0].Units != 2 || runs[0].Commands == 0 || runs[0].Error != "" {
		t.Errorf("run = %+v", runs[0])
	}
	if runs[0].Executed == 0 {
		t.Error("loading the page should execute commands")
	}

	out, _, err = runApp(t, nil, append([]string{"summary", "-f", "json", "--context", "tab-1"}, store...)...)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	var sum types.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.ContextID != "tab-1" || len(sum.PerUnit) != 2 || sum.GlobalPercent != runs[0].Percent {
		t.Errorf("summary = %+v, run percent %s", sum, runs[0].Percent)
	}

	out, _, err = runApp(t, nil, append([]string{"report", "-f", "text", "--no-color", "--context", "tab-1"}, store...)...)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out, "Coverage tab-1") || !strings.Contains(out, "lib.js") {
		t.Errorf("report output:\n%s", out)
	}

	out, _, err = runApp(t, nil, append([]string{"contexts", "-f", "json"}, store...)...)
	if err != nil {
		t.Fatalf("contexts: %v", err)
	}
	var entries []ContextEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode contexts: %v", err)
	}
	if len(entries) != 1 || entries[0].ContextID != "tab-1" || entries[0].Submissions != 1 {
		t.Errorf("contexts = %+v", entries)
	}

	if _, _, err := runApp(t, nil, append([]string{"forget", "tab-1"}, store...)...); err != nil {
		t.Fatalf("forget: %v", err)
	}
	_, code, err = runApp(t, nil, append([]string{"summary", "-f", "json", "--context", "tab-1"}, store...)...)
	if err == nil || code != 1 || !strings.Contains(err.Error(), "context not found") {
		t.Errorf("summary after forget: err = %v, code = %d", err, code)
	}
}

func TestRun_DriverFailureKeepsCoverage(t *testing.T) {
	page := writeTestPage(t)
	driver := writeFile(t, filepath.Dir(page), "drive.js", "hit(3);\nthrow new Error('boom');\n")

	out, code, err := runApp(t, nil, "run", "-f", "json", "--drive", driver, page)
	if err == nil {
		t.Fatal("expected a driver failure")
	}
	if code != exitScriptError {
		t.Errorf("exit code = %d, want %d", code, exitScriptError)
	}
	var runs []PageRun
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Error == "" || runs[0].Commands == 0 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRun_SeveralPagesGetTheirOwnContexts(t *testing.T) {
	first := writeTestPage(t)
	second := writeTestPage(t)

	out, _, err := runApp(t, nil, "run", "-f", "json", "--concurrency", "2", first, second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var runs []PageRun
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ContextID == runs[1].ContextID {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRun_PageURLNeedsSinglePage(t *testing.T) {
	page := writeTestPage(t)
	_, code, err := runApp(t, nil, "run", "--page-url", "http://a.test/", page, page)
	if err == nil || code != 1 {
		t.Fatalf("err = %v, code = %d", err, code)
	}
}

func TestSubmit_AcceptsSnapshotFiles(t *testing.T) {
	dir := t.TempDir()
	one, err := json.Marshal(testSnapshot("http://a.test/", 0))
	if err != nil {
		t.Fatal(err)
	}
	many, err := json.Marshal([]*types.PageSnapshot{testSnapshot("http://a.test/", 2), testSnapshot("http://b.test/", 0)})
	if err != nil {
		t.Fatal(err)
	}
	first := writeFile(t, dir, "one.json", string(one))
	second := writeFile(t, dir, "many.json", string(many))
	lodeDir := filepath.Join(dir, "lode")
	store := []string{"--store", "lode", "--store-path", lodeDir}

	out, _, err := runApp(t, nil, append([]string{"submit", "-f", "json", "--context", "tab-9"}, append(store, first, second)...)...)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var sum types.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode summary %q: %v", out, err)
	}
	// a.test is fully covered after the second submission; b.test is half.
	if sum.ContextID != "tab-9" || sum.CommandCount != 4 || sum.GlobalPercent != "75.0" {
		t.Errorf("summary = %+v", sum)
	}

	out, _, err = runApp(t, nil, append([]string{"report", "-f", "text", "--no-color", "--context", "tab-9"}, store...)...)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out, "Coverage tab-9 75.0%") {
		t.Errorf("report output:\n%s", out)
	}

	out, _, err = runApp(t, nil, append([]string{"stats", "-f", "json"}, store...)...)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "submissions_accepted") {
		t.Errorf("stats output: %s", out)
	}
}

func TestSubmit_InvalidFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.json", "{not json")
	_, code, err := runApp(t, nil, "submit", "--context", "x", path)
	if err == nil || code != 1 {
		t.Fatalf("err = %v, code = %d", err, code)
	}
}

func TestReadCommands_RequirePersistentStore(t *testing.T) {
	for _, args := range [][]string{
		{"report", "--context", "x"},
		{"summary", "--context", "x"},
		{"contexts"},
		{"forget", "x"},
		{"stats"},
	} {
		t.Run(args[0], func(t *testing.T) {
			_, code, err := runApp(t, nil, args...)
			if err == nil || code != 1 {
				t.Fatalf("err = %v, code = %d", err, code)
			}
		})
	}
}

func TestContexts_RejectsTUI(t *testing.T) {
	_, code, err := runApp(t, nil, "contexts", "--tui")
	if err == nil || code != 1 || !strings.Contains(err.Error(), "--tui is not supported") {
		t.Fatalf("err = %v, code = %d", err, code)
	}
}

func TestExec_LaunchFailureIsACrash(t *testing.T) {
	page := writeTestPage(t)
	out, code, err := runApp(t, nil, "exec", "--executor", filepath.Join(t.TempDir(), "missing-harness"), page)
	if err == nil {
		t.Fatal("expected a failure exit")
	}
	if code != exitCrash {
		t.Errorf("exit code = %d, want %d", code, exitCrash)
	}
	if !strings.Contains(out, "executor_crash") {
		t.Errorf("output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(page), "index.instrumented.html")); err != nil {
		t.Errorf("instrumented page not written: %v", err)
	}
}

func TestServe_AnswersFramedRequests(t *testing.T) {
	var in bytes.Buffer
	reqs := []types.Request{
		&types.SubmitCoverageRequest{ContextID: "tab-1", Snapshot: testSnapshot("http://a.test/", 0)},
		&types.GetSummaryRequest{ContextID: "tab-1"},
		&types.ShowCoverageRequest{ContextID: "missing"},
	}
	for i, req := range reqs {
		frame, err := ipc.EncodeFrame(types.NewRequestEnvelope(req, int64(i+1)))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		in.Write(frame)
	}

	out, code, err := runApp(t, &in, "serve", "--collect-interval", "0")
	if err != nil {
		t.Fatalf("serve: %v (code %d)", err, code)
	}

	dec := ipc.NewFrameDecoder(strings.NewReader(out))
	var resps []*types.Response
	for {
		payload, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		resp, err := ipc.DecodeResponse(payload)
		if err != nil {
			t.Fatalf("decode response: %v", err)
		}
		resps = append(resps, resp)
	}
	if len(resps) != 3 {
		t.Fatalf("got %d responses, want 3", len(resps))
	}
	if !resps[0].OK || resps[0].Summary == nil || resps[0].Summary.GlobalPercent != "50.0" {
		t.Errorf("submit response = %+v", resps[0])
	}
	if !resps[1].OK || resps[1].Seq != 2 || resps[1].Summary.CommandCount != 2 {
		t.Errorf("summary response = %+v", resps[1])
	}
	if resps[2].OK || resps[2].Seq != 3 {
		t.Errorf("missing-context response = %+v", resps[2])
	}
}

func TestVersion(t *testing.T) {
	out, _, err := runApp(t, nil, "version", "-f", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var v VersionResponse
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Version != types.Version || v.Commit != "test" || len(v.PreludeChecksum) != 64 {
		t.Errorf("version = %+v", v)
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "scriptcover.yaml", "store:\n  backend: badger\n  path: ./db\npolicy:\n  name: buffered\n  flush_count: 8\n")

	var got *config.Config
	app := &cli.App{
		Name:   "test",
		Writer: io.Discard,
		Flags:  StoreFlags(),
		Action: func(c *cli.Context) error {
			var err error
			got, err = loadConfig(c)
			return err
		},
	}
	err := app.Run([]string{"test", "--config", cfgPath, "--store", "lode", "--store-path", "s3://bucket/runs/a", "--flush-count", "2"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Store.Backend != "lode" || got.Store.Bucket != "bucket" || got.Store.Prefix != "runs/a" || got.Store.Path != "" {
		t.Errorf("store = %+v", got.Store)
	}
	if got.Policy.Name != "buffered" || got.Policy.FlushCount != 2 {
		t.Errorf("policy = %+v", got.Policy)
	}
}

func TestBuildAdapter(t *testing.T) {
	a, err := buildAdapter(config.AdapterConfig{})
	if err != nil || a != nil {
		t.Fatalf("empty config: adapter %v, err %v", a, err)
	}
	if _, err := buildAdapter(config.AdapterConfig{Type: "webhook"}); err == nil {
		t.Error("webhook without URL should fail")
	}
	a, err = buildAdapter(config.AdapterConfig{Type: "redis", URL: "redis://localhost:6379/0"})
	if err != nil || a == nil {
		t.Fatalf("redis: adapter %v, err %v", a, err)
	}
	_ = a.Close()
	if _, err := buildAdapter(config.AdapterConfig{Type: "kafka"}); err == nil {
		t.Error("unknown type should fail")
	}
}

func TestExitFor(t *testing.T) {
	if got := exitFor(nil); got != exitSuccess {
		t.Errorf("nil = %d", got)
	}
	if got := exitFor(errors.New("boom")); got != exitScriptError {
		t.Errorf("plain = %d", got)
	}
}

func TestStatusBoard_LogsOnlyChanges(t *testing.T) {
	agg := aggregate.New(aggregate.Options{Store: aggregate.NewMemoryStore()})
	host, err := runtime.NewHost(runtime.HostConfig{Aggregator: agg})
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	board := newStatusBoard(host, log.NewLoggerWithWriter(log.Meta{Component: "serve"}, &logs))
	ctx := t.Context()

	board.refresh(ctx, "tab-1")
	if logs.Len() != 0 {
		t.Fatalf("unknown context logged: %s", logs.String())
	}

	if _, err := agg.Accept(ctx, "tab-1", testSnapshot("http://a.test/", 0)); err != nil {
		t.Fatal(err)
	}
	board.refresh(ctx, "tab-1")
	board.refresh(ctx, "tab-1")
	if n := strings.Count(logs.String(), "coverage status"); n != 1 {
		t.Errorf("logged %d status lines, want 1:\n%s", n, logs.String())
	}

	if _, err := agg.Accept(ctx, "tab-1", testSnapshot("http://a.test/", 1)); err != nil {
		t.Fatal(err)
	}
	board.refresh(ctx, "tab-1")
	if n := strings.Count(logs.String(), "coverage status"); n != 2 {
		t.Errorf("logged %d status lines after a change, want 2", n)
	}
	if !strings.Contains(logs.String(), `"percent":"100.0"`) {
		t.Errorf("logs: %s", logs.String())
	}
}
