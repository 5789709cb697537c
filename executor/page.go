package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/pithecene-io/scriptcover/instrument"
	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/types"
)

// DefaultTimerLimit bounds the callbacks run by one DrainTimers call.
const DefaultTimerLimit = 10000

// ErrNotLoaded is returned when collecting before Load.
var ErrNotLoaded = errors.New("page not loaded")

// ScriptError is a JavaScript exception raised by one unit or driver.
type ScriptError struct {
	Name string
	Err  error
}

func (e *ScriptError) Error() string { return fmt.Sprintf("script %s: %v", e.Name, e.Err) }

func (e *ScriptError) Unwrap() error { return e.Err }

// Options configures a Page.
type Options struct {
	Logger    *log.Logger
	Collector *metrics.Collector
}

// Page is one execution context backed by a goja runtime.
// Methods are serialized; a Page may be shared between goroutines.
type Page struct {
	url       string
	logger    *log.Logger
	collector *metrics.Collector

	mu     sync.Mutex
	vm     *goja.Runtime
	loaded bool
}

// pageBridge is exposed to the prelude as __page.
type pageBridge struct {
	URL  string                  `json:"url"`
	Emit func(level, msg string) `json:"emit"`
}

// NewPage creates an execution context for the document at url.
func NewPage(url string, opts Options) (*Page, error) {
	p := &Page{url: url, logger: opts.Logger, collector: opts.Collector, vm: goja.New()}
	p.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	bridge := &pageBridge{URL: url, Emit: p.emit}
	if err := p.vm.Set("__page", bridge); err != nil {
		return nil, fmt.Errorf("install bridge: %w", err)
	}
	if _, err := p.vm.RunScript("prelude.js", prelude); err != nil {
		return nil, fmt.Errorf("run prelude: %w", err)
	}
	return p, nil
}

func (p *Page) emit(level, msg string) {
	fields := map[string]any{"page_url": p.url, "text": msg}
	switch level {
	case "error":
		p.logger.Error("page console", fields)
	case "warn":
		p.logger.Warn("page console", fields)
	case "debug":
		p.logger.Debug("page console", fields)
	default:
		p.logger.Info("page console", fields)
	}
}

// URL returns the document address.
func (p *Page) URL() string { return p.url }

// run executes src, interrupting the VM when ctx is done.
// Callers hold p.mu.
func (p *Page) run(ctx context.Context, name, src string) (goja.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { p.vm.Interrupt(ctx.Err()) })
	defer func() {
		stop()
		p.vm.ClearInterrupt()
	}()

	v, err := p.vm.RunScript(name, src)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ScriptError{Name: name, Err: err}
	}
	return v, nil
}

// Load registers units and executes each instrumented unit in order.
// A unit that throws is logged and does not stop the others; its error is
// returned in the slice. Flagged units are registered but not executed.
func (p *Page) Load(ctx context.Context, units []*types.Unit) ([]error, error) {
	accessory, err := instrument.Accessory(units)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.run(ctx, "accessory.js", accessory); err != nil {
		return nil, fmt.Errorf("register units: %w", err)
	}
	p.loaded = true

	var unitErrs []error
	for i, u := range units {
		if u.Flagged() || u.Instrumented == "" {
			continue
		}
		if _, err := p.run(ctx, u.Src, u.Instrumented); err != nil {
			if ctx.Err() != nil {
				return unitErrs, ctx.Err()
			}
			p.collector.IncUnitExecError()
			p.logger.Warn("unit threw while loading", map[string]any{
				"src": u.Src, "index": i, "error": err.Error(),
			})
			unitErrs = append(unitErrs, err)
		}
	}
	return unitErrs, nil
}

// Eval runs driver code in the page, e.g. calls that exercise its
// functions. The result is exported to a Go value.
func (p *Page) Eval(ctx context.Context, name, src string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.run(ctx, name, src)
	if err != nil {
		return nil, err
	}
	return v.Export(), nil
}

// DrainTimers runs queued setTimeout/setInterval callbacks, including ones
// queued while draining, up to limit callbacks. It returns how many ran.
func (p *Page) DrainTimers(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultTimerLimit
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.run(ctx, "drain", fmt.Sprintf("window.__scriptcover.drain(%d)", limit))
	if err != nil {
		return 0, err
	}
	return int(v.ToInteger()), nil
}

// Dispatch fires the listeners registered for an event type, such as
// "load" or "DOMContentLoaded".
func (p *Page) Dispatch(ctx context.Context, eventType string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	typ, err := json.Marshal(eventType)
	if err != nil {
		return 0, err
	}
	v, err := p.run(ctx, "dispatch", fmt.Sprintf("window.__scriptcover.dispatch(%s)", typ))
	if err != nil {
		return 0, err
	}
	return int(v.ToInteger()), nil
}

// Collect produces a submission from the live execution state.
func (p *Page) Collect(ctx context.Context) (*types.PageSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return nil, ErrNotLoaded
	}
	v, err := p.run(ctx, "collect", "window.__scriptcover.snapshot()")
	if err != nil {
		return nil, err
	}
	var snap types.PageSnapshot
	if err := json.Unmarshal([]byte(v.String()), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
