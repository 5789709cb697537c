package discovery

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/types"
)

// DefaultIgnorePrefixes are script origins left untouched.
var DefaultIgnorePrefixes = []string{"chrome-extension://", "moz-extension://"}

var (
	// ErrNotPending is returned when resolving an element that is not the
	// one the walk is waiting for.
	ErrNotPending = errors.New("element is not pending")
	// ErrNotDone is returned by Units before the walk has finished.
	ErrNotDone = errors.New("discovery not finished")
)

// Pending identifies the external element the walk is suspended on.
type Pending struct {
	Index int
	URL   string
}

// Step is the outcome of Advance: either the walk finished or it is
// waiting for one external element.
type Step struct {
	Done    bool
	Pending *Pending
}

// Options configures a Discoverer.
type Options struct {
	// IgnorePrefixes are src prefixes skipped without creating a unit.
	// Nil selects DefaultIgnorePrefixes.
	IgnorePrefixes []string
	Logger         *log.Logger
	Collector      *metrics.Collector
}

// Discoverer turns script elements into units, last element first.
// It is not safe for concurrent use.
type Discoverer struct {
	pageURL   string
	elements  []*ScriptElement
	ignore    []string
	logger    *log.Logger
	collector *metrics.Collector

	cursor    int
	pending   *Pending
	collected []*types.Unit
	extracted map[int]bool
	done      bool
}

// NewDiscoverer prepares a walk over elements of the document at pageURL.
func NewDiscoverer(pageURL string, elements []*ScriptElement, opts Options) *Discoverer {
	ignore := opts.IgnorePrefixes
	if ignore == nil {
		ignore = DefaultIgnorePrefixes
	}
	return &Discoverer{
		pageURL:   pageURL,
		elements:  elements,
		ignore:    ignore,
		logger:    opts.Logger,
		collector: opts.Collector,
		cursor:    len(elements) - 1,
		extracted: make(map[int]bool),
	}
}

// Advance collects inline elements until it reaches an external element or
// the start of the document. While an element is pending, Advance keeps
// returning it.
func (d *Discoverer) Advance() Step {
	if d.done {
		return Step{Done: true}
	}
	if d.pending != nil {
		return Step{Pending: d.pending}
	}
	for d.cursor >= 0 {
		el := d.elements[d.cursor]
		if el.External() {
			if d.ignored(el.Src) {
				d.logger.Debug("script skipped", map[string]any{"src": el.Src, "index": el.Index})
				d.cursor--
				continue
			}
			d.pending = &Pending{Index: d.cursor, URL: el.Src}
			return Step{Pending: d.pending}
		}
		unit := types.NewUnit(types.InlineOrigin(d.pageURL), false, el.Index)
		unit.RawContent = el.Inline
		d.collect(d.cursor, unit)
		d.cursor--
	}
	d.done = true
	d.collector.AddUnitsDiscovered(len(d.collected))
	return Step{Done: true}
}

// Resolve supplies the content of the pending element at index.
func (d *Discoverer) Resolve(index int, content string) error {
	p, err := d.take(index)
	if err != nil {
		return err
	}
	unit := types.NewUnit(p.URL, true, d.elements[index].Index)
	unit.RawContent = content
	d.collect(index, unit)
	return nil
}

// Reject records that the pending element at index could not be fetched.
// The unit is kept, flagged empty, so it is never mistaken for empty source.
func (d *Discoverer) Reject(index int, cause error) error {
	p, err := d.take(index)
	if err != nil {
		return err
	}
	ferr := &FetchError{URL: p.URL, Err: cause}
	unit := types.NewUnit(p.URL, true, d.elements[index].Index)
	unit.Empty = true
	unit.Error = ferr.Error()
	d.collect(index, unit)
	d.logger.Warn("script fetch failed", map[string]any{"src": p.URL, "index": index, "error": ferr.Error()})
	return nil
}

func (d *Discoverer) take(index int) (*Pending, error) {
	if d.pending == nil || d.pending.Index != index {
		return nil, fmt.Errorf("%w: %d", ErrNotPending, index)
	}
	p := d.pending
	d.pending = nil
	d.cursor = index - 1
	return p, nil
}

func (d *Discoverer) collect(index int, unit *types.Unit) {
	d.collected = append(d.collected, unit)
	d.extracted[index] = true
}

func (d *Discoverer) ignored(src string) bool {
	for _, prefix := range d.ignore {
		if strings.HasPrefix(src, prefix) {
			return true
		}
	}
	return false
}

// Done reports whether the walk has finished.
func (d *Discoverer) Done() bool { return d.done }

// Units returns the collected units in document order.
func (d *Discoverer) Units() ([]*types.Unit, error) {
	if !d.done {
		return nil, ErrNotDone
	}
	units := slices.Clone(d.collected)
	slices.Reverse(units)
	return units, nil
}

// Extracted reports whether element index produced a unit.
func (d *Discoverer) Extracted(index int) bool { return d.extracted[index] }
