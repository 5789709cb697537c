package runtime

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/net/html"

	"github.com/pithecene-io/scriptcover/discovery"
	"github.com/pithecene-io/scriptcover/instrument"
	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/types"
)

// PrepareConfig configures PreparePage.
type PrepareConfig struct {
	// PageURL is the document address; units of inline scripts use it as
	// their origin and relative script URLs resolve against it.
	PageURL string
	// Fetcher loads external scripts. Required when the page has any.
	Fetcher discovery.Fetcher
	// IgnorePrefixes are script origins left untouched. Nil selects
	// discovery.DefaultIgnorePrefixes.
	IgnorePrefixes []string
	// Instrumenter defaults to instrument.New with default options.
	Instrumenter *instrument.Instrumenter
	Logger       *log.Logger
	Collector    *metrics.Collector
}

// PreparedPage is a discovered and instrumented document.
type PreparedPage struct {
	// URL is the document address.
	URL string
	// Units are the page's units in registry order.
	Units []*types.Unit
	// UnitErrors lists the units excluded from instrumentation.
	UnitErrors []instrument.UnitError
	// Accessory is the registration script for Units.
	Accessory string

	doc *html.Node
}

// PreparePage parses the HTML page read from r, discovers its script units
// (fetching external ones), instruments them and rewrites the document so
// that it runs the instrumented code.
func PreparePage(ctx context.Context, r io.Reader, cfg PrepareConfig) (*PreparedPage, error) {
	doc, err := discovery.ParseDocument(r)
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", cfg.PageURL, err)
	}

	elements := discovery.ExtractScripts(doc, cfg.PageURL)
	disc := discovery.NewDiscoverer(cfg.PageURL, elements, discovery.Options{
		IgnorePrefixes: cfg.IgnorePrefixes,
		Logger:         cfg.Logger,
		Collector:      cfg.Collector,
	})

	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = discovery.FetcherFunc(func(_ context.Context, url string) (string, error) {
			return "", fmt.Errorf("no fetcher configured for %s", url)
		})
	}
	units, err := discovery.Run(ctx, disc, fetcher)
	if err != nil {
		return nil, fmt.Errorf("discover scripts of %s: %w", cfg.PageURL, err)
	}

	in := cfg.Instrumenter
	if in == nil {
		in = instrument.New(instrument.Options{Logger: cfg.Logger, Collector: cfg.Collector})
	}
	unitErrs := in.InstrumentAll(ctx, units)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accessory, err := instrument.Accessory(units)
	if err != nil {
		return nil, err
	}
	if err := discovery.Rewrite(doc, elements, units, accessory); err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", cfg.PageURL, err)
	}

	cfg.Logger.Info("page prepared", map[string]any{
		"page_url": cfg.PageURL,
		"units":    len(units),
		"flagged":  len(unitErrs),
	})

	return &PreparedPage{
		URL:        cfg.PageURL,
		Units:      units,
		UnitErrors: unitErrs,
		Accessory:  accessory,
		doc:        doc,
	}, nil
}

// Render writes the instrumented document.
func (p *PreparedPage) Render(w io.Writer) error {
	return discovery.Render(w, p.doc)
}
