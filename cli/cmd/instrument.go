package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/scriptcover/cli/render"
	"github.com/pithecene-io/scriptcover/discovery"
	"github.com/pithecene-io/scriptcover/instrument"
	"github.com/pithecene-io/scriptcover/iox"
	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/runtime"
	"github.com/pithecene-io/scriptcover/types"
)

// InstrumentResponse describes what instrument wrote.
type InstrumentResponse struct {
	Input        string   `json:"input"`
	Output       string   `json:"output"`
	UnitsJSON    string   `json:"units_json,omitempty"`
	Units        int      `json:"units"`
	Instrumented int      `json:"instrumented"`
	Flagged      int      `json:"flagged"`
	Errors       []string `json:"errors,omitempty"`
}

// InstrumentCommand returns the instrument command.
func InstrumentCommand() *cli.Command {
	return &cli.Command{
		Name:      "instrument",
		Usage:     "Instrument an HTML page or a script file",
		ArgsUsage: "<page.html|script.js>",
		Flags: withFlags([]cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output path (default: <name>.instrumented<ext> next to the input)",
			},
			&cli.StringFlag{
				Name:  "units-json",
				Usage: "Also write the unit table as JSON to this path",
			},
			&cli.StringFlag{
				Name:  "page-url",
				Usage: "Address the input is served from (default: its file URL)",
			},
			&cli.IntFlag{
				Name:  "max-depth",
				Usage: "Maximum block nesting depth",
			},
		}, []cli.Flag{FormatFlag, NoColorFlag}),
		Action: instrumentAction,
	}
}

func instrumentAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("instrument requires exactly one input file", 1)
	}
	input := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
	}
	if c.IsSet("max-depth") {
		cfg.Instrument.MaxDepth = c.Int("max-depth")
	}

	abs, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	pageURL := c.String("page-url")
	if pageURL == "" {
		pageURL = fileURL(abs)
	}
	out := c.String("out")
	if out == "" {
		out = filepath.Join(filepath.Dir(abs), runtime.InstrumentedName(abs))
	}

	logger := log.NewLogger(log.Meta{PageURL: pageURL, Component: "instrument"})
	defer func() { _ = logger.Sync() }()
	collector := metrics.NewCollector("", "", "")
	in := instrument.New(instrument.Options{MaxDepth: cfg.Instrument.MaxDepth, Logger: logger, Collector: collector})

	var (
		data  []byte
		units []*types.Unit
		errs  []instrument.UnitError
	)
	if isScript(abs) {
		data, units, errs, err = instrumentScript(c, in, abs, pageURL)
	} else {
		remote := discovery.NewHTTPFetcher(discovery.HTTPConfig{Timeout: cfg.Fetch.Timeout.Duration, Headers: cfg.Fetch.Headers})
		defer iox.DiscardClose(remote)
		fetcher := &discovery.FileFetcher{Root: filepath.Dir(abs), Remote: remote}
		data, units, errs, err = instrumentPage(c, in, abs, pageURL, fetcher, cfg.Fetch.IgnorePrefixes, logger, collector)
	}
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	resp := InstrumentResponse{
		Input:        abs,
		Output:       out,
		Units:        len(units),
		Instrumented: len(units) - len(errs),
		Flagged:      len(errs),
	}
	for _, ue := range errs {
		resp.Errors = append(resp.Errors, ue.Error())
	}
	if path := c.String("units-json"); path != "" {
		table, err := json.MarshalIndent(units, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, append(table, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		resp.UnitsJSON = path
	}
	return r.Render(resp)
}

// instrumentScript rewrites a standalone script. The output registers its
// own unit so it runs as is.
func instrumentScript(c *cli.Context, in *instrument.Instrumenter, path, origin string) ([]byte, []*types.Unit, []instrument.UnitError, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	unit := types.NewUnit(origin, true, 0)
	unit.RawContent = string(src)
	units := []*types.Unit{unit}

	errs := in.InstrumentAll(c.Context, units)
	if len(errs) > 0 {
		return nil, units, errs, fmt.Errorf("cannot instrument %s: %w", path, errs[0].Err)
	}
	accessory, err := instrument.Accessory(units)
	if err != nil {
		return nil, nil, nil, err
	}
	return []byte(accessory + unit.Instrumented), units, nil, nil
}

func instrumentPage(
	c *cli.Context,
	in *instrument.Instrumenter,
	path, pageURL string,
	fetcher discovery.Fetcher,
	ignore []string,
	logger *log.Logger,
	collector *metrics.Collector,
) ([]byte, []*types.Unit, []instrument.UnitError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	defer f.Close()

	page, err := runtime.PreparePage(c.Context, f, runtime.PrepareConfig{
		PageURL:        pageURL,
		Fetcher:        fetcher,
		IgnorePrefixes: ignore,
		Instrumenter:   in,
		Logger:         logger,
		Collector:      collector,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, nil, nil, err
	}
	return buf.Bytes(), page.Units, page.UnitErrors, nil
}

func isScript(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return true
	}
	return false
}

func fileURL(abs string) string {
	return "file://" + filepath.ToSlash(abs)
}
