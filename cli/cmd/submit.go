package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/scriptcover/cli/render"
	"github.com/pithecene-io/scriptcover/runtime"
	"github.com/pithecene-io/scriptcover/types"
)

// SubmitCommand returns the submit command.
// submit accepts snapshot files, as written by window.scriptObjects
// exports or harnesses, into a context.
func SubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Accept page snapshot files into a context",
		ArgsUsage: "<snapshot.json>...",
		Flags:     withFlags(StoreFlags(), []cli.Flag{ContextFlag}, []cli.Flag{FormatFlag, NoColorFlag}),
		Action:    submitAction,
	}
}

func submitAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("submit requires at least one snapshot file", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	s, err := openSession(c, "submit", "")
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	contextID := c.String("context")
	if contextID == "" {
		contextID = uuid.NewString()
	}
	host, err := runtime.NewHost(runtime.HostConfig{Aggregator: s.agg, Logger: s.logger, Collector: s.collector})
	if err != nil {
		return err
	}

	var last *types.Summary
	for _, path := range c.Args().Slice() {
		snaps, err := readSnapshots(path)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		for i, snap := range snaps {
			resp, err := host.Handle(c.Context, &types.SubmitCoverageRequest{ContextID: contextID, Snapshot: snap})
			if err != nil {
				return cli.Exit(fmt.Sprintf("%s[%d]: %v", path, i, err), exitFor(err))
			}
			last = resp.Summary
		}
	}
	if err := s.policy.Flush(c.Context); err != nil {
		return cli.Exit(fmt.Sprintf("policy flush failed: %v", err), exitStoreFailure)
	}
	s.recordMetrics(c.Context)
	return r.Render(last)
}

// readSnapshots decodes a file holding one snapshot or an array of them.
func readSnapshots(path string) ([]*types.PageSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var snaps []*types.PageSnapshot
		if err := json.Unmarshal(data, &snaps); err != nil {
			return nil, fmt.Errorf("%s: invalid snapshot array: %w", path, err)
		}
		return snaps, nil
	}
	var snap types.PageSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%s: invalid snapshot: %w", path, err)
	}
	return []*types.PageSnapshot{&snap}, nil
}
