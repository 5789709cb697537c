package discovery

import (
	"context"
	"fmt"

	"github.com/pithecene-io/scriptcover/types"
)

// Run drives d to completion, fetching each pending element with fetcher.
// Fetch failures are recorded on the unit; only cancellation aborts.
func Run(ctx context.Context, d *Discoverer, fetcher Fetcher) ([]*types.Unit, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step := d.Advance()
		if step.Done {
			return d.Units()
		}

		p := step.Pending
		content, err := fetcher.Fetch(ctx, p.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.collector.IncFetchFailure()
			if rerr := d.Reject(p.Index, err); rerr != nil {
				return nil, fmt.Errorf("reject %d: %w", p.Index, rerr)
			}
			continue
		}
		d.collector.IncFetchSuccess()
		if rerr := d.Resolve(p.Index, content); rerr != nil {
			return nil, fmt.Errorf("resolve %d: %w", p.Index, rerr)
		}
	}
}
