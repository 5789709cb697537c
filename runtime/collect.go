package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/scriptcover/ipc"
	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/types"
)

// DefaultCollectInterval is how often execution contexts are asked for
// their coverage.
const DefaultCollectInterval = 3 * time.Second

// CollectLoop calls fn every interval until ctx is done. Errors from fn are
// logged and do not stop the loop. It returns ctx's error.
func CollectLoop(ctx context.Context, interval time.Duration, logger *log.Logger, fn func(context.Context) error) error {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Warn("collect trigger failed", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}

// FrameTrigger asks a context for its coverage by writing a collect
// request frame to the context's input stream.
type FrameTrigger struct {
	enc *ipc.FrameEncoder

	seq atomic.Int64
}

// NewFrameTrigger creates a trigger writing to enc.
func NewFrameTrigger(enc *ipc.FrameEncoder) *FrameTrigger {
	return &FrameTrigger{enc: enc}
}

// Collect implements Trigger.
func (t *FrameTrigger) Collect(_ context.Context, contextID string) error {
	return t.enc.WriteFrame(types.NewRequestEnvelope(&types.CollectRequest{ContextID: contextID}, t.seq.Add(1)))
}
