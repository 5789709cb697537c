// Package adapter defines the notification boundary: after every merged
// submission the aggregator hands a CoverageUpdatedEvent to an Adapter,
// which forwards it to a downstream system.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/scriptcover/types"
)

// EventType is the type name carried in published payloads.
const EventType = "coverage_updated"

// Adapter publishes coverage notifications to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and
	// deadlines.
	Publish(ctx context.Context, event *types.CoverageUpdatedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Payload is the JSON document published for an event.
type Payload struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"`
	*types.CoverageUpdatedEvent
}

// NewPayload wraps event for publishing.
func NewPayload(event *types.CoverageUpdatedEvent) Payload {
	return Payload{
		ContractVersion:      types.ContractVersion,
		EventType:            EventType,
		CoverageUpdatedEvent: event,
	}
}

// BaseBackoff is the delay before the first retry; it doubles after each.
const BaseBackoff = 500 * time.Millisecond

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when ctx is done or permanent reports true for
// the returned error.
func Retry(ctx context.Context, retries int, base time.Duration, permanent func(error) bool, fn func(context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
