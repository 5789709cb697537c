// Package redis publishes coverage notifications over Redis pub/sub.
//
// Each event is PUBLISHed as JSON to a channel. With a key prefix set the
// adapter also keeps the latest counters of every context in a hash,
// for consumers that poll instead of subscribing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/scriptcover/adapter"
	"github.com/pithecene-io/scriptcover/types"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "scriptcover:coverage_updated"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: scriptcover:coverage_updated).
	Channel string
	// KeyPrefix, when set, stores the latest counters of each context in
	// the hash KeyPrefix+context_id.
	KeyPrefix string
	// KeyTTL expires those hashes. Zero keeps them.
	KeyTTL time.Duration
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Backoff is the delay before the first retry (default adapter.BaseBackoff).
	Backoff time.Duration
}

// Adapter publishes coverage notifications via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = adapter.BaseBackoff
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// LatestKey returns the hash key holding the counters of contextID.
func (a *Adapter) LatestKey(contextID string) string {
	return a.config.KeyPrefix + contextID
}

// Publish sends the event as a JSON PUBLISH to the configured channel.
// Retries with exponential backoff on failures.
func (a *Adapter) Publish(ctx context.Context, event *types.CoverageUpdatedEvent) error {
	body, err := json.Marshal(adapter.NewPayload(event))
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	err = adapter.Retry(ctx, a.config.Retries, a.config.Backoff, nil, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		if err := a.client.Publish(publishCtx, a.config.Channel, body).Err(); err != nil {
			return err
		}
		if a.config.KeyPrefix == "" {
			return nil
		}
		return a.storeLatest(publishCtx, event)
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (a *Adapter) storeLatest(ctx context.Context, event *types.CoverageUpdatedEvent) error {
	key := a.LatestKey(event.ContextID)
	_, err := a.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"page_url", event.PageURL,
			"global_percent", event.GlobalPercent,
			"executed", event.Executed,
			"total", event.Total,
			"ts", event.Ts,
		)
		if a.config.KeyTTL > 0 {
			pipe.Expire(ctx, key, a.config.KeyTTL)
		}
		return nil
	})
	return err
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
