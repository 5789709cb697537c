package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pithecene-io/scriptcover/iox"
)

// DefaultFetchTimeout is the default per-request timeout.
const DefaultFetchTimeout = 10 * time.Second

// DefaultFetchRetries is the default number of retry attempts.
const DefaultFetchRetries = 2

// MaxScriptSize bounds fetched script content.
const MaxScriptSize = 16 * 1024 * 1024

// ErrFetch matches any FetchError.
var ErrFetch = errors.New("fetch failure")

// FetchError reports unavailable remote content.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFetch) true for any FetchError.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Fetcher loads external script content.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (string, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (string, error) { return f(ctx, url) }

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 2).
	// Negative values disable retries.
	Retries int
	// Headers are added to each request.
	Headers map[string]string
}

// HTTPFetcher loads scripts over HTTP.
type HTTPFetcher struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &HTTPFetcher{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Fetch GETs rawURL. 5xx responses and network errors are retried with
// exponential backoff; 4xx responses fail immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	var lastErr error
	attempts := 1 + f.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		body, err := f.get(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return "", err
		}
	}
	return "", fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for k, v := range f.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &StatusError{Code: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxScriptSize+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > MaxScriptSize {
		return "", fmt.Errorf("script larger than %d bytes", MaxScriptSize)
	}
	return string(data), nil
}

// Close releases idle connections.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// FileFetcher loads scripts from a directory, for pages read from disk.
// http(s) URLs are delegated to Remote when set.
type FileFetcher struct {
	// Root is the directory relative paths are resolved against.
	Root   string
	Remote Fetcher
}

// Fetch reads the file named by ref.
func (f *FileFetcher) Fetch(ctx context.Context, ref string) (string, error) {
	if u, err := url.Parse(ref); err == nil {
		switch u.Scheme {
		case "http", "https":
			if f.Remote == nil {
				return "", fmt.Errorf("remote script %s: no remote fetcher configured", ref)
			}
			return f.Remote.Fetch(ctx, ref)
		case "file":
			ref = u.Path
		}
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.Root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
