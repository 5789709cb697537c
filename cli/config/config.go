package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents a scriptcover.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Policy     PolicyConfig     `yaml:"policy"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Collect    CollectConfig    `yaml:"collect"`
	Adapter    AdapterConfig    `yaml:"adapter"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendLode   = "lode"
)

// StoreConfig selects where coverage records are persisted.
type StoreConfig struct {
	// Backend is memory, badger or lode.
	Backend string `yaml:"backend"`
	// Path is the badger directory, or the lode filesystem root.
	Path string `yaml:"path"`
	// Dataset is the lode dataset name.
	Dataset     string `yaml:"dataset"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// PolicyConfig holds ingestion policy defaults.
type PolicyConfig struct {
	Name       string `yaml:"name"`
	FlushCount int    `yaml:"flush_count"`
}

// FetchConfig tunes external script loading.
type FetchConfig struct {
	Timeout        Duration          `yaml:"timeout"`
	Retries        *int              `yaml:"retries,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	IgnorePrefixes []string          `yaml:"ignore_prefixes,omitempty"`
}

// InstrumentConfig holds instrumenter defaults.
type InstrumentConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// CollectConfig holds the periodic collection interval.
type CollectConfig struct {
	Interval Duration `yaml:"interval"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type      string            `yaml:"type"`
	URL       string            `yaml:"url"`
	Channel   string            `yaml:"channel,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Secret    string            `yaml:"secret,omitempty"`
	KeyPrefix string            `yaml:"key_prefix,omitempty"`
	KeyTTL    Duration          `yaml:"key_ttl,omitempty"`
	Timeout   Duration          `yaml:"timeout,omitempty"`
	Retries   *int              `yaml:"retries,omitempty"`
}

// MetricsConfig holds the Prometheus listener address.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Validate checks the enumerated fields and the fields each selection
// requires. Every problem found is reported.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case "", BackendMemory:
	case BackendBadger:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the badger backend"))
		}
	case BackendLode:
		if c.Store.Path == "" && c.Store.Bucket == "" {
			errs = append(errs, errors.New("store.path or store.bucket is required for the lode backend"))
		}
		if c.Store.Path != "" && c.Store.Bucket != "" {
			errs = append(errs, errors.New("store.path and store.bucket are mutually exclusive"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be memory, badger, or lode", c.Store.Backend))
	}

	switch c.Policy.Name {
	case "", "strict", "buffered":
	default:
		errs = append(errs, fmt.Errorf("policy.name %q must be strict or buffered", c.Policy.Name))
	}
	if c.Policy.FlushCount < 0 {
		errs = append(errs, errors.New("policy.flush_count must not be negative"))
	}

	if c.Instrument.MaxDepth < 0 {
		errs = append(errs, errors.New("instrument.max_depth must not be negative"))
	}

	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type %q must be webhook or redis", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, errors.New("adapter.retries must not be negative"))
	}

	return errors.Join(errs...)
}
