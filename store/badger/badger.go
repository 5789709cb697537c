// Package badger stores aggregated coverage in an embedded BadgerDB.
//
// Values are msgpack-encoded AggregatedCoverage keyed by
// "coverage/<context id>".
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/scriptcover/log"
	"github.com/pithecene-io/scriptcover/types"
)

// KeyPrefix prefixes every coverage key.
const KeyPrefix = "coverage/"

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory disables disk persistence.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
	// Logger receives BadgerDB's own messages. Nil disables them.
	Logger *log.Logger
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts log.Logger to badger.Logger.
type badgerLogger struct {
	sugar *log.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.sugar.Errorf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.sugar.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.sugar.Infof(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.sugar.Debugf(strings.TrimSpace(format), args...)
}

// Store is an aggregate.Store backed by BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the database described by cfg.
// The caller must Close the returned Store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{sugar: cfg.Logger.Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &Store{db: db}, nil
}

func key(contextID string) []byte {
	return []byte(KeyPrefix + contextID)
}

// Load implements aggregate.Store.
func (s *Store) Load(ctx context.Context, contextID string) (*types.AggregatedCoverage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cov *types.AggregatedCoverage
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(contextID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cov = &types.AggregatedCoverage{}
			return msgpack.Unmarshal(val, cov)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badger: load %s: %w", contextID, err)
	}
	return cov, nil
}

// Save implements aggregate.Store.
func (s *Store) Save(ctx context.Context, cov *types.AggregatedCoverage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cov == nil || cov.ContextID == "" {
		return errors.New("badger: coverage without context id")
	}
	data, err := msgpack.Marshal(cov)
	if err != nil {
		return fmt.Errorf("badger: encode %s: %w", cov.ContextID, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(cov.ContextID), data)
	}); err != nil {
		return fmt.Errorf("badger: save %s: %w", cov.ContextID, err)
	}
	return nil
}

// Delete implements aggregate.Store.
func (s *Store) Delete(ctx context.Context, contextID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(contextID))
	}); err != nil {
		return fmt.Errorf("badger: delete %s: %w", contextID, err)
	}
	return nil
}

// Contexts implements aggregate.Store.
func (s *Store) Contexts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(KeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), KeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list contexts: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
