package aggregate

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pithecene-io/scriptcover/types"
)

// ErrContextNotFound is returned when no coverage exists for a context.
var ErrContextNotFound = errors.New("context not found")

// Store keeps AggregatedCoverage by context id.
type Store interface {
	// Load returns the coverage for contextID, or nil and no error when
	// the context is unknown.
	Load(ctx context.Context, contextID string) (*types.AggregatedCoverage, error)
	// Save replaces the coverage for cov.ContextID.
	Save(ctx context.Context, cov *types.AggregatedCoverage) error
	// Delete drops a context. Deleting an unknown context is not an error.
	Delete(ctx context.Context, contextID string) error
	// Contexts lists known context ids in ascending order.
	Contexts(ctx context.Context) ([]string, error)
}

// MemoryStore is a Store held in process memory. It stores and returns
// copies.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*types.AggregatedCoverage
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*types.AggregatedCoverage)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, contextID string) (*types.AggregatedCoverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[contextID].Clone(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, cov *types.AggregatedCoverage) error {
	if cov == nil || cov.ContextID == "" {
		return errors.New("memory store: coverage without context id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cov.ContextID] = cov.Clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, contextID)
	return nil
}

// Contexts implements Store.
func (s *MemoryStore) Contexts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
