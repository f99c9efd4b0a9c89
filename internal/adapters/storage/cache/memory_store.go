package cache

import (
	"context"
	"sort"
	"strings"
	"sync"

	domain "fitsync/internal/domain/cache"
)

// MemoryStore is a goroutine-safe, non-durable cache store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.Entry
}

// NewMemoryStore creates an empty in-memory cache store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]domain.Entry)}
}

// Get retrieves the entry stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return domain.Entry{}, domain.ErrNotFound
	}
	return cloneEntry(e), nil
}

// Save persists an entry, replacing any entry under the same key.
func (s *MemoryStore) Save(_ context.Context, e domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = cloneEntry(e)
	return nil
}

// Delete removes the entry stored under key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// DeleteAll removes every entry whose key starts with prefix.
func (s *MemoryStore) DeleteAll(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

// List returns entries whose key starts with prefix, ordered by key.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []domain.Entry
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) {
			entries = append(entries, cloneEntry(e))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// cloneEntry copies Value so callers cannot mutate stored bytes.
func cloneEntry(e domain.Entry) domain.Entry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}
