package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cacheStore "fitsync/internal/adapters/storage/cache"
	domain "fitsync/internal/domain/cache"
)

// namespaceSep separates the member namespace from the caller's key in storage.
const namespaceSep = "/"

// Cache is the key-value cache with TTL. Keys are scoped to one portal member
// so a shared device never serves one member's data to another; the scoping
// is invisible to callers. Entries are never evicted.
type Cache struct {
	store     cacheStore.Store
	namespace string
	now       func() time.Time
}

// NewCache creates a cache over store. An empty namespace stores keys as given.
func NewCache(store cacheStore.Store, namespace string, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, namespace: namespace, now: now}
}

func (c *Cache) prefix() string {
	if c.namespace == "" {
		return ""
	}
	return c.namespace + namespaceSep
}

func (c *Cache) storageKey(key string) string {
	return c.prefix() + key
}

func (c *Cache) callerEntry(e domain.Entry) domain.Entry {
	e.Key = strings.TrimPrefix(e.Key, c.prefix())
	return e
}

// Get looks up key.
// PRE: none
// POST: Returns the entry and true, or false when absent; never fails.
// Storage errors are logged and reported as absent.
func (c *Cache) Get(ctx context.Context, key string) (domain.Entry, bool) {
	if key == "" {
		return domain.Entry{}, false
	}
	e, err := c.store.Get(ctx, c.storageKey(key))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("cache_read_failed", "key", key, "error", err.Error())
		}
		return domain.Entry{}, false
	}
	return c.callerEntry(e), true
}

// Set stores value under key, overwriting any previous entry.
// PRE: key is non-empty, value is non-empty JSON, ttl >= 0
// POST: Entry persisted with StoredAt = now
func (c *Cache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if key == "" {
		return domain.ErrEmptyKey
	}
	e := domain.Entry{
		Key:      c.storageKey(key),
		Value:    value,
		StoredAt: c.now(),
		TTL:      ttl,
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if err := c.store.Save(ctx, e); err != nil {
		return fmt.Errorf("save cache entry %q: %w", key, err)
	}
	return nil
}

// IsFresh reports whether now - entry.StoredAt <= maxAge.
func (c *Cache) IsFresh(e domain.Entry, maxAge time.Duration) bool {
	return e.IsFresh(c.now(), maxAge)
}

// Remove drops key. Missing keys are not an error.
func (c *Cache) Remove(ctx context.Context, key string) error {
	if key == "" {
		return domain.ErrEmptyKey
	}
	if err := c.store.Delete(ctx, c.storageKey(key)); err != nil {
		return fmt.Errorf("remove cache entry %q: %w", key, err)
	}
	return nil
}

// Clear drops every entry in this cache's namespace.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.DeleteAll(ctx, c.prefix()); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// List returns every entry in this cache's namespace, ordered by key.
func (c *Cache) List(ctx context.Context) ([]domain.Entry, error) {
	entries, err := c.store.List(ctx, c.prefix())
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	for i := range entries {
		entries[i] = c.callerEntry(entries[i])
	}
	return entries, nil
}

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time {
	return c.now()
}
