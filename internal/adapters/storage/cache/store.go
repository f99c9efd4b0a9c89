package cache

import (
	"context"

	domain "fitsync/internal/domain/cache"
)

// Store defines the interface for cache entry persistence.
type Store interface {
	// Get retrieves the entry stored under key.
	// PRE: key is non-empty
	// POST: Returns the entry or domain.ErrNotFound
	Get(ctx context.Context, key string) (domain.Entry, error)

	// Save persists an entry, replacing any entry under the same key.
	// PRE: entry has been validated
	// POST: Entry is persisted (insert or update)
	Save(ctx context.Context, e domain.Entry) error

	// Delete removes the entry stored under key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every entry whose key starts with prefix.
	// PRE: none; an empty prefix clears the whole cache
	// POST: No entry with the prefix remains
	DeleteAll(ctx context.Context, prefix string) error

	// List returns entries whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]domain.Entry, error)
}
