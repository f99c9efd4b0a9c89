package cache

import (
	"encoding/json"
	"errors"
	"time"
)

// Domain errors.
var (
	ErrEmptyKey    = errors.New("cache key is required")
	ErrEmptyValue  = errors.New("cache value is required")
	ErrNegativeTTL = errors.New("cache ttl must not be negative")
	ErrNotFound    = errors.New("cache entry not found")
)

// Entry is the last successful response stored for a named query.
// Entries are superseded by newer writes under the same key but are never
// evicted, so a stale entry remains available when the network is unreachable.
type Entry struct {
	Key      string
	Value    json.RawMessage
	StoredAt time.Time
	TTL      time.Duration
}

// Validate checks that the Entry has valid data.
// PRE: Entry struct is populated
// POST: Returns nil if valid, error otherwise
func (e *Entry) Validate() error {
	if e.Key == "" {
		return ErrEmptyKey
	}
	if len(e.Value) == 0 {
		return ErrEmptyValue
	}
	if e.TTL < 0 {
		return ErrNegativeTTL
	}
	if e.StoredAt.IsZero() {
		return errors.New("stored_at must be set")
	}
	return nil
}

// Age returns how long ago the entry was stored.
// PRE: StoredAt is set
// POST: Returns now - StoredAt (may be negative if the clock moved backwards)
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// IsFresh reports whether the entry is no older than maxAge.
// PRE: StoredAt is set
// POST: Returns true when now - StoredAt <= maxAge
// INVARIANT: e is not mutated
func (e Entry) IsFresh(now time.Time, maxAge time.Duration) bool {
	return e.Age(now) <= maxAge
}

// ExpiresAt returns the instant at which the entry's own TTL lapses.
func (e Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}
