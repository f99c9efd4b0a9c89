package projections

import (
	"context"
	"fmt"
	"time"

	domainCache "fitsync/internal/domain/cache"
	"fitsync/internal/domain/connectivity"
	domainOutbox "fitsync/internal/domain/outbox"
)

// OfflineStatusCache is the cache view needed by the status projection.
type OfflineStatusCache interface {
	List(ctx context.Context) ([]domainCache.Entry, error)
	Now() time.Time
}

// OfflineStatusQueue is the queue view needed by the status projection.
type OfflineStatusQueue interface {
	Size(ctx context.Context) (int, error)
	PeekFront(ctx context.Context) (domainOutbox.PendingMutation, bool, error)
}

// OfflineStatusMonitor reports the current connectivity state.
type OfflineStatusMonitor interface {
	State() connectivity.State
}

// GetOfflineStatusDeps holds dependencies for the status projection.
type GetOfflineStatusDeps struct {
	Cache   OfflineStatusCache
	Queue   OfflineStatusQueue
	Monitor OfflineStatusMonitor
}

// CacheEntryStatus describes one cached response.
type CacheEntryStatus struct {
	Key        string    `json:"key"`
	StoredAt   time.Time `json:"stored_at"`
	AgeSeconds int64     `json:"age_seconds"`
	TTLSeconds int64     `json:"ttl_seconds"`
	Fresh      bool      `json:"fresh"`
	Age        string    `json:"age"` // human form, e.g. "5 minutes ago"
}

// QueueFrontStatus describes the mutation the next drain replays first.
type QueueFrontStatus struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

// OfflineStatusResult carries the output of the status projection.
type OfflineStatusResult struct {
	Online           bool               `json:"online"`
	LastTransitionAt time.Time          `json:"last_transition_at"`
	Pending          int                `json:"pending"`
	Front            *QueueFrontStatus  `json:"front,omitempty"`
	Entries          []CacheEntryStatus `json:"entries"`
}

// QueryGetOfflineStatus reports connectivity, queue depth and cache ages.
// Freshness uses the TTL stored with each entry.
// PRE: deps are non-nil
// POST: Entries ordered by key; Front set when Pending > 0
func QueryGetOfflineStatus(ctx context.Context, deps GetOfflineStatusDeps) (OfflineStatusResult, error) {
	state := deps.Monitor.State()
	result := OfflineStatusResult{
		Online:           state.IsOnline,
		LastTransitionAt: state.LastTransitionAt,
		Entries:          []CacheEntryStatus{},
	}

	pending, err := deps.Queue.Size(ctx)
	if err != nil {
		return OfflineStatusResult{}, err
	}
	result.Pending = pending

	front, ok, err := deps.Queue.PeekFront(ctx)
	if err != nil {
		return OfflineStatusResult{}, err
	}
	if ok {
		result.Front = &QueueFrontStatus{
			ID:         front.ID,
			Method:     front.Method,
			Path:       front.Path,
			EnqueuedAt: front.EnqueuedAt,
			Attempts:   front.Attempts,
			LastError:  front.ErrorMessage,
		}
	}

	entries, err := deps.Cache.List(ctx)
	if err != nil {
		return OfflineStatusResult{}, err
	}
	now := deps.Cache.Now()
	for _, e := range entries {
		age := e.Age(now)
		result.Entries = append(result.Entries, CacheEntryStatus{
			Key:        e.Key,
			StoredAt:   e.StoredAt,
			AgeSeconds: int64(age / time.Second),
			TTLSeconds: int64(e.TTL / time.Second),
			Fresh:      e.TTL > 0 && e.IsFresh(now, e.TTL),
			Age:        humanAge(age),
		})
	}
	return result, nil
}

// humanAge renders an age the way the member portal shows it.
func humanAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return plural(int(age/time.Minute), "minute") + " ago"
	case age < 24*time.Hour:
		return plural(int(age/time.Hour), "hour") + " ago"
	default:
		return plural(int(age/(24*time.Hour)), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
