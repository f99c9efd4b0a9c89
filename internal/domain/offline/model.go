// Package offline holds the typed results and error taxonomy returned by the
// offline orchestrator. Failures are classified here instead of being thrown
// across the public API so callers can render a fallback.
package offline

import (
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy.
var (
	// ErrNetworkUnavailable means the connectivity monitor reports offline.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrNetworkFailure means the portal was reachable in principle but the call failed.
	ErrNetworkFailure = errors.New("network request failed")
	// ErrNoDataAvailable means neither the network nor the cache produced a value.
	ErrNoDataAvailable = errors.New("no data available")
	// ErrQueueReplayFailure means a queued mutation could not be replayed during a drain.
	ErrQueueReplayFailure = errors.New("could not sync pending changes")
	// ErrSyncInProgress means another drain already holds the queue.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// FetchState names the outcome of a cached read.
type FetchState string

const (
	StateCachedFreshReturn        FetchState = "cached_fresh_return"
	StateNetworkAttempt           FetchState = "network_attempt"
	StateNetworkSuccessRefresh    FetchState = "network_success_refresh"
	StateNetworkFailFallbackStale FetchState = "network_fail_fallback_stale"
	StateNoDataAvailable          FetchState = "no_data_available"
)

// Source maps a state to the short label exposed to clients.
func (s FetchState) Source() string {
	switch s {
	case StateCachedFreshReturn:
		return "cache"
	case StateNetworkSuccessRefresh:
		return "network"
	case StateNetworkFailFallbackStale:
		return "stale"
	default:
		return "none"
	}
}

// FetchResult is the outcome of FetchWithCache.
type FetchResult struct {
	Key      string
	State    FetchState
	Data     json.RawMessage
	StoredAt time.Time // when Data was written to the cache; zero for NoDataAvailable
	Message  string    // portal message on failure, if any
	Err      error     // nil on a network refresh or fresh cache hit
}

// HasData reports whether the result carries a usable value.
func (r FetchResult) HasData() bool {
	return r.State != StateNoDataAvailable && len(r.Data) > 0
}

// QueueResult is the outcome of QueueOfflineRequest.
type QueueResult struct {
	ID      string
	Pending int // queue size after the enqueue
	Err     error
}

// MutationResult is the outcome of a write routed through the orchestrator.
type MutationResult struct {
	Queued  bool            // true when the write was stored for later replay
	ID      string          // pending mutation id when Queued
	Data    json.RawMessage // portal data for a live write
	Message string
	Err     error
}

// SyncResult is the outcome of a drain.
type SyncResult struct {
	Replayed  int
	Remaining int
	FailedID  string // front mutation that halted the drain
	Err       error
}

// Halted reports whether the drain stopped on a failed replay.
func (r SyncResult) Halted() bool {
	return r.FailedID != ""
}
