package offline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fitsync/internal/application/retry"
	"fitsync/internal/domain/envelope"
	domainOffline "fitsync/internal/domain/offline"
)

var errPortalDown = errors.New("dial tcp: connection refused")

// TestFetchWithCache_OfflineReturnsCachedWithoutNetwork verifies an offline
// read returns the stored value and never calls the network.
func TestFetchWithCache_OfflineReturnsCachedWithoutNetwork(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.svc.Cache().Set(ctx, "membership-details", json.RawMessage(`{"plan":"gold"}`), time.Minute)
	h.clock.Advance(time.Hour)

	calls := 0
	res := h.svc.FetchWithCache(ctx, "membership-details", okFetch(`{"plan":"new"}`, &calls), FetchOptions{})

	if calls != 0 {
		t.Errorf("network calls = %d, want 0", calls)
	}
	if res.State != domainOffline.StateCachedFreshReturn {
		t.Errorf("State = %s, want %s", res.State, domainOffline.StateCachedFreshReturn)
	}
	if string(res.Data) != `{"plan":"gold"}` || res.Err != nil {
		t.Errorf("result = %s, %v", res.Data, res.Err)
	}
	if !res.StoredAt.Equal(baseTime) {
		t.Errorf("StoredAt = %v, want %v", res.StoredAt, baseTime)
	}
}

// TestFetchWithCache_OnlineRefreshWritesThrough verifies an online read
// returns the network value and the cache then holds it.
func TestFetchWithCache_OnlineRefreshWritesThrough(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.svc.Cache().Set(ctx, "weekly-workout", json.RawMessage(`"old"`), time.Minute)
	h.clock.Advance(2 * time.Minute)

	calls := 0
	res := h.svc.FetchWithCache(ctx, "weekly-workout", okFetch(`"new"`, &calls), FetchOptions{})

	if calls != 1 {
		t.Errorf("network calls = %d, want 1", calls)
	}
	if res.State != domainOffline.StateNetworkSuccessRefresh || string(res.Data) != `"new"` {
		t.Errorf("result = %s %s", res.State, res.Data)
	}
	e, ok := h.svc.Cache().Get(ctx, "weekly-workout")
	if !ok || string(e.Value) != `"new"` {
		t.Fatalf("cache = %s, %v; want \"new\"", e.Value, ok)
	}
	if e.TTL != 5*time.Minute {
		t.Errorf("stored TTL = %v, want default 5m", e.TTL)
	}
}

// TestFetchWithCache_NoDataOffline verifies an empty cache while offline is a
// typed NoDataAvailable result rather than a failure.
func TestFetchWithCache_NoDataOffline(t *testing.T) {
	h := newHarness(t, false)
	calls := 0
	res := h.svc.FetchWithCache(context.Background(), "progress-summary", okFetch(`1`, &calls), FetchOptions{})

	if res.State != domainOffline.StateNoDataAvailable {
		t.Errorf("State = %s, want no_data_available", res.State)
	}
	if !errors.Is(res.Err, domainOffline.ErrNoDataAvailable) || !errors.Is(res.Err, domainOffline.ErrNetworkUnavailable) {
		t.Errorf("Err = %v, want NoDataAvailable wrapping NetworkUnavailable", res.Err)
	}
	if res.HasData() || calls != 0 {
		t.Errorf("HasData = %v, calls = %d", res.HasData(), calls)
	}
}

// TestFetchWithCache_Freshness covers the freshness check while online.
func TestFetchWithCache_Freshness(t *testing.T) {
	tests := []struct {
		name      string
		ttl       time.Duration
		age       time.Duration
		opts      FetchOptions
		wantCalls int
		wantState domainOffline.FetchState
	}{
		{"within entry ttl", time.Minute, 30 * time.Second, FetchOptions{}, 0, domainOffline.StateCachedFreshReturn},
		{"past entry ttl", time.Minute, 2 * time.Minute, FetchOptions{}, 1, domainOffline.StateNetworkSuccessRefresh},
		{"caller max age wins", time.Hour, 2 * time.Minute, FetchOptions{MaxAge: time.Minute}, 1, domainOffline.StateNetworkSuccessRefresh},
		{"caller max age looser", time.Minute, 2 * time.Minute, FetchOptions{MaxAge: time.Hour}, 0, domainOffline.StateCachedFreshReturn},
		{"force refresh", time.Hour, 0, FetchOptions{ForceRefresh: true}, 1, domainOffline.StateNetworkSuccessRefresh},
		{"zero ttl never fresh", 0, 0, FetchOptions{}, 1, domainOffline.StateNetworkSuccessRefresh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			ctx := context.Background()
			h.svc.Cache().Set(ctx, "k", json.RawMessage(`"cached"`), tt.ttl)
			h.clock.Advance(tt.age)

			calls := 0
			res := h.svc.FetchWithCache(ctx, "k", okFetch(`"net"`, &calls), tt.opts)
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if res.State != tt.wantState {
				t.Errorf("State = %s, want %s", res.State, tt.wantState)
			}
		})
	}
}

// TestFetchWithCache_FailureFallsBackToStale verifies transport errors and
// portal-reported failures both fall back to any cached entry.
func TestFetchWithCache_FailureFallsBackToStale(t *testing.T) {
	failures := map[string]NetworkFunc{
		"transport error": func(context.Context) (envelope.Envelope, error) {
			return envelope.Envelope{}, errPortalDown
		},
		"success false": func(context.Context) (envelope.Envelope, error) {
			return envelope.Fail("maintenance"), nil
		},
	}
	for name, fetch := range failures {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, true)
			ctx := context.Background()
			h.svc.Cache().Set(ctx, "k", json.RawMessage(`"stale"`), time.Second)
			h.clock.Advance(24 * time.Hour)

			res := h.svc.FetchWithCache(ctx, "k", fetch, FetchOptions{})
			if res.State != domainOffline.StateNetworkFailFallbackStale {
				t.Fatalf("State = %s, want fallback", res.State)
			}
			if string(res.Data) != `"stale"` {
				t.Errorf("Data = %s", res.Data)
			}
			if !errors.Is(res.Err, domainOffline.ErrNetworkFailure) {
				t.Errorf("Err = %v, want ErrNetworkFailure", res.Err)
			}
			if e, _ := h.svc.Cache().Get(ctx, "k"); string(e.Value) != `"stale"` {
				t.Errorf("failed fetch overwrote cache with %s", e.Value)
			}
		})
	}
}

// TestFetchWithCache_FailureWithoutEntry verifies the no-data result on an online failure.
func TestFetchWithCache_FailureWithoutEntry(t *testing.T) {
	h := newHarness(t, true)
	res := h.svc.FetchWithCache(context.Background(), "k", func(context.Context) (envelope.Envelope, error) {
		return envelope.Fail("member suspended"), nil
	}, FetchOptions{})

	if res.State != domainOffline.StateNoDataAvailable {
		t.Errorf("State = %s", res.State)
	}
	if !errors.Is(res.Err, domainOffline.ErrNoDataAvailable) || !errors.Is(res.Err, domainOffline.ErrNetworkFailure) {
		t.Errorf("Err = %v", res.Err)
	}
	if res.Message != "member suspended" {
		t.Errorf("Message = %q", res.Message)
	}
}

// TestFetchWithCache_CoalescesConcurrentReads verifies concurrent reads of one
// key share a single network call.
func TestFetchWithCache_CoalescesConcurrentReads(t *testing.T) {
	h := newHarness(t, true)
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (envelope.Envelope, error) {
		calls.Add(1)
		<-release
		return envelope.OK(json.RawMessage(`"shared"`)), nil
	}

	const readers = 8
	var wg sync.WaitGroup
	results := make([]domainOffline.FetchResult, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.svc.FetchWithCache(context.Background(), "weekly-workout", fetch, FetchOptions{})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("network calls = %d, want 1", n)
	}
	for i, r := range results {
		if string(r.Data) != `"shared"` {
			t.Errorf("reader %d Data = %s", i, r.Data)
		}
	}
}

// TestFetchWithCache_CallerCancelDegrades verifies a cancelled caller gets the
// stale fallback while the shared call still refreshes the cache.
func TestFetchWithCache_CallerCancelDegrades(t *testing.T) {
	h := newHarness(t, true)
	bg := context.Background()
	h.svc.Cache().Set(bg, "k", json.RawMessage(`"stale"`), time.Second)
	h.clock.Advance(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (envelope.Envelope, error) {
		close(started)
		<-release
		return envelope.OK(json.RawMessage(`"fresh"`)), nil
	}

	ctx, cancel := context.WithCancel(bg)
	done := make(chan domainOffline.FetchResult, 1)
	go func() { done <- h.svc.FetchWithCache(ctx, "k", fetch, FetchOptions{}) }()
	<-started
	cancel()

	res := <-done
	if res.State != domainOffline.StateNetworkFailFallbackStale || string(res.Data) != `"stale"` {
		t.Errorf("result = %s %s", res.State, res.Data)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e, _ := h.svc.Cache().Get(bg, "k"); string(e.Value) == `"fresh"` {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("shared call did not write through after caller cancelled")
}

// TestFetchWithCache_RetryPolicy verifies an enabled policy retries transport
// errors within one read.
func TestFetchWithCache_RetryPolicy(t *testing.T) {
	h := newHarness(t, true)
	h.svc.opts.Retry = retry.Policy{MaxAttempts: 3, InitialWait: time.Millisecond, Multiplier: 1}

	calls := 0
	res := h.svc.FetchWithCache(context.Background(), "k", func(context.Context) (envelope.Envelope, error) {
		calls++
		if calls < 3 {
			return envelope.Envelope{}, retry.Retryable(errPortalDown)
		}
		return envelope.OK(json.RawMessage(`"ok"`)), nil
	}, FetchOptions{})

	if calls != 3 || res.State != domainOffline.StateNetworkSuccessRefresh {
		t.Errorf("calls = %d, state = %s", calls, res.State)
	}
}
