package offline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fitsync/internal/application/retry"
	"fitsync/internal/domain/envelope"
	domainOffline "fitsync/internal/domain/offline"
)

// FetchOptions tunes one cached read.
type FetchOptions struct {
	MaxAge       time.Duration // freshness bound; 0 uses the entry's own TTL
	TTL          time.Duration // TTL stored on refresh; 0 uses the configured TTL for the key
	ForceRefresh bool          // skip the freshness check when online
}

// flightResult is shared by every caller coalesced on one key.
type flightResult struct {
	env      envelope.Envelope
	storedAt time.Time
	err      error
}

// FetchWithCache reads key through the cache.
//
// Offline, or when the cached entry passes the freshness check, the entry is
// returned without a network call. Otherwise one network attempt is made:
// success writes through to the cache, failure falls back to any cached
// entry regardless of age. With nothing to return the result is
// StateNoDataAvailable. The result is always typed; nothing is thrown.
// PRE: fetch is non-nil
// POST: Result state is one of CachedFreshReturn, NetworkSuccessRefresh,
// NetworkFailFallbackStale or NoDataAvailable
func (s *Service) FetchWithCache(ctx context.Context, key string, fetch NetworkFunc, opts FetchOptions) domainOffline.FetchResult {
	res := s.fetchWithCache(ctx, key, fetch, opts)
	s.metrics.FetchCompleted(string(res.State))
	slog.Debug("fetch_completed", "key", key, "state", string(res.State))
	return res
}

func (s *Service) fetchWithCache(ctx context.Context, key string, fetch NetworkFunc, opts FetchOptions) domainOffline.FetchResult {
	entry, found := s.cache.Get(ctx, key)

	if !s.monitor.IsOnline() {
		if found {
			return domainOffline.FetchResult{
				Key:      key,
				State:    domainOffline.StateCachedFreshReturn,
				Data:     entry.Value,
				StoredAt: entry.StoredAt,
			}
		}
		return domainOffline.FetchResult{
			Key:   key,
			State: domainOffline.StateNoDataAvailable,
			Err:   fmt.Errorf("%w: %w", domainOffline.ErrNoDataAvailable, domainOffline.ErrNetworkUnavailable),
		}
	}

	if found && !opts.ForceRefresh {
		maxAge := opts.MaxAge
		if maxAge == 0 {
			maxAge = entry.TTL
		}
		if maxAge > 0 && s.cache.IsFresh(entry, maxAge) {
			return domainOffline.FetchResult{
				Key:      key,
				State:    domainOffline.StateCachedFreshReturn,
				Data:     entry.Value,
				StoredAt: entry.StoredAt,
			}
		}
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = s.ttlFor(key)
	}
	fr := s.attempt(ctx, key, fetch, ttl)
	if fr.err == nil {
		data := fr.env.Data
		if len(data) == 0 {
			data = nullData
		}
		return domainOffline.FetchResult{
			Key:      key,
			State:    domainOffline.StateNetworkSuccessRefresh,
			Data:     data,
			StoredAt: fr.storedAt,
			Message:  fr.env.Message,
		}
	}

	netErr := fmt.Errorf("%w: %w", domainOffline.ErrNetworkFailure, fr.err)
	slog.Warn("fetch_network_failed", "key", key, "fallback", found, "error", fr.err.Error())
	if found {
		return domainOffline.FetchResult{
			Key:      key,
			State:    domainOffline.StateNetworkFailFallbackStale,
			Data:     entry.Value,
			StoredAt: entry.StoredAt,
			Message:  fr.env.Message,
			Err:      netErr,
		}
	}
	return domainOffline.FetchResult{
		Key:     key,
		State:   domainOffline.StateNoDataAvailable,
		Message: fr.env.Message,
		Err:     fmt.Errorf("%w: %w", domainOffline.ErrNoDataAvailable, netErr),
	}
}

// attempt makes the network call for key, sharing it with concurrent
// callers of the same key. The shared call runs detached from any one
// caller and is bounded by the network timeout; a caller whose ctx ends
// stops waiting and sees ctx.Err(). The write-through happens inside the
// shared call so it completes even if every waiter has gone.
func (s *Service) attempt(ctx context.Context, key string, fetch NetworkFunc, ttl time.Duration) flightResult {
	ch := s.fetches.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NetworkTimeout)
		defer cancel()

		env, err := retry.DoWithResult(callCtx, s.opts.Retry, func(ctx context.Context) (envelope.Envelope, error) {
			return fetch(ctx)
		})
		if err == nil {
			err = env.Err()
		}
		if err != nil {
			return flightResult{env: env, err: err}, nil
		}

		data := env.Data
		if len(data) == 0 {
			data = nullData
		}
		storedAt := s.now()
		if setErr := s.cache.Set(callCtx, key, data, ttl); setErr != nil {
			slog.Warn("cache_write_failed", "key", key, "error", setErr.Error())
		}
		return flightResult{env: env, storedAt: storedAt}, nil
	})

	select {
	case <-ctx.Done():
		return flightResult{err: ctx.Err()}
	case r := <-ch:
		return r.Val.(flightResult)
	}
}
