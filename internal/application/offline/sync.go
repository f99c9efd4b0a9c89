package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"fitsync/internal/adapters/portal"
	"fitsync/internal/domain/envelope"
	domainOffline "fitsync/internal/domain/offline"
	domainOutbox "fitsync/internal/domain/outbox"
)

// SyncOfflineData drains the queue front to back, one mutation at a time,
// and stops at the first failure. A mutation is removed only after the
// portal confirms its replay; a failed mutation stays at the front with its
// attempt recorded. Only one drain runs at a time.
// PRE: none
// POST: Replayed mutations are gone from the queue; on failure FailedID
// names the front mutation and Err wraps ErrQueueReplayFailure
func (s *Service) SyncOfflineData(ctx context.Context) domainOffline.SyncResult {
	if !s.monitor.IsOnline() {
		return s.offlineSyncResult(ctx)
	}

	s.drainMu.Lock()
	if s.draining {
		s.drainMu.Unlock()
		return domainOffline.SyncResult{Err: domainOffline.ErrSyncInProgress}
	}
	s.draining = true
	s.drainMu.Unlock()
	defer func() {
		s.drainMu.Lock()
		s.draining = false
		s.drainMu.Unlock()
	}()

	start := s.now()
	res := s.drain(ctx)

	outcome := "complete"
	switch {
	case res.Halted():
		outcome = "halted"
	case res.Err != nil:
		outcome = "interrupted"
	}
	s.metrics.SyncCompleted(outcome, s.now().Sub(start))
	s.metrics.QueueDepth(res.Remaining)

	if res.Replayed > 0 || res.Err != nil {
		slog.Info("sync_finished", "outcome", outcome, "replayed", res.Replayed, "remaining", res.Remaining)
	}
	return res
}

func (s *Service) drain(ctx context.Context) domainOffline.SyncResult {
	var res domainOffline.SyncResult
	// Queue bookkeeping after the portal has answered must land even when
	// the caller gave up waiting.
	bookkeeping := context.WithoutCancel(ctx)
	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		if !s.monitor.IsOnline() {
			res.Err = domainOffline.ErrNetworkUnavailable
			break
		}

		m, ok, err := s.queue.PeekFront(ctx)
		if err != nil {
			res.Err = err
			break
		}
		if !ok {
			break
		}

		env, err := s.replay(ctx, m)
		if err == nil {
			err = env.Err()
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// cancelled mid-replay; the mutation was not rejected
				res.Err = ctxErr
				break
			}
			s.metrics.ReplayCompleted(false)
			return s.halt(bookkeeping, res, m, err)
		}

		// A failed delete leaves the mutation at the front; the next drain
		// replays it under the same Idempotency-Key.
		if err := s.queue.Dequeue(bookkeeping, m.ID); err != nil {
			res.Err = err
			break
		}
		s.metrics.ReplayCompleted(true)
		res.Replayed++
		slog.Debug("mutation_replayed", "id", m.ID, "method", m.Method, "path", m.Path)
	}

	res.Remaining = s.remaining(bookkeeping)
	return res
}

// halt records the failed replay of m and tells the failure handler.
func (s *Service) halt(ctx context.Context, res domainOffline.SyncResult, m domainOutbox.PendingMutation, cause error) domainOffline.SyncResult {
	updated, err := s.queue.RecordFailure(ctx, m, cause)
	if err != nil {
		slog.Error("record_replay_failure_failed", "id", m.ID, "error", err.Error())
	}

	res.FailedID = m.ID
	res.Remaining = s.remaining(ctx)
	res.Err = fmt.Errorf("%w: %s %s: %w", domainOffline.ErrQueueReplayFailure, m.Method, m.Path, cause)

	slog.Warn("sync_halted",
		"id", m.ID,
		"method", m.Method,
		"path", m.Path,
		"attempts", updated.Attempts,
		"replayed", res.Replayed,
		"remaining", res.Remaining,
		"error", cause.Error(),
	)

	if s.onFailure != nil {
		s.onFailure(ctx, SyncFailure{Mutation: updated, Remaining: res.Remaining, Err: res.Err})
	}
	return res
}

// replay sends one queued mutation with its id as the Idempotency-Key.
func (s *Service) replay(ctx context.Context, m domainOutbox.PendingMutation) (envelope.Envelope, error) {
	headers := make(map[string]string, len(m.Headers)+1)
	maps.Copy(headers, m.Headers)
	headers["Idempotency-Key"] = m.ID
	return s.send(ctx, portal.Request{Method: m.Method, Path: m.Path, Headers: headers, Body: m.Body})
}

func (s *Service) remaining(ctx context.Context) int {
	n, err := s.queue.Size(ctx)
	if err != nil {
		slog.Warn("queue_size_failed", "error", err.Error())
		return 0
	}
	return n
}

// offlineSyncResult reports ErrNetworkUnavailable without touching the queue.
func (s *Service) offlineSyncResult(ctx context.Context) domainOffline.SyncResult {
	res := domainOffline.SyncResult{Err: domainOffline.ErrNetworkUnavailable}
	if n, err := s.queue.Size(ctx); err == nil {
		res.Remaining = n
	} else if !errors.Is(err, context.Canceled) {
		slog.Warn("queue_size_failed", "error", err.Error())
	}
	return res
}
