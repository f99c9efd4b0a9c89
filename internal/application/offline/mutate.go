package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"fitsync/internal/adapters/portal"
	"fitsync/internal/application/retry"
	"fitsync/internal/domain/envelope"
	domainOffline "fitsync/internal/domain/offline"
	domainOutbox "fitsync/internal/domain/outbox"
)

// MutationRequest is a write the portal UI wants performed.
type MutationRequest struct {
	Method     string
	Path       string
	Headers    map[string]string
	Body       json.RawMessage
	Invalidate []string // cache keys to drop after a live success
}

// QueueOfflineRequest stores req for replay and returns immediately. No
// network attempt is made.
// PRE: req.Method is a mutating method, req.Path is non-empty
// POST: On success the mutation sits at the tail of the queue
func (s *Service) QueueOfflineRequest(ctx context.Context, req MutationRequest) domainOffline.QueueResult {
	id, err := s.queue.Enqueue(ctx, req.Path, req.Method, req.Headers, req.Body)
	if err != nil {
		slog.Warn("mutation_queue_failed", "method", req.Method, "path", req.Path, "error", err.Error())
		return domainOffline.QueueResult{Err: err}
	}
	s.metrics.MutationQueued()

	pending, err := s.queue.Size(ctx)
	if err != nil {
		slog.Warn("queue_size_failed", "error", err.Error())
	} else {
		s.metrics.QueueDepth(pending)
	}
	slog.Info("mutation_queued", "id", id, "method", strings.ToUpper(req.Method), "path", req.Path, "pending", pending)
	return domainOffline.QueueResult{ID: id, Pending: pending}
}

// Mutate sends req live when online and queues it when offline. A live
// failure is reported, not queued: the queue only holds writes made while
// the runtime reported no connectivity.
// PRE: req.Method is a mutating method, req.Path is non-empty
// POST: Queued is true iff the write was stored for replay; on a live
// success the req.Invalidate keys are removed from the cache
func (s *Service) Mutate(ctx context.Context, req MutationRequest) domainOffline.MutationResult {
	method := strings.ToUpper(req.Method)
	if !domainOutbox.IsMutatingMethod(method) {
		return domainOffline.MutationResult{Err: domainOutbox.ErrInvalidMethod}
	}
	if req.Path == "" {
		return domainOffline.MutationResult{Err: domainOutbox.ErrEmptyPath}
	}

	if !s.monitor.IsOnline() {
		q := s.QueueOfflineRequest(ctx, req)
		return domainOffline.MutationResult{Queued: q.Err == nil, ID: q.ID, Err: q.Err}
	}

	headers := make(map[string]string, len(req.Headers)+1)
	maps.Copy(headers, req.Headers)
	headers["Idempotency-Key"] = s.newID()

	env, err := s.send(ctx, portal.Request{Method: method, Path: req.Path, Headers: headers, Body: req.Body})
	if err == nil {
		err = env.Err()
	}
	if err != nil {
		slog.Warn("live_mutation_failed", "method", method, "path", req.Path, "error", err.Error())
		return domainOffline.MutationResult{
			Data:    env.Data,
			Message: env.Message,
			Err:     fmt.Errorf("%w: %w", domainOffline.ErrNetworkFailure, err),
		}
	}

	for _, key := range req.Invalidate {
		if key == "" {
			continue
		}
		if err := s.cache.Remove(ctx, key); err != nil {
			slog.Warn("cache_invalidate_failed", "key", key, "error", err.Error())
		}
	}
	return domainOffline.MutationResult{Data: env.Data, Message: env.Message}
}

// send performs one write under the retry policy. Retrying is safe because
// every write carries an Idempotency-Key.
func (s *Service) send(ctx context.Context, req portal.Request) (envelope.Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.NetworkTimeout)
	defer cancel()
	return retry.DoWithResult(ctx, s.opts.Retry, func(ctx context.Context) (envelope.Envelope, error) {
		return s.transport.Do(ctx, req)
	})
}
