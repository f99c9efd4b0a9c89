package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	outboxStore "fitsync/internal/adapters/storage/outbox"
	domain "fitsync/internal/domain/outbox"
)

// strippedHeaders are never persisted with a queued mutation. Credentials
// are attached by the portal client at replay time and the idempotency key
// is the mutation id.
var strippedHeaders = map[string]bool{
	"Authorization":   true,
	"Cookie":          true,
	"Content-Length":  true,
	"Idempotency-Key": true,
	"Connection":      true,
}

// Queue is the durable FIFO of writes waiting for connectivity.
type Queue struct {
	store      outboxStore.Store
	now        func() time.Time
	generateID func() string
}

// NewQueue creates a queue over store. nil funcs default to time.Now and uuid v4.
func NewQueue(store outboxStore.Store, now func() time.Time, generateID func() string) *Queue {
	if now == nil {
		now = time.Now
	}
	if generateID == nil {
		generateID = uuid.NewString
	}
	return &Queue{store: store, now: now, generateID: generateID}
}

// Enqueue appends a mutation at the tail.
// PRE: method is POST, PUT, PATCH or DELETE; path is non-empty; body is empty or valid JSON
// POST: Mutation persisted behind every earlier mutation; returns its id
func (q *Queue) Enqueue(ctx context.Context, path, method string, headers map[string]string, body json.RawMessage) (string, error) {
	m := domain.PendingMutation{
		ID:         q.generateID(),
		Path:       path,
		Method:     method,
		Headers:    sanitizeHeaders(headers),
		Body:       body,
		EnqueuedAt: q.now(),
	}
	if err := m.Validate(); err != nil {
		return "", err
	}
	if _, err := q.store.Append(ctx, m); err != nil {
		return "", fmt.Errorf("enqueue mutation: %w", err)
	}
	return m.ID, nil
}

func sanitizeHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = http.CanonicalHeaderKey(k)
		if strippedHeaders[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// PeekFront returns the oldest pending mutation without removing it.
// PRE: none
// POST: Returns (m, true, nil), or (_, false, nil) when the queue is empty
func (q *Queue) PeekFront(ctx context.Context) (domain.PendingMutation, bool, error) {
	m, err := q.store.Front(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PendingMutation{}, false, nil
	}
	if err != nil {
		return domain.PendingMutation{}, false, fmt.Errorf("peek queue front: %w", err)
	}
	return m, true, nil
}

// Dequeue removes a mutation whose replay the portal confirmed.
// PRE: the replay of id succeeded
// POST: id is no longer queued
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	if err := q.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("dequeue mutation %s: %w", id, err)
	}
	return nil
}

// Size returns the number of pending mutations.
func (q *Queue) Size(ctx context.Context) (int, error) {
	n, err := q.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// RecordFailure stamps a failed replay on m. The mutation keeps its position.
// PRE: m was returned by PeekFront; cause is non-nil
// POST: Attempts, LastAttemptedAt and ErrorMessage are persisted
func (q *Queue) RecordFailure(ctx context.Context, m domain.PendingMutation, cause error) (domain.PendingMutation, error) {
	m.MarkAttempt(q.now())
	m.MarkFailed(cause)
	if err := q.store.Update(ctx, m); err != nil {
		return m, fmt.Errorf("record replay failure for %s: %w", m.ID, err)
	}
	return m, nil
}

// Get returns the pending mutation with id.
func (q *Queue) Get(ctx context.Context, id string) (domain.PendingMutation, error) {
	return q.store.GetByID(ctx, id)
}

// List returns pending mutations in replay order.
// PRE: limit > 0, offset >= 0
func (q *Queue) List(ctx context.Context, limit, offset int) ([]domain.PendingMutation, error) {
	ms, err := q.store.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return ms, nil
}

// Discard removes a mutation that can never succeed. Only an explicit user
// or admin action calls this; a drain never skips a mutation.
// PRE: id is non-empty
// POST: Mutation removed, or domain.ErrNotFound
func (q *Queue) Discard(ctx context.Context, id string) error {
	m, err := q.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := q.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("discard mutation %s: %w", id, err)
	}
	slog.Warn("mutation_discarded",
		"id", m.ID,
		"method", m.Method,
		"path", m.Path,
		"attempts", m.Attempts,
		"last_error", m.ErrorMessage,
	)
	return nil
}
