package outbox

import (
	"context"

	domain "fitsync/internal/domain/outbox"
)

// Store defines the interface for pending mutation persistence.
// Implementations must preserve append order: Front always returns the
// lowest-Seq mutation still stored.
type Store interface {
	// Append stores m at the tail of the queue.
	// PRE: m has been validated
	// POST: Returns m with Seq assigned
	Append(ctx context.Context, m domain.PendingMutation) (domain.PendingMutation, error)

	// Front returns the oldest pending mutation.
	// PRE: none
	// POST: Returns the mutation or domain.ErrNotFound when the queue is empty
	Front(ctx context.Context) (domain.PendingMutation, error)

	// GetByID retrieves a pending mutation by its ID.
	// PRE: id is non-empty
	// POST: Returns the mutation or domain.ErrNotFound
	GetByID(ctx context.Context, id string) (domain.PendingMutation, error)

	// Update persists attempt bookkeeping without changing queue position.
	// PRE: m was returned by this store
	// POST: Attempts, LastAttemptedAt and ErrorMessage are persisted
	Update(ctx context.Context, m domain.PendingMutation) error

	// Delete removes a mutation after a confirmed replay or an explicit discard.
	// PRE: id is non-empty
	// POST: Mutation is removed; missing ids are not an error
	Delete(ctx context.Context, id string) error

	// Count returns the number of pending mutations.
	Count(ctx context.Context) (int, error)

	// List returns pending mutations in replay order.
	// PRE: limit > 0, offset >= 0
	// POST: Returns up to limit mutations starting at offset
	List(ctx context.Context, limit, offset int) ([]domain.PendingMutation, error)
}
