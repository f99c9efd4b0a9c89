package outbox

import (
	"context"
	"sync"

	domain "fitsync/internal/domain/outbox"
)

// MemoryStore is a goroutine-safe, non-durable pending mutation store.
type MemoryStore struct {
	mu      sync.Mutex
	nextSeq int64
	items   []domain.PendingMutation // ordered by Seq
}

// NewMemoryStore creates an empty in-memory queue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores m at the tail of the queue.
func (s *MemoryStore) Append(_ context.Context, m domain.PendingMutation) (domain.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	m.Seq = s.nextSeq
	s.items = append(s.items, clone(m))
	return clone(m), nil
}

// Front returns the oldest pending mutation.
func (s *MemoryStore) Front(_ context.Context) (domain.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return domain.PendingMutation{}, domain.ErrNotFound
	}
	return clone(s.items[0]), nil
}

// GetByID retrieves a pending mutation by its ID.
func (s *MemoryStore) GetByID(_ context.Context, id string) (domain.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return clone(s.items[i]), nil
	}
	return domain.PendingMutation{}, domain.ErrNotFound
}

// Update persists attempt bookkeeping without changing queue position.
func (s *MemoryStore) Update(_ context.Context, m domain.PendingMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(m.ID)
	if i < 0 {
		return domain.ErrNotFound
	}
	s.items[i].Attempts = m.Attempts
	s.items[i].LastAttemptedAt = m.LastAttemptedAt
	s.items[i].ErrorMessage = m.ErrorMessage
	return nil
}

// Delete removes a mutation.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	}
	return nil
}

// Count returns the number of pending mutations.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

// List returns pending mutations in replay order.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]domain.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset >= len(s.items) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.items) {
		end = len(s.items)
	}
	list := make([]domain.PendingMutation, 0, end-offset)
	for _, m := range s.items[offset:end] {
		list = append(list, clone(m))
	}
	return list, nil
}

func (s *MemoryStore) indexOf(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func clone(m domain.PendingMutation) domain.PendingMutation {
	if m.Headers != nil {
		h := make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			h[k] = v
		}
		m.Headers = h
	}
	m.Body = append([]byte(nil), m.Body...)
	return m
}
