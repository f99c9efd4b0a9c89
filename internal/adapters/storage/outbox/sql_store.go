package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fitsync/internal/adapters/storage"
	domain "fitsync/internal/domain/outbox"
)

const (
	dateLayout = "2006-01-02T15:04:05.999999999Z07:00"

	selectColumns = `SELECT seq, id, path, method, headers, body, enqueued_at, attempts, last_attempted_at, error_message
		 FROM pending_mutation`
)

// SQLStore implements the outbox Store interface on SQLite or Postgres.
type SQLStore struct {
	db      storage.SQLDB
	dialect storage.Dialect
}

// NewSQLStore creates a new pending mutation store.
func NewSQLStore(db storage.SQLDB, dialect storage.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Append stores m at the tail of the queue.
// PRE: m has been validated
// POST: Returns m with Seq assigned by the database
func (s *SQLStore) Append(ctx context.Context, m domain.PendingMutation) (domain.PendingMutation, error) {
	headers, err := json.Marshal(m.Headers)
	if err != nil {
		return domain.PendingMutation{}, fmt.Errorf("marshal headers: %w", err)
	}
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`INSERT INTO pending_mutation (id, path, method, headers, body, enqueued_at, attempts, last_attempted_at, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING seq`),
		m.ID, m.Path, m.Method, string(headers), string(m.Body),
		m.EnqueuedAt.UTC().Format(dateLayout), m.Attempts, formatOptional(m.LastAttemptedAt), m.ErrorMessage)
	if err := row.Scan(&m.Seq); err != nil {
		return domain.PendingMutation{}, err
	}
	return m, nil
}

// Front returns the oldest pending mutation.
// PRE: none
// POST: Returns the mutation or domain.ErrNotFound when the queue is empty
func (s *SQLStore) Front(ctx context.Context) (domain.PendingMutation, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` ORDER BY seq ASC LIMIT 1`)
	return notFound(scanMutation(row))
}

// GetByID retrieves a pending mutation by its ID.
// PRE: id is non-empty
// POST: Returns the mutation or domain.ErrNotFound
func (s *SQLStore) GetByID(ctx context.Context, id string) (domain.PendingMutation, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(selectColumns+` WHERE id = ?`), id)
	return notFound(scanMutation(row))
}

// Update persists attempt bookkeeping without changing queue position.
// PRE: m was returned by this store
// POST: Attempts, LastAttemptedAt and ErrorMessage are persisted
func (s *SQLStore) Update(ctx context.Context, m domain.PendingMutation) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`UPDATE pending_mutation SET attempts = ?, last_attempted_at = ?, error_message = ? WHERE id = ?`),
		m.Attempts, formatOptional(m.LastAttemptedAt), m.ErrorMessage, m.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a mutation after a confirmed replay or an explicit discard.
// PRE: id is non-empty
// POST: Mutation is removed
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM pending_mutation WHERE id = ?`), id)
	return err
}

// Count returns the number of pending mutations.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_mutation`).Scan(&n)
	return n, err
}

// List returns pending mutations in replay order.
// PRE: limit > 0, offset >= 0
// POST: Returns up to limit mutations starting at offset
func (s *SQLStore) List(ctx context.Context, limit, offset int) ([]domain.PendingMutation, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(selectColumns+` ORDER BY seq ASC LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []domain.PendingMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func notFound(m domain.PendingMutation, err error) (domain.PendingMutation, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingMutation{}, domain.ErrNotFound
	}
	return m, err
}

type scanner interface {
	Scan(dest ...any) error
}

// scanMutation scans a single row into a PendingMutation.
func scanMutation(row scanner) (domain.PendingMutation, error) {
	var m domain.PendingMutation
	var headers, body, enqueuedAt, lastAttemptedAt string
	err := row.Scan(&m.Seq, &m.ID, &m.Path, &m.Method, &headers, &body,
		&enqueuedAt, &m.Attempts, &lastAttemptedAt, &m.ErrorMessage)
	if err != nil {
		return domain.PendingMutation{}, err
	}
	if headers != "" && headers != "null" {
		if err := json.Unmarshal([]byte(headers), &m.Headers); err != nil {
			return domain.PendingMutation{}, fmt.Errorf("decode headers for %s: %w", m.ID, err)
		}
	}
	if body != "" {
		m.Body = json.RawMessage(body)
	}
	m.EnqueuedAt, _ = time.Parse(dateLayout, enqueuedAt)
	if lastAttemptedAt != "" {
		m.LastAttemptedAt, _ = time.Parse(dateLayout, lastAttemptedAt)
	}
	return m, nil
}
