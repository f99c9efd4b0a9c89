package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"
	"unicode/utf8"

	"fitsync/internal/adapters/storage"
	domain "fitsync/internal/domain/cache"
)

const (
	dateLayout = "2006-01-02T15:04:05.999999999Z07:00"
)

// SQLStore implements the cache Store interface on SQLite or Postgres.
type SQLStore struct {
	db      storage.SQLDB
	dialect storage.Dialect
}

// NewSQLStore creates a new cache store.
func NewSQLStore(db storage.SQLDB, dialect storage.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Get retrieves the entry stored under key.
// PRE: key is non-empty
// POST: Returns the entry or domain.ErrNotFound
func (s *SQLStore) Get(ctx context.Context, key string) (domain.Entry, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT cache_key, value, stored_at, ttl_ms FROM cache_entry WHERE cache_key = ?`), key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entry{}, domain.ErrNotFound
	}
	return e, err
}

// Save persists an entry, replacing any entry under the same key.
// PRE: entry has been validated
// POST: Entry is persisted (insert or update)
func (s *SQLStore) Save(ctx context.Context, e domain.Entry) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO cache_entry (cache_key, value, stored_at, ttl_ms)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
		   value=excluded.value, stored_at=excluded.stored_at, ttl_ms=excluded.ttl_ms`),
		e.Key, string(e.Value), e.StoredAt.UTC().Format(dateLayout), e.TTL.Milliseconds())
	return err
}

// Delete removes the entry stored under key.
// PRE: key is non-empty
// POST: No entry remains under key
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM cache_entry WHERE cache_key = ?`), key)
	return err
}

// DeleteAll removes every entry whose key starts with prefix.
// PRE: none
// POST: No entry with the prefix remains
func (s *SQLStore) DeleteAll(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`DELETE FROM cache_entry WHERE substr(cache_key, 1, ?) = ?`), prefixArgs(prefix)...)
	return err
}

// List returns entries whose key starts with prefix, ordered by key.
// PRE: none
// POST: Returns matching entries (possibly empty)
func (s *SQLStore) List(ctx context.Context, prefix string) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT cache_key, value, stored_at, ttl_ms FROM cache_entry
		 WHERE substr(cache_key, 1, ?) = ? ORDER BY cache_key ASC`), prefixArgs(prefix)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// prefixArgs binds an exact, case-sensitive prefix match for
// substr(cache_key, 1, n) = prefix.
func prefixArgs(prefix string) []any {
	return []any{utf8.RuneCountInString(prefix), prefix}
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry scans a single row into an Entry.
func scanEntry(row scanner) (domain.Entry, error) {
	var e domain.Entry
	var value, storedAt string
	var ttlMs int64
	if err := row.Scan(&e.Key, &value, &storedAt, &ttlMs); err != nil {
		return domain.Entry{}, err
	}
	e.Value = []byte(value)
	e.StoredAt, _ = time.Parse(dateLayout, storedAt)
	e.TTL = time.Duration(ttlMs) * time.Millisecond
	return e, nil
}
