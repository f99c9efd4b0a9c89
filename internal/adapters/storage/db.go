package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour spoken by a store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Rebind rewrites ? placeholders into the dialect's positional form.
// PRE: query contains no literal '?' characters
// POST: Returns query unchanged for SQLite, with $1..$n for Postgres
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// sqliteDSNSuffix enables WAL, foreign keys and a busy timeout on every connection.
const sqliteDSNSuffix = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"

// Open opens the database for driver and verifies the connection.
// PRE: driver is "sqlite" or "postgres"; dsn is a file path (sqlite) or connection string (postgres)
// POST: Returns a live *sql.DB and its dialect, or an error
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	switch Dialect(driver) {
	case DialectSQLite:
		dialect = DialectSQLite
		if dsn != ":memory:" && !strings.Contains(dsn, "?") {
			dsn += sqliteDSNSuffix
		}
		db, err = sql.Open("sqlite", dsn)
		if err == nil && strings.HasPrefix(dsn, ":memory:") {
			// every connection to :memory: is a separate database
			db.SetMaxOpenConns(1)
		}
	case DialectPostgres:
		dialect = DialectPostgres
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, "", fmt.Errorf("unsupported storage driver %q", driver)
	}
	if err != nil {
		return nil, "", fmt.Errorf("open %s database: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("%s database unreachable: %w", driver, err)
	}
	return db, dialect, nil
}

// InitDB creates the cache and queue tables if they do not exist.
// PRE: db is a valid database connection speaking dialect
// POST: cache_entry and pending_mutation exist
func InitDB(ctx context.Context, db SQLDB, dialect Dialect) error {
	seqColumn := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if dialect == DialectPostgres {
		seqColumn = "seq BIGSERIAL PRIMARY KEY"
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cache_entry (
		cache_key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		stored_at TEXT NOT NULL,
		ttl_ms BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS pending_mutation (
		` + seqColumn + `,
		id TEXT NOT NULL UNIQUE,
		path TEXT NOT NULL,
		method TEXT NOT NULL,
		headers TEXT NOT NULL DEFAULT '{}',
		body TEXT NOT NULL DEFAULT '',
		enqueued_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempted_at TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
