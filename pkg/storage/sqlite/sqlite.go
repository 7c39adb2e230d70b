// Package sqlite provides an embedded storage.Provider on top of
// database/sql and the pure-Go modernc.org/sqlite driver. It suits
// single-node deployments that need state to survive restarts without
// running a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/rhuss/stepwise/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    expires_at INTEGER,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS kv_entries_expires_at_idx ON kv_entries (expires_at);
`

// Provider is a SQLite-backed storage.Provider. Expiry timestamps are
// stored as Unix milliseconds.
type Provider struct {
	db  *sql.DB
	now func() time.Time
}

// Ensure Provider implements the storage contracts at compile time.
var (
	_ storage.Provider = (*Provider)(nil)
	_ storage.Sweeper  = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New opens (or creates) the database at path in WAL mode and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func New(ctx context.Context, path string, opts ...Option) (*Provider, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	p := &Provider{db: db, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Get returns the value stored under key if it has not expired.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx,
		"SELECT value FROM kv_entries WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)",
		key, p.now().UnixMilli(),
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key. A zero TTL stores the entry without expiry.
func (p *Provider) Set(ctx context.Context, key string, value []byte, opts storage.SetOptions) error {
	now := p.now()
	var expiresAt sql.NullInt64
	if opts.TTL > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(opts.TTL).UnixMilli(), Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value,
		    expires_at = excluded.expires_at,
		    updated_at = excluded.updated_at
	`, key, value, expiresAt, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("upserting %s: %w", key, err)
	}
	return nil
}

// Delete removes key and reports whether it held a live value.
func (p *Provider) Delete(ctx context.Context, key string) (bool, error) {
	var expiresAt sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		"DELETE FROM kv_entries WHERE key = ? RETURNING expires_at", key,
	).Scan(&expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", key, err)
	}
	return !expiresAt.Valid || expiresAt.Int64 > p.now().UnixMilli(), nil
}

// Sweep deletes all expired entries.
func (p *Provider) Sweep(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx,
		"DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?",
		p.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting swept entries: %w", err)
	}
	return int(n), nil
}

// HealthCheck verifies the database is reachable.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database.
func (p *Provider) Close() error {
	return p.db.Close()
}
