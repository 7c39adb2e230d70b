// Package postgres provides a PostgreSQL-backed storage.Provider using
// pgx/v5 connection pooling. Expiry is evaluated with the database clock;
// expired rows are hidden from reads and removed by Sweep.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/stepwise/pkg/storage"
)

// Provider is a PostgreSQL-backed storage.Provider.
type Provider struct {
	pool *pgxpool.Pool
}

// Ensure Provider implements the storage contracts at compile time.
var (
	_ storage.Provider = (*Provider)(nil)
	_ storage.Sweeper  = (*Provider)(nil)
)

// New creates a PostgreSQL provider with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	p := &Provider{pool: pool}

	if cfg.MigrateOnStart {
		if err := p.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return p, nil
}

// Get returns the value stored under key if it has not expired.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `
		SELECT value FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
	`, key).Scan(&value)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key. A zero TTL stores the row without expiry.
func (p *Provider) Set(ctx context.Context, key string, value []byte, opts storage.SetOptions) error {
	var ttlMillis *int64
	if opts.TTL > 0 {
		ms := opts.TTL.Milliseconds()
		ttlMillis = &ms
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'), now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
	`, key, value, ttlMillis)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", key, err)
	}
	return nil
}

// Delete removes key and reports whether it held a live (unexpired) value.
func (p *Provider) Delete(ctx context.Context, key string) (bool, error) {
	var live bool
	err := p.pool.QueryRow(ctx, `
		DELETE FROM kv_entries WHERE key = $1
		RETURNING (expires_at IS NULL OR expires_at > now())
	`, key).Scan(&live)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", key, err)
	}
	return live, nil
}

// Sweep deletes all expired rows.
func (p *Provider) Sweep(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= now()",
	)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// HealthCheck verifies the database connection.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *Provider) Close() error {
	p.pool.Close()
	return nil
}
