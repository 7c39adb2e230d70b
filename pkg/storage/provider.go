package storage

import (
	"context"
	"time"
)

// SetOptions controls how a value is written.
type SetOptions struct {
	// TTL is the time-to-live of the entry. Zero means no expiry.
	TTL time.Duration
}

// Provider is an asynchronous key-value store with optional per-entry TTL.
// The engine never assumes a specific backend.
type Provider interface {
	// Get returns the value stored under key. Returns ErrNotFound if the
	// key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte, opts SetOptions) error

	// Delete removes key. It reports whether a live entry was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases connections and resources.
	Close() error
}

// Sweeper is implemented by backends that need an explicit pass to evict
// expired entries. Backends with native expiry (Redis) do not implement it.
type Sweeper interface {
	// Sweep deletes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}
