// Package session provides generic, tenant-scoped session persistence on
// top of a storage.Provider.
//
// Records are stored as JSON envelopes carrying creation and last-access
// timestamps. Every write re-applies the configured TTL, so a session
// expires only after TTL of inactivity. Reads do not extend the TTL.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/stepwise/pkg/debug"
	"github.com/rhuss/stepwise/pkg/storage"
)

// DefaultKeyPrefix namespaces session keys in a shared backend.
const DefaultKeyPrefix = "stepwise:session"

// defaultTenant is the key segment used when the context carries no tenant.
const defaultTenant = "default"

// ErrNotFound is returned when a session has no live record.
var ErrNotFound = storage.ErrNotFound

// Record is the persisted envelope around session data.
type Record[T any] struct {
	ID           string    `json:"id"`
	Data         T         `json:"data"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Options configures a Store.
type Options struct {
	// KeyPrefix is prepended to every key. Default: DefaultKeyPrefix.
	KeyPrefix string

	// TTL is applied on every write. Zero disables expiry.
	TTL time.Duration

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time

	// Logger receives storage failures. Default: slog.Default().
	Logger *slog.Logger
}

// Store persists values of type T keyed by session id.
type Store[T any] struct {
	provider storage.Provider
	prefix   string
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Store on top of provider.
func New[T any](provider storage.Provider, opts Options) *Store[T] {
	s := &Store[T]{
		provider: provider,
		prefix:   opts.KeyPrefix,
		ttl:      opts.TTL,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if s.prefix == "" {
		s.prefix = DefaultKeyPrefix
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// TTL returns the expiry applied on every write.
func (s *Store[T]) TTL() time.Duration {
	return s.ttl
}

// Key returns the storage key for id, scoped to the tenant in ctx.
func (s *Store[T]) Key(ctx context.Context, id string) string {
	tenant := storage.GetTenant(ctx)
	if tenant == "" {
		tenant = defaultTenant
	}
	return s.prefix + ":" + tenant + ":" + id
}

// Create writes a new record for id, replacing any existing one.
func (s *Store[T]) Create(ctx context.Context, id string, data T) (*Record[T], error) {
	now := s.now()
	rec := &Record[T]{
		ID:           id,
		Data:         data,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := s.write(ctx, rec); err != nil {
		return nil, err
	}
	debug.Log(debug.Session, "session created", "session_id", id)
	return rec, nil
}

// Get returns the record for id, or ErrNotFound.
func (s *Store[T]) Get(ctx context.Context, id string) (*Record[T], error) {
	key := s.Key(ctx, id)
	data, err := s.provider.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}

	var rec Record[T]
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	debug.Trace(debug.Session, "session read", "session_id", id, "record", debug.Truncate(string(data), 2048))
	return &rec, nil
}

// Update loads the record for id, applies fn to its data, stamps
// LastAccessed and writes it back with a fresh TTL. If fn returns an
// error nothing is written. The read-modify-write is not atomic.
func (s *Store[T]) Update(ctx context.Context, id string, fn func(*T) error) (*Record[T], error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(&rec.Data); err != nil {
		return nil, err
	}
	rec.LastAccessed = s.now()
	if err := s.write(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record for id and reports whether one existed.
func (s *Store[T]) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.provider.Delete(ctx, s.Key(ctx, id))
	if err != nil {
		s.logger.Error("session delete failed", "session_id", id, "error", err)
		return false, fmt.Errorf("deleting session %s: %w", id, err)
	}
	debug.Log(debug.Session, "session deleted", "session_id", id, "existed", deleted)
	return deleted, nil
}

func (s *Store[T]) write(ctx context.Context, rec *Record[T]) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", rec.ID, err)
	}
	if err := s.provider.Set(ctx, s.Key(ctx, rec.ID), data, storage.SetOptions{TTL: s.ttl}); err != nil {
		s.logger.Error("session write failed", "session_id", rec.ID, "error", err)
		return fmt.Errorf("writing session %s: %w", rec.ID, err)
	}
	return nil
}
