// Package memory provides an in-memory storage.Provider for tests and
// single-process deployments. Entries are lost when the process restarts.
// An optional size bound evicts the least recently used entry, and
// per-entry TTLs are honored lazily on read and eagerly by Sweep.
package memory

import (
	"container/list"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rhuss/stepwise/pkg/storage"
)

// entry holds a stored value and its metadata.
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time     // zero = never
	lruElem   *list.Element // position in LRU list
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Provider is an in-memory storage.Provider with optional LRU eviction.
type Provider struct {
	mu      sync.Mutex
	entries map[string]*entry
	lruList *list.List // front = most recently used
	maxSize int        // 0 = unlimited
	now     func() time.Time
	closed  bool
}

// Ensure Provider implements the storage contracts at compile time.
var (
	_ storage.Provider = (*Provider)(nil)
	_ storage.Sweeper  = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New creates an in-memory provider. If maxSize is 0 the provider grows
// without limit; otherwise the least recently used entry is evicted when
// a new key would exceed the limit.
func New(maxSize int, opts ...Option) *Provider {
	p := &Provider{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns a copy of the value stored under key.
func (p *Provider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, storage.ErrClosed
	}

	e, ok := p.entries[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if e.expired(p.now()) {
		p.remove(e)
		return nil, storage.ErrNotFound
	}

	p.lruList.MoveToFront(e.lruElem)
	return slices.Clone(e.value), nil
}

// Set stores a copy of value under key.
func (p *Provider) Set(_ context.Context, key string, value []byte, opts storage.SetOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return storage.ErrClosed
	}

	var expiresAt time.Time
	if opts.TTL > 0 {
		expiresAt = p.now().Add(opts.TTL)
	}

	if e, ok := p.entries[key]; ok {
		e.value = slices.Clone(value)
		e.expiresAt = expiresAt
		p.lruList.MoveToFront(e.lruElem)
		return nil
	}

	if p.maxSize > 0 && len(p.entries) >= p.maxSize {
		p.evictOldest()
	}

	e := &entry{
		key:       key,
		value:     slices.Clone(value),
		expiresAt: expiresAt,
	}
	e.lruElem = p.lruList.PushFront(e)
	p.entries[key] = e
	return nil
}

// Delete removes key and reports whether a live entry was removed.
func (p *Provider) Delete(_ context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, storage.ErrClosed
	}

	e, ok := p.entries[key]
	if !ok {
		return false, nil
	}
	live := !e.expired(p.now())
	p.remove(e)
	return live, nil
}

// Sweep removes every expired entry.
func (p *Provider) Sweep(_ context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, storage.ErrClosed
	}

	now := p.now()
	removed := 0
	for _, e := range p.entries {
		if e.expired(now) {
			p.remove(e)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, including expired entries
// that have not been swept yet.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// HealthCheck returns ErrClosed after Close and nil otherwise.
func (p *Provider) HealthCheck(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return storage.ErrClosed
	}
	return nil
}

// Close drops all entries. Further calls return storage.ErrClosed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.entries = make(map[string]*entry)
	p.lruList.Init()
	return nil
}

// evictOldest removes the least recently used entry.
// Must be called with p.mu held.
func (p *Provider) evictOldest() {
	back := p.lruList.Back()
	if back == nil {
		return
	}
	p.remove(back.Value.(*entry))
}

// remove deletes e from the map and LRU list. Must be called with p.mu held.
func (p *Provider) remove(e *entry) {
	p.lruList.Remove(e.lruElem)
	delete(p.entries, e.key)
}
