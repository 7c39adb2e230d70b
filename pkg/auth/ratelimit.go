package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter checks whether a request should be allowed based on
// the identity's service tier.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// InProcessLimiter is a fixed-window limiter that counts requests per
// subject and tier in memory. A tier with a non-positive limit is unlimited.
type InProcessLimiter struct {
	tiers      map[string]int
	defaultRPM int
	now        func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastPrune time.Time
}

type window struct {
	count   int
	startAt time.Time
}

// NewInProcessLimiter creates a limiter. tiers maps a service tier to its
// requests per minute; other tiers get defaultRPM.
func NewInProcessLimiter(tiers map[string]int, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		now:        time.Now,
		windows:    make(map[string]*window),
	}
}

// Allow returns ErrTooManyRequests once the caller exceeds its tier's
// limit in the current one-minute window.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.Tier()
	rpm, ok := l.tiers[tier]
	if !ok {
		rpm = l.defaultRPM
	}
	if rpm <= 0 {
		return nil
	}

	key := identity.Subject + ":" + tier

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.startAt) >= time.Minute {
		l.windows[key] = &window{count: 1, startAt: now}
		return nil
	}

	w.count++
	if w.count > rpm {
		return ErrTooManyRequests
	}
	return nil
}

// prune drops closed windows at most once a minute so idle subjects do
// not accumulate. Must be called with mu held.
func (l *InProcessLimiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < time.Minute {
		return
	}
	for key, w := range l.windows {
		if now.Sub(w.startAt) >= time.Minute {
			delete(l.windows, key)
		}
	}
	l.lastPrune = now
}
