package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestLimiter(tiers map[string]int, defaultRPM int) (*InProcessLimiter, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewInProcessLimiter(tiers, defaultRPM)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestInProcessLimiter_WindowResets(t *testing.T) {
	l, now := newTestLimiter(nil, 1)
	id := &Identity{Subject: "alice"}
	ctx := context.Background()

	if err := l.Allow(ctx, id); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.Allow(ctx, id); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("second request: err = %v, want ErrTooManyRequests", err)
	}

	*now = now.Add(time.Minute)
	if err := l.Allow(ctx, id); err != nil {
		t.Errorf("request in new window: %v", err)
	}
}

func TestInProcessLimiter_PerSubject(t *testing.T) {
	l, _ := newTestLimiter(nil, 1)
	ctx := context.Background()

	if err := l.Allow(ctx, &Identity{Subject: "alice"}); err != nil {
		t.Fatalf("alice: %v", err)
	}
	if err := l.Allow(ctx, &Identity{Subject: "bob"}); err != nil {
		t.Errorf("bob should have an independent window: %v", err)
	}
}

func TestInProcessLimiter_UnlimitedTier(t *testing.T) {
	l, _ := newTestLimiter(map[string]int{"internal": 0}, 1)
	id := &Identity{Subject: "svc", ServiceTier: "internal"}

	for i := 0; i < 10; i++ {
		if err := l.Allow(context.Background(), id); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
}

func TestInProcessLimiter_PrunesClosedWindows(t *testing.T) {
	l, now := newTestLimiter(nil, 5)
	ctx := context.Background()

	for _, s := range []string{"a", "b", "c"} {
		_ = l.Allow(ctx, &Identity{Subject: s})
	}

	*now = now.Add(2 * time.Minute)
	_ = l.Allow(ctx, &Identity{Subject: "d"})

	if len(l.windows) != 1 {
		t.Errorf("windows = %d, want 1 after pruning", len(l.windows))
	}
}
