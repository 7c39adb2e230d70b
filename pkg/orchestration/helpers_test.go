package orchestration

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhuss/stepwise/pkg/api"
	"github.com/rhuss/stepwise/pkg/session"
	"github.com/rhuss/stepwise/pkg/storage/memory"
)

type recorder struct {
	mu          sync.Mutex
	transitions []string
	violations  []string
	tools       []string
	errors      []string
	swept       int
}

func (r *recorder) StepTransition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *recorder) SequenceViolation(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, step)
}

func (r *recorder) ToolUsed(tool string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, tool)
}

func (r *recorder) StateError(op string, kind api.ErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, op+":"+string(kind))
}

func (r *recorder) SessionsSwept(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swept += n
}

type harness struct {
	provider *memory.Provider
	store    *session.Store[api.State]
	rec      *recorder
	opts     Options
	manager  *Manager
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	p := memory.New(0)
	store := session.New[api.State](p, session.Options{KeyPrefix: "test", TTL: time.Hour})
	rec := &recorder{}
	opts := Options{Logger: discardLogger(), Observer: rec}
	return &harness{
		provider: p,
		store:    store,
		rec:      rec,
		opts:     opts,
		manager:  New(store, opts),
	}
}

// seed writes a raw state record, bypassing the defaults of
// GetOrCreateState.
func (h *harness) seed(t *testing.T, id string, state api.State) {
	t.Helper()
	_, err := h.store.Create(t.Context(), id, state)
	require.NoError(t, err)
}

func (h *harness) state(t *testing.T, id string) *api.State {
	t.Helper()
	s, err := h.manager.GetState(t.Context(), id)
	require.NoError(t, err)
	return s
}
