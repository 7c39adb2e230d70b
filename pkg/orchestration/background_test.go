package orchestration

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/stepwise/pkg/api"
	"github.com/rhuss/stepwise/pkg/session"
	"github.com/rhuss/stepwise/pkg/storage"
	"github.com/rhuss/stepwise/pkg/storage/memory"
)

// slowWriter delays the first write whose payload contains marker and
// closes started when that write begins.
type slowWriter struct {
	*memory.Provider
	marker  []byte
	delay   time.Duration
	once    sync.Once
	started chan struct{}
}

func (p *slowWriter) Set(ctx context.Context, key string, value []byte, opts storage.SetOptions) error {
	if bytes.Contains(value, p.marker) {
		p.once.Do(func() {
			close(p.started)
			time.Sleep(p.delay)
		})
	}
	return p.Provider.Set(ctx, key, value, opts)
}

func TestInlineRunner(t *testing.T) {
	boom := errors.New("boom")
	err := InlineRunner{}.Run(t.Context(), "task", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestAsyncRunner(t *testing.T) {
	r := NewAsyncRunner(discardLogger())
	ctx, cancel := context.WithCancel(t.Context())

	var ran atomic.Int32
	release := make(chan struct{})
	err := r.Run(ctx, "task", func(taskCtx context.Context) error {
		<-release
		if taskCtx.Err() == nil {
			ran.Add(1)
		}
		return errors.New("logged, not returned")
	})
	require.NoError(t, err)

	// Canceling the caller does not cancel the task.
	cancel()
	close(release)
	r.Wait()
	assert.Equal(t, int32(1), ran.Load())
}

func TestRecordTokenUsage(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.manager.GetOrCreateState(t.Context(), "s1", nil)
		require.NoError(t, err)

		require.NoError(t, h.manager.RecordTokenUsage(t.Context(), "s1", api.TokenUsage{TotalTokens: 7}))
		assert.Equal(t, 7, h.state(t, "s1").CumulativeTokenUsage.TotalTokens)

		err = h.manager.RecordTokenUsage(t.Context(), "missing", api.TokenUsage{TotalTokens: 1})
		assert.ErrorIs(t, err, api.ErrStateNotFound)
	})

	t.Run("async", func(t *testing.T) {
		h := newHarness(t)
		runner := NewAsyncRunner(discardLogger())
		m := New(h.store, Options{Logger: discardLogger(), Runner: runner})
		_, err := m.GetOrCreateState(t.Context(), "s1", nil)
		require.NoError(t, err)

		for range 3 {
			require.NoError(t, m.RecordTokenUsage(t.Context(), "s1", api.TokenUsage{PromptTokens: 2, TotalTokens: 2}))
			runner.Wait()
		}

		state, err := m.GetState(t.Context(), "s1")
		require.NoError(t, err)
		assert.Equal(t, api.TokenUsage{PromptTokens: 6, TotalTokens: 6}, state.CumulativeTokenUsage)
	})
}

func TestAsyncTokenUsageKeepsConcurrentToolUsage(t *testing.T) {
	p := &slowWriter{
		Provider: memory.New(0),
		marker:   []byte(`"prompt_tokens":5`),
		delay:    100 * time.Millisecond,
		started:  make(chan struct{}),
	}
	store := session.New[api.State](p, session.Options{KeyPrefix: "test", TTL: time.Hour})
	runner := NewAsyncRunner(discardLogger())
	m := New(store, Options{Logger: discardLogger(), Runner: runner})
	cfg := &api.Config{Steps: []api.Step{{Name: "work", IsDefault: true}}}

	_, err := m.GetOrCreateState(t.Context(), "s1", cfg)
	require.NoError(t, err)

	usage := api.TokenUsage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8}
	require.NoError(t, m.RecordTokenUsage(t.Context(), "s1", usage))

	// The token write is in flight when the next tool is reported.
	<-p.started
	require.NoError(t, m.ProcessToolUsage(t.Context(), cfg, nil, "s1", "search"))
	runner.Wait()

	state, err := m.GetState(t.Context(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"search"}, state.RecentlyUsedTools)
	assert.Equal(t, usage, state.CumulativeTokenUsage)
	assert.Equal(t, "work", state.ActiveStep)
}
