package orchestration

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/stepwise/pkg/api"
)

func TestGetStateMissing(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.States().GetState(t.Context(), "s1")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrStateNotFound)
	assert.Equal(t, api.KindStateNotFound, api.KindOf(err))
	assert.Equal(t, []string{"get:state_not_found"}, h.rec.errors)
}

func TestGetOrCreateStateCountsNoError(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.GetOrCreateState(t.Context(), "s1", nil)
	require.NoError(t, err)
	_, err = h.manager.GetOrCreateState(t.Context(), "s1", nil)
	require.NoError(t, err)
	assert.Empty(t, h.rec.errors)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	h := newHarness(t)
	sm := h.manager.States()
	_, err := sm.GetOrCreateState(t.Context(), "s1", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := sm.AddTokenUsage(t.Context(), "s1", api.TokenUsage{TotalTokens: 1})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := sm.AddUsedTool(t.Context(), "s1", fmt.Sprintf("t%d", i%5))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state := h.state(t, "s1")
	assert.Equal(t, 20, state.CumulativeTokenUsage.TotalTokens)
	assert.Len(t, state.RecentlyUsedTools, 5)
	assert.Zero(t, sm.locks.size(), "idle session locks are released")
}

func TestGetOrCreateStateDefaults(t *testing.T) {
	h := newHarness(t)
	cfg := &api.Config{Steps: []api.Step{{Name: "start", IsDefault: true}}}

	state, err := h.manager.States().GetOrCreateState(t.Context(), "s1", cfg)
	require.NoError(t, err)

	assert.Equal(t, "s1", state.SessionID)
	assert.Empty(t, state.ActiveStep, "default step is not pre-selected")
	assert.NotNil(t, state.RecentlyUsedTools)
	assert.Empty(t, state.RecentlyUsedTools)
	require.NotNil(t, state.SequenceIndex)
	assert.Equal(t, 0, *state.SequenceIndex)
	assert.Equal(t, api.TokenUsage{}, state.CumulativeTokenUsage)
	assert.Equal(t, time.Hour, state.TTL)
	assert.False(t, state.LastAccessed.IsZero())

	// Persisted.
	_, err = h.manager.GetState(t.Context(), "s1")
	assert.NoError(t, err)
}

func TestGetOrCreateStateReturnsExisting(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "s1", api.State{ActiveStep: "b", RecentlyUsedTools: []string{"x"}, SequenceIndex: api.Ptr(2)})

	state, err := h.manager.GetOrCreateState(t.Context(), "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", state.ActiveStep)
	assert.Equal(t, []string{"x"}, state.RecentlyUsedTools)
	assert.Equal(t, 2, *state.SequenceIndex)
}

func TestAddUsedToolHistory(t *testing.T) {
	h := newHarness(t)
	sm := h.manager.States()
	ctx := t.Context()

	_, err := sm.AddUsedTool(ctx, "missing", "t")
	assert.ErrorIs(t, err, api.ErrStateNotFound)

	_, err = sm.GetOrCreateState(ctx, "s1", nil)
	require.NoError(t, err)

	for i := range 12 {
		_, err := sm.AddUsedTool(ctx, "s1", fmt.Sprintf("t%d", i))
		require.NoError(t, err)
	}

	state := h.state(t, "s1")
	require.Len(t, state.RecentlyUsedTools, api.MaxRecentTools)
	assert.Equal(t, "t11", state.RecentlyUsedTools[0])
	assert.Equal(t, "t2", state.RecentlyUsedTools[9])

	// Re-adding moves to front without duplicating.
	state, err = sm.AddUsedTool(ctx, "s1", "t5")
	require.NoError(t, err)
	assert.Equal(t, []string{"t5", "t11", "t10", "t9", "t8", "t7", "t6", "t4", "t3", "t2"}, state.RecentlyUsedTools)
}

func TestPushRecent(t *testing.T) {
	tests := []struct {
		name    string
		history []string
		tool    string
		want    []string
	}{
		{"empty", nil, "a", []string{"a"}},
		{"new tool", []string{"b", "c"}, "a", []string{"a", "b", "c"}},
		{"already front", []string{"a", "b"}, "a", []string{"a", "b"}},
		{"move to front", []string{"b", "a", "c"}, "a", []string{"a", "b", "c"}},
		{
			"cap drops oldest",
			[]string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"},
			"new",
			[]string{"new", "1", "2", "3", "4", "5", "6", "7", "8", "9"},
		},
		{
			"full history re-add keeps all",
			[]string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"},
			"10",
			[]string{"10", "1", "2", "3", "4", "5", "6", "7", "8", "9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pushRecent(tt.history, tt.tool))
		})
	}
}

func TestAdvanceSequenceFromUndefined(t *testing.T) {
	h := newHarness(t)
	sm := h.manager.States()
	h.seed(t, "s1", api.State{})

	state, err := sm.AdvanceSequence(t.Context(), "s1")
	require.NoError(t, err)
	require.NotNil(t, state.SequenceIndex)
	assert.Equal(t, 0, *state.SequenceIndex)

	state, err = sm.AdvanceSequence(t.Context(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, *state.SequenceIndex)

	_, err = sm.AdvanceSequence(t.Context(), "missing")
	assert.ErrorIs(t, err, api.ErrStateNotFound)
}

func TestSetActiveStep(t *testing.T) {
	h := newHarness(t)
	sm := h.manager.States()
	h.seed(t, "s1", api.State{ActiveStep: "a", SequenceIndex: api.Ptr(3)})

	state, err := sm.SetActiveStep(t.Context(), "s1", "a")
	require.NoError(t, err)
	assert.Equal(t, 3, *state.SequenceIndex, "same step keeps the cursor")

	state, err = sm.SetActiveStep(t.Context(), "s1", "b")
	require.NoError(t, err)
	assert.Equal(t, "b", state.ActiveStep)
	assert.Equal(t, 0, *state.SequenceIndex, "changing step resets the cursor")

	state, err = sm.SetActiveStep(t.Context(), "s1", "")
	require.NoError(t, err)
	assert.Empty(t, state.ActiveStep)
}

func TestUpdateState(t *testing.T) {
	h := newHarness(t)
	sm := h.manager.States()
	h.seed(t, "s1", api.State{ActiveStep: "a", SequenceIndex: api.Ptr(1)})

	before := h.state(t, "s1").LastAccessed
	time.Sleep(2 * time.Millisecond)

	state, err := sm.UpdateState(t.Context(), "s1", api.StatePatch{
		ActiveStep:    api.Ptr("b"),
		SequenceIndex: api.Ptr(4),
	})
	require.NoError(t, err)
	assert.Equal(t, "b", state.ActiveStep)
	assert.Equal(t, 4, *state.SequenceIndex, "explicit cursor wins over reset")
	assert.True(t, state.LastAccessed.After(before))

	tools := []string{"a", "b", "a", "c", "d", "e", "f", "g", "h", "i", "j", "k"}
	state, err = sm.UpdateState(t.Context(), "s1", api.StatePatch{RecentlyUsedTools: tools})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}, state.RecentlyUsedTools)

	_, err = sm.UpdateState(t.Context(), "missing", api.StatePatch{})
	assert.ErrorIs(t, err, api.ErrStateNotFound)
	assert.Contains(t, h.rec.errors, "update:state_not_found")
}

func TestStorageFailure(t *testing.T) {
	h := newHarness(t)
	sm := h.manager.States()
	require.NoError(t, h.provider.Close())

	_, err := sm.GetOrCreateState(t.Context(), "s1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrStorageFailure)

	var engineErr *api.Error
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, "s1", engineErr.SessionID)

	err = sm.ResetState(t.Context(), "s1")
	assert.ErrorIs(t, err, api.ErrStorageFailure)
	assert.Contains(t, h.rec.errors, "get:storage_failure")
	assert.Contains(t, h.rec.errors, "reset:storage_failure")
}

func TestAddTokenUsage(t *testing.T) {
	h := newHarness(t)
	sm := h.manager.States()
	_, err := sm.GetOrCreateState(t.Context(), "s1", nil)
	require.NoError(t, err)

	_, err = sm.AddTokenUsage(t.Context(), "s1", api.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	require.NoError(t, err)
	state, err := sm.AddTokenUsage(t.Context(), "s1", api.TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
	require.NoError(t, err)

	assert.Equal(t, api.TokenUsage{PromptTokens: 11, CompletionTokens: 7, TotalTokens: 18}, state.CumulativeTokenUsage)
}

func TestResetState(t *testing.T) {
	h := newHarness(t)
	sm := h.manager.States()
	_, err := sm.GetOrCreateState(t.Context(), "s1", nil)
	require.NoError(t, err)

	require.NoError(t, sm.ResetState(t.Context(), "s1"))
	_, err = sm.GetState(t.Context(), "s1")
	assert.ErrorIs(t, err, api.ErrStateNotFound)

	assert.NoError(t, sm.ResetState(t.Context(), "s1"), "resetting an absent session is not an error")
}

func TestAIState(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "s1", api.State{
		ActiveStep:           "a",
		RecentlyUsedTools:    []string{"x"},
		SequenceIndex:        api.Ptr(1),
		CumulativeTokenUsage: api.TokenUsage{TotalTokens: 9},
	})

	ai, err := h.manager.AIState(t.Context(), "s1")
	require.NoError(t, err)
	assert.Equal(t, api.AIState{
		SessionID:            "s1",
		RecentlyUsedTools:    []string{"x"},
		ActiveStep:           "a",
		SequenceIndex:        api.Ptr(1),
		CumulativeTokenUsage: api.TokenUsage{TotalTokens: 9},
	}, ai)

	_, err = h.manager.AIState(t.Context(), "missing")
	assert.ErrorIs(t, err, api.ErrStateNotFound)
}
