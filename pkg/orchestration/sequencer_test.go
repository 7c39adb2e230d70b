package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/stepwise/pkg/api"
	"github.com/rhuss/stepwise/pkg/session"
)

var checkout = &api.Step{
	Name:     "checkout",
	Sequence: []string{"validate_cart", "charge_card", "send_receipt"},
}

func TestSequencerWithoutSequence(t *testing.T) {
	h := newHarness(t)
	seq := h.manager.Sequencer()
	step := &api.Step{Name: "free"}
	_, err := h.manager.GetOrCreateState(t.Context(), "s1", nil)
	require.NoError(t, err)

	assert.False(t, seq.HasActiveSequence(t.Context(), step, "s1"))
	_, ok := seq.CurrentSequenceTool(t.Context(), step, "s1")
	assert.False(t, ok)
	assert.False(t, seq.AdvanceSequence(t.Context(), step, "s1"))

	all := []string{"a", "b"}
	assert.Equal(t, all, seq.FilterToolsBySequence(t.Context(), step, "s1", all))

	assert.NoError(t, seq.ProcessTool(t.Context(), step, "s1", "a"))
	assert.Equal(t, []string{"a"}, h.state(t, "s1").RecentlyUsedTools, "tool is recorded even without a sequence")
}

func TestSequencerLazyCursor(t *testing.T) {
	h := newHarness(t)
	seq := h.manager.Sequencer()
	h.seed(t, "s1", api.State{})

	assert.True(t, seq.HasActiveSequence(t.Context(), checkout, "s1"))
	state := h.state(t, "s1")
	require.NotNil(t, state.SequenceIndex)
	assert.Equal(t, 0, *state.SequenceIndex)

	// A missing state still reports an active sequence without being
	// written or counted as an error.
	assert.True(t, seq.HasActiveSequence(t.Context(), checkout, "missing"))
	tool, ok := seq.CurrentSequenceTool(t.Context(), checkout, "missing")
	assert.True(t, ok)
	assert.Equal(t, "validate_cart", tool)
	_, err := h.store.Get(t.Context(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Empty(t, h.rec.errors)
}

func TestSequencerCurrentTool(t *testing.T) {
	h := newHarness(t)
	seq := h.manager.Sequencer()
	h.seed(t, "s1", api.State{SequenceIndex: api.Ptr(1)})

	tool, ok := seq.CurrentSequenceTool(t.Context(), checkout, "s1")
	assert.True(t, ok)
	assert.Equal(t, "charge_card", tool)

	h.seed(t, "done", api.State{SequenceIndex: api.Ptr(3)})
	_, ok = seq.CurrentSequenceTool(t.Context(), checkout, "done")
	assert.False(t, ok)
	assert.False(t, seq.HasActiveSequence(t.Context(), checkout, "done"))
}

func TestSequencerAdvance(t *testing.T) {
	h := newHarness(t)
	seq := h.manager.Sequencer()

	assert.False(t, seq.AdvanceSequence(t.Context(), checkout, "missing"))

	// A missing cursor counts as 0.
	h.seed(t, "s1", api.State{})
	assert.True(t, seq.AdvanceSequence(t.Context(), checkout, "s1"))
	assert.Equal(t, 1, *h.state(t, "s1").SequenceIndex)
}

func TestSequencerProcessTool(t *testing.T) {
	h := newHarness(t)
	seq := h.manager.Sequencer()
	ctx := t.Context()
	_, err := h.manager.GetOrCreateState(ctx, "s1", nil)
	require.NoError(t, err)

	require.NoError(t, seq.ProcessTool(ctx, checkout, "s1", "validate_cart"))
	assert.Equal(t, 1, *h.state(t, "s1").SequenceIndex)

	// Out of order: recorded, cursor unchanged, advisory error.
	err = seq.ProcessTool(ctx, checkout, "s1", "send_receipt")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrSequenceViolation)
	state := h.state(t, "s1")
	assert.Equal(t, 1, *state.SequenceIndex)
	assert.Equal(t, []string{"send_receipt", "validate_cart"}, state.RecentlyUsedTools)
	assert.Equal(t, []string{"checkout"}, h.rec.violations)

	require.NoError(t, seq.ProcessTool(ctx, checkout, "s1", "charge_card"))
	require.NoError(t, seq.ProcessTool(ctx, checkout, "s1", "send_receipt"))
	assert.Equal(t, 3, *h.state(t, "s1").SequenceIndex)
	assert.False(t, seq.HasActiveSequence(ctx, checkout, "s1"))

	// Completed sequences accept anything.
	assert.NoError(t, seq.ProcessTool(ctx, checkout, "s1", "validate_cart"))
	assert.Equal(t, 3, *h.state(t, "s1").SequenceIndex)
}

func TestFilterToolsBySequence(t *testing.T) {
	h := newHarness(t)
	seq := h.manager.Sequencer()
	ctx := t.Context()
	all := []string{"validate_cart", "charge_card", "search"}

	h.seed(t, "s1", api.State{SequenceIndex: api.Ptr(0)})
	assert.Equal(t, []string{"validate_cart"}, seq.FilterToolsBySequence(ctx, checkout, "s1", all))

	// Expected tool not offered: fail closed.
	h.seed(t, "s2", api.State{SequenceIndex: api.Ptr(2)})
	got := seq.FilterToolsBySequence(ctx, checkout, "s2", all)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	// Completed: unrestricted.
	h.seed(t, "s3", api.State{SequenceIndex: api.Ptr(3)})
	assert.Equal(t, all, seq.FilterToolsBySequence(ctx, checkout, "s3", all))
}
