package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/rhuss/stepwise/pkg/api"
	"github.com/rhuss/stepwise/pkg/debug"
)

// Sequencer enforces the ordered tool sequence of a step. For steps
// without a sequence every operation is a pass-through.
type Sequencer struct {
	states   *StateManager
	logger   *slog.Logger
	observer Observer
}

// NewSequencer creates a Sequencer backed by states.
func NewSequencer(states *StateManager, opts Options) *Sequencer {
	opts = opts.withDefaults()
	return &Sequencer{
		states:   states,
		logger:   opts.Logger,
		observer: opts.Observer,
	}
}

// HasActiveSequence reports whether step has a sequence that the session
// has not completed yet. A missing cursor is initialized to 0 and counts
// as active. A missing state also counts as active but is left for
// GetOrCreateState to create.
func (q *Sequencer) HasActiveSequence(ctx context.Context, step *api.Step, id string) bool {
	if !step.HasSequence() {
		return false
	}

	state, err := q.states.get(ctx, id)
	if err != nil {
		return true
	}
	if state.SequenceIndex == nil {
		if _, err := q.states.UpdateState(ctx, id, api.StatePatch{SequenceIndex: api.Ptr(0)}); err == nil {
			debug.Log(debug.Sequence, "sequence cursor initialized", "session_id", id, "step", step.Name)
		}
		return true
	}

	return *state.SequenceIndex < len(step.Sequence)
}

// CurrentSequenceTool returns the tool the session must call next, or
// false when the step has no sequence or the sequence is complete.
func (q *Sequencer) CurrentSequenceTool(ctx context.Context, step *api.Step, id string) (string, bool) {
	if !q.HasActiveSequence(ctx, step, id) {
		return "", false
	}

	state, err := q.states.get(ctx, id)
	if err != nil {
		return step.Sequence[0], true
	}
	if state.SequenceIndex == nil {
		q.logger.Warn("sequence cursor missing after active check, using first tool",
			"session_id", id, "step", step.Name)
		return step.Sequence[0], true
	}

	idx := *state.SequenceIndex
	if idx < 0 || idx >= len(step.Sequence) {
		return "", false
	}
	return step.Sequence[idx], true
}

// AdvanceSequence moves the session's cursor one tool forward. A missing
// cursor counts as 0. It reports false when the step has no sequence or
// the state cannot be read or written.
func (q *Sequencer) AdvanceSequence(ctx context.Context, step *api.Step, id string) bool {
	if !step.HasSequence() {
		return false
	}

	state, err := q.states.GetState(ctx, id)
	if err != nil {
		return false
	}

	current := 0
	if state.SequenceIndex != nil {
		current = *state.SequenceIndex
	}
	if _, err := q.states.UpdateState(ctx, id, api.StatePatch{SequenceIndex: api.Ptr(current + 1)}); err != nil {
		return false
	}

	debug.Log(debug.Sequence, "sequence advanced", "session_id", id, "step", step.Name, "index", current+1)
	return true
}

// ProcessTool records tool in the session's history and, when step has an
// active sequence, checks it against the expected tool. The expected tool
// advances the cursor. Any other tool leaves the cursor in place and
// returns an error of kind api.KindSequenceViolation. The violation is
// advisory: the tool has already run and has been recorded.
func (q *Sequencer) ProcessTool(ctx context.Context, step *api.Step, id, tool string) error {
	_, _ = q.states.AddUsedTool(ctx, id, tool)

	if !step.HasSequence() || !q.HasActiveSequence(ctx, step, id) {
		return nil
	}

	expected, ok := q.CurrentSequenceTool(ctx, step, id)
	if !ok {
		return nil
	}

	if tool == expected {
		q.AdvanceSequence(ctx, step, id)
		return nil
	}

	q.logger.Warn("tool invoked out of sequence",
		"session_id", id, "step", step.Name, "tool", tool, "expected", expected)
	q.observer.SequenceViolation(step.Name)
	return api.NewError(api.KindSequenceViolation, id,
		fmt.Sprintf("step %q expected tool %q, got %q", step.Name, expected, tool), nil)
}

// FilterToolsBySequence narrows all to the tool the sequence expects
// next. Without an active sequence all is returned unchanged. If the
// expected tool is not among all, no tool is allowed.
func (q *Sequencer) FilterToolsBySequence(ctx context.Context, step *api.Step, id string, all []string) []string {
	if !step.HasSequence() || !q.HasActiveSequence(ctx, step, id) {
		return all
	}

	current, ok := q.CurrentSequenceTool(ctx, step, id)
	if !ok {
		return all
	}

	if slices.Contains(all, current) {
		return []string{current}
	}

	q.logger.Warn("expected sequence tool is not available, allowing no tools",
		"session_id", id, "step", step.Name, "expected", current)
	return []string{}
}
