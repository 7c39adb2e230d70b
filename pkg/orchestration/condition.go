package orchestration

import (
	"slices"

	"github.com/rhuss/stepwise/pkg/api"
)

// ToolContext is the input to condition evaluation.
type ToolContext struct {
	// RecentlyUsedTools is the session's tool history, most recent first.
	RecentlyUsedTools []string

	// Messages is the current conversation. No condition type reads it yet.
	Messages []api.Message
}

// CheckCondition evaluates cond for the step that owns it.
//
//   - tool_used holds when cond.Value appears anywhere in the history.
//   - sequence_match holds when the last len(step.Sequence) entries of the
//     history slice equal step.Sequence element by element.
//
// Malformed or unknown conditions evaluate to false and are logged.
func (m *Manager) CheckCondition(cond api.Condition, tc ToolContext, step *api.Step) bool {
	switch cond.Type {
	case api.ConditionToolUsed:
		if cond.Value == "" {
			m.logger.Warn("tool_used condition has no value", "step", stepName(step))
			return false
		}
		return slices.Contains(tc.RecentlyUsedTools, cond.Value)

	case api.ConditionSequenceMatch:
		if !step.HasSequence() {
			m.logger.Warn("sequence_match condition on step without sequence", "step", stepName(step))
			return false
		}
		return historyEndsWith(tc.RecentlyUsedTools, step.Sequence)

	default:
		m.logger.Warn("unsupported condition type",
			"step", stepName(step), "type", cond.Type, "kind", api.KindUnsupportedCondition)
		m.observer.StateError("check_condition", api.KindUnsupportedCondition)
		return false
	}
}

// historyEndsWith reports whether the tail of history equals seq.
func historyEndsWith(history, seq []string) bool {
	if len(history) < len(seq) {
		return false
	}
	return slices.Equal(history[len(history)-len(seq):], seq)
}

func stepName(step *api.Step) string {
	if step == nil {
		return ""
	}
	return step.Name
}
