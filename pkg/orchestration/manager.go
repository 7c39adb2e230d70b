package orchestration

import (
	"context"
	"log/slog"
	"slices"

	"github.com/rhuss/stepwise/pkg/api"
	"github.com/rhuss/stepwise/pkg/debug"
	"github.com/rhuss/stepwise/pkg/session"
)

// Manager is the entry point of the orchestration engine. It resolves the
// active step of a session, filters the tools offered to the model and
// processes tool invocations. The orchestration config is supplied on
// every call and never persisted.
type Manager struct {
	states    *StateManager
	sequencer *Sequencer
	logger    *slog.Logger
	observer  Observer
	runner    BackgroundTaskRunner
}

// New creates a Manager, with its StateManager and Sequencer, on top of
// store.
func New(store *session.Store[api.State], opts Options) *Manager {
	opts = opts.withDefaults()
	states := NewStateManager(store, opts)
	return &Manager{
		states:    states,
		sequencer: NewSequencer(states, opts),
		logger:    opts.Logger,
		observer:  opts.Observer,
		runner:    opts.Runner,
	}
}

// States returns the underlying state manager.
func (m *Manager) States() *StateManager {
	return m.states
}

// Sequencer returns the underlying step sequencer.
func (m *Manager) Sequencer() *Sequencer {
	return m.sequencer
}

// GetActiveStep resolves the step that is active for session id.
//
// Non-default steps with at least one condition are scanned in declaration
// order and the first one whose conditions all hold wins. A winner that
// differs from the recorded step is persisted with its sequence cursor
// reset. Without a winner the recorded step stays active. A recorded step
// that no longer exists in cfg falls back to the default step. It returns
// nil when cfg has no steps, the state cannot be loaded, or nothing
// applies and there is no default step.
func (m *Manager) GetActiveStep(ctx context.Context, cfg *api.Config, messages []api.Message, id string) *api.Step {
	if cfg == nil || len(cfg.Steps) == 0 {
		return nil
	}

	state, err := m.states.GetOrCreateState(ctx, id, cfg)
	if err != nil {
		m.logger.Warn("orchestration state unavailable, continuing without active step",
			"session_id", id, "error", err)
		return nil
	}

	tc := ToolContext{RecentlyUsedTools: state.RecentlyUsedTools, Messages: messages}

	for i := range cfg.Steps {
		step := &cfg.Steps[i]
		if step.IsDefault || len(step.Conditions) == 0 {
			continue
		}
		if !m.allConditions(step, tc) {
			continue
		}
		if step.Name != state.ActiveStep {
			m.transition(ctx, id, state.ActiveStep, step.Name)
		}
		return step
	}

	if state.ActiveStep != "" {
		if prev := cfg.Step(state.ActiveStep); prev != nil {
			return prev
		}
	}

	def := cfg.DefaultStep()
	if def == nil {
		m.logger.Warn("no step matched and no default step configured", "session_id", id)
		return nil
	}

	if state.ActiveStep != "" {
		m.logger.Warn("active step missing from config, falling back to default step",
			"session_id", id, "step", state.ActiveStep, "default", def.Name,
			"kind", api.KindConfigInconsistency)
		m.observer.StateError("get_active_step", api.KindConfigInconsistency)
	}
	m.transition(ctx, id, state.ActiveStep, def.Name)
	return def
}

// GetAllowedTools narrows all to the tools the active step permits. A step
// with a sequence offers only its next expected tool. Otherwise a
// non-empty allow list intersects and a non-empty deny list subtracts.
// Without an active step all is returned unchanged.
func (m *Manager) GetAllowedTools(ctx context.Context, cfg *api.Config, messages []api.Message, id string, all []string) []string {
	if cfg == nil || len(cfg.Steps) == 0 {
		return all
	}

	step := m.GetActiveStep(ctx, cfg, messages, id)
	if step == nil {
		return all
	}

	if step.HasSequence() {
		return m.sequencer.FilterToolsBySequence(ctx, step, id, all)
	}

	filter := step.AvailableTools
	switch {
	case len(filter.Allowed) > 0:
		return slices.DeleteFunc(slices.Clone(all), func(t string) bool {
			return !slices.Contains(filter.Allowed, t)
		})
	case len(filter.Denied) > 0:
		return slices.DeleteFunc(slices.Clone(all), func(t string) bool {
			return slices.Contains(filter.Denied, t)
		})
	default:
		return all
	}
}

// ProcessToolUsage records that tool was invoked in session id, enforces
// the active step's sequence and re-resolves the active step so that a
// completed sequence or a newly satisfied condition takes effect before
// the next turn. It returns the advisory sequence violation, if any. With
// no active step it does nothing.
func (m *Manager) ProcessToolUsage(ctx context.Context, cfg *api.Config, messages []api.Message, id, tool string) error {
	step := m.GetActiveStep(ctx, cfg, messages, id)
	if step == nil {
		debug.Log(debug.Orchestration, "no active step, tool usage ignored", "session_id", id, "tool", tool)
		return nil
	}

	m.observer.ToolUsed(tool)
	err := m.sequencer.ProcessTool(ctx, step, id, tool)

	m.GetActiveStep(ctx, cfg, messages, id)
	return err
}

// RecordTokenUsage adds usage to the session's cumulative counters through
// the configured BackgroundTaskRunner.
func (m *Manager) RecordTokenUsage(ctx context.Context, id string, usage api.TokenUsage) error {
	return m.runner.Run(ctx, "record_token_usage", func(ctx context.Context) error {
		_, err := m.states.AddTokenUsage(ctx, id, usage)
		return err
	})
}

// GetState returns the state of session id without creating it.
func (m *Manager) GetState(ctx context.Context, id string) (*api.State, error) {
	return m.states.GetState(ctx, id)
}

// GetOrCreateState returns the state of session id, creating it if needed.
func (m *Manager) GetOrCreateState(ctx context.Context, id string, cfg *api.Config) (*api.State, error) {
	return m.states.GetOrCreateState(ctx, id, cfg)
}

// UpdateState merges patch into the state of session id.
func (m *Manager) UpdateState(ctx context.Context, id string, patch api.StatePatch) (*api.State, error) {
	return m.states.UpdateState(ctx, id, patch)
}

// ResetState deletes the orchestration state of session id.
func (m *Manager) ResetState(ctx context.Context, id string) error {
	return m.states.ResetState(ctx, id)
}

// RemoveSession drops everything the engine holds for session id.
func (m *Manager) RemoveSession(ctx context.Context, id string) error {
	if err := m.states.ResetState(ctx, id); err != nil {
		return err
	}
	m.logger.Info("session removed", "session_id", id)
	return nil
}

// AIState returns the outward projection of the state of session id.
func (m *Manager) AIState(ctx context.Context, id string) (api.AIState, error) {
	return m.states.AIState(ctx, id)
}

func (m *Manager) allConditions(step *api.Step, tc ToolContext) bool {
	for _, cond := range step.Conditions {
		if !m.CheckCondition(cond, tc, step) {
			return false
		}
	}
	return true
}

// transition persists to as the active step with a fresh sequence cursor.
// A failed write is logged; the resolved step is still used for the turn.
func (m *Manager) transition(ctx context.Context, id, from, to string) {
	if _, err := m.states.UpdateState(ctx, id, api.StatePatch{
		ActiveStep:    &to,
		SequenceIndex: api.Ptr(0),
	}); err != nil {
		m.logger.Warn("failed to persist step transition", "session_id", id, "from", from, "to", to, "error", err)
		return
	}
	m.logger.Info("step transition", "session_id", id, "from", from, "to", to)
	m.observer.StepTransition(from, to)
}
