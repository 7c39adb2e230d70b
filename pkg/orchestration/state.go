package orchestration

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/rhuss/stepwise/pkg/api"
	"github.com/rhuss/stepwise/pkg/debug"
	"github.com/rhuss/stepwise/pkg/session"
)

// Options carries the optional collaborators shared by the orchestration
// components. Zero values select defaults.
type Options struct {
	// Logger receives warnings and errors. Default: slog.Default().
	Logger *slog.Logger

	// Observer receives orchestration events. Default: NopObserver.
	Observer Observer

	// Runner executes token usage bookkeeping. Default: InlineRunner.
	Runner BackgroundTaskRunner
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Runner == nil {
		o.Runner = InlineRunner{}
	}
	return o
}

// StateManager manages the persisted orchestration state of sessions.
// Every mutation is a named read-modify-write; callers never overwrite a
// record wholesale. Writes to one session are serialized, so a background
// token usage write cannot clobber a tool recorded in the meantime.
type StateManager struct {
	store    *session.Store[api.State]
	logger   *slog.Logger
	observer Observer
	locks    sessionLocks
}

// NewStateManager creates a StateManager on top of store.
func NewStateManager(store *session.Store[api.State], opts Options) *StateManager {
	opts = opts.withDefaults()
	return &StateManager{
		store:    store,
		logger:   opts.Logger,
		observer: opts.Observer,
	}
}

// GetState returns the state of session id without creating it.
func (m *StateManager) GetState(ctx context.Context, id string) (*api.State, error) {
	state, err := m.get(ctx, id)
	if errors.Is(err, api.ErrStateNotFound) {
		m.observer.StateError("get", api.KindStateNotFound)
	}
	return state, err
}

// get reads the state of session id. A missing state is returned as
// api.ErrStateNotFound without being counted.
func (m *StateManager) get(ctx context.Context, id string) (*api.State, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			debug.Log(debug.Session, "state not found", "session_id", id)
			return nil, api.NewError(api.KindStateNotFound, id, "no orchestration state", nil)
		}
		return nil, m.fail(ctx, "get", api.KindStorageFailure, id, "reading state", err)
	}
	return m.toState(rec), nil
}

// GetOrCreateState returns the state of session id, creating and
// persisting a fresh one if none exists. A fresh state has an empty tool
// history, a zero sequence cursor and no active step even when cfg
// declares a default step; selecting a step is the Manager's job.
func (m *StateManager) GetOrCreateState(ctx context.Context, id string, cfg *api.Config) (*api.State, error) {
	state, err := m.get(ctx, id)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, api.ErrStateNotFound) {
		return nil, err
	}

	unlock := m.locks.lock(m.store.Key(ctx, id))
	defer unlock()

	// Another caller may have created the state while we waited.
	state, err = m.get(ctx, id)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, api.ErrStateNotFound) {
		return nil, err
	}

	fresh := api.State{
		SessionID:         id,
		RecentlyUsedTools: []string{},
		SequenceIndex:     api.Ptr(0),
	}
	rec, err := m.store.Create(ctx, id, fresh)
	if err != nil {
		return nil, m.fail(ctx, "create", api.KindStorageFailure, id, "creating state", err)
	}

	steps := 0
	if cfg != nil {
		steps = len(cfg.Steps)
	}
	debug.Log(debug.Session, "state created", "session_id", id, "steps", steps)
	return m.toState(rec), nil
}

// UpdateState merges patch into the state of session id, stamps
// LastAccessed and persists the result. Changing the active step without
// an explicit cursor in the patch resets the cursor to 0.
func (m *StateManager) UpdateState(ctx context.Context, id string, patch api.StatePatch) (*api.State, error) {
	return m.update(ctx, "update", id, func(s *api.State) {
		prev := s.ActiveStep
		patch.Apply(s)
		if patch.ActiveStep != nil && s.ActiveStep != prev && patch.SequenceIndex == nil {
			s.SequenceIndex = api.Ptr(0)
		}
		if patch.RecentlyUsedTools != nil {
			s.RecentlyUsedTools = normalizeHistory(s.RecentlyUsedTools)
		}
	})
}

// AddUsedTool moves tool to the front of the session's tool history,
// dropping any earlier occurrence and keeping at most api.MaxRecentTools
// entries.
func (m *StateManager) AddUsedTool(ctx context.Context, id, tool string) (*api.State, error) {
	return m.update(ctx, "add_used_tool", id, func(s *api.State) {
		s.RecentlyUsedTools = pushRecent(s.RecentlyUsedTools, tool)
	})
}

// AdvanceSequence increments the sequence cursor. An unset cursor counts
// as -1, so the first advance stores 0.
func (m *StateManager) AdvanceSequence(ctx context.Context, id string) (*api.State, error) {
	return m.update(ctx, "advance_sequence", id, func(s *api.State) {
		next := 0
		if s.SequenceIndex != nil {
			next = *s.SequenceIndex + 1
		}
		s.SequenceIndex = &next
	})
}

// SetActiveStep records name as the active step. An empty name clears it.
func (m *StateManager) SetActiveStep(ctx context.Context, id, name string) (*api.State, error) {
	return m.UpdateState(ctx, id, api.StatePatch{ActiveStep: &name})
}

// AddTokenUsage adds usage to the session's cumulative token counters.
func (m *StateManager) AddTokenUsage(ctx context.Context, id string, usage api.TokenUsage) (*api.State, error) {
	return m.update(ctx, "add_token_usage", id, func(s *api.State) {
		s.CumulativeTokenUsage = s.CumulativeTokenUsage.Add(usage)
	})
}

// ResetState deletes the state of session id. Deleting an absent session
// is not an error.
func (m *StateManager) ResetState(ctx context.Context, id string) error {
	unlock := m.locks.lock(m.store.Key(ctx, id))
	defer unlock()

	if _, err := m.store.Delete(ctx, id); err != nil {
		return m.fail(ctx, "reset", api.KindStorageFailure, id, "deleting state", err)
	}
	return nil
}

// AIState returns the outward projection of the state of session id.
func (m *StateManager) AIState(ctx context.Context, id string) (api.AIState, error) {
	state, err := m.GetState(ctx, id)
	if err != nil {
		return api.AIState{}, err
	}
	return state.AI(), nil
}

func (m *StateManager) update(ctx context.Context, op, id string, fn func(*api.State)) (*api.State, error) {
	unlock := m.locks.lock(m.store.Key(ctx, id))
	defer unlock()

	rec, err := m.store.Update(ctx, id, func(s *api.State) error {
		fn(s)
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, m.fail(ctx, op, api.KindStateNotFound, id, "no orchestration state", nil)
		}
		return nil, m.fail(ctx, op, api.KindStorageFailure, id, "writing state", err)
	}

	state := m.toState(rec)
	debug.Log(debug.Session, "state updated", "op", op, "session_id", id,
		"active_step", state.ActiveStep, "tools", len(state.RecentlyUsedTools))
	return state, nil
}

func (m *StateManager) toState(rec *session.Record[api.State]) *api.State {
	state := rec.Data
	state.SessionID = rec.ID
	state.LastAccessed = rec.LastAccessed
	state.TTL = m.store.TTL()
	if state.RecentlyUsedTools == nil {
		state.RecentlyUsedTools = []string{}
	}
	return &state
}

// fail logs and counts a failed state operation and returns it as an
// engine error.
func (m *StateManager) fail(ctx context.Context, op string, kind api.ErrorKind, id, msg string, cause error) *api.Error {
	level := slog.LevelWarn
	if kind == api.KindStorageFailure {
		level = slog.LevelError
	}
	attrs := []any{"op", op, "kind", kind, "session_id", id, "reason", msg}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	m.logger.Log(ctx, level, "orchestration state operation failed", attrs...)
	m.observer.StateError(op, kind)
	return api.NewError(kind, id, msg, cause)
}

// pushRecent returns history with tool moved to the front, deduplicated
// and capped at api.MaxRecentTools.
func pushRecent(history []string, tool string) []string {
	out := make([]string, 0, min(len(history)+1, api.MaxRecentTools))
	out = append(out, tool)
	for _, t := range history {
		if len(out) == api.MaxRecentTools {
			break
		}
		if t != tool {
			out = append(out, t)
		}
	}
	return out
}

// normalizeHistory drops later duplicates and caps the length.
func normalizeHistory(history []string) []string {
	out := make([]string, 0, min(len(history), api.MaxRecentTools))
	for _, t := range history {
		if len(out) == api.MaxRecentTools {
			break
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
