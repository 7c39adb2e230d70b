package api

import (
	"slices"
	"time"
)

// MaxRecentTools caps the length of State.RecentlyUsedTools.
const MaxRecentTools = 10

// ConditionType identifies how a step condition is evaluated.
type ConditionType string

const (
	// ConditionToolUsed holds when Value appears anywhere in the session's
	// recently used tools.
	ConditionToolUsed ConditionType = "tool_used"

	// ConditionSequenceMatch holds when the tail of the recently used tools
	// equals the owning step's Sequence.
	ConditionSequenceMatch ConditionType = "sequence_match"
)

// Condition is a predicate over session tool-usage history that gates
// step activation.
type Condition struct {
	Type  ConditionType `json:"type" yaml:"type"`
	Value string        `json:"value,omitempty" yaml:"value,omitempty"`
}

// ToolFilter restricts the tools offered while a step is active.
// Allowed takes precedence over Denied when both are set.
type ToolFilter struct {
	Allowed []string `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	Denied  []string `json:"denied,omitempty" yaml:"denied,omitempty"`
}

// Step is a named configuration unit of a workflow.
type Step struct {
	Name           string      `json:"name" yaml:"name"`
	Description    string      `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions     []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	AvailableTools ToolFilter  `json:"available_tools,omitempty" yaml:"available_tools,omitempty"`
	IsDefault      bool        `json:"is_default,omitempty" yaml:"is_default,omitempty"`

	// Sequence lists tool names that must be invoked in exactly this order
	// while the step is active.
	Sequence []string `json:"sequence,omitempty" yaml:"sequence,omitempty"`
}

// HasSequence reports whether the step declares an ordered tool sequence.
func (s *Step) HasSequence() bool {
	return s != nil && len(s.Sequence) > 0
}

// Config is the orchestration config of one agent. It is immutable for
// the duration of a call and is never persisted by the engine.
type Config struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Step returns the step with the given name, or nil.
func (c *Config) Step(name string) *Step {
	if c == nil || name == "" {
		return nil
	}
	for i := range c.Steps {
		if c.Steps[i].Name == name {
			return &c.Steps[i]
		}
	}
	return nil
}

// DefaultStep returns the first step marked IsDefault, or nil.
func (c *Config) DefaultStep() *Step {
	if c == nil {
		return nil
	}
	for i := range c.Steps {
		if c.Steps[i].IsDefault {
			return &c.Steps[i]
		}
	}
	return nil
}

// TokenUsage accumulates LLM token counts for a session.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// State is the persisted orchestration state of one session.
type State struct {
	SessionID  string `json:"session_id"`
	ActiveStep string `json:"active_step,omitempty"`

	// RecentlyUsedTools is ordered most recent first, has no duplicates and
	// holds at most MaxRecentTools entries.
	RecentlyUsedTools []string `json:"recently_used_tools"`

	// SequenceIndex is the cursor into the active step's Sequence. Nil
	// means the cursor has not been initialized.
	SequenceIndex *int `json:"sequence_index,omitempty"`

	LastAccessed         time.Time     `json:"last_accessed"`
	TTL                  time.Duration `json:"ttl"`
	CumulativeTokenUsage TokenUsage    `json:"cumulative_token_usage"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.RecentlyUsedTools = slices.Clone(s.RecentlyUsedTools)
	if s.SequenceIndex != nil {
		idx := *s.SequenceIndex
		c.SequenceIndex = &idx
	}
	return &c
}

// AI returns the outward projection of the state.
func (s *State) AI() AIState {
	tools := slices.Clone(s.RecentlyUsedTools)
	if tools == nil {
		tools = []string{}
	}
	ai := AIState{
		SessionID:            s.SessionID,
		RecentlyUsedTools:    tools,
		ActiveStep:           s.ActiveStep,
		CumulativeTokenUsage: s.CumulativeTokenUsage,
	}
	if s.SequenceIndex != nil {
		idx := *s.SequenceIndex
		ai.SequenceIndex = &idx
	}
	return ai
}

// AIState is the only state shape that crosses the engine boundary, for
// example to tell an LLM where it is in its workflow.
type AIState struct {
	SessionID            string     `json:"session_id"`
	RecentlyUsedTools    []string   `json:"recently_used_tools"`
	ActiveStep           string     `json:"active_step,omitempty"`
	SequenceIndex        *int       `json:"sequence_index,omitempty"`
	CumulativeTokenUsage TokenUsage `json:"cumulative_token_usage"`
}

// StatePatch is a partial update merged into a State. Nil fields are left
// unchanged. A non-nil ActiveStep pointing at "" clears the active step.
type StatePatch struct {
	ActiveStep           *string     `json:"active_step,omitempty"`
	SequenceIndex        *int        `json:"sequence_index,omitempty"`
	RecentlyUsedTools    []string    `json:"recently_used_tools,omitempty"`
	CumulativeTokenUsage *TokenUsage `json:"cumulative_token_usage,omitempty"`
}

// Apply merges the patch into s.
func (p StatePatch) Apply(s *State) {
	if p.ActiveStep != nil {
		s.ActiveStep = *p.ActiveStep
	}
	if p.SequenceIndex != nil {
		idx := *p.SequenceIndex
		s.SequenceIndex = &idx
	}
	if p.RecentlyUsedTools != nil {
		s.RecentlyUsedTools = slices.Clone(p.RecentlyUsedTools)
	}
	if p.CumulativeTokenUsage != nil {
		s.CumulativeTokenUsage = *p.CumulativeTokenUsage
	}
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Message is one entry of the conversation history. The engine passes
// messages through to condition evaluation without inspecting them.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
