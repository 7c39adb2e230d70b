package transport

import (
	"context"

	"github.com/rhuss/stepwise/pkg/api"
)

// Orchestrator is the engine operation set exposed by the transports.
type Orchestrator interface {
	GetActiveStep(ctx context.Context, cfg *api.Config, messages []api.Message, id string) *api.Step
	GetAllowedTools(ctx context.Context, cfg *api.Config, messages []api.Message, id string, all []string) []string
	ProcessToolUsage(ctx context.Context, cfg *api.Config, messages []api.Message, id, tool string) error
	RecordTokenUsage(ctx context.Context, id string, usage api.TokenUsage) error

	GetOrCreateState(ctx context.Context, id string, cfg *api.Config) (*api.State, error)
	UpdateState(ctx context.Context, id string, patch api.StatePatch) (*api.State, error)
	ResetState(ctx context.Context, id string) error
	RemoveSession(ctx context.Context, id string) error
	AIState(ctx context.Context, id string) (api.AIState, error)
}

// AgentRegistry resolves orchestration configs registered by name.
type AgentRegistry interface {
	Agent(name string) (*api.Config, bool)
	AgentNames() []string
}

// HealthChecker verifies that a backing dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TurnRequest carries the per-call inputs of the engine: the orchestration
// config, given inline or as an agent name, and the conversation so far.
type TurnRequest struct {
	Agent    string        `json:"agent,omitempty"`
	Config   *api.Config   `json:"config,omitempty"`
	Messages []api.Message `json:"messages,omitempty"`
}

// ResolveConfig returns the config of the request. An inline config takes
// precedence over an agent name. Inline configs are validated.
func (r *TurnRequest) ResolveConfig(agents AgentRegistry) (*api.Config, *api.APIError) {
	if r.Config != nil {
		if err := api.ValidateConfig(r.Config); err != nil {
			return nil, api.NewInvalidRequestError("config", err.Error())
		}
		return r.Config, nil
	}
	if r.Agent == "" {
		return nil, api.NewInvalidRequestError("config", "either config or agent is required")
	}
	if agents != nil {
		if cfg, ok := agents.Agent(r.Agent); ok {
			return cfg, nil
		}
	}
	return nil, api.NewNotFoundError("agent " + r.Agent + " is not configured")
}

// CreateSessionRequest is the body of POST /v1/sessions. An empty
// SessionID asks the server to generate one.
type CreateSessionRequest struct {
	SessionID string      `json:"session_id,omitempty"`
	Agent     string      `json:"agent,omitempty"`
	Config    *api.Config `json:"config,omitempty"`
}

// AllowedToolsRequest is the body of POST /v1/sessions/{id}/allowed_tools.
type AllowedToolsRequest struct {
	TurnRequest
	Tools []string `json:"tools"`
}

// ToolUsageRequest is the body of POST /v1/sessions/{id}/tool_usage.
type ToolUsageRequest struct {
	TurnRequest
	Tool string `json:"tool"`
}

// ActiveStepResponse reports the resolved step. Step is null when no step
// applies.
type ActiveStepResponse struct {
	SessionID string    `json:"session_id"`
	Step      *api.Step `json:"step"`
}

// AllowedToolsResponse lists the tools the model may call this turn.
type AllowedToolsResponse struct {
	SessionID  string   `json:"session_id"`
	ActiveStep string   `json:"active_step,omitempty"`
	Tools      []string `json:"tools"`
}

// ToolUsageResponse reports the state after a tool invocation. A sequence
// violation is advisory: the invocation has been recorded regardless.
type ToolUsageResponse struct {
	State             api.AIState   `json:"state"`
	SequenceViolation *api.APIError `json:"sequence_violation,omitempty"`
}

// AgentList is the body of GET /v1/agents.
type AgentList struct {
	Object string   `json:"object"`
	Data   []string `json:"data"`
}
