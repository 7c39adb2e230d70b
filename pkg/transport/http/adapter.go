package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/rhuss/stepwise/pkg/api"
	"github.com/rhuss/stepwise/pkg/debug"
	"github.com/rhuss/stepwise/pkg/observability"
	"github.com/rhuss/stepwise/pkg/transport"
)

// readinessTimeout bounds the storage health check behind /readyz.
const readinessTimeout = 2 * time.Second

// Adapter serves the orchestration API over HTTP.
// It routes requests to the Orchestrator and serializes the results.
type Adapter struct {
	orch   transport.Orchestrator
	agents transport.AgentRegistry // may be nil
	health transport.HealthChecker // may be nil
	mux    *http.ServeMux
	config Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{MaxBodySize: 1 << 20}
}

// NewAdapter creates an HTTP adapter. agents resolves the "agent" field of
// turn requests and health backs /readyz; both may be nil.
func NewAdapter(orch transport.Orchestrator, agents transport.AgentRegistry, health transport.HealthChecker, cfg Config) *Adapter {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{
		orch:   orch,
		agents: agents,
		health: health,
		mux:    http.NewServeMux(),
		config: cfg,
	}

	a.mux.HandleFunc("POST /v1/sessions", a.handleCreateSession)
	a.mux.HandleFunc("GET /v1/sessions/{id}/state", a.handleGetState)
	a.mux.HandleFunc("PATCH /v1/sessions/{id}/state", a.handleUpdateState)
	a.mux.HandleFunc("DELETE /v1/sessions/{id}/state", a.handleResetState)
	a.mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleRemoveSession)
	a.mux.HandleFunc("POST /v1/sessions/{id}/active_step", a.handleActiveStep)
	a.mux.HandleFunc("POST /v1/sessions/{id}/allowed_tools", a.handleAllowedTools)
	a.mux.HandleFunc("POST /v1/sessions/{id}/tool_usage", a.handleToolUsage)
	a.mux.HandleFunc("POST /v1/sessions/{id}/token_usage", a.handleTokenUsage)
	a.mux.HandleFunc("GET /v1/agents", a.handleListAgents)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)

	return a
}

// Handle mounts an additional handler, such as /metrics or the MCP
// endpoint, on the adapter's mux.
func (a *Adapter) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the http.Handler for this adapter. Request metrics wrap
// the mux directly so the matched route pattern is available as a label.
func (a *Adapter) Handler() http.Handler {
	return observability.MetricsMiddleware(a.mux)
}

// handleCreateSession handles POST /v1/sessions.
func (a *Adapter) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req transport.CreateSessionRequest
	if !a.decode(w, r, &req, true) {
		return
	}

	id := req.SessionID
	if id == "" {
		id = api.NewSessionID()
	} else if !api.ValidateSessionID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("session_id", "malformed session ID"))
		return
	}

	var cfg *api.Config
	if req.Config != nil || req.Agent != "" {
		turn := transport.TurnRequest{Agent: req.Agent, Config: req.Config}
		resolved, apiErr := turn.ResolveConfig(a.agents)
		if apiErr != nil {
			transport.WriteAPIError(w, apiErr)
			return
		}
		cfg = resolved
	}

	state, err := a.orch.GetOrCreateState(r.Context(), id, cfg)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusCreated, state.AI())
}

// handleGetState handles GET /v1/sessions/{id}/state.
func (a *Adapter) handleGetState(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	state, err := a.orch.AIState(r.Context(), id)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, state)
}

// handleUpdateState handles PATCH /v1/sessions/{id}/state.
func (a *Adapter) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var patch api.StatePatch
	if !a.decode(w, r, &patch, false) {
		return
	}
	if patch.SequenceIndex != nil && *patch.SequenceIndex < 0 {
		transport.WriteAPIError(w, api.NewInvalidRequestError("sequence_index", "must be >= 0"))
		return
	}

	state, err := a.orch.UpdateState(r.Context(), id, patch)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, state.AI())
}

// handleResetState handles DELETE /v1/sessions/{id}/state.
func (a *Adapter) handleResetState(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := a.orch.ResetState(r.Context(), id); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemoveSession handles DELETE /v1/sessions/{id}.
func (a *Adapter) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := a.orch.RemoveSession(r.Context(), id); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleActiveStep handles POST /v1/sessions/{id}/active_step.
func (a *Adapter) handleActiveStep(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req transport.TurnRequest
	if !a.decode(w, r, &req, false) {
		return
	}
	cfg, apiErr := req.ResolveConfig(a.agents)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	step := a.orch.GetActiveStep(r.Context(), cfg, req.Messages, id)
	transport.WriteJSON(w, http.StatusOK, transport.ActiveStepResponse{SessionID: id, Step: step})
}

// handleAllowedTools handles POST /v1/sessions/{id}/allowed_tools.
func (a *Adapter) handleAllowedTools(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req transport.AllowedToolsRequest
	if !a.decode(w, r, &req, false) {
		return
	}
	cfg, apiErr := req.ResolveConfig(a.agents)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	tools := a.orch.GetAllowedTools(r.Context(), cfg, req.Messages, id, req.Tools)
	if tools == nil {
		tools = []string{}
	}

	resp := transport.AllowedToolsResponse{SessionID: id, Tools: tools}
	if state, err := a.orch.AIState(r.Context(), id); err == nil {
		resp.ActiveStep = state.ActiveStep
	}
	transport.WriteJSON(w, http.StatusOK, resp)
}

// handleToolUsage handles POST /v1/sessions/{id}/tool_usage. A sequence
// violation is reported in the body with status 200 because the usage
// has been recorded.
func (a *Adapter) handleToolUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req transport.ToolUsageRequest
	if !a.decode(w, r, &req, false) {
		return
	}
	if req.Tool == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("tool", "tool is required"))
		return
	}
	cfg, apiErr := req.ResolveConfig(a.agents)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	var resp transport.ToolUsageResponse
	if err := a.orch.ProcessToolUsage(r.Context(), cfg, req.Messages, id, req.Tool); err != nil {
		if !errors.Is(err, api.ErrSequenceViolation) {
			transport.WriteError(w, err)
			return
		}
		resp.SequenceViolation = api.FromError(err)
	}

	state, err := a.orch.AIState(r.Context(), id)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	resp.State = state
	transport.WriteJSON(w, http.StatusOK, resp)
}

// handleTokenUsage handles POST /v1/sessions/{id}/token_usage. The update
// may complete after the response is sent.
func (a *Adapter) handleTokenUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var usage api.TokenUsage
	if !a.decode(w, r, &usage, false) {
		return
	}
	if usage.PromptTokens < 0 || usage.CompletionTokens < 0 || usage.TotalTokens < 0 {
		transport.WriteAPIError(w, api.NewInvalidRequestError("usage", "token counts must be >= 0"))
		return
	}

	if err := a.orch.RecordTokenUsage(r.Context(), id, usage); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleListAgents handles GET /v1/agents.
func (a *Adapter) handleListAgents(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if a.agents != nil {
		names = append(names, a.agents.AgentNames()...)
	}
	transport.WriteJSON(w, http.StatusOK, transport.AgentList{Object: "list", Data: names})
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := a.health.HealthCheck(ctx); err != nil {
			debug.Log(debug.Transport, "readiness check failed", "error", err)
			transport.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// sessionID extracts and validates the {id} path value.
func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !api.ValidateSessionID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed session ID"))
		return "", false
	}
	return id, true
}

// decode reads a JSON request body into v. With allowEmpty an empty body
// leaves v untouched. It writes the error response itself and reports
// whether the handler should continue.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return false
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}
