package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/stepwise/pkg/api"
	"github.com/rhuss/stepwise/pkg/debug"
	"github.com/rhuss/stepwise/pkg/storage"
	"github.com/rhuss/stepwise/pkg/transport"
)

// Server is an MCP server backed by an orchestration engine. It keeps
// one go-sdk server per tenant so that tool calls read the sessions of
// the tenant that opened the MCP session.
type Server struct {
	orch    transport.Orchestrator
	agents  transport.AgentRegistry
	version string

	mu      sync.Mutex
	servers map[string]*mcp.Server
}

// StateInput is the argument of the workflow_state tool.
type StateInput struct {
	SessionID string `json:"session_id" jsonschema:"the session to inspect"`
}

// AllowedToolsInput is the argument of the allowed_tools tool.
type AllowedToolsInput struct {
	SessionID string   `json:"session_id" jsonschema:"the session to inspect"`
	Agent     string   `json:"agent" jsonschema:"the configured agent whose workflow applies"`
	Tools     []string `json:"tools" jsonschema:"the candidate tool names to filter"`
}

// AllowedToolsOutput is the result of the allowed_tools tool.
type AllowedToolsOutput struct {
	SessionID  string   `json:"session_id"`
	ActiveStep string   `json:"active_step,omitempty"`
	Tools      []string `json:"tools"`
}

// New creates an MCP server over orch. agents resolves the agent argument
// of allowed_tools and must not be nil.
func New(orch transport.Orchestrator, agents transport.AgentRegistry, version string) *Server {
	return &Server{
		orch:    orch,
		agents:  agents,
		version: version,
		servers: make(map[string]*mcp.Server),
	}
}

// MCP returns the go-sdk server of the single-tenant deployment.
func (s *Server) MCP() *mcp.Server {
	return s.forTenant("")
}

// Handler returns the streamable HTTP handler for the server. The tenant
// is taken from the request that opens the MCP session.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.forTenant(storage.GetTenant(r.Context()))
	}, nil)
}

func (s *Server) forTenant(tenant string) *mcp.Server {
	s.mu.Lock()
	defer s.mu.Unlock()

	if srv, ok := s.servers[tenant]; ok {
		return srv
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: "stepwise", Version: s.version}, nil)
	h := &handlers{orch: s.orch, agents: s.agents, tenant: tenant}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "workflow_state",
		Description: "Returns the workflow position of a session: its active step, sequence cursor, recently used tools and token usage",
	}, h.workflowState)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "allowed_tools",
		Description: "Filters a list of tool names down to the ones the session's active workflow step permits",
	}, h.allowedTools)

	s.servers[tenant] = srv
	debug.Log(debug.MCP, "MCP server created", "tenant", tenant)
	return srv
}

// handlers implements the tools for one tenant.
type handlers struct {
	orch   transport.Orchestrator
	agents transport.AgentRegistry
	tenant string
}

func (h *handlers) workflowState(ctx context.Context, _ *mcp.CallToolRequest, in StateInput) (*mcp.CallToolResult, api.AIState, error) {
	if !api.ValidateSessionID(in.SessionID) {
		return nil, api.AIState{}, fmt.Errorf("malformed session_id %q", in.SessionID)
	}
	ctx = storage.SetTenant(ctx, h.tenant)

	debug.Log(debug.MCP, "workflow_state", "session_id", in.SessionID, "tenant", h.tenant)
	state, err := h.orch.AIState(ctx, in.SessionID)
	if err != nil {
		return nil, api.AIState{}, err
	}
	return textResult(state), state, nil
}

func (h *handlers) allowedTools(ctx context.Context, _ *mcp.CallToolRequest, in AllowedToolsInput) (*mcp.CallToolResult, AllowedToolsOutput, error) {
	if !api.ValidateSessionID(in.SessionID) {
		return nil, AllowedToolsOutput{}, fmt.Errorf("malformed session_id %q", in.SessionID)
	}
	cfg, ok := h.agents.Agent(in.Agent)
	if !ok {
		return nil, AllowedToolsOutput{}, fmt.Errorf("agent %q is not configured", in.Agent)
	}
	ctx = storage.SetTenant(ctx, h.tenant)

	debug.Log(debug.MCP, "allowed_tools", "session_id", in.SessionID, "agent", in.Agent, "tools", len(in.Tools))
	tools := h.orch.GetAllowedTools(ctx, cfg, nil, in.SessionID, in.Tools)
	if tools == nil {
		tools = []string{}
	}

	out := AllowedToolsOutput{SessionID: in.SessionID, Tools: tools}
	if state, err := h.orch.AIState(ctx, in.SessionID); err == nil {
		out.ActiveStep = state.ActiveStep
	}
	return textResult(out), out, nil
}

// textResult renders v as JSON text content for clients that ignore
// structured output.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
