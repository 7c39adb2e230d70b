// Package integration provides end-to-end tests for the stepwise API.
//
// Tests run against the production handler stack (recovery, request ID,
// access logging, authentication, rate limiting, metrics, the JSON API
// and the MCP endpoint) served in-process with net/http/httptest.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/stepwise/pkg/api"
	"github.com/rhuss/stepwise/pkg/auth"
	authfactory "github.com/rhuss/stepwise/pkg/auth/factory"
	"github.com/rhuss/stepwise/pkg/config"
	"github.com/rhuss/stepwise/pkg/mcpserver"
	"github.com/rhuss/stepwise/pkg/observability"
	"github.com/rhuss/stepwise/pkg/orchestration"
	"github.com/rhuss/stepwise/pkg/session"
	"github.com/rhuss/stepwise/pkg/storage"
	"github.com/rhuss/stepwise/pkg/storage/memory"
	transporthttp "github.com/rhuss/stepwise/pkg/transport/http"
)

// API keys configured in the test environment.
const (
	keyAcme    = "key-acme"
	keyGlobex  = "key-globex"
	keyLimited = "key-limited"

	limitedRPM = 3
)

// testEnv holds the shared server for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the stepwise server and its storage.
type TestEnvironment struct {
	Server   *httptest.Server
	Provider storage.Provider
}

// TestMain starts the stepwise server before running tests.
func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

// supportAgent is a customer support workflow: triage by default, a
// refund step once an order was looked up and a strictly ordered
// checkout step.
var supportAgent = api.Config{
	Description: "customer support",
	Steps: []api.Step{
		{
			Name:           "triage",
			IsDefault:      true,
			AvailableTools: api.ToolFilter{Allowed: []string{"lookup_order", "search_faq", "start_checkout"}},
		},
		{
			Name:       "checkout",
			Conditions: []api.Condition{{Type: api.ConditionToolUsed, Value: "start_checkout"}},
			Sequence:   []string{"collect_address", "confirm_total", "charge_card"},
		},
		{
			Name:           "refund",
			Conditions:     []api.Condition{{Type: api.ConditionToolUsed, Value: "lookup_order"}},
			AvailableTools: api.ToolFilter{Denied: []string{"search_faq"}},
		},
	},
}

// setupTestEnvironment wires the service the same way cmd/stepwise does,
// with in-memory storage and API key authentication.
func setupTestEnvironment() *TestEnvironment {
	cfg := config.Defaults()
	cfg.Agents = map[string]api.Config{"support": supportAgent}
	cfg.Auth = config.AuthConfig{
		Type: "apikey",
		APIKeys: []config.APIKeyConfig{
			{Key: keyAcme, Subject: "alice", TenantID: "acme", ServiceTier: "gold"},
			{Key: keyGlobex, Subject: "bob", TenantID: "globex"},
			{Key: keyLimited, Subject: "carol", TenantID: "acme", ServiceTier: "trial"},
		},
		RateLimit: config.RateLimitConfig{Tiers: map[string]int{"trial": limitedRPM}},
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid test config: %v", err))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := memory.New(cfg.Storage.MaxSize)
	opts := orchestration.Options{Logger: logger, Observer: observability.Observer{}}

	store := session.New[api.State](provider, session.Options{
		KeyPrefix: cfg.Session.KeyPrefix,
		TTL:       cfg.Session.TTL,
		Logger:    logger,
	})
	manager := orchestration.New(store, opts)

	chain, limiter, err := authfactory.Build(cfg.Auth)
	if err != nil {
		panic(fmt.Sprintf("building auth: %v", err))
	}

	adapter := transporthttp.NewAdapter(manager, &cfg, provider, transporthttp.DefaultConfig())
	adapter.Handle("GET /metrics", promhttp.Handler())
	adapter.Handle("/mcp", mcpserver.New(manager, &cfg, "test").Handler())

	srv := transporthttp.NewServer(adapter.Handler(),
		transporthttp.WithLogger(logger),
		transporthttp.WithMiddleware(auth.Middleware(chain, limiter, slices.Clone(auth.DefaultBypassEndpoints))),
	)

	return &TestEnvironment{
		Server:   httptest.NewServer(srv.Handler()),
		Provider: provider,
	}
}

// Teardown stops the server and closes storage.
func (env *TestEnvironment) Teardown() {
	if env.Server != nil {
		env.Server.Close()
	}
	if env.Provider != nil {
		env.Provider.Close()
	}
}

// BaseURL returns the stepwise server base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.Server.URL
}

// --- HTTP helpers ---

// doJSON sends a request authenticated with key. A nil body sends no
// payload and an empty key sends no Authorization header.
func doJSON(t *testing.T, method, path, key string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, testEnv.BaseURL()+path, r)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(body)
}

// decodeJSON reads the response body and decodes it into the target.
func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding JSON: %v", err)
	}
}

// expectStatus fails the test with the response body when the status
// code differs from want.
func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, readBody(t, resp))
	}
}

// createSession creates session id for the support agent as key.
func createSession(t *testing.T, key, id string) api.AIState {
	t.Helper()
	resp := doJSON(t, http.MethodPost, "/v1/sessions", key, map[string]any{
		"session_id": id,
		"agent":      "support",
	})
	expectStatus(t, resp, http.StatusCreated)
	var state api.AIState
	decodeJSON(t, resp, &state)
	return state
}

// useTool reports a tool invocation for session id and returns the
// decoded response.
func useTool(t *testing.T, key, id, tool string) toolUsageResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, "/v1/sessions/"+id+"/tool_usage", key, map[string]any{
		"agent": "support",
		"tool":  tool,
	})
	expectStatus(t, resp, http.StatusOK)
	var out toolUsageResponse
	decodeJSON(t, resp, &out)
	return out
}

// allowedTools asks which of tools the active step of session id permits.
func allowedTools(t *testing.T, key, id string, tools ...string) []string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, "/v1/sessions/"+id+"/allowed_tools", key, map[string]any{
		"agent": "support",
		"tools": tools,
	})
	expectStatus(t, resp, http.StatusOK)
	var out struct {
		Tools []string `json:"tools"`
	}
	decodeJSON(t, resp, &out)
	return out.Tools
}

type toolUsageResponse struct {
	State             api.AIState   `json:"state"`
	SequenceViolation *api.APIError `json:"sequence_violation"`
}
