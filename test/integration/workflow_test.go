package integration

import (
	"net/http"
	"slices"
	"testing"

	"github.com/rhuss/stepwise/pkg/api"
)

func TestListAgents(t *testing.T) {
	resp := doJSON(t, http.MethodGet, "/v1/agents", keyAcme, nil)
	expectStatus(t, resp, http.StatusOK)

	var list struct {
		Data []string `json:"data"`
	}
	decodeJSON(t, resp, &list)
	if !slices.Equal(list.Data, []string{"support"}) {
		t.Errorf("agents = %v, want [support]", list.Data)
	}
}

func TestDefaultToConditionalStep(t *testing.T) {
	const id = "sess_refund"
	createSession(t, keyAcme, id)

	all := []string{"lookup_order", "search_faq", "issue_refund"}
	if got := allowedTools(t, keyAcme, id, all...); !slices.Equal(got, []string{"lookup_order", "search_faq"}) {
		t.Errorf("triage tools = %v", got)
	}

	out := useTool(t, keyAcme, id, "lookup_order")
	if out.State.ActiveStep != "refund" {
		t.Fatalf("active step = %q, want refund", out.State.ActiveStep)
	}

	if got := allowedTools(t, keyAcme, id, all...); !slices.Equal(got, []string{"lookup_order", "issue_refund"}) {
		t.Errorf("refund tools = %v", got)
	}
}

func TestCheckoutSequence(t *testing.T) {
	const id = "sess_checkout"
	createSession(t, keyAcme, id)
	all := []string{"collect_address", "confirm_total", "charge_card", "search_faq"}

	out := useTool(t, keyAcme, id, "start_checkout")
	if out.State.ActiveStep != "checkout" {
		t.Fatalf("active step = %q, want checkout", out.State.ActiveStep)
	}

	if got := allowedTools(t, keyAcme, id, all...); !slices.Equal(got, []string{"collect_address"}) {
		t.Errorf("first sequence tool = %v, want [collect_address]", got)
	}

	out = useTool(t, keyAcme, id, "collect_address")
	if out.SequenceViolation != nil {
		t.Fatalf("unexpected violation: %+v", out.SequenceViolation)
	}
	if got := allowedTools(t, keyAcme, id, all...); !slices.Equal(got, []string{"confirm_total"}) {
		t.Errorf("second sequence tool = %v, want [confirm_total]", got)
	}

	out = useTool(t, keyAcme, id, "charge_card")
	if out.SequenceViolation == nil {
		t.Fatal("expected a sequence violation for charge_card")
	}
	if out.State.SequenceIndex == nil || *out.State.SequenceIndex != 1 {
		t.Errorf("cursor moved on violation: %v", out.State.SequenceIndex)
	}
	if out.State.RecentlyUsedTools[0] != "charge_card" {
		t.Errorf("violating tool not recorded: %v", out.State.RecentlyUsedTools)
	}

	useTool(t, keyAcme, id, "confirm_total")
	useTool(t, keyAcme, id, "charge_card")
	// A completed sequence no longer restricts the step.
	if got := allowedTools(t, keyAcme, id, all...); !slices.Equal(got, all) {
		t.Errorf("completed sequence offers %v, want %v", got, all)
	}
}

func TestTokenUsage(t *testing.T) {
	const id = "sess_tokens"
	createSession(t, keyAcme, id)

	for range 3 {
		resp := doJSON(t, http.MethodPost, "/v1/sessions/"+id+"/token_usage", keyAcme, api.TokenUsage{
			PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120,
		})
		expectStatus(t, resp, http.StatusAccepted)
		resp.Body.Close()
	}

	resp := doJSON(t, http.MethodGet, "/v1/sessions/"+id+"/state", keyAcme, nil)
	expectStatus(t, resp, http.StatusOK)
	var state api.AIState
	decodeJSON(t, resp, &state)

	want := api.TokenUsage{PromptTokens: 300, CompletionTokens: 60, TotalTokens: 360}
	if state.CumulativeTokenUsage != want {
		t.Errorf("cumulative usage = %+v, want %+v", state.CumulativeTokenUsage, want)
	}
}

func TestResetSession(t *testing.T) {
	const id = "sess_reset"
	createSession(t, keyAcme, id)
	useTool(t, keyAcme, id, "lookup_order")

	resp := doJSON(t, http.MethodDelete, "/v1/sessions/"+id+"/state", keyAcme, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	state := createSession(t, keyAcme, id)
	if len(state.RecentlyUsedTools) != 0 || state.ActiveStep != "" {
		t.Errorf("state after reset = %+v, want fresh", state)
	}
}
