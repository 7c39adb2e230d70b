package apikey

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/stepwise/pkg/auth"
)

func newTestAuth() *Authenticator {
	return New([]RawKeyEntry{
		{
			Key: "sk-test-key-1",
			Identity: auth.Identity{
				Subject:     "alice",
				ServiceTier: "standard",
				Metadata:    map[string]string{auth.TenantMetadataKey: "org-1"},
			},
		},
		{
			Key: "sk-test-key-2",
			Identity: auth.Identity{
				Subject:     "bob",
				ServiceTier: "premium",
			},
		},
		{
			Key:      "",
			Identity: auth.Identity{Subject: "nobody"},
		},
	})
}

func authenticate(a *Authenticator, header string) auth.AuthResult {
	r := httptest.NewRequest("GET", "/", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	return a.Authenticate(context.Background(), r)
}

func TestValidKey(t *testing.T) {
	result := authenticate(newTestAuth(), "Bearer sk-test-key-1")

	if result.Decision != auth.Yes {
		t.Fatalf("Decision = %s, want yes", result.Decision)
	}
	if result.Identity.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", result.Identity.Subject, "alice")
	}
	if result.Identity.ServiceTier != "standard" {
		t.Errorf("ServiceTier = %q, want %q", result.Identity.ServiceTier, "standard")
	}
	if result.Identity.TenantID() != "org-1" {
		t.Errorf("TenantID = %q, want %q", result.Identity.TenantID(), "org-1")
	}
}

func TestSecondKey(t *testing.T) {
	result := authenticate(newTestAuth(), "Bearer sk-test-key-2")

	if result.Decision != auth.Yes {
		t.Fatalf("Decision = %s, want yes", result.Decision)
	}
	if result.Identity.Subject != "bob" {
		t.Errorf("Subject = %q, want %q", result.Identity.Subject, "bob")
	}
}

func TestReturnedIdentityIsACopy(t *testing.T) {
	a := newTestAuth()

	first := authenticate(a, "Bearer sk-test-key-1")
	first.Identity.Metadata[auth.TenantMetadataKey] = "mutated"

	second := authenticate(a, "Bearer sk-test-key-1")
	if got := second.Identity.TenantID(); got != "org-1" {
		t.Errorf("TenantID after mutation = %q, want org-1", got)
	}
}

func TestRejectsAndAbstains(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   auth.AuthDecision
	}{
		{"invalid key", "Bearer sk-wrong-key", auth.No},
		{"empty bearer", "Bearer ", auth.No},
		{"no header", "", auth.Abstain},
		{"basic scheme", "Basic dXNlcjpwYXNz", auth.Abstain},
	}

	a := newTestAuth()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := authenticate(a, tt.header)
			if result.Decision != tt.want {
				t.Errorf("Decision = %s, want %s", result.Decision, tt.want)
			}
			if tt.want == auth.No && result.Err == nil {
				t.Error("expected an error with a No decision")
			}
		})
	}
}
