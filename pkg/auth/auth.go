package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// AuthDecision represents the three possible outcomes of authentication.
type AuthDecision int

const (
	// Yes means credentials are valid. The chain stops and the identity is used.
	Yes AuthDecision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means this authenticator cannot handle the credentials type.
	// The chain continues to the next authenticator.
	Abstain
)

// String returns the decision name.
func (d AuthDecision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// TenantMetadataKey is the Identity.Metadata key that scopes session
// storage to a tenant.
const TenantMetadataKey = "tenant_id"

// DefaultServiceTier is assigned to identities without an explicit tier.
const DefaultServiceTier = "default"

// AuthResult carries the outcome of an authentication attempt.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity // set only when Decision == Yes
	Err      error     // set only when Decision == No
}

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier (required, non-empty).
	Subject string

	// ServiceTier selects the rate limit.
	ServiceTier string

	// Scopes lists the authorization scopes granted.
	Scopes []string

	// Metadata carries authenticator-specific data.
	Metadata map[string]string
}

// Anonymous returns the identity used when authentication is disabled.
func Anonymous() *Identity {
	return &Identity{Subject: "anonymous", ServiceTier: DefaultServiceTier}
}

// TenantID returns the tenant identifier from metadata, or "".
func (id *Identity) TenantID() string {
	if id == nil {
		return ""
	}
	return id.Metadata[TenantMetadataKey]
}

// Tier returns the service tier, falling back to DefaultServiceTier.
func (id *Identity) Tier() string {
	if id == nil || id.ServiceTier == "" {
		return DefaultServiceTier
	}
	return id.ServiceTier
}

// Authenticator examines request credentials and returns a three-outcome vote.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// BearerToken returns the token of an "Authorization: Bearer" header. ok
// is false when the header is absent or uses another scheme; the token
// may be empty when ok is true.
func BearerToken(r *http.Request) (token string, ok bool) {
	header := r.Header.Get("Authorization")
	token, ok = strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// AuthChain evaluates authenticators in order using three-outcome voting.
type AuthChain struct {
	// Authenticators are evaluated left to right.
	Authenticators []Authenticator

	// DefaultDecision is used when all authenticators abstain.
	// Use Yes for development or No for production.
	DefaultDecision AuthDecision
}

// Authenticate runs the chain. It stops on the first Yes or No and falls
// back to DefaultDecision when every authenticator abstains.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, authn := range c.Authenticators {
		if result := authn.Authenticate(ctx, r); result.Decision != Abstain {
			return result
		}
	}

	if c.DefaultDecision == Yes {
		return AuthResult{Decision: Yes, Identity: Anonymous()}
	}
	return AuthResult{Decision: No, Err: ErrUnauthenticated}
}
