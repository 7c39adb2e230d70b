// Package jwt provides a JWT authenticator that validates bearer tokens
// signed with a shared HMAC secret, a static RSA public key or a key
// published on a JWKS endpoint.
//
// The subject, tenant and scopes are read from configurable claims. The
// tenant claim drives storage scoping, so sessions of different tenants
// never share keys.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/stepwise/pkg/auth"
	"github.com/rhuss/stepwise/pkg/debug"
)

// Config holds the JWT authenticator configuration. Exactly one of
// Secret, PublicKeyPEM and JWKSURL must be set.
type Config struct {
	// Issuer is the expected iss claim. Empty disables the check.
	Issuer string

	// Audience is the expected aud claim. Empty disables the check.
	Audience string

	// Secret verifies HS256/HS384/HS512 tokens.
	Secret []byte

	// PublicKeyPEM verifies RS256/RS384/RS512 tokens with a single key.
	PublicKeyPEM []byte

	// JWKSURL verifies RS256/RS384/RS512 tokens with the key matching the
	// token's kid header.
	JWKSURL string

	// UserClaim is the claim used as the identity subject. Default: "sub".
	UserClaim string

	// TenantClaim is the claim copied into the tenant_id metadata. Default: "tenant_id".
	TenantClaim string

	// ScopesClaim holds a space-separated string or an array. Default: "scope".
	ScopesClaim string

	// CacheTTL controls how long JWKS keys are cached. Default: 1 hour.
	CacheTTL time.Duration

	// HTTPClient fetches the JWKS. Default: http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	config Config
	keys   keySource
}

// New creates a JWT authenticator. It fails when the key material is
// missing, ambiguous or unparsable.
func New(cfg Config) (*Authenticator, error) {
	cfg.applyDefaults()

	sources := 0
	for _, set := range []bool{len(cfg.Secret) > 0, len(cfg.PublicKeyPEM) > 0, cfg.JWKSURL != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.New("jwt: exactly one of secret, public key or JWKS URL is required")
	}

	a := &Authenticator{config: cfg}
	switch {
	case len(cfg.Secret) > 0:
		a.keys = hmacKey{secret: cfg.Secret}
	case len(cfg.PublicKeyPEM) > 0:
		pub, err := jwtlib.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("jwt: parsing public key: %w", err)
		}
		a.keys = rsaKey{pub: pub}
	default:
		a.keys = newJWKSCache(cfg.JWKSURL, cfg.CacheTTL, cfg.HTTPClient)
	}
	return a, nil
}

// Authenticate extracts a bearer token and validates it.
//
// Decision outcomes:
//   - Abstain: no Authorization header or not a Bearer scheme
//   - No: bearer token present but invalid (expired, wrong issuer, bad signature, etc.)
//   - Yes: valid JWT with populated Identity
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	tokenStr, ok := auth.BearerToken(r)
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if tokenStr == "" {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (any, error) {
		return a.keys.key(ctx, token)
	}, a.parserOptions()...)
	if err != nil {
		debug.Log(debug.Auth, "JWT validation failed", "error", err)
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("invalid JWT claims")}
	}

	subject := claimString(claims, a.config.UserClaim)
	if subject == "" {
		return auth.AuthResult{
			Decision: auth.No,
			Err:      fmt.Errorf("JWT missing %q claim", a.config.UserClaim),
		}
	}

	identity := &auth.Identity{
		Subject:  subject,
		Scopes:   extractScopes(claims, a.config.ScopesClaim),
		Metadata: make(map[string]string),
	}
	if tenant := claimString(claims, a.config.TenantClaim); tenant != "" {
		identity.Metadata[auth.TenantMetadataKey] = tenant
	}

	return auth.AuthResult{Decision: auth.Yes, Identity: identity}
}

func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods(a.keys.methods()),
		jwtlib.WithExpirationRequired(),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.config.Issuer))
	}
	if a.config.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.config.Audience))
	}
	return opts
}

// claimString returns the string claim at key, or "".
func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractScopes reads a space-separated string or a JSON array claim.
func extractScopes(claims jwtlib.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if parts := strings.Fields(v); len(parts) > 0 {
			return parts
		}
	case []any:
		var scopes []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	}
	return nil
}
