// Package factory builds the authentication chain and rate limiter
// selected by configuration.
package factory

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rhuss/stepwise/pkg/auth"
	"github.com/rhuss/stepwise/pkg/auth/apikey"
	"github.com/rhuss/stepwise/pkg/auth/jwt"
	"github.com/rhuss/stepwise/pkg/auth/noop"
	"github.com/rhuss/stepwise/pkg/config"
)

// Build returns the chain for cfg.Type and, when any limit is configured,
// an in-process rate limiter. The limiter is nil otherwise.
func Build(cfg config.AuthConfig) (*auth.AuthChain, auth.RateLimiter, error) {
	chain, err := buildChain(cfg)
	if err != nil {
		return nil, nil, err
	}
	return chain, buildLimiter(cfg.RateLimit), nil
}

func buildChain(cfg config.AuthConfig) (*auth.AuthChain, error) {
	switch cfg.Type {
	case "none", "":
		slog.Info("authentication disabled")
		return &auth.AuthChain{
			Authenticators:  []auth.Authenticator{noop.Authenticator{}},
			DefaultDecision: auth.Yes,
		}, nil

	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			id := auth.Identity{Subject: k.Subject, ServiceTier: k.ServiceTier}
			if k.TenantID != "" {
				id.Metadata = map[string]string{auth.TenantMetadataKey: k.TenantID}
			}
			entries = append(entries, apikey.RawKeyEntry{Key: k.Key, Identity: id})
		}
		slog.Info("authentication enabled", "type", "apikey", "keys", len(entries))
		return &auth.AuthChain{
			Authenticators:  []auth.Authenticator{apikey.New(entries)},
			DefaultDecision: auth.No,
		}, nil

	case "jwt":
		jcfg := jwt.Config{
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			Secret:      []byte(cfg.JWT.Secret),
			JWKSURL:     cfg.JWT.JWKSURL,
			UserClaim:   cfg.JWT.UserClaim,
			TenantClaim: cfg.JWT.TenantClaim,
		}
		if cfg.JWT.PublicKeyFile != "" {
			pem, err := os.ReadFile(cfg.JWT.PublicKeyFile)
			if err != nil {
				return nil, fmt.Errorf("reading jwt public key: %w", err)
			}
			jcfg.PublicKeyPEM = pem
		}
		authn, err := jwt.New(jcfg)
		if err != nil {
			return nil, err
		}
		slog.Info("authentication enabled", "type", "jwt", "issuer", cfg.JWT.Issuer, "audience", cfg.JWT.Audience)
		return &auth.AuthChain{
			Authenticators:  []auth.Authenticator{authn},
			DefaultDecision: auth.No,
		}, nil

	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}

func buildLimiter(cfg config.RateLimitConfig) auth.RateLimiter {
	limited := cfg.RequestsPerMinute > 0
	for _, rpm := range cfg.Tiers {
		limited = limited || rpm > 0
	}
	if !limited {
		return nil
	}
	slog.Info("rate limiting enabled", "requests_per_minute", cfg.RequestsPerMinute, "tiers", len(cfg.Tiers))
	return auth.NewInProcessLimiter(cfg.Tiers, cfg.RequestsPerMinute)
}
