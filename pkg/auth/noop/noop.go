// Package noop provides an authenticator that accepts every request as
// the anonymous identity. Used for development deployments.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/stepwise/pkg/auth"
)

// Authenticator always returns Yes with the anonymous identity.
type Authenticator struct{}

func (Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.AuthResult {
	return auth.AuthResult{Decision: auth.Yes, Identity: auth.Anonymous()}
}
