package auth

import (
	"context"

	"github.com/rhuss/stepwise/pkg/storage"
)

type identityKey struct{}

// WithIdentity attaches id to ctx. When the identity carries a tenant,
// session storage reached through the returned context is scoped to it.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, id)
	if tenant := id.TenantID(); tenant != "" {
		ctx = storage.SetTenant(ctx, tenant)
	}
	return ctx
}

// IdentityFromContext returns the caller attached by WithIdentity, or nil
// for requests that bypassed authentication.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
