package shared

import (
	"context"

	"github.com/google/uuid"
)

// Identity carries the authenticated tenant and actor for a request. Tenant and
// user management live outside this service; the gateway injects both and the
// storage layer's row-level security re-checks the tenant on every query.
type Identity struct {
	TenantID uuid.UUID
	ActorID  uuid.UUID
}

type identityContextKey struct{}

// ContextWithIdentity stores the request identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the request identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
