package auth

import (
	"context"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
)

// WithIdentity attaches the authenticated identity and its user id
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	ctx = contextkeys.WithIdentity(ctx, identity)
	return contextkeys.WithUserID(ctx, identity.ID)
}

// IdentityFromContext returns the authenticated identity, or nil
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return identity
}
