package auth

import (
	"context"
	"strings"
)

// Identity captures the authenticated principal extracted from a session token.
type Identity struct {
	UserID    string
	Email     string
	SessionID string
}

// Valid reports whether the identity carries a usable user identifier.
func (i *Identity) Valid() bool {
	return i != nil && strings.TrimSpace(i.UserID) != ""
}

type contextKey string

const identityContextKey contextKey = "github.com/deskforge/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
