package authz

import (
	"context"
	"net/http"
)

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity stores the authenticated identity on the context.
func WithIdentity(ctx context.Context, identity string) context.Context {
	if identity == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func IdentityFromRequest(r *http.Request) (string, bool) {
	return IdentityFromContext(r.Context())
}
