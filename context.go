package session

import "context"

type ctxKey string

const ctxKeyIdentity ctxKey = "session_identity"

// WithIdentity stores the current identity in the context. The Manager does
// this on the scope context it hands out for per-identity work.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFromContext extracts the identity from the context, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(ctxKeyIdentity).(*Identity)
	return v
}
