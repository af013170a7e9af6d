package auth

import "context"

// Verifier turns a bearer token into the caller's userId.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, identityKey{}, userID)
}

// IdentityFromContext returns the verified userId, if the request carried one.
func IdentityFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(identityKey{}).(string)
	return userID, ok && userID != ""
}
