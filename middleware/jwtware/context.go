package jwtware

import "context"

type contextKey struct {
	name string
}

var (
	claimsCtxKey   = &contextKey{"claims"}
	identityCtxKey = &contextKey{"identity"}
)

// WithSession stores the claims and identity in ctx
func WithSession(ctx context.Context, claims Claims, identity any) context.Context {
	ctx = context.WithValue(ctx, claimsCtxKey, claims)
	return context.WithValue(ctx, identityCtxKey, identity)
}

// ClaimsFromContext returns the session claims stored by the middleware
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsCtxKey).(Claims)
	return claims, ok
}

// IdentityFromContext returns the identity stored by the middleware
func IdentityFromContext(ctx context.Context) (any, bool) {
	identity := ctx.Value(identityCtxKey)
	return identity, identity != nil
}
