package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/goliatone/go-session-auth/middleware/jwtware"
)

// ClaimsFromContext returns the session claims placed in ctx by the
// session middleware.
func ClaimsFromContext(ctx context.Context) (*JWTClaims, bool) {
	raw, ok := jwtware.ClaimsFromContext(ctx)
	if !ok {
		return nil, false
	}
	return unwrapClaims(raw)
}

// UserFromContext returns the user loaded by the session middleware
func UserFromContext(ctx context.Context) (*User, bool) {
	raw, ok := jwtware.IdentityFromContext(ctx)
	if !ok {
		return nil, false
	}
	user, ok := raw.(*User)
	return user, ok && user != nil
}

// GetFiberClaims extracts the claims from fiber locals
func GetFiberClaims(c *fiber.Ctx, key string) (*JWTClaims, bool) {
	if key == "" {
		key = "user" // Default key used by the session middleware
	}
	raw, ok := c.Locals(key).(jwtware.Claims)
	if !ok {
		return nil, false
	}
	return unwrapClaims(raw)
}

func unwrapClaims(raw jwtware.Claims) (*JWTClaims, bool) {
	sc, ok := raw.(sessionClaims)
	if !ok || sc.JWTClaims == nil {
		return nil, false
	}
	return sc.JWTClaims, true
}
