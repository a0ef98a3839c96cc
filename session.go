package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/goliatone/go-session-auth/middleware/jwtware"
)

// sessionClaims exposes JWTClaims through the middleware Claims view
type sessionClaims struct {
	*JWTClaims
}

var _ jwtware.Claims = sessionClaims{}

func (s sessionClaims) Kind() string {
	return string(s.JWTClaims.Type)
}

type tokenVerifier struct {
	issuer *TokenIssuer
}

func (v tokenVerifier) Verify(ctx context.Context, raw string) (jwtware.Claims, error) {
	claims, err := v.issuer.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return sessionClaims{claims}, nil
}

type identityLoader struct {
	users UserFinder
}

// LoadIdentity treats a malformed subject like a missing user
func (l identityLoader) LoadIdentity(ctx context.Context, subject string) (any, bool, error) {
	id, err := ParseSubject(subject)
	if err != nil {
		return nil, false, nil
	}

	user, err := l.users.LookupByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if user == nil {
		return nil, false, nil
	}
	return user, true, nil
}

type sessionRefresher struct {
	auth Authenticator
}

func (r sessionRefresher) Refresh(ctx context.Context, claims jwtware.Claims) (string, time.Time, error) {
	sc, ok := claims.(sessionClaims)
	if !ok {
		return "", time.Time{}, errors.New("unexpected claims type")
	}

	token, err := r.auth.RefreshSession(ctx, sc.JWTClaims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token.Token, token.ExpiresAt, nil
}

// SessionOptions wires the session middleware
type SessionOptions struct {
	Config   Config
	Issuer   *TokenIssuer
	Users    UserFinder
	Auth     Authenticator
	Logger   Logger
	Now      func() time.Time
	OnExpiry fiber.ErrorHandler
}

// SessionMiddleware returns the fiber session middleware for opts
func SessionMiddleware(opts SessionOptions) fiber.Handler {
	cfg := opts.Config

	var refresher jwtware.Refresher
	if opts.Auth != nil {
		refresher = sessionRefresher{auth: opts.Auth}
	}

	now := opts.Now
	if now == nil && opts.Issuer != nil {
		now = opts.Issuer.Now
	}

	return jwtware.New(jwtware.Config{
		Verifier:        tokenVerifier{issuer: opts.Issuer},
		IdentityLoader:  identityLoader{users: opts.Users},
		Refresher:       refresher,
		ExpiredHandler:  opts.OnExpiry,
		IsExpired:       IsTokenExpiredError,
		ErrorCode:       sessionErrorCode,
		ContextKey:      cfg.GetContextKey(),
		TokenLookup:     cfg.GetTokenLookup(),
		AuthScheme:      cfg.GetAuthScheme(),
		AccessTokenType: string(TokenTypeAccess),
		RefreshWindow:   cfg.GetRefreshWindow(),
		RefreshCookie:   sessionCookie(cfg),
		Now:             now,
		Logger:          ResolveLogger("auth.session", nil, opts.Logger),
	})
}

// RequireAdmin only lets admin sessions through
func RequireAdmin(contextKey string) fiber.Handler {
	return jwtware.RequireClaim(jwtware.RoleIs(string(RoleAdmin)), contextKey)
}

func sessionErrorCode(err error) string {
	switch {
	case errors.Is(err, jwtware.ErrIdentityNotFound):
		return TextCodeTokenRevoked
	case errors.Is(err, jwtware.ErrWrongTokenType):
		return TextCodeTokenInvalid
	case IsStorageError(err):
		// storage kinds stay in the logs, the session fails closed
		return TextCodeTokenRevoked
	}
	if rich := AsRichError(err); rich != nil && rich.TextCode != "" {
		return rich.TextCode
	}
	return TextCodeTokenInvalid
}

func sessionCookie(cfg Config) *fiber.Cookie {
	if cfg.GetCookieName() == "" {
		return nil
	}
	return &fiber.Cookie{
		Name:     cfg.GetCookieName(),
		Path:     cfg.GetCookiePath(),
		Domain:   cfg.GetCookieDomain(),
		HTTPOnly: cfg.GetCookieHTTPOnly(),
		Secure:   cfg.GetCookieSecure(),
		SameSite: cfg.GetCookieSameSite(),
	}
}
