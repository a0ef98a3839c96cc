package auth

import (
	"context"
	"fmt"
	"time"
)

// Logger is the structured logger used across the package.
// args are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers so each component can be scoped.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// ResolveLogger picks the logger for name. The provider wins, then the
// fallback, then the stdout logger.
func ResolveLogger(name string, provider LoggerProvider, fallback Logger) Logger {
	if provider != nil {
		if l := provider.GetLogger(name); l != nil {
			return l
		}
	}
	if fallback != nil {
		return fallback
	}
	return defLogger{name: name}
}

// Identity holds the attributes of an authenticated principal
type Identity interface {
	ID() string
	Username() string
	Email() string
	Role() string
}

// Config holds auth options
type Config interface {
	GetSigningKeys() map[string]string
	GetActiveKeyID() string
	GetSigningMethod() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetConfirmationTTL() time.Duration
	GetRefreshWindow() time.Duration
	GetTokenLookup() string
	GetAuthScheme() string
	GetContextKey() string
	GetCookieName() string
	GetCookiePath() string
	GetCookieDomain() string
	GetCookieHTTPOnly() bool
	GetCookieSecure() bool
	GetCookieSameSite() string
	GetExposeBearer() bool
	GetIssueRefreshToken() bool
}

// Authenticator is the contract other services consume.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Logout(ctx context.Context, rawToken string) (*RevocationReceipt, error)
	RefreshSession(ctx context.Context, claims *JWTClaims) (*IssuedToken, error)
	Exchange(ctx context.Context, refreshToken string) (*IssuedToken, error)
	ConfirmEmail(ctx context.Context, confirmToken string) (*User, error)
}

type defLogger struct {
	name string
}

func (d defLogger) Error(msg string, args ...any) {
	d.print("ERR", msg, args...)
}

func (d defLogger) Warn(msg string, args ...any) {
	d.print("WRN", msg, args...)
}

func (d defLogger) Info(msg string, args ...any) {
	d.print("INF", msg, args...)
}

func (d defLogger) Debug(msg string, args ...any) {
	d.print("DBG", msg, args...)
}

func (d defLogger) print(level, msg string, args ...any) {
	name := d.name
	if name == "" {
		name = "auth"
	}
	line := fmt.Sprintf("[%s] %s %s", level, name, msg)
	for i := 0; i+1 < len(args); i += 2 {
		line += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		line += fmt.Sprintf(" %v", args[len(args)-1])
	}
	fmt.Println(line)
}
