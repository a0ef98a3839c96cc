package jwtware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	// RefreshedTokenHeader carries a token issued as a side effect of a
	// request whose session was close to expiry.
	RefreshedTokenHeader = "X-Refreshed-Token"

	defaultTokenLookup = "header:" + fiber.HeaderAuthorization
	defaultAccessType  = "access"
)

var (
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
	ErrWrongTokenType        = errors.New("token type cannot authenticate requests")
	ErrIdentityNotFound      = errors.New("identity for token subject not found")
	ErrUnauthenticated       = errors.New("authentication required")
	ErrForbidden             = errors.New("access denied")
)

// Claims is the view of verified token claims the middleware needs.
// It mirrors the auth package claims without importing it.
type Claims interface {
	Subject() string
	TokenID() string
	Kind() string
	Role() string
	Expires() time.Time
}

// Verifier checks signature, expiry and revocation of a raw token
type Verifier interface {
	Verify(ctx context.Context, raw string) (Claims, error)
}

// IdentityLoader resolves the principal behind a subject. found is false
// when the subject no longer exists.
type IdentityLoader interface {
	LoadIdentity(ctx context.Context, subject string) (identity any, found bool, err error)
}

// Refresher issues a replacement token for a session close to expiry
type Refresher interface {
	Refresh(ctx context.Context, claims Claims) (token string, expiresAt time.Time, err error)
}

// Logger is the subset of the auth logger used here
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// State is the outcome of the middleware for the current request
type State string

const (
	StateNoToken    State = "no_token"
	StateValid      State = "valid"
	StateNearExpiry State = "near_expiry"
	StateRefreshed  State = "refreshed"
)

type Config struct {
	Filter         func(*fiber.Ctx) bool
	Verifier       Verifier
	IdentityLoader IdentityLoader
	Refresher      Refresher
	// ExpiredHandler handles tokens rejected by IsExpired.
	ExpiredHandler fiber.ErrorHandler
	// ErrorHandler handles every other rejection.
	ErrorHandler fiber.ErrorHandler
	IsExpired    func(error) bool
	// ErrorCode turns an error into the code field of the JSON body.
	ErrorCode   func(error) string
	ContextKey  string
	IdentityKey string
	StateKey    string
	TokenLookup string
	AuthScheme  string
	// AccessTokenType is the only token kind allowed to authenticate.
	AccessTokenType string
	RefreshWindow   time.Duration
	// RefreshCookie, when set, is the template for the cookie carrying a
	// refreshed token. Value and Expires are filled in per response.
	RefreshCookie *fiber.Cookie
	Now           func() time.Time
	Logger        Logger
}

// New returns the session middleware. Requests without a token pass
// through unauthenticated; use RequireAuthenticated on routes that need
// a session.
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw := ExtractRawToken(c, extractors)
		if raw == "" {
			c.Locals(cfg.StateKey, StateNoToken)
			return c.Next()
		}

		ctx := c.UserContext()

		claims, err := cfg.Verifier.Verify(ctx, raw)
		if err != nil {
			if cfg.IsExpired(err) {
				return cfg.ExpiredHandler(c, err)
			}
			return cfg.ErrorHandler(c, err)
		}

		if claims.Kind() != cfg.AccessTokenType {
			return cfg.ErrorHandler(c, ErrWrongTokenType)
		}

		identity, found, err := cfg.IdentityLoader.LoadIdentity(ctx, claims.Subject())
		if err != nil {
			cfg.Logger.Error("session identity lookup failed", "sub", claims.Subject(), "error", err)
			return cfg.ErrorHandler(c, err)
		}

		if !found {
			return cfg.ErrorHandler(c, ErrIdentityNotFound)
		}

		state := StateValid
		nearExpiry := cfg.Refresher != nil && claims.Expires().Sub(cfg.Now()) < cfg.RefreshWindow
		if nearExpiry {
			state = StateNearExpiry
		}

		c.Locals(cfg.ContextKey, claims)
		c.Locals(cfg.IdentityKey, identity)
		c.Locals(cfg.StateKey, state)
		c.SetUserContext(WithSession(ctx, claims, identity))

		if err := c.Next(); err != nil {
			return err
		}

		if nearExpiry {
			cfg.refresh(c, claims)
		}
		return nil
	}
}

// refresh runs after the handler. It only issues when the handler
// succeeded and the request is still live, and it never changes the
// response on failure.
func (cfg Config) refresh(c *fiber.Ctx, claims Claims) {
	if c.Response().StatusCode() >= fiber.StatusBadRequest {
		return
	}

	ctx := c.UserContext()
	if ctx.Err() != nil {
		return
	}

	token, expiresAt, err := cfg.Refresher.Refresh(ctx, claims)
	if err != nil {
		cfg.Logger.Warn("session refresh failed", "sub", claims.Subject(), "jti", claims.TokenID(), "error", err)
		return
	}

	c.Set(RefreshedTokenHeader, token)

	if cfg.RefreshCookie != nil {
		cookie := *cfg.RefreshCookie
		cookie.Value = token
		cookie.Expires = expiresAt
		if cookie.MaxAge == 0 {
			cookie.MaxAge = int(expiresAt.Sub(cfg.Now()).Seconds())
		}
		c.Cookie(&cookie)
	}

	c.Locals(cfg.StateKey, StateRefreshed)
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Verifier == nil {
		panic("AUTH: session middleware configuration: Verifier is required.")
	}

	if cfg.IdentityLoader == nil {
		panic("AUTH: session middleware configuration: IdentityLoader is required.")
	}

	if cfg.ErrorCode == nil {
		cfg.ErrorCode = func(error) string { return "TOKEN_INVALID" }
	}

	if cfg.IsExpired == nil {
		cfg.IsExpired = func(error) bool { return false }
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = jsonErrorHandler(cfg.ErrorCode, fiber.StatusUnauthorized, "invalid or revoked token")
	}

	if cfg.ExpiredHandler == nil {
		cfg.ExpiredHandler = jsonErrorHandler(cfg.ErrorCode, fiber.StatusUnauthorized, "token has expired")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.IdentityKey == "" {
		cfg.IdentityKey = "identity"
	}

	if cfg.StateKey == "" {
		cfg.StateKey = "session_state"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.AccessTokenType == "" {
		cfg.AccessTokenType = defaultAccessType
	}

	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = 15 * time.Minute
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}

	return cfg
}

func jsonErrorHandler(code func(error) string, status int, message string) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return c.Status(status).JSON(fiber.Map{
			"code":  code(err),
			"error": message,
		})
	}
}

// RequireAuthenticated rejects requests the session middleware did not
// authenticate. contextKey defaults to "user".
func RequireAuthenticated(contextKey ...string) fiber.Handler {
	key := "user"
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}
	return func(c *fiber.Ctx) error {
		if _, ok := c.Locals(key).(Claims); !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"code":  "UNAUTHENTICATED",
				"error": ErrUnauthenticated.Error(),
			})
		}
		return c.Next()
	}
}

// RequireClaim lets the request through when predicate accepts the
// session claims. Unauthenticated requests get 401, rejected ones 403.
func RequireClaim(predicate func(Claims) bool, contextKey ...string) fiber.Handler {
	key := "user"
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals(key).(Claims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"code":  "UNAUTHENTICATED",
				"error": ErrUnauthenticated.Error(),
			})
		}
		if predicate == nil || !predicate(claims) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"code":  "FORBIDDEN",
				"error": ErrForbidden.Error(),
			})
		}
		return c.Next()
	}
}

// RoleIs is a RequireClaim predicate matching the role claim
func RoleIs(role string) func(Claims) bool {
	return func(c Claims) bool {
		return c.Role() == role
	}
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

// ExtractRawToken returns the first token any extractor finds
func ExtractRawToken(c *fiber.Ctx, extractors []JWTExtractor) string {
	for _, extractor := range extractors {
		if raw, err := extractor(c); err == nil && raw != "" {
			return raw
		}
	}
	return ""
}

func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 && authSchemes[0] != "" {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	// header:Authorization,cookie:jwt,query:auth_token,param:token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, jwtFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, jwtFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(parts[1]))
		}
	}

	return extractors
}

type JWTExtractor func(c *fiber.Ctx) (string, error)

// jwtFromHeader returns a function that extracts token from the request header.
func jwtFromHeader(header string, authScheme string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		a := c.Get(header)
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromParam returns a function that extracts token from the url param string.
func jwtFromParam(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Params(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
