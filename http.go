package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"

	"github.com/goliatone/go-session-auth/middleware/csrf"
	"github.com/goliatone/go-session-auth/middleware/jwtware"
)

// RouteAuthenticator serves the auth HTTP surface on fiber
type RouteAuthenticator struct {
	auth         Authenticator
	registry     *Registry
	cfg          Config
	session      fiber.Handler
	loginLimiter fiber.Handler
	csrf         fiber.Handler
	extractors   []jwtware.JWTExtractor
	now          func() time.Time
	Logger       Logger
	ErrorHandler func(c *fiber.Ctx, err error) error
}

// NewHTTPAuthenticator returns the HTTP layer for auther and registry.
// session is the middleware guarding /auth/me and the admin routes.
func NewHTTPAuthenticator(auther Authenticator, registry *Registry, cfg Config, session fiber.Handler) *RouteAuthenticator {
	a := &RouteAuthenticator{
		auth:       auther,
		registry:   registry,
		cfg:        cfg,
		session:    session,
		extractors: jwtware.GetExtractors(cfg.GetTokenLookup(), cfg.GetAuthScheme()),
		now:        time.Now,
		Logger:     defLogger{name: "auth.http"},
	}
	a.ErrorHandler = a.defaultErrHandler
	return a
}

func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	if logger != nil {
		a.Logger = logger
	}
	return a
}

// WithLoginLimiter sets a middleware run before the login handler
func (a *RouteAuthenticator) WithLoginLimiter(limiter fiber.Handler) *RouteAuthenticator {
	a.loginLimiter = limiter
	return a
}

// WithCSRF guards the cookie authenticated routes that change state
// and mounts GET /auth/csrf to hand out tokens.
func (a *RouteAuthenticator) WithCSRF(protect fiber.Handler) *RouteAuthenticator {
	a.csrf = protect
	return a
}

// WithClock overrides the time source used for cookie expiry
func (a *RouteAuthenticator) WithClock(now func() time.Time) *RouteAuthenticator {
	if now != nil {
		a.now = now
	}
	return a
}

// RegisterRoutes mounts the auth routes under /auth
func (a *RouteAuthenticator) RegisterRoutes(app fiber.Router) {
	group := app.Group("/auth")

	group.Post("/register", a.RegisterPost)

	loginHandlers := []fiber.Handler{}
	if a.loginLimiter != nil {
		loginHandlers = append(loginHandlers, a.loginLimiter)
	}
	loginHandlers = append(loginHandlers, a.LoginPost)
	group.Post("/login", loginHandlers...)

	group.Post("/logout", a.guarded(a.LogoutPost)...)
	group.Post("/refresh", a.RefreshPost)
	group.Get("/confirm/:token", a.ConfirmGet)

	authenticated := jwtware.RequireAuthenticated(a.cfg.GetContextKey())
	admin := RequireAdmin(a.cfg.GetContextKey())

	group.Get("/me", a.session, authenticated, a.MeGet)
	group.Patch("/me", a.guarded(a.session, authenticated, a.MePatch)...)
	group.Get("/users", a.session, admin, a.UsersGet)
	group.Get("/users/:id", a.session, admin, a.UserGet)
	group.Put("/users/:id/role", a.guarded(a.session, admin, a.UserRolePut)...)
	group.Delete("/users/:id", a.guarded(a.session, admin, a.UserDelete)...)

	if a.csrf != nil {
		group.Get("/csrf", a.csrf, csrf.TokenHandler())
	}
}

func (a *RouteAuthenticator) guarded(handlers ...fiber.Handler) []fiber.Handler {
	if a.csrf == nil {
		return handlers
	}
	return append([]fiber.Handler{a.csrf}, handlers...)
}

// CookieSessionOnly skips CSRF checks for requests that carry no session
// cookie. Bearer clients are not exposed to cross site form posts.
func CookieSessionOnly(cookieName string) func(c *fiber.Ctx) bool {
	return func(c *fiber.Ctx) bool {
		return c.Cookies(cookieName) == ""
	}
}

func (a *RouteAuthenticator) rawToken(c *fiber.Ctx) string {
	return jwtware.ExtractRawToken(c, a.extractors)
}

func (a *RouteAuthenticator) setCookieToken(c *fiber.Ctx, val string, expiresAt time.Time) {
	if a.cfg.GetCookieName() == "" {
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     a.cfg.GetCookieName(),
		Value:    val,
		Path:     a.cfg.GetCookiePath(),
		Domain:   a.cfg.GetCookieDomain(),
		Expires:  expiresAt,
		MaxAge:   int(expiresAt.Sub(a.now()).Seconds()),
		HTTPOnly: a.cfg.GetCookieHTTPOnly(),
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: a.cfg.GetCookieSameSite(),
	})
}

func (a *RouteAuthenticator) cookieDel(c *fiber.Ctx) {
	if a.cfg.GetCookieName() == "" {
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     a.cfg.GetCookieName(),
		Value:    "",
		Path:     a.cfg.GetCookiePath(),
		Domain:   a.cfg.GetCookieDomain(),
		Expires:  a.now().Add(-time.Hour * (24 * 365)),
		MaxAge:   -1,
		HTTPOnly: a.cfg.GetCookieHTTPOnly(),
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: a.cfg.GetCookieSameSite(),
	})
}

// defaultErrHandler writes {code, error}. Server errors get a generic
// message and auth errors the message of their sentinel.
func (a *RouteAuthenticator) defaultErrHandler(c *fiber.Ctx, err error) error {
	richErr := httpError(err)

	status := richErr.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}

	message := richErr.Message
	if status >= http.StatusInternalServerError {
		message = "an unexpected error occurred"
		a.Logger.Error(
			"request failed",
			"path", c.Path(),
			"error", err,
			"category", richErr.Category,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	} else {
		a.Logger.Info(
			"request rejected",
			"path", c.Path(),
			"text_code", richErr.TextCode,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	}

	body := fiber.Map{
		"code":  richErr.TextCode,
		"error": message,
	}
	if status == http.StatusBadRequest || status == http.StatusConflict {
		if field, ok := richErr.Metadata["field"]; ok {
			body["field"] = field
		}
	}
	return c.Status(status).JSON(body)
}

// httpError finds the domain error in err so the response reflects the
// sentinel rather than a wrapper added on the way up.
func httpError(err error) *goerrors.Error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return goerrors.New(fe.Message, goerrors.CategoryBadInput).
			WithCode(fe.Code).
			WithTextCode(http.StatusText(fe.Code))
	}

	for _, kind := range []*goerrors.Error{
		ErrValidation,
		ErrDuplicateIdentity,
		ErrInvalidCredentials,
		ErrUnconfirmed,
		ErrTokenExpired,
		ErrTokenRevoked,
		ErrInvalidSignature,
		ErrIdentityNotFound,
		ErrTooManyRequests,
	} {
		if IsKind(err, kind) {
			found := findKind(err, kind)
			if found != nil {
				return found
			}
			return kind
		}
	}

	rich := AsRichError(err)
	if rich.TextCode == "" {
		rich = rich.WithTextCode(TextCodeInternal)
	}
	return rich
}

func findKind(err error, kind *goerrors.Error) *goerrors.Error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		rich, ok := e.(*goerrors.Error)
		if !ok {
			continue
		}
		if rich.TextCode == kind.TextCode {
			return rich
		}
		if rich.Source != nil && rich.Source != e {
			if found := findKind(rich.Source, kind); found != nil {
				return found
			}
		}
	}
	return nil
}
