package auth

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/sony/gobreaker"
)

// ConfirmationMailer delivers the email confirmation token to a user
type ConfirmationMailer interface {
	SendConfirmation(ctx context.Context, user *User, token *IssuedToken) error
}

// ConfirmationMailerFunc adapts a function into a ConfirmationMailer.
type ConfirmationMailerFunc func(ctx context.Context, user *User, token *IssuedToken) error

// SendConfirmation satisfies the ConfirmationMailer interface.
func (f ConfirmationMailerFunc) SendConfirmation(ctx context.Context, user *User, token *IssuedToken) error {
	if f == nil {
		return nil
	}
	return f(ctx, user, token)
}

// LogMailer only logs that a confirmation would be sent. The token itself
// is never logged.
type LogMailer struct {
	Logger Logger
}

// SendConfirmation satisfies the ConfirmationMailer interface.
func (m LogMailer) SendConfirmation(_ context.Context, user *User, token *IssuedToken) error {
	logger := m.Logger
	if logger == nil {
		logger = defLogger{name: "auth.mailer"}
	}
	logger.Info("confirmation mail queued",
		"user_id", user.ID,
		"jti", token.JTI,
		"expires_at", token.ExpiresAt,
	)
	return nil
}

// ErrMailerUnavailable is returned while the mailer circuit is open
var ErrMailerUnavailable = goerrors.New("confirmation mailer unavailable", goerrors.CategoryOperation).
	WithTextCode("MAILER_UNAVAILABLE")

// BreakerMailer guards a mailer with a circuit breaker so a failing mail
// provider does not slow down every login of an unconfirmed user.
type BreakerMailer struct {
	next ConfirmationMailer
	cb   *gobreaker.CircuitBreaker
}

// BreakerSettings tunes the breaker around the mailer
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// NewBreakerMailer wraps next
func NewBreakerMailer(next ConfirmationMailer, settings BreakerSettings, logger Logger) *BreakerMailer {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = defLogger{name: "auth.mailer"}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "confirmation-mailer",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("mailer circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &BreakerMailer{next: next, cb: cb}
}

// SendConfirmation satisfies the ConfirmationMailer interface.
func (m *BreakerMailer) SendConfirmation(ctx context.Context, user *User, token *IssuedToken) error {
	_, err := m.cb.Execute(func() (any, error) {
		return nil, m.next.SendConfirmation(ctx, user, token)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return newError(ErrMailerUnavailable, err, nil)
	}
	return err
}

// State reports the breaker state, mostly for tests and health checks
func (m *BreakerMailer) State() gobreaker.State {
	return m.cb.State()
}
