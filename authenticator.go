package auth

import (
	"context"
	"fmt"
	"time"
)

// AccountRegistry is the part of the registry the service needs
type AccountRegistry interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	LookupByID(ctx context.Context, id int64) (*User, error)
	Confirm(ctx context.Context, id int64) (*User, error)
}

var _ AccountRegistry = (*Registry)(nil)

// LoginResult is returned by a successful login
type LoginResult struct {
	User    *User
	Access  *IssuedToken
	Refresh *IssuedToken
}

// RevocationReceipt confirms a logout
type RevocationReceipt struct {
	JTI       string    `json:"jti"`
	TokenType TokenType `json:"type"`
	RevokedAt time.Time `json:"revoked_at"`
	Message   string    `json:"message"`
}

// Auther is the auth service: login, logout, refresh, exchange and email
// confirmation on top of the registry, credential store, issuer and
// ledger.
type Auther struct {
	users        AccountRegistry
	creds        *CredentialStore
	issuer       *TokenIssuer
	ledger       RevocationLedger
	mailer       ConfirmationMailer
	issueRefresh bool
	logger       Logger
	activitySink ActivitySink
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(users AccountRegistry, creds *CredentialStore, issuer *TokenIssuer, ledger RevocationLedger) *Auther {
	return &Auther{
		users:        users,
		creds:        creds,
		issuer:       issuer,
		ledger:       ledger,
		mailer:       LogMailer{},
		logger:       defLogger{name: "auth.service"},
		activitySink: noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithMailer sets the mailer used for confirmation tokens.
func (s *Auther) WithMailer(mailer ConfirmationMailer) *Auther {
	if mailer != nil {
		s.mailer = mailer
	}
	return s
}

// WithRefreshTokens toggles issuing a refresh token on login.
func (s *Auther) WithRefreshTokens(enabled bool) *Auther {
	s.issueRefresh = enabled
	return s
}

// Issuer returns the TokenIssuer used by this service
func (s *Auther) Issuer() *TokenIssuer {
	return s.issuer
}

// Login checks email and password. Unknown emails and wrong passwords
// fail the same way and take the same time.
func (s *Auther) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !IsNotFoundError(err) {
			s.logger.Error("Login lookup error", "error", err)
			s.emitAuthEvent(ctx, ActivityEventLoginFailure, "", "", map[string]any{"reason": "storage"})
			return nil, err
		}
		s.creds.Burn(ctx, password)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, "", "", map[string]any{"reason": "invalid_credentials"})
		return nil, newError(ErrInvalidCredentials, nil, nil)
	}

	ok, err := s.creds.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return nil, err
	}

	if !ok {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, user.Subject(), "", map[string]any{"reason": "invalid_credentials"})
		return nil, newError(ErrInvalidCredentials, nil, nil)
	}

	if !user.Confirmed {
		s.sendConfirmation(ctx, user)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, user.Subject(), "", map[string]any{"reason": "unconfirmed"})
		return nil, newError(ErrUnconfirmed, nil, nil)
	}

	access, err := s.issuer.IssueAccessToken(ctx, user.Subject())
	if err != nil {
		s.logger.Error("Login failed to issue access token", "user_id", user.ID, "error", err)
		return nil, err
	}

	result := &LoginResult{User: user, Access: access}

	if s.issueRefresh {
		refresh, err := s.issuer.Issue(ctx, user.Subject(), TokenTypeRefresh)
		if err != nil {
			s.logger.Error("Login failed to issue refresh token", "user_id", user.ID, "error", err)
			return nil, err
		}
		result.Refresh = refresh
	}

	s.logger.Info("Login success", "user_id", user.ID, "jti", access.JTI)
	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, user.Subject(), access.JTI, nil)

	return result, nil
}

func (s *Auther) sendConfirmation(ctx context.Context, user *User) {
	token, err := s.issuer.Issue(ctx, user.Subject(), TokenTypeConfirm)
	if err != nil {
		s.logger.Error("failed to issue confirmation token", "user_id", user.ID, "error", err)
		return
	}

	if err := s.mailer.SendConfirmation(ctx, user, token); err != nil {
		s.logger.Warn("failed to send confirmation", "user_id", user.ID, "error", err)
	}
}

// Logout revokes the token. Expired and already revoked tokens are
// accepted as long as the signature checks out.
func (s *Auther) Logout(ctx context.Context, rawToken string) (*RevocationReceipt, error) {
	claims, err := s.issuer.ParseForRevocation(rawToken)
	if err != nil {
		return nil, err
	}

	entry := RevocationEntry{
		JTI:       claims.TokenID(),
		TokenType: claims.TokenType(),
		Subject:   claims.Subject(),
		RevokedAt: s.issuer.Now().UTC(),
		ExpiresAt: claims.Expires(),
	}

	if err := s.ledger.Revoke(ctx, entry); err != nil {
		s.logger.Error("Logout failed to revoke token", "jti", entry.JTI, "error", err)
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLogout, entry.Subject, entry.JTI, map[string]any{"type": string(entry.TokenType)})

	return &RevocationReceipt{
		JTI:       entry.JTI,
		TokenType: entry.TokenType,
		RevokedAt: entry.RevokedAt,
		Message:   fmt.Sprintf("%s token successfully revoked", entry.TokenType.Label()),
	}, nil
}

// RefreshSession issues a new access token for the subject of claims.
// The previous token is left to expire on its own.
func (s *Auther) RefreshSession(ctx context.Context, claims *JWTClaims) (*IssuedToken, error) {
	if claims == nil || claims.Subject() == "" {
		return nil, newError(ErrValidation, nil, map[string]any{"field": "sub"})
	}

	if claims.TokenType() != TokenTypeAccess {
		return nil, newError(ErrInvalidSignature, nil, map[string]any{"type": string(claims.TokenType())})
	}

	token, err := s.issuer.IssueAccessToken(ctx, claims.Subject())
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventTokenRefreshed, claims.Subject(), token.JTI, map[string]any{
		"previous_jti": claims.TokenID(),
	})
	return token, nil
}

// Exchange trades a refresh token for a new access token
func (s *Auther) Exchange(ctx context.Context, refreshToken string) (*IssuedToken, error) {
	claims, err := s.verifyType(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	if _, err := s.subjectUser(ctx, claims); err != nil {
		return nil, err
	}

	token, err := s.issuer.IssueAccessToken(ctx, claims.Subject())
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventTokenRefreshed, claims.Subject(), token.JTI, map[string]any{
		"refresh_jti": claims.TokenID(),
	})
	return token, nil
}

// ConfirmEmail verifies a confirmation token and confirms its user
func (s *Auther) ConfirmEmail(ctx context.Context, confirmToken string) (*User, error) {
	claims, err := s.verifyType(ctx, confirmToken, TokenTypeConfirm)
	if err != nil {
		return nil, err
	}

	id, err := ParseSubject(claims.Subject())
	if err != nil {
		return nil, newError(ErrInvalidSignature, err, nil)
	}

	return s.users.Confirm(ctx, id)
}

func (s *Auther) verifyType(ctx context.Context, raw string, want TokenType) (*JWTClaims, error) {
	claims, err := s.issuer.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}

	if claims.TokenType() != want {
		return nil, newError(ErrInvalidSignature, nil, map[string]any{
			"type":     string(claims.TokenType()),
			"expected": string(want),
		})
	}
	return claims, nil
}

// subjectUser loads the user behind claims. A missing user is reported
// as a revoked token.
func (s *Auther) subjectUser(ctx context.Context, claims *JWTClaims) (*User, error) {
	id, err := ParseSubject(claims.Subject())
	if err != nil {
		return nil, newError(ErrInvalidSignature, err, nil)
	}

	user, err := s.users.LookupByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, newError(ErrTokenRevoked, nil, map[string]any{"reason": "subject not found"})
	}
	return user, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, userID, tokenID string, metadata map[string]any) {
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: eventType,
		UserID:    userID,
		TokenID:   tokenID,
		Metadata:  metadata,
	})
}
