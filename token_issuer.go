package auth

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// IssuedToken is a signed token together with the claims callers need
// without parsing it back.
type IssuedToken struct {
	Token     string    `json:"token"`
	JTI       string    `json:"jti"`
	Type      TokenType `json:"type"`
	Subject   string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenIssuer mints and verifies signed tokens. Verification checks the
// signature and registered claims before it asks the revocation ledger.
type TokenIssuer struct {
	keys     *KeyRing
	issuer   string
	audience []string
	ttls     map[TokenType]time.Duration
	ledger   RevocationLedger
	claims   ClaimsProvider
	now      func() time.Time
	logger   Logger
}

// TokenIssuerOption configures a TokenIssuer
type TokenIssuerOption func(*TokenIssuer)

// WithIssuerClock overrides the time source
func WithIssuerClock(now func() time.Time) TokenIssuerOption {
	return func(t *TokenIssuer) {
		if now != nil {
			t.now = now
		}
	}
}

// WithClaimsProvider sets the enrichment hook
func WithClaimsProvider(p ClaimsProvider) TokenIssuerOption {
	return func(t *TokenIssuer) {
		t.claims = normalizeClaimsProvider(p)
	}
}

// WithIssuerLogger sets the logger
func WithIssuerLogger(logger Logger) TokenIssuerOption {
	return func(t *TokenIssuer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTokenTTL overrides the lifetime of one token type
func WithTokenTTL(tokenType TokenType, ttl time.Duration) TokenIssuerOption {
	return func(t *TokenIssuer) {
		if ttl > 0 {
			t.ttls[tokenType] = ttl
		}
	}
}

// WithIssuerIdentity sets the iss and aud claims
func WithIssuerIdentity(issuer string, audience ...string) TokenIssuerOption {
	return func(t *TokenIssuer) {
		t.issuer = issuer
		t.audience = slices.Clone(audience)
	}
}

// NewTokenIssuer returns an issuer signing with keys and consulting ledger
func NewTokenIssuer(keys *KeyRing, ledger RevocationLedger, opts ...TokenIssuerOption) *TokenIssuer {
	t := &TokenIssuer{
		keys:   keys,
		ledger: ledger,
		claims: noopClaimsProvider{},
		now:    time.Now,
		logger: defLogger{name: "auth.token_issuer"},
		ttls: map[TokenType]time.Duration{
			TokenTypeAccess:  40 * time.Minute,
			TokenTypeRefresh: 30 * 24 * time.Hour,
			TokenTypeConfirm: 24 * time.Hour,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// NewTokenIssuerFromConfig builds the key ring and lifetimes from cfg
func NewTokenIssuerFromConfig(cfg Config, ledger RevocationLedger, opts ...TokenIssuerOption) (*TokenIssuer, error) {
	keys, err := NewKeyRing(cfg.GetSigningKeys(), cfg.GetActiveKeyID(), cfg.GetSigningMethod())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid signing configuration")
	}

	base := []TokenIssuerOption{
		WithIssuerIdentity(cfg.GetIssuer(), cfg.GetAudience()...),
		WithTokenTTL(TokenTypeAccess, cfg.GetAccessTokenTTL()),
		WithTokenTTL(TokenTypeRefresh, cfg.GetRefreshTokenTTL()),
		WithTokenTTL(TokenTypeConfirm, cfg.GetConfirmationTTL()),
	}
	return NewTokenIssuer(keys, ledger, append(base, opts...)...), nil
}

// TTL returns the lifetime of tokenType
func (t *TokenIssuer) TTL(tokenType TokenType) time.Duration {
	return t.ttls[tokenType]
}

// Now is the issuer's clock
func (t *TokenIssuer) Now() time.Time {
	return t.now()
}

// IssueAccessToken issues an access token for subject
func (t *TokenIssuer) IssueAccessToken(ctx context.Context, subject string) (*IssuedToken, error) {
	return t.Issue(ctx, subject, TokenTypeAccess)
}

// Issue mints a token of tokenType for subject. If the claims provider
// fails the token is issued with the base claims only.
func (t *TokenIssuer) Issue(ctx context.Context, subject string, tokenType TokenType) (*IssuedToken, error) {
	if subject == "" {
		return nil, newError(ErrValidation, nil, map[string]any{"field": "sub"})
	}

	if !tokenType.IsValid() {
		return nil, newError(ErrValidation, nil, map[string]any{"field": "type", "value": string(tokenType)})
	}

	now := t.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(t.ttls[tokenType])

	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type:    tokenType,
		Version: ClaimsVersion,
	}
	if len(t.audience) > 0 {
		claims.RegisteredClaims.Audience = jwt.ClaimStrings(slices.Clone(t.audience))
	}

	snapshot := captureImmutableClaims(claims)

	extra, err := t.claims.Claims(ctx, subject)
	if err != nil {
		t.logger.Warn("claims enrichment failed, issuing minimal token",
			"sub", subject,
			"type", string(tokenType),
			"error", err,
		)
		extra = nil
	}
	t.mergeExtra(claims, extra)

	if err := snapshot.validate(claims); err != nil {
		t.logger.Error("issued claims failed immutability check", "sub", subject, "error", err)
		return nil, err
	}

	signed, err := t.keys.Sign(claims)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}

	return &IssuedToken{
		Token:     signed,
		JTI:       claims.TokenID(),
		Type:      tokenType,
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

func (t *TokenIssuer) mergeExtra(claims *JWTClaims, extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	for k, v := range extra {
		if IsReservedClaim(k) {
			t.logger.Warn("claims provider tried to set reserved claim", "claim", k)
			continue
		}
		if claims.Extra == nil {
			claims.Extra = make(map[string]any, len(extra))
		}
		claims.Extra[k] = v
	}
}

// Verify parses raw, checks signature, expiry, issuer and audience, and
// then asks the ledger whether the jti was revoked. A ledger error is
// reported as a revoked token.
func (t *TokenIssuer) Verify(ctx context.Context, raw string) (*JWTClaims, error) {
	claims, err := t.parse(raw, true)
	if err != nil {
		return nil, err
	}

	if t.ledger == nil {
		return claims, nil
	}

	revoked, err := t.ledger.IsRevoked(ctx, claims.TokenID())
	if err != nil {
		return nil, newError(ErrTokenRevoked, err, map[string]any{"jti": claims.TokenID()})
	}

	if revoked {
		return nil, newError(ErrTokenRevoked, nil, map[string]any{"jti": claims.TokenID()})
	}

	return claims, nil
}

// ParseForRevocation checks the signature, issuer and audience of raw but
// accepts expired tokens and does not consult the ledger. Logout uses it
// so a token can be revoked at any point of its life.
func (t *TokenIssuer) ParseForRevocation(raw string) (*JWTClaims, error) {
	return t.parse(raw, false)
}

func (t *TokenIssuer) parse(raw string, checkExpiry bool) (*JWTClaims, error) {
	if raw == "" {
		return nil, newError(ErrInvalidSignature, errors.New("empty token"), nil)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{t.keys.Method().Alg()}),
	}
	if checkExpiry {
		options = append(options,
			jwt.WithTimeFunc(t.now),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		)
		if t.issuer != "" {
			options = append(options, jwt.WithIssuer(t.issuer))
		}
		if len(t.audience) > 0 {
			options = append(options, jwt.WithAudience(t.audience[0]))
		}
	} else {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, t.keys.Keyfunc, options...)
	if err != nil {
		if checkExpiry && errors.Is(err, jwt.ErrTokenExpired) {
			return nil, newError(ErrTokenExpired, err, nil)
		}
		return nil, newError(ErrInvalidSignature, err, nil)
	}

	if !token.Valid {
		return nil, newError(ErrInvalidSignature, errors.New("token not valid"), nil)
	}

	if !checkExpiry {
		if err := t.checkOrigin(claims); err != nil {
			return nil, err
		}
	}

	if err := checkBaseClaims(claims); err != nil {
		return nil, err
	}

	return claims, nil
}

func (t *TokenIssuer) checkOrigin(claims *JWTClaims) error {
	if t.issuer != "" && claims.RegisteredClaims.Issuer != t.issuer {
		return newError(ErrInvalidSignature, jwt.ErrTokenInvalidIssuer, nil)
	}
	if len(t.audience) > 0 && !slices.Contains([]string(claims.RegisteredClaims.Audience), t.audience[0]) {
		return newError(ErrInvalidSignature, jwt.ErrTokenInvalidAudience, nil)
	}
	return nil
}

func checkBaseClaims(claims *JWTClaims) error {
	switch {
	case claims.TokenID() == "":
		return newError(ErrInvalidSignature, errors.New("token has no jti"), nil)
	case claims.Subject() == "":
		return newError(ErrInvalidSignature, errors.New("token has no subject"), nil)
	case !claims.Type.IsValid():
		return newError(ErrInvalidSignature, errors.New("unknown token type"), map[string]any{"type": string(claims.Type)})
	case claims.Version != ClaimsVersion:
		return newError(ErrInvalidSignature, errors.New("unsupported claims version"), map[string]any{"ver": claims.Version})
	}
	return nil
}
