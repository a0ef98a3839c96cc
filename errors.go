package auth

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation        = "VALIDATION_ERROR"
	TextCodeDuplicateIdentity = "DUPLICATE_IDENTITY"
	TextCodeInvalidLogin      = "INVALID_CREDENTIALS"
	TextCodeUnconfirmed       = "ACCOUNT_UNCONFIRMED"
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
	TextCodeTokenInvalid      = "TOKEN_INVALID"
	TextCodeTokenRevoked      = "TOKEN_REVOKED"
	TextCodeNotFound          = "IDENTITY_NOT_FOUND"
	TextCodeStorageConnection = "STORAGE_UNAVAILABLE"
	TextCodeStorageIntegrity  = "STORAGE_INTEGRITY"
	TextCodeTooManyRequests   = "TOO_MANY_REQUESTS"
	TextCodeImmutableClaim    = "IMMUTABLE_CLAIM"
	TextCodeInternal          = "INTERNAL_ERROR"
)

// ErrValidation is returned when caller input is malformed
var ErrValidation = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(http.StatusBadRequest)

// ErrDuplicateIdentity is returned when email, username or phone is taken
var ErrDuplicateIdentity = goerrors.New("identity already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(http.StatusConflict)

// ErrInvalidCredentials is the uniform login failure
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidLogin).
	WithCode(http.StatusUnauthorized)

// ErrUnconfirmed is returned when the account email was never confirmed
var ErrUnconfirmed = goerrors.New("account email is not confirmed", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnconfirmed).
	WithCode(http.StatusUnauthorized)

// ErrTokenExpired is returned for tokens past their exp claim
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(http.StatusUnauthorized)

// ErrInvalidSignature covers bad signatures, unknown keys and malformed tokens
var ErrInvalidSignature = goerrors.New("token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(http.StatusUnauthorized)

// ErrTokenRevoked is returned when the jti is in the revocation ledger
var ErrTokenRevoked = goerrors.New("token has been revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenRevoked).
	WithCode(http.StatusUnauthorized)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(http.StatusNotFound)

// ErrStorageConnection wraps infrastructure failures talking to storage
var ErrStorageConnection = goerrors.New("storage unavailable", goerrors.CategoryInternal).
	WithTextCode(TextCodeStorageConnection).
	WithCode(http.StatusInternalServerError)

// ErrStorageIntegrity wraps constraint failures other than uniqueness
var ErrStorageIntegrity = goerrors.New("storage integrity violation", goerrors.CategoryInternal).
	WithTextCode(TextCodeStorageIntegrity).
	WithCode(http.StatusInternalServerError)

// ErrTooManyRequests is returned by rate limited routes
var ErrTooManyRequests = goerrors.New("too many requests", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyRequests).
	WithCode(http.StatusTooManyRequests)

// ErrImmutableClaimMutation is returned when enrichment touched a base claim
var ErrImmutableClaimMutation = goerrors.New("immutable claim mutated", goerrors.CategoryInternal).
	WithTextCode(TextCodeImmutableClaim).
	WithCode(http.StatusInternalServerError)

// newError clones sentinel so callers can attach a cause and metadata
// without mutating the shared value.
func newError(sentinel *goerrors.Error, source error, metadata map[string]any) *goerrors.Error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	if source != nil {
		clone.Source = source
	}
	if len(metadata) > 0 {
		return clone.WithMetadata(metadata)
	}
	return clone
}

// IsKind reports whether err, or anything it wraps, carries the text code
// of kind.
func IsKind(err error, kind *goerrors.Error) bool {
	if err == nil || kind == nil {
		return false
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		rich, ok := e.(*goerrors.Error)
		if !ok {
			continue
		}
		if rich == kind || (rich.TextCode != "" && rich.TextCode == kind.TextCode) {
			return true
		}
		if rich.Source != nil && rich.Source != e && IsKind(rich.Source, kind) {
			return true
		}
	}
	return false
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return IsKind(err, ErrTokenExpired)
}

// IsRevokedError will check for revoked tokens
func IsRevokedError(err error) bool {
	return IsKind(err, ErrTokenRevoked)
}

// IsInvalidSignatureError will check for tokens that failed verification
func IsInvalidSignatureError(err error) bool {
	return IsKind(err, ErrInvalidSignature)
}

func IsDuplicateIdentityError(err error) bool {
	return IsKind(err, ErrDuplicateIdentity)
}

func IsValidationError(err error) bool {
	return IsKind(err, ErrValidation)
}

func IsInvalidCredentialsError(err error) bool {
	return IsKind(err, ErrInvalidCredentials)
}

func IsUnconfirmedError(err error) bool {
	return IsKind(err, ErrUnconfirmed)
}

func IsNotFoundError(err error) bool {
	return IsKind(err, ErrIdentityNotFound)
}

// IsStorageError will check for either storage failure kind
func IsStorageError(err error) bool {
	return IsKind(err, ErrStorageConnection) || IsKind(err, ErrStorageIntegrity)
}

// DuplicateField returns the identity field reported by a duplicate error
func DuplicateField(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		rich, ok := e.(*goerrors.Error)
		if !ok || rich.TextCode != TextCodeDuplicateIdentity {
			continue
		}
		if field, ok := rich.Metadata["field"].(string); ok {
			return field
		}
	}
	return ""
}

// AsRichError returns err as a go-errors value, wrapping unknown errors as
// internal failures.
func AsRichError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		return rich
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "an unexpected error occurred").
		WithCode(http.StatusInternalServerError)
}
