package auth

import (
	"context"
	"time"
)

// RevocationEntry is a revoked jti and when it would have expired anyway
type RevocationEntry struct {
	JTI       string
	TokenType TokenType
	Subject   string
	RevokedAt time.Time
	ExpiresAt time.Time
}

// RevocationLedger records revoked tokens. Implementations fail closed:
// when IsRevoked cannot reach storage it reports true with the error.
type RevocationLedger interface {
	Revoke(ctx context.Context, entry RevocationEntry) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// CompactableLedger can drop entries whose tokens have expired naturally.
type CompactableLedger interface {
	RevocationLedger
	Compact(ctx context.Context, before time.Time) (int64, error)
}

func validateEntry(entry RevocationEntry) error {
	if entry.JTI == "" {
		return newError(ErrValidation, nil, map[string]any{"field": "jti"})
	}
	if entry.ExpiresAt.IsZero() {
		return newError(ErrValidation, nil, map[string]any{"field": "expires_at"})
	}
	return nil
}
