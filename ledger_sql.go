package auth

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// SQLLedger stores revocations in the revoked_tokens table
type SQLLedger struct {
	db     bun.IDB
	logger Logger
}

var _ CompactableLedger = (*SQLLedger)(nil)

// NewSQLLedger returns a ledger backed by db
func NewSQLLedger(db bun.IDB, logger Logger) *SQLLedger {
	if logger == nil {
		logger = defLogger{name: "auth.ledger"}
	}
	return &SQLLedger{db: db, logger: logger}
}

// Revoke inserts the entry. Revoking the same jti twice is a no-op.
func (l *SQLLedger) Revoke(ctx context.Context, entry RevocationEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	revokedAt := entry.RevokedAt
	if revokedAt.IsZero() {
		revokedAt = time.Now()
	}

	record := &RevokedToken{
		JTI:       entry.JTI,
		TokenType: entry.TokenType,
		Subject:   entry.Subject,
		RevokedAt: revokedAt.UTC(),
		ExpiresAt: entry.ExpiresAt.UTC(),
	}

	_, err := l.db.NewInsert().
		Model(record).
		On("CONFLICT (jti) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		l.logger.Error("ledger revoke failed", "jti", entry.JTI, "error", err)
		return mapStorageError(err)
	}
	return nil
}

// IsRevoked looks the jti up by its unique index. A storage failure
// reports the token as revoked.
func (l *SQLLedger) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := l.db.NewSelect().
		Model((*RevokedToken)(nil)).
		Where("?TableAlias.jti = ?", jti).
		Exists(ctx)
	if err != nil {
		l.logger.Warn("ledger lookup failed, treating token as revoked", "jti", jti, "error", err)
		return true, mapStorageError(err)
	}
	return exists, nil
}

// Compact deletes entries whose tokens expired before the given time
func (l *SQLLedger) Compact(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.NewDelete().
		Model((*RevokedToken)(nil)).
		Where("?TableAlias.expires_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, mapStorageError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapStorageError(err)
	}
	return n, nil
}
