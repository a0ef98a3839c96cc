package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisLedgerPrefix namespaces revoked jti keys
const DefaultRedisLedgerPrefix = "auth:revoked:"

// RedisLedger keeps each revoked jti as a key that expires together with
// the token, so it never needs compaction.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
	logger Logger
}

var _ RevocationLedger = (*RedisLedger)(nil)

// RedisLedgerOption configures a RedisLedger
type RedisLedgerOption func(*RedisLedger)

// WithRedisLedgerPrefix overrides the key prefix
func WithRedisLedgerPrefix(prefix string) RedisLedgerOption {
	return func(l *RedisLedger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithRedisLedgerClock overrides the time source used for TTLs
func WithRedisLedgerClock(now func() time.Time) RedisLedgerOption {
	return func(l *RedisLedger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithRedisLedgerLogger sets the logger
func WithRedisLedgerLogger(logger Logger) RedisLedgerOption {
	return func(l *RedisLedger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewRedisLedger returns a ledger backed by client
func NewRedisLedger(client redis.UniversalClient, opts ...RedisLedgerOption) *RedisLedger {
	l := &RedisLedger{
		client: client,
		prefix: DefaultRedisLedgerPrefix,
		now:    time.Now,
		logger: defLogger{name: "auth.ledger"},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *RedisLedger) key(jti string) string {
	return l.prefix + jti
}

// Revoke stores the jti until the token would have expired. Tokens that
// are already past expiry are not stored.
func (l *RedisLedger) Revoke(ctx context.Context, entry RevocationEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	ttl := entry.ExpiresAt.Sub(l.now())
	if ttl <= 0 {
		return nil
	}

	if err := l.client.SetNX(ctx, l.key(entry.JTI), string(entry.TokenType), ttl).Err(); err != nil {
		l.logger.Error("ledger revoke failed", "jti", entry.JTI, "error", err)
		return newError(ErrStorageConnection, err, map[string]any{"backend": "redis"})
	}
	return nil
}

// IsRevoked checks for the jti key. A Redis failure reports the token as
// revoked.
func (l *RedisLedger) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(jti)).Result()
	if err != nil {
		l.logger.Warn("ledger lookup failed, treating token as revoked", "jti", jti, "error", err)
		return true, newError(ErrStorageConnection, err, map[string]any{"backend": "redis"})
	}
	return n > 0, nil
}
