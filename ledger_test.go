package auth_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	auth "github.com/goliatone/go-session-auth"
)

func TestSQLLedgerRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := auth.RevocationEntry{
		JTI:       "jti-1",
		TokenType: auth.TokenTypeAccess,
		Subject:   "7",
		RevokedAt: baseTime,
		ExpiresAt: baseTime.Add(time.Hour),
	}

	revoked, err := env.ledger.IsRevoked(ctx, entry.JTI)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, env.ledger.Revoke(ctx, entry))
	require.NoError(t, env.ledger.Revoke(ctx, entry), "revoking twice is a no-op")

	revoked, err = env.ledger.IsRevoked(ctx, entry.JTI)
	require.NoError(t, err)
	assert.True(t, revoked)

	count, err := env.db.NewSelect().Model((*auth.RevokedToken)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLLedgerRejectsIncompleteEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.ledger.Revoke(ctx, auth.RevocationEntry{ExpiresAt: baseTime})
	assert.True(t, auth.IsValidationError(err))

	err = env.ledger.Revoke(ctx, auth.RevocationEntry{JTI: "jti-1"})
	assert.True(t, auth.IsValidationError(err))
}

func TestSQLLedgerCompact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.ledger.Revoke(ctx, auth.RevocationEntry{JTI: "old", ExpiresAt: baseTime.Add(-time.Minute)}))
	require.NoError(t, env.ledger.Revoke(ctx, auth.RevocationEntry{JTI: "live", ExpiresAt: baseTime.Add(time.Hour)}))

	n, err := env.ledger.Compact(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	revoked, err := env.ledger.IsRevoked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = env.ledger.IsRevoked(ctx, "old")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestCompactorSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.ledger.Revoke(ctx, auth.RevocationEntry{JTI: "expired", ExpiresAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, env.ledger.Revoke(ctx, auth.RevocationEntry{JTI: "pending", ExpiresAt: time.Now().Add(time.Hour)}))

	compactor := auth.NewCompactor(env.ledger, time.Minute, nil)
	assert.Equal(t, int64(1), compactor.Sweep(ctx))
	assert.Equal(t, int64(0), compactor.Sweep(ctx))
}

func TestCompactorRunStopsWithContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		auth.NewCompactor(env.ledger, time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("compactor did not stop after cancel")
	}
}

func newMockLedger(t *testing.T) (*auth.SQLLedger, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return auth.NewSQLLedger(db, nil), mock
}

func TestSQLLedgerFailsClosed(t *testing.T) {
	ledger, mock := newMockLedger(t)
	mock.ExpectQuery("SELECT EXISTS").WillReturnError(errors.New("connection reset by peer"))

	revoked, err := ledger.IsRevoked(context.Background(), "jti-1")
	assert.True(t, revoked)
	assert.True(t, auth.IsStorageError(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedgerCompactError(t *testing.T) {
	ledger, mock := newMockLedger(t)
	mock.ExpectExec("DELETE").WillReturnError(errors.New("disk I/O error"))

	n, err := ledger.Compact(context.Background(), baseTime)
	assert.Zero(t, n)
	assert.True(t, auth.IsStorageError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func unreachableRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLedgerFailsClosed(t *testing.T) {
	ledger := auth.NewRedisLedger(unreachableRedis(t))
	ctx := context.Background()

	revoked, err := ledger.IsRevoked(ctx, "jti-1")
	assert.True(t, revoked)
	assert.True(t, auth.IsStorageError(err))

	err = ledger.Revoke(ctx, auth.RevocationEntry{JTI: "jti-1", ExpiresAt: time.Now().Add(time.Hour)})
	assert.True(t, auth.IsStorageError(err))
}

func TestRedisLedgerSkipsExpiredEntries(t *testing.T) {
	clock := newTestClock()
	ledger := auth.NewRedisLedger(unreachableRedis(t), auth.WithRedisLedgerClock(clock.Now))

	err := ledger.Revoke(context.Background(), auth.RevocationEntry{
		JTI:       "jti-1",
		ExpiresAt: baseTime.Add(-time.Second),
	})
	assert.NoError(t, err, "an already expired token needs no ledger entry")
}

// keyRecorder captures the key of every command without reaching Redis
type keyRecorder struct {
	keys []string
}

func (h *keyRecorder) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *keyRecorder) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		if args := cmd.Args(); len(args) > 1 {
			h.keys = append(h.keys, fmt.Sprint(args[1]))
		}
		return nil
	}
}

func (h *keyRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisLedgerKeyPrefix(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		opts []auth.RedisLedgerOption
		want string
	}{
		{name: "default", want: auth.DefaultRedisLedgerPrefix + "jti-9"},
		{name: "custom", opts: []auth.RedisLedgerOption{auth.WithRedisLedgerPrefix("svc:blocked:")}, want: "svc:blocked:jti-9"},
		{name: "empty keeps default", opts: []auth.RedisLedgerOption{auth.WithRedisLedgerPrefix("")}, want: auth.DefaultRedisLedgerPrefix + "jti-9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := unreachableRedis(t)
			rec := &keyRecorder{}
			client.AddHook(rec)

			ledger := auth.NewRedisLedger(client, tt.opts...)
			require.NoError(t, ledger.Revoke(ctx, auth.RevocationEntry{
				JTI:       "jti-9",
				TokenType: auth.TokenTypeAccess,
				ExpiresAt: time.Now().Add(time.Hour),
			}))
			_, err := ledger.IsRevoked(ctx, "jti-9")
			require.NoError(t, err)

			assert.Equal(t, []string{tt.want, tt.want}, rec.keys)
		})
	}
}
