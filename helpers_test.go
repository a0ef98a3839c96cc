package auth_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-session-auth"
	"github.com/goliatone/go-session-auth/config"
	"github.com/goliatone/go-session-auth/storage"
)

const testPassword = "Secr3t!pass"

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: baseTime}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestConfig() *config.Config {
	return &config.Config{
		SigningKeys:       map[string]string{"k1": "test-signing-key-one", "k0": "test-signing-key-zero"},
		ActiveKeyID:       "k1",
		SigningMethod:     "HS256",
		Issuer:            "test-issuer",
		Audience:          []string{"test:audience"},
		AccessTokenTTL:    40 * time.Minute,
		RefreshTokenTTL:   30 * 24 * time.Hour,
		ConfirmationTTL:   24 * time.Hour,
		RefreshWindow:     15 * time.Minute,
		TokenLookup:       "header:Authorization,cookie:access_token_cookie",
		AuthScheme:        "Bearer",
		ContextKey:        "user",
		CookieName:        "access_token_cookie",
		CookiePath:        "/",
		CookieHTTPOnly:    true,
		CookieSecure:      true,
		CookieSameSite:    "Lax",
		ExposeBearer:      true,
		IssueRefreshToken: true,
		DatabaseDriver:    storage.DriverSQLite,
		LedgerBackend:     "sql",
		RateLimitBackend:  "memory",
	}
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = storage.Migrate(ctx, db, storage.DriverSQLite)
	require.NoError(t, err)
	return db
}

func newTestCredentials() *auth.CredentialStore {
	return auth.NewCredentialStore(auth.WithHashCost(bcrypt.MinCost))
}

// testEnv wires every component on an in memory database
type testEnv struct {
	cfg      *config.Config
	clock    *testClock
	db       *bun.DB
	repo     auth.RepositoryManager
	ledger   *auth.SQLLedger
	creds    *auth.CredentialStore
	registry *auth.Registry
	issuer   *auth.TokenIssuer
	service  *auth.Auther
	mails    *mailbox
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		cfg:   newTestConfig(),
		clock: newTestClock(),
		db:    newTestDB(t),
		creds: newTestCredentials(),
		mails: &mailbox{},
	}

	env.repo = auth.NewRepositoryManager(env.db, auth.WithUsersClock(env.clock.Now))
	env.ledger = env.repo.Revocations()
	env.registry = auth.NewRegistry(env.repo, env.creds, auth.WithRegistryClock(env.clock.Now))

	issuer, err := auth.NewTokenIssuerFromConfig(env.cfg, env.ledger,
		auth.WithIssuerClock(env.clock.Now),
		auth.WithClaimsProvider(auth.NewUserClaimsProvider(env.registry)),
	)
	require.NoError(t, err)
	env.issuer = issuer

	env.service = auth.NewAuthenticator(env.registry, env.creds, env.issuer, env.ledger).
		WithMailer(env.mails).
		WithRefreshTokens(true)

	return env
}

func (env *testEnv) register(t *testing.T, email string) *auth.User {
	t.Helper()
	user, err := env.registry.Register(context.Background(), auth.RegistrationRequest{
		Email:    email,
		Password: testPassword,
	})
	require.NoError(t, err)
	return user
}

func (env *testEnv) registerConfirmed(t *testing.T, email string) *auth.User {
	t.Helper()
	user := env.register(t, email)
	user, err := env.registry.Confirm(context.Background(), user.ID)
	require.NoError(t, err)
	return user
}

type mailbox struct {
	mu   sync.Mutex
	sent []*auth.IssuedToken
	err  error
}

func (m *mailbox) SendConfirmation(_ context.Context, _ *auth.User, token *auth.IssuedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, token)
	return m.err
}

func (m *mailbox) last() *auth.IssuedToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}
