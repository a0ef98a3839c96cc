package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"

	auth "github.com/goliatone/go-session-auth"
	"github.com/goliatone/go-session-auth/activitymap"
	"github.com/goliatone/go-session-auth/config"
	"github.com/goliatone/go-session-auth/logging"
	"github.com/goliatone/go-session-auth/middleware/csrf"
	"github.com/goliatone/go-session-auth/ratelimit"
	"github.com/goliatone/go-session-auth/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	root, err := logging.New(logging.Config{
		Development: cfg.Development,
		Level:       cfg.LogLevel,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer root.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logging.NewProvider(root)); err != nil {
		root.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logs *logging.Provider) error {
	logger := logs.GetLogger("server")

	db, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, storage.WithQueryDebug(cfg.DatabaseDebug))
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := storage.Migrate(ctx, db, cfg.DatabaseDriver)
	if err != nil {
		return err
	}
	logger.Info("schema ready", "driver", cfg.DatabaseDriver, "applied", applied)

	var rdb redis.UniversalClient
	if cfg.NeedsRedis() {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
	}

	repo := auth.NewRepositoryManager(db)
	repo.MustValidate()

	ledger := buildLedger(ctx, cfg, repo, rdb, logs)

	creds := auth.NewCredentialStore(
		auth.WithHashCost(cfg.BcryptCost),
		auth.WithHashWorkers(cfg.HashWorkers),
	)

	audit := logs.GetLogger("activity")
	sink := activitymap.NewSink(func(_ context.Context, record activitymap.Normalized) error {
		audit.Info(record.Verb,
			"actor_id", record.ActorID,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"channel", record.Channel,
			"metadata", record.Metadata,
			"occurred_at", record.OccurredAt,
		)
		return nil
	})

	registry := auth.NewRegistry(repo, creds,
		auth.WithRegistryLogger(logs.GetLogger("registry")),
		auth.WithRegistryActivitySink(sink),
	)

	issuer, err := auth.NewTokenIssuerFromConfig(cfg, ledger,
		auth.WithClaimsProvider(auth.NewUserClaimsProvider(registry)),
		auth.WithIssuerLogger(logs.GetLogger("issuer")),
	)
	if err != nil {
		return err
	}

	mailer := auth.NewBreakerMailer(
		auth.LogMailer{Logger: logs.GetLogger("mailer")},
		auth.BreakerSettings{MaxFailures: uint32(cfg.MailFailures)},
		logs.GetLogger("mailer"),
	)

	service := auth.NewAuthenticator(registry, creds, issuer, ledger).
		WithLogger(logs.GetLogger("service")).
		WithActivitySink(sink).
		WithMailer(mailer).
		WithRefreshTokens(cfg.GetIssueRefreshToken())

	session := auth.SessionMiddleware(auth.SessionOptions{
		Config: cfg,
		Issuer: issuer,
		Users:  registry,
		Auth:   service,
		Logger: logs.GetLogger("session"),
	})

	limiter := ratelimit.Middleware(ratelimit.Config{
		Limiter: buildLimiter(cfg, rdb),
		Logger:  logs.GetLogger("ratelimit"),
	})

	app := fiber.New(fiber.Config{
		AppName:               "go-session-auth",
		DisableStartupMessage: !cfg.Development,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})
	app.Use(requestid.New())
	app.Use(recover.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	routes := auth.NewHTTPAuthenticator(service, registry, cfg, session).
		WithLogger(logs.GetLogger("http")).
		WithLoginLimiter(limiter)

	if cfg.CSRFKey != "" {
		routes.WithCSRF(csrf.New(csrf.Config{
			SecureKey: []byte(cfg.CSRFKey),
			Skip:      auth.CookieSessionOnly(cfg.GetCookieName()),
		}))
	}
	routes.RegisterRoutes(app)

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		errc <- app.Listen(cfg.ListenAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildLedger(ctx context.Context, cfg *config.Config, repo auth.RepositoryManager, rdb redis.UniversalClient, logs *logging.Provider) auth.RevocationLedger {
	if cfg.LedgerBackend == "redis" {
		return auth.NewRedisLedger(rdb,
			auth.WithRedisLedgerPrefix(cfg.RedisKeyPrefix),
			auth.WithRedisLedgerLogger(logs.GetLogger("ledger")),
		)
	}

	ledger := auth.NewSQLLedger(repo.DB(), logs.GetLogger("ledger"))
	go auth.NewCompactor(ledger, cfg.CompactInterval, logs.GetLogger("compactor")).Run(ctx)
	return ledger
}

func buildLimiter(cfg *config.Config, rdb redis.UniversalClient) ratelimit.Limiter {
	rules := []ratelimit.Rule{
		{Limit: cfg.LoginRatePerMinute, Window: time.Minute},
		{Limit: cfg.LoginRatePerDay, Window: 24 * time.Hour},
	}
	if cfg.RateLimitBackend == "redis" {
		return ratelimit.NewRedisLimiter(rdb, "auth:login", rules...)
	}
	return ratelimit.NewMemoryLimiter(rules...)
}
