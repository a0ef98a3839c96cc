// Package config loads the service settings from AUTH_ prefixed
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	auth "github.com/goliatone/go-session-auth"
)

// EnvPrefix is prepended to every variable name
const EnvPrefix = "AUTH_"

// Config is the full service configuration
type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8443"`
	Development bool   `env:"DEVELOPMENT" envDefault:"false"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	SigningKeys   map[string]string `env:"SIGNING_KEYS" envSeparator:"," envKeyValSeparator:"="`
	ActiveKeyID   string            `env:"ACTIVE_KEY_ID"`
	SigningMethod string            `env:"SIGNING_METHOD" envDefault:"HS256"`
	Issuer        string            `env:"ISSUER" envDefault:"go-session-auth"`
	Audience      []string          `env:"AUDIENCE" envSeparator:"," envDefault:"some_audience"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"40m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	ConfirmationTTL time.Duration `env:"CONFIRMATION_TTL" envDefault:"24h"`
	RefreshWindow   time.Duration `env:"REFRESH_WINDOW" envDefault:"15m"`

	TokenLookup    string `env:"TOKEN_LOOKUP" envDefault:"header:Authorization,cookie:access_token_cookie"`
	AuthScheme     string `env:"AUTH_SCHEME" envDefault:"Bearer"`
	ContextKey     string `env:"CONTEXT_KEY" envDefault:"user"`
	CookieName     string `env:"COOKIE_NAME" envDefault:"access_token_cookie"`
	CookiePath     string `env:"COOKIE_PATH" envDefault:"/"`
	CookieDomain   string `env:"COOKIE_DOMAIN"`
	CookieHTTPOnly bool   `env:"COOKIE_HTTP_ONLY" envDefault:"true"`
	CookieSecure   bool   `env:"COOKIE_SECURE" envDefault:"true"`
	CookieSameSite string `env:"COOKIE_SAME_SITE" envDefault:"Lax"`

	CSRFKey string `env:"CSRF_KEY"`

	ExposeBearer      bool `env:"EXPOSE_BEARER" envDefault:"false"`
	IssueRefreshToken bool `env:"ISSUE_REFRESH_TOKEN" envDefault:"true"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseDSN    string `env:"DATABASE_DSN" envDefault:"file::memory:?cache=shared"`
	DatabaseDebug  bool   `env:"DATABASE_DEBUG" envDefault:"false"`

	LedgerBackend   string        `env:"LEDGER_BACKEND" envDefault:"sql"`
	CompactInterval time.Duration `env:"COMPACT_INTERVAL" envDefault:"1h"`
	RedisAddr       string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix  string        `env:"REDIS_LEDGER_PREFIX" envDefault:"auth:revoked:"`

	RateLimitBackend   string `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	LoginRatePerMinute int    `env:"LOGIN_RATE_PER_MINUTE" envDefault:"50"`
	LoginRatePerDay    int    `env:"LOGIN_RATE_PER_DAY" envDefault:"200"`

	BcryptCost   int `env:"BCRYPT_COST" envDefault:"12"`
	HashWorkers  int `env:"HASH_WORKERS" envDefault:"4"`
	MailFailures int `env:"MAIL_MAX_FAILURES" envDefault:"5"`
}

var _ auth.Config = (*Config)(nil)

// Load parses the environment and validates the result
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no safe default
func (c *Config) Validate() error {
	if len(c.SigningKeys) == 0 {
		return fmt.Errorf("config: %sSIGNING_KEYS must hold at least one kid=secret pair", EnvPrefix)
	}

	for kid, secret := range c.SigningKeys {
		if strings.TrimSpace(secret) == "" {
			return fmt.Errorf("config: signing key %q is empty", kid)
		}
	}

	if c.ActiveKeyID == "" && len(c.SigningKeys) == 1 {
		for kid := range c.SigningKeys {
			c.ActiveKeyID = kid
		}
	}

	if _, ok := c.SigningKeys[c.ActiveKeyID]; !ok {
		return fmt.Errorf("config: active key id %q is not in the key ring", c.ActiveKeyID)
	}

	durations := map[string]time.Duration{
		"ACCESS_TOKEN_TTL":  c.AccessTokenTTL,
		"REFRESH_TOKEN_TTL": c.RefreshTokenTTL,
		"CONFIRMATION_TTL":  c.ConfirmationTTL,
		"REFRESH_WINDOW":    c.RefreshWindow,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s%s must be positive", EnvPrefix, name)
		}
	}

	if c.RefreshWindow >= c.AccessTokenTTL {
		return fmt.Errorf("config: refresh window must be shorter than the access token TTL")
	}

	if c.CSRFKey != "" && len(c.CSRFKey) < 32 {
		return fmt.Errorf("config: %sCSRF_KEY must be at least 32 bytes", EnvPrefix)
	}

	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.DatabaseDriver)
	}

	switch c.LedgerBackend {
	case "sql", "redis":
	default:
		return fmt.Errorf("config: unsupported ledger backend %q", c.LedgerBackend)
	}

	switch c.RateLimitBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unsupported rate limit backend %q", c.RateLimitBackend)
	}

	return nil
}

// NeedsRedis reports whether any component is configured on Redis
func (c *Config) NeedsRedis() bool {
	return c.LedgerBackend == "redis" || c.RateLimitBackend == "redis"
}

func (c *Config) GetSigningKeys() map[string]string { return c.SigningKeys }
func (c *Config) GetActiveKeyID() string { return c.ActiveKeyID }
func (c *Config) GetSigningMethod() string { return c.SigningMethod }
func (c *Config) GetIssuer() string { return c.Issuer }
func (c *Config) GetAudience() []string { return c.Audience }
func (c *Config) GetAccessTokenTTL() time.Duration { return c.AccessTokenTTL }
func (c *Config) GetRefreshTokenTTL() time.Duration { return c.RefreshTokenTTL }
func (c *Config) GetConfirmationTTL() time.Duration { return c.ConfirmationTTL }
func (c *Config) GetRefreshWindow() time.Duration { return c.RefreshWindow }
func (c *Config) GetTokenLookup() string { return c.TokenLookup }
func (c *Config) GetAuthScheme() string { return c.AuthScheme }
func (c *Config) GetContextKey() string { return c.ContextKey }
func (c *Config) GetCookieName() string { return c.CookieName }
func (c *Config) GetCookiePath() string { return c.CookiePath }
func (c *Config) GetCookieDomain() string { return c.CookieDomain }
func (c *Config) GetCookieHTTPOnly() bool { return c.CookieHTTPOnly }
func (c *Config) GetCookieSecure() bool { return c.CookieSecure }
func (c *Config) GetExposeBearer() bool { return c.ExposeBearer }
func (c *Config) GetIssueRefreshToken() bool { return c.IssueRefreshToken }

// GetCookieSameSite normalizes the SameSite value to the fiber constants
func (c *Config) GetCookieSameSite() string {
	switch strings.ToLower(c.CookieSameSite) {
	case "strict":
		return "Strict"
	case "none":
		return "None"
	case "disabled":
		return "disabled"
	default:
		return "Lax"
	}
}
