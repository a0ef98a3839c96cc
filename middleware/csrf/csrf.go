// Package csrf protects cookie authenticated routes with signed,
// stateless double-submit tokens.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

var (
	ErrTokenMismatch    = errors.New("CSRF token mismatch")
	ErrTokenMissing     = errors.New("CSRF token missing")
	ErrTokenExpired     = errors.New("CSRF token expired")
	ErrSecureKeyMissing = errors.New("CSRF secure key required")
)

// DefaultTokenLength is the nonce length in bytes
const DefaultTokenLength = 32

// DefaultContextKey is the locals key holding the token
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the form field carrying the token
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the header carrying the token
const DefaultHeaderName = "X-CSRF-Token"

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(c *fiber.Ctx) bool

	// TokenLength is the nonce length in bytes
	TokenLength int

	// ContextKey defines the key for storing the token in locals
	ContextKey string

	FormFieldName string
	HeaderName    string

	// TokenLookup defines where to look for the token
	// Format: "form:_token,header:X-CSRF-Token"
	TokenLookup string

	// SessionKey binds a token to the caller, the client IP by default
	SessionKey func(c *fiber.Ctx) string

	ErrorHandler fiber.ErrorHandler

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Expiration defines how long tokens are valid
	Expiration time.Duration

	// SecureKey signs tokens, at least 32 bytes. A random key is generated
	// when empty, which only works for a single process.
	SecureKey []byte

	Now func() time.Time
}

// TokenExtractor pulls the submitted token out of a request
type TokenExtractor func(c *fiber.Ctx) string

// New creates a new CSRF middleware
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)
	extractors := getExtractors(cfg.TokenLookup, cfg.FormFieldName, cfg.HeaderName)

	return func(c *fiber.Ctx) error {
		if cfg.Skip != nil && cfg.Skip(c) {
			return c.Next()
		}

		method := strings.ToUpper(c.Method())
		if slices.Contains(cfg.SafeMethods, method) {
			token, err := generateToken(c, cfg)
			if err != nil {
				return cfg.ErrorHandler(c, err)
			}
			c.Locals(cfg.ContextKey, token)
			c.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
			c.Locals(cfg.ContextKey+"_header", cfg.HeaderName)
			return c.Next()
		}

		received := extractToken(c, extractors)
		if received == "" {
			return cfg.ErrorHandler(c, ErrTokenMissing)
		}

		if err := validateToken(c, cfg, received); err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, received)
		return c.Next()
	}
}

func generateToken(c *fiber.Ctx, cfg Config) (string, error) {
	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	timestamp := cfg.Now().UTC().Unix()
	payload := fmt.Sprintf("%d:%s:%s", timestamp, hex.EncodeToString(nonce), sessionDigest(c, cfg))

	token := fmt.Sprintf("%s:%s", payload, hex.EncodeToString(sign(cfg.SecureKey, payload)))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func validateToken(c *fiber.Ctx, cfg Config, token string) error {
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return ErrTokenMismatch
	}

	timestampStr, nonceHex, sessionFromToken, signatureHex := parts[0], parts[1], parts[2], parts[3]

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	if _, err := hex.DecodeString(nonceHex); err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(signature, sign(cfg.SecureKey, strings.Join(parts[:3], ":"))) {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(sessionFromToken), []byte(sessionDigest(c, cfg))) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 {
		expiresAt := time.Unix(timestamp, 0).Add(cfg.Expiration)
		if cfg.Now().UTC().After(expiresAt) {
			return ErrTokenExpired
		}
	}

	return nil
}

func sign(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// sessionDigest keeps the token free of ':' whatever the session key holds
func sessionDigest(c *fiber.Ctx, cfg Config) string {
	sum := sha256.Sum256([]byte(cfg.SessionKey(c)))
	return hex.EncodeToString(sum[:8])
}

func extractToken(c *fiber.Ctx, extractors []TokenExtractor) string {
	for _, extractor := range extractors {
		if token := extractor(c); token != "" {
			return token
		}
	}
	return ""
}

// getExtractors returns token extractors based on configuration
func getExtractors(tokenLookup, formField, header string) []TokenExtractor {
	if tokenLookup == "" {
		return []TokenExtractor{
			extractorFromHeader(header),
			extractorFromForm(formField),
		}
	}

	var extractors []TokenExtractor
	for _, part := range strings.Split(tokenLookup, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "form:"):
			extractors = append(extractors, extractorFromForm(strings.TrimPrefix(part, "form:")))
		case strings.HasPrefix(part, "header:"):
			extractors = append(extractors, extractorFromHeader(strings.TrimPrefix(part, "header:")))
		}
	}
	return extractors
}

func extractorFromForm(fieldName string) TokenExtractor {
	return func(c *fiber.Ctx) string {
		return c.FormValue(fieldName)
	}
}

func extractorFromHeader(headerName string) TokenExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

func configDefault(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions, fiber.MethodTrace}
	}

	if cfg.Expiration == 0 {
		cfg.Expiration = 24 * time.Hour
	}

	if cfg.SessionKey == nil {
		// fallback to IP based key, less secure but OK
		cfg.SessionKey = func(c *fiber.Ctx) string {
			return "ip:" + c.IP()
		}
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	cfg.SecureKey = initializeSecureKey(cfg.SecureKey)

	return cfg
}

func defaultErrorHandler(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"code": "CSRF_MISSING", "error": err.Error()})
	case errors.Is(err, ErrTokenMismatch), errors.Is(err, ErrTokenExpired):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"code": "CSRF_INVALID", "error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"code": "CSRF_ERROR", "error": "CSRF validation error"})
	}
}

func initializeSecureKey(current []byte) []byte {
	if len(current) > 0 {
		if len(current) < 32 {
			panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(current)))
		}
		return current
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}
