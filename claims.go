package auth

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimsVersion is bumped whenever the base claim layout changes
const ClaimsVersion = 1

// TokenType tells access, refresh and confirmation tokens apart
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
	TokenTypeConfirm TokenType = "confirm"
)

// IsValid reports whether t is a known token type
func (t TokenType) IsValid() bool {
	switch t {
	case TokenTypeAccess, TokenTypeRefresh, TokenTypeConfirm:
		return true
	}
	return false
}

// Label is the display form used in receipts, e.g. "Access"
func (t TokenType) Label() string {
	if t == "" {
		return ""
	}
	return titleCaser.String(string(t))
}

// reservedClaims can never be set through Extra
var reservedClaims = map[string]struct{}{
	"iss":  {},
	"sub":  {},
	"aud":  {},
	"exp":  {},
	"nbf":  {},
	"iat":  {},
	"jti":  {},
	"type": {},
	"ver":  {},
}

// IsReservedClaim reports whether key belongs to the base claim set
func IsReservedClaim(key string) bool {
	_, ok := reservedClaims[key]
	return ok
}

// JWTClaims is the signed payload. Base claims come from
// jwt.RegisteredClaims plus type and ver. Extra holds enrichment claims
// and is flattened into the top level JSON object.
type JWTClaims struct {
	jwt.RegisteredClaims
	Type    TokenType      `json:"type"`
	Version int            `json:"ver"`
	Extra   map[string]any `json:"-"`
}

// claimsWire has the JWTClaims layout without its JSON methods
type claimsWire struct {
	jwt.RegisteredClaims
	Type    TokenType `json:"type"`
	Version int       `json:"ver"`
}

// MarshalJSON flattens Extra next to the base claims. Base claims win.
func (c JWTClaims) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(claimsWire{
		RegisteredClaims: c.RegisteredClaims,
		Type:             c.Type,
		Version:          c.Version,
	})
	if err != nil {
		return nil, err
	}

	if len(c.Extra) == 0 {
		return base, nil
	}

	out := make(map[string]any, len(c.Extra)+8)
	for k, v := range c.Extra {
		if IsReservedClaim(k) {
			continue
		}
		out[k] = v
	}

	var baseMap map[string]json.RawMessage
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return nil, err
	}
	for k, v := range baseMap {
		out[k] = v
	}

	return json.Marshal(out)
}

// UnmarshalJSON reads base claims and collects everything else into Extra
func (c *JWTClaims) UnmarshalJSON(data []byte) error {
	var wire claimsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	c.RegisteredClaims = wire.RegisteredClaims
	c.Type = wire.Type
	c.Version = wire.Version
	c.Extra = nil

	for k, v := range all {
		if IsReservedClaim(k) {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any, len(all))
		}
		c.Extra[k] = v
	}
	return nil
}

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// TokenID returns the jti
func (c *JWTClaims) TokenID() string {
	return c.RegisteredClaims.ID
}

// TokenType returns the type claim
func (c *JWTClaims) TokenType() TokenType {
	return c.Type
}

// Role returns the enrichment role claim, if any
func (c *JWTClaims) Role() string {
	return c.ExtraString("role")
}

// ExtraString returns Extra[key] when it is a string
func (c *JWTClaims) ExtraString(key string) string {
	if c.Extra == nil {
		return ""
	}
	s, _ := c.Extra[key].(string)
	return s
}

// HasRole checks the enrichment role claim
func (c *JWTClaims) HasRole(role string) bool {
	return role != "" && c.Role() == role
}

// IsAtLeast checks if the role claim meets the minimum required role
func (c *JWTClaims) IsAtLeast(minRole UserRole) bool {
	return UserRole(c.Role()).IsAtLeast(minRole)
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
