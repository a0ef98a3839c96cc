package auth_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-session-auth"
)

func sampleClaims() *auth.JWTClaims {
	return &auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			Issuer:    "test-issuer",
			Subject:   "42",
			Audience:  jwt.ClaimStrings{"test:audience"},
			IssuedAt:  jwt.NewNumericDate(baseTime),
			ExpiresAt: jwt.NewNumericDate(baseTime.Add(40 * time.Minute)),
		},
		Type:    auth.TokenTypeAccess,
		Version: auth.ClaimsVersion,
	}
}

func TestJWTClaimsFlattensExtra(t *testing.T) {
	claims := sampleClaims()
	claims.Extra = map[string]any{
		"role":  "admin",
		"email": "jane@example.com",
		"sub":   "999",
		"type":  "refresh",
	}

	data, err := json.Marshal(claims)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))

	want := map[string]any{
		"jti":   "jti-1",
		"iss":   "test-issuer",
		"sub":   "42",
		"aud":   []any{"test:audience"},
		"iat":   float64(baseTime.Unix()),
		"exp":   float64(baseTime.Add(40 * time.Minute).Unix()),
		"type":  "access",
		"ver":   float64(auth.ClaimsVersion),
		"role":  "admin",
		"email": "jane@example.com",
	}
	if diff := cmp.Diff(want, flat); diff != "" {
		t.Fatalf("flattened claims mismatch (-want +got):\n%s", diff)
	}
}

func TestJWTClaimsRoundTripCollectsExtra(t *testing.T) {
	claims := sampleClaims()
	claims.Extra = map[string]any{"role": "basic", "confirmed": true}

	data, err := json.Marshal(claims)
	require.NoError(t, err)

	var decoded auth.JWTClaims
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "42", decoded.Subject())
	assert.Equal(t, "jti-1", decoded.TokenID())
	assert.Equal(t, auth.TokenTypeAccess, decoded.TokenType())
	assert.Equal(t, auth.ClaimsVersion, decoded.Version)
	assert.True(t, decoded.Expires().Equal(baseTime.Add(40*time.Minute)))
	assert.True(t, decoded.IssuedAt().Equal(baseTime))

	if diff := cmp.Diff(map[string]any{"role": "basic", "confirmed": true}, decoded.Extra); diff != "" {
		t.Fatalf("extra mismatch (-want +got):\n%s", diff)
	}
}

func TestJWTClaimsWithoutExtra(t *testing.T) {
	data, err := json.Marshal(sampleClaims())
	require.NoError(t, err)

	var decoded auth.JWTClaims
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded.Extra)
}

func TestJWTClaimsRoles(t *testing.T) {
	claims := sampleClaims()
	assert.Equal(t, "", claims.Role())
	assert.False(t, claims.HasRole(""))
	assert.False(t, claims.IsAtLeast(auth.RoleBasic))

	claims.Extra = map[string]any{"role": "admin", "count": 3}
	assert.True(t, claims.HasRole("admin"))
	assert.True(t, claims.IsAtLeast(auth.RoleBasic))
	assert.True(t, claims.IsAtLeast(auth.RoleAdmin))
	assert.Equal(t, "", claims.ExtraString("count"))

	claims.Extra["role"] = "basic"
	assert.False(t, claims.IsAtLeast(auth.RoleAdmin))
}

func TestTokenType(t *testing.T) {
	assert.True(t, auth.TokenTypeAccess.IsValid())
	assert.True(t, auth.TokenTypeConfirm.IsValid())
	assert.False(t, auth.TokenType("session").IsValid())
	assert.Equal(t, "Access", auth.TokenTypeAccess.Label())
	assert.Equal(t, "Refresh", auth.TokenTypeRefresh.Label())
	assert.Equal(t, "", auth.TokenType("").Label())
}

func TestIsReservedClaim(t *testing.T) {
	for _, key := range []string{"iss", "sub", "aud", "exp", "nbf", "iat", "jti", "type", "ver"} {
		assert.True(t, auth.IsReservedClaim(key), key)
	}
	assert.False(t, auth.IsReservedClaim("role"))
}

func TestParseRole(t *testing.T) {
	role, ok := auth.ParseRole("admin")
	assert.True(t, ok)
	assert.Equal(t, auth.RoleAdmin, role)

	_, ok = auth.ParseRole("owner")
	assert.False(t, ok)
	assert.False(t, auth.UserRole("owner").IsAtLeast(auth.RoleBasic))
}

func TestParseSubject(t *testing.T) {
	id, err := auth.ParseSubject("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-1"} {
		_, err := auth.ParseSubject(bad)
		assert.True(t, auth.IsValidationError(err), bad)
	}
}
