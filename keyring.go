package auth

import (
	"fmt"
	"sort"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// KeyRing holds the HMAC signing keys by kid. Tokens are signed with the
// active key and verified with whichever key their kid header names, so
// old keys can stay around while tokens signed with them drain.
type KeyRing struct {
	method   jwt.SigningMethod
	activeID string
	keys     map[string][]byte
	jwks     *keyfunc.JWKS
}

// NewKeyRing builds a key ring. method must be an HMAC algorithm.
func NewKeyRing(keys map[string]string, activeID, method string) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("key ring requires at least one signing key")
	}

	if method == "" {
		method = jwt.SigningMethodHS256.Alg()
	}

	sm, ok := jwt.GetSigningMethod(method).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing method %q", method)
	}

	if activeID == "" && len(keys) == 1 {
		for kid := range keys {
			activeID = kid
		}
	}

	if _, ok := keys[activeID]; !ok {
		return nil, fmt.Errorf("active key id %q not found in key ring", activeID)
	}

	ring := &KeyRing{
		method:   sm,
		activeID: activeID,
		keys:     make(map[string][]byte, len(keys)),
	}

	given := make(map[string]keyfunc.GivenKey, len(keys))
	for kid, secret := range keys {
		if secret == "" {
			return nil, fmt.Errorf("signing key %q is empty", kid)
		}
		ring.keys[kid] = []byte(secret)
		given[kid] = keyfunc.NewGivenCustom([]byte(secret), keyfunc.GivenKeyOptions{
			Algorithm: sm.Alg(),
		})
	}
	ring.jwks = keyfunc.NewGiven(given)

	return ring, nil
}

// ActiveKeyID is the kid new tokens are signed with
func (r *KeyRing) ActiveKeyID() string {
	return r.activeID
}

// Method is the signing algorithm
func (r *KeyRing) Method() jwt.SigningMethod {
	return r.method
}

// KeyIDs lists the known kids in sorted order
func (r *KeyRing) KeyIDs() []string {
	ids := make([]string, 0, len(r.keys))
	for kid := range r.keys {
		ids = append(ids, kid)
	}
	sort.Strings(ids)
	return ids
}

// Sign signs claims with the active key and sets the kid header
func (r *KeyRing) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(r.method, claims)
	token.Header["kid"] = r.activeID
	return token.SignedString(r.keys[r.activeID])
}

// Keyfunc resolves the verification key from the kid header
func (r *KeyRing) Keyfunc(token *jwt.Token) (any, error) {
	return r.jwks.Keyfunc(token)
}
