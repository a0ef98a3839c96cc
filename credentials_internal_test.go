package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCredentialStoreDummyDigestIsReadyAtConstruction(t *testing.T) {
	store := NewCredentialStore(WithHashCost(bcrypt.MinCost))

	require.NotEmpty(t, store.dummy)
	cost, err := bcrypt.Cost([]byte(store.dummy))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}

func TestFallbackDigestIsValidBcrypt(t *testing.T) {
	_, err := bcrypt.Cost([]byte(fallbackDigest))
	require.NoError(t, err)

	err = bcrypt.CompareHashAndPassword([]byte(fallbackDigest), []byte("anything"))
	assert.ErrorIs(t, err, bcrypt.ErrMismatchedHashAndPassword)
}
