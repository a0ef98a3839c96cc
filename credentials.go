package auth

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// CredentialStore hashes and verifies secrets on a bounded pool.
type CredentialStore struct {
	cost int
	pool *semaphore.Weighted

	// dummy is compared against when an account does not exist so an
	// unknown email costs the same as a wrong password.
	dummy string
}

// fallbackDigest is a valid bcrypt digest used if the dummy cannot be built
const fallbackDigest = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// CredentialOption configures a CredentialStore
type CredentialOption func(*CredentialStore)

// WithHashCost overrides the bcrypt cost.
func WithHashCost(cost int) CredentialOption {
	return func(s *CredentialStore) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

// WithHashWorkers caps how many hash operations may run at once.
func WithHashWorkers(n int) CredentialOption {
	return func(s *CredentialStore) {
		if n > 0 {
			s.pool = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewCredentialStore returns a store using the default cost and four workers.
func NewCredentialStore(opts ...CredentialOption) *CredentialStore {
	s := &CredentialStore{
		cost: passwordHashCost(),
		pool: semaphore.NewWeighted(4),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.dummy = fallbackDigest
	if h, err := s.Hash(context.Background(), "not-a-real-password"); err == nil {
		s.dummy = h
	}
	return s
}

// Hash will generate a salted password digest
func (s *CredentialStore) Hash(ctx context.Context, secret string) (string, error) {
	if secret == "" {
		return "", newError(ErrValidation, nil, map[string]any{"field": "password"})
	}

	if err := s.pool.Acquire(ctx, 1); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryOperation, "hashing cancelled")
	}
	defer s.pool.Release(1)

	h, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", newError(ErrValidation, err, map[string]any{"field": "password"})
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(h), nil
}

// Verify checks secret against digest. A mismatch or an unreadable
// digest is reported as false with no error.
func (s *CredentialStore) Verify(ctx context.Context, secret, digest string) (bool, error) {
	if err := s.pool.Acquire(ctx, 1); err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryOperation, "verification cancelled")
	}
	defer s.pool.Release(1)

	if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)); err != nil {
		return false, nil
	}
	return true, nil
}

// Burn runs a throwaway comparison. Used on lookups that found nothing.
func (s *CredentialStore) Burn(ctx context.Context, secret string) {
	_, _ = s.Verify(ctx, secret, s.dummy)
}
