package auth

import (
	"context"
	"fmt"
)

// ClaimsProvider supplies enrichment claims for a subject before a token
// is signed. Keys that collide with base claims are dropped.
type ClaimsProvider interface {
	Claims(ctx context.Context, subject string) (map[string]any, error)
}

// ClaimsProviderFunc adapts a function into a ClaimsProvider.
type ClaimsProviderFunc func(ctx context.Context, subject string) (map[string]any, error)

// Claims satisfies the ClaimsProvider interface.
func (f ClaimsProviderFunc) Claims(ctx context.Context, subject string) (map[string]any, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx, subject)
}

type noopClaimsProvider struct{}

func (noopClaimsProvider) Claims(context.Context, string) (map[string]any, error) {
	return nil, nil
}

func normalizeClaimsProvider(p ClaimsProvider) ClaimsProvider {
	if p == nil {
		return noopClaimsProvider{}
	}
	return p
}

// UserFinder loads a user by id. (nil, nil) means absent.
type UserFinder interface {
	LookupByID(ctx context.Context, id int64) (*User, error)
}

// UserClaimsProvider enriches tokens with the user's role and contact data
type UserClaimsProvider struct {
	Users UserFinder
}

// NewUserClaimsProvider returns a provider backed by users
func NewUserClaimsProvider(users UserFinder) *UserClaimsProvider {
	return &UserClaimsProvider{Users: users}
}

// Claims returns role, username, email and confirmed for subject
func (p *UserClaimsProvider) Claims(ctx context.Context, subject string) (map[string]any, error) {
	id, err := ParseSubject(subject)
	if err != nil {
		return nil, err
	}

	user, err := p.Users.LookupByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, newError(ErrIdentityNotFound, fmt.Errorf("no user for subject %s", subject), nil)
	}

	claims := map[string]any{
		"role":      string(user.Role),
		"email":     user.Email,
		"confirmed": user.Confirmed,
	}
	if user.Username != "" {
		claims["username"] = user.Username
	}
	return claims, nil
}
