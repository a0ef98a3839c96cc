package auth

import (
	"strconv"
	"time"

	"github.com/uptrace/bun"
)

// User is the user model
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             int64      `bun:"id,pk,autoincrement" json:"id"`
	Email          string     `bun:"email,notnull,unique" json:"email"`
	Username       string     `bun:"username,nullzero,unique" json:"username,omitempty"`
	PasswordHash   string     `bun:"password_hash,notnull" json:"-"`
	FirstName      string     `bun:"first_name" json:"first_name,omitempty"`
	LastName       string     `bun:"last_name" json:"last_name,omitempty"`
	Country        string     `bun:"country" json:"country,omitempty"`
	CountryTelCode string     `bun:"country_tel_code" json:"country_tel_code,omitempty"`
	Phone          string     `bun:"phone_number,nullzero,unique" json:"phone_number,omitempty"`
	Address        string     `bun:"address" json:"address,omitempty"`
	Address2       string     `bun:"address_2" json:"address_2,omitempty"`
	PostalCode     string     `bun:"postal_code" json:"postal_code,omitempty"`
	Confirmed      bool       `bun:"confirmed,notnull" json:"confirmed"`
	ConfirmedAt    *time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	Role           UserRole   `bun:"type_of_user,notnull" json:"type_of_user"`
	CreatedAt      time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// Subject is the string form of the user id carried in the sub claim
func (u *User) Subject() string {
	if u == nil {
		return ""
	}
	return strconv.FormatInt(u.ID, 10)
}

// RevokedToken is a revocation ledger row
type RevokedToken struct {
	bun.BaseModel `bun:"table:revoked_tokens,alias:rvk"`
	ID            int64     `bun:"id,pk,autoincrement" json:"-"`
	JTI           string    `bun:"jti,notnull,unique" json:"jti"`
	TokenType     TokenType `bun:"token_type,notnull" json:"token_type"`
	Subject       string    `bun:"subject" json:"subject,omitempty"`
	RevokedAt     time.Time `bun:"revoked_at,notnull" json:"revoked_at"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
}

// ParseSubject converts a sub claim back into a user id
func ParseSubject(sub string) (int64, error) {
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, newError(ErrValidation, err, map[string]any{"field": "sub"})
	}
	return id, nil
}
