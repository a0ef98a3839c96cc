package auth

import "encoding/json"

// UserIdentity is the public view of a User exposed through Identity.
// A nil user reads as an empty identity.
type UserIdentity struct {
	user *User
}

var _ Identity = UserIdentity{}

// NewIdentityFromUser returns nil for a nil user
func NewIdentityFromUser(user *User) Identity {
	if user == nil {
		return nil
	}
	return UserIdentity{user: user}
}

func (u UserIdentity) record() *User {
	if u.user == nil {
		return &User{}
	}
	return u.user
}

// ID is the subject form of the user id, "" when unset
func (u UserIdentity) ID() string {
	if u.record().ID == 0 {
		return ""
	}
	return u.record().Subject()
}

func (u UserIdentity) Username() string { return u.record().Username }

func (u UserIdentity) Email() string { return u.record().Email }

func (u UserIdentity) Role() string { return string(u.record().Role) }

// Confirmed reports whether the account email was confirmed
func (u UserIdentity) Confirmed() bool { return u.record().Confirmed }

// User returns the adapted record
func (u UserIdentity) User() *User {
	return u.user
}

// MarshalJSON writes the fields GET /auth/me exposes as "identity"
func (u UserIdentity) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string `json:"id"`
		Username  string `json:"username,omitempty"`
		Email     string `json:"email"`
		Role      string `json:"role"`
		Confirmed bool   `json:"confirmed"`
	}{
		ID:        u.ID(),
		Username:  u.Username(),
		Email:     u.Email(),
		Role:      u.Role(),
		Confirmed: u.Confirmed(),
	})
}
