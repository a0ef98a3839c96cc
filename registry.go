package auth

import (
	"context"
	"errors"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/uptrace/bun"
)

// RegistrationRequest is the payload accepted by Register
type RegistrationRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Country        string `json:"country"`
	CountryTelCode string `json:"country_tel_code"`
	Phone          string `json:"phone_number"`
	Address        string `json:"address"`
	Address2       string `json:"address_2"`
	PostalCode     string `json:"postal_code"`
}

// Sanitize returns a copy with normalized text fields. The password is
// left untouched.
func (r RegistrationRequest) Sanitize() RegistrationRequest {
	r.Email = NormalizeEmail(r.Email)
	r.Username = NormalizeUsername(r.Username)
	r.FirstName = NormalizeName(r.FirstName)
	r.LastName = NormalizeName(r.LastName)
	r.Country = NormalizeName(r.Country)
	r.Address = collapseSpaces(r.Address)
	r.Address2 = collapseSpaces(r.Address2)
	r.PostalCode = collapseSpaces(r.PostalCode)
	return r
}

// Validate will validate the request
func (r RegistrationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 128), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(MinPasswordLength, 72), PasswordStrength),
		validation.Field(&r.Username, validation.Length(3, 50), validation.Match(usernamePattern)),
		validation.Field(&r.FirstName, validation.Length(0, 100)),
		validation.Field(&r.LastName, validation.Length(0, 100)),
		validation.Field(&r.Country, validation.Length(0, 100)),
		validation.Field(&r.Phone, validation.By(phoneRule(r.CountryTelCode))),
		validation.Field(&r.Address, validation.Length(0, 255)),
		validation.Field(&r.Address2, validation.Length(0, 255)),
		validation.Field(&r.PostalCode, validation.Length(0, 20)),
	)
}

// ProfileUpdate carries the profile fields a user may change. Nil fields
// are left as they are.
type ProfileUpdate struct {
	Username       *string `json:"username"`
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	Country        *string `json:"country"`
	CountryTelCode *string `json:"country_tel_code"`
	Phone          *string `json:"phone_number"`
	Address        *string `json:"address"`
	Address2       *string `json:"address_2"`
	PostalCode     *string `json:"postal_code"`
}

func phoneRule(callingCode string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		if _, err := NormalizePhone(s, callingCode); err != nil {
			return errors.New("must be a valid phone number")
		}
		return nil
	}
}

// Registry owns user records: registration, lookup, confirmation,
// profile changes and deletion.
type Registry struct {
	repo     RepositoryManager
	creds    *CredentialStore
	activity ActivitySink
	now      func() time.Time
	logger   Logger
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryClock overrides the confirmation timestamp source
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRegistryActivitySink sets the sink for user lifecycle events
func WithRegistryActivitySink(sink ActivitySink) RegistryOption {
	return func(r *Registry) {
		r.activity = normalizeActivitySink(sink)
	}
}

// NewRegistry returns a registry on top of repo hashing with creds
func NewRegistry(repo RepositoryManager, creds *CredentialStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		repo:     repo,
		creds:    creds,
		activity: noopActivitySink{},
		now:      time.Now,
		logger:   defLogger{name: "auth.registry"},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register creates a new unconfirmed basic user. Duplicate email,
// username or phone number returns ErrDuplicateIdentity naming the field,
// whether it is caught by the pre-check or by the unique index.
func (r *Registry) Register(ctx context.Context, req RegistrationRequest) (*User, error) {
	req = req.Sanitize()
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}

	phone, err := NormalizePhone(req.Phone, req.CountryTelCode)
	if err != nil {
		return nil, newError(ErrValidation, err, map[string]any{"field": "phone_number"})
	}

	digest, err := r.creds.Hash(ctx, req.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Email:          req.Email,
		Username:       req.Username,
		PasswordHash:   digest,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Country:        req.Country,
		CountryTelCode: phone.CountryCode,
		Phone:          phone.National,
		Address:        req.Address,
		Address2:       req.Address2,
		PostalCode:     req.PostalCode,
		Role:           RoleBasic,
	}

	err = r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := r.repo.Users().FindConflictTx(ctx, tx, user)
		if err != nil {
			return err
		}

		if existing != nil {
			return duplicateError(nil, conflictField(existing, user))
		}

		_, err = r.repo.Users().CreateTx(ctx, tx, user)
		return err
	})
	if err != nil {
		if IsDuplicateIdentityError(err) {
			r.logger.Info("registration rejected, identity taken", "field", DuplicateField(err))
		} else {
			r.logger.Error("registration failed", "error", err)
		}
		return nil, mapStorageError(err)
	}

	r.logger.Info("user registered", "user_id", user.ID)
	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		UserID:    user.Subject(),
	})

	return user, nil
}

// GetByEmail returns the user or ErrIdentityNotFound
func (r *Registry) GetByEmail(ctx context.Context, email string) (*User, error) {
	user, err := r.repo.Users().FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, newError(ErrIdentityNotFound, nil, nil)
	}
	return user, nil
}

// GetByID returns the user or ErrIdentityNotFound
func (r *Registry) GetByID(ctx context.Context, id int64) (*User, error) {
	user, err := r.LookupByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, newError(ErrIdentityNotFound, nil, map[string]any{"id": id})
	}
	return user, nil
}

// GetByUsername returns the user or ErrIdentityNotFound
func (r *Registry) GetByUsername(ctx context.Context, username string) (*User, error) {
	user, err := r.repo.Users().FindByUsernameTx(ctx, r.repo.DB(), username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, newError(ErrIdentityNotFound, nil, map[string]any{"username": username})
	}
	return user, nil
}

// List returns every user, or only those holding role when it is not nil
func (r *Registry) List(ctx context.Context, role *UserRole) ([]*User, error) {
	if role != nil && !role.IsValid() {
		return nil, newError(ErrValidation, nil, map[string]any{"field": "type_of_user"})
	}
	return r.repo.Users().ListTx(ctx, r.repo.DB(), role)
}

// LookupByID returns (nil, nil) when the user does not exist
func (r *Registry) LookupByID(ctx context.Context, id int64) (*User, error) {
	return r.repo.Users().FindByID(ctx, id)
}

// Confirm marks the account email as confirmed. Confirming twice is a
// success and does not write.
func (r *Registry) Confirm(ctx context.Context, id int64) (*User, error) {
	var user *User
	var changed bool
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := r.repo.Users().FindByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if found == nil {
			return newError(ErrIdentityNotFound, nil, map[string]any{"id": id})
		}

		user = found
		if found.Confirmed {
			return nil
		}

		at := r.now().UTC()
		if err := r.repo.Users().ConfirmTx(ctx, tx, id, at); err != nil {
			return err
		}

		found.Confirmed = true
		found.ConfirmedAt = &at
		found.UpdatedAt = at
		changed = true
		return nil
	})
	if err != nil {
		return nil, mapStorageError(err)
	}

	if !changed {
		return user, nil
	}

	r.logger.Info("user confirmed", "user_id", id)
	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType: ActivityEventUserConfirmed,
		UserID:    user.Subject(),
	})
	return user, nil
}

// UpdateProfile applies the non-nil fields of update.
func (r *Registry) UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*User, error) {
	var user *User
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := r.repo.Users().FindByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if found == nil {
			return newError(ErrIdentityNotFound, nil, map[string]any{"id": id})
		}

		columns, err := applyProfileUpdate(found, update)
		if err != nil {
			return err
		}

		if len(columns) == 0 {
			user = found
			return nil
		}

		existing, err := r.repo.Users().FindConflictTx(ctx, tx, found)
		if err != nil {
			return err
		}

		if existing != nil {
			return duplicateError(nil, conflictField(existing, found))
		}

		user, err = r.repo.Users().UpdateTx(ctx, tx, found, columns...)
		return err
	})
	if err != nil {
		return nil, mapStorageError(err)
	}
	return user, nil
}

// SetRole changes the role of a user
func (r *Registry) SetRole(ctx context.Context, id int64, role UserRole) (*User, error) {
	if !role.IsValid() {
		return nil, newError(ErrValidation, nil, map[string]any{"field": "type_of_user"})
	}

	var user *User
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := r.repo.Users().FindByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if found == nil {
			return newError(ErrIdentityNotFound, nil, map[string]any{"id": id})
		}

		found.Role = role
		user, err = r.repo.Users().UpdateTx(ctx, tx, found, "type_of_user")
		return err
	})
	if err != nil {
		return nil, mapStorageError(err)
	}
	return user, nil
}

// Delete removes the user. Outstanding tokens are not touched: they fail
// verification once their subject is gone.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	var deleted bool
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		deleted, err = r.repo.Users().DeleteTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return mapStorageError(err)
	}

	if !deleted {
		return newError(ErrIdentityNotFound, nil, map[string]any{"id": id})
	}

	var metadata map[string]any
	if claims, ok := ClaimsFromContext(ctx); ok {
		metadata = map[string]any{"actor_id": claims.Subject()}
	}

	r.logger.Info("user deleted", "user_id", id)
	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType: ActivityEventUserDeleted,
		UserID:    (&User{ID: id}).Subject(),
		Metadata:  metadata,
	})
	return nil
}

func applyProfileUpdate(user *User, update ProfileUpdate) ([]string, error) {
	var columns []string
	set := func(dst *string, src *string, column string, normalize func(string) string) {
		if src == nil {
			return
		}
		*dst = normalize(*src)
		columns = append(columns, column)
	}

	set(&user.Username, update.Username, "username", NormalizeUsername)
	set(&user.FirstName, update.FirstName, "first_name", NormalizeName)
	set(&user.LastName, update.LastName, "last_name", NormalizeName)
	set(&user.Country, update.Country, "country", NormalizeName)
	set(&user.Address, update.Address, "address", collapseSpaces)
	set(&user.Address2, update.Address2, "address_2", collapseSpaces)
	set(&user.PostalCode, update.PostalCode, "postal_code", collapseSpaces)

	err := validation.ValidateStruct(user,
		validation.Field(&user.Username, validation.Length(3, 50), validation.Match(usernamePattern)),
		validation.Field(&user.FirstName, validation.Length(0, 100)),
		validation.Field(&user.LastName, validation.Length(0, 100)),
		validation.Field(&user.Country, validation.Length(0, 100)),
		validation.Field(&user.Address, validation.Length(0, 255)),
		validation.Field(&user.Address2, validation.Length(0, 255)),
		validation.Field(&user.PostalCode, validation.Length(0, 20)),
	)
	if err != nil {
		return nil, validationError(err)
	}

	if update.Phone != nil || update.CountryTelCode != nil {
		raw := user.Phone
		if update.Phone != nil {
			raw = *update.Phone
		}
		code := user.CountryTelCode
		if update.CountryTelCode != nil {
			code = *update.CountryTelCode
		}

		phone, err := NormalizePhone(raw, code)
		if err != nil {
			return nil, newError(ErrValidation, err, map[string]any{"field": "phone_number"})
		}
		user.Phone = phone.National
		user.CountryTelCode = phone.CountryCode
		columns = append(columns, "phone_number", "country_tel_code")
	}

	return columns, nil
}

func conflictField(existing, candidate *User) string {
	switch {
	case existing.Email == candidate.Email:
		return "email"
	case candidate.Username != "" && existing.Username == candidate.Username:
		return "username"
	case candidate.Phone != "" && existing.Phone == candidate.Phone:
		return "phone"
	}
	return ""
}

// validationError turns ozzo errors into ErrValidation. The first field
// in name order is reported as "field", all of them under "fields".
func validationError(err error) error {
	var verrs validation.Errors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return newError(ErrValidation, err, nil)
	}

	names := make([]string, 0, len(verrs))
	fields := make(map[string]any, len(verrs))
	for name, e := range verrs {
		names = append(names, name)
		fields[name] = e.Error()
	}
	sort.Strings(names)

	return newError(ErrValidation, err, map[string]any{
		"field":  names[0],
		"fields": fields,
	})
}
