package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// Users is the users table repository. Finders return (nil, nil) when no
// row matches; every other failure is a domain storage error.
type Users interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id int64) (*User, error)
	FindByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error)
	FindConflictTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	ListTx(ctx context.Context, tx bun.IDB, role *UserRole) ([]*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	UpdateTx(ctx context.Context, tx bun.IDB, user *User, columns ...string) (*User, error)
	ConfirmTx(ctx context.Context, tx bun.IDB, id int64, at time.Time) error
	DeleteTx(ctx context.Context, tx bun.IDB, id int64) (bool, error)
}

type users struct {
	db  *bun.DB
	now func() time.Time
}

var _ Users = (*users)(nil)

// UsersOption configures the users repository
type UsersOption func(*users)

// WithUsersClock overrides the timestamp source
func WithUsersClock(now func() time.Time) UsersOption {
	return func(u *users) {
		if now != nil {
			u.now = now
		}
	}
}

// NewUsersRepository returns the bun backed users repository
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := &users{db: db, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	return scanOne(record, err)
}

func (a *users) FindByID(ctx context.Context, id int64) (*User, error) {
	return a.FindByIDTx(ctx, a.db, id)
}

func (a *users) FindByIDTx(ctx context.Context, tx bun.IDB, id int64) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	return scanOne(record, err)
}

func (a *users) FindByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.username = ?", NormalizeUsername(username)).
		Limit(1).
		Scan(ctx)
	return scanOne(record, err)
}

// ListTx returns users ordered by id, only those with role when it is set
func (a *users) ListTx(ctx context.Context, tx bun.IDB, role *UserRole) ([]*User, error) {
	records := []*User{}
	q := tx.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.id ASC")

	if role != nil {
		q = q.Where("?TableAlias.type_of_user = ?", *role)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, mapStorageError(err)
	}
	return records, nil
}

// FindConflictTx returns a row, other than user itself, that already owns
// user's email, username or phone number. One query covers all three.
func (a *users) FindConflictTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	record := &User{}
	q := tx.NewSelect().
		Model(record).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.WhereOr("?TableAlias.email = ?", user.Email)
			if user.Username != "" {
				q = q.WhereOr("?TableAlias.username = ?", user.Username)
			}
			if user.Phone != "" {
				q = q.WhereOr("?TableAlias.phone_number = ?", user.Phone)
			}
			return q
		})

	if user.ID != 0 {
		q = q.Where("?TableAlias.id <> ?", user.ID)
	}

	err := q.Limit(1).Scan(ctx)
	return scanOne(record, err)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user, a.now())

	if _, err := tx.NewInsert().Model(user).Returning("id").Exec(ctx); err != nil {
		return nil, mapStorageError(err)
	}
	return user, nil
}

// UpdateTx writes the named columns, plus updated_at. created_at,
// password_hash and confirmed are never written here.
func (a *users) UpdateTx(ctx context.Context, tx bun.IDB, user *User, columns ...string) (*User, error) {
	if user == nil || user.ID == 0 {
		return nil, newError(ErrValidation, nil, map[string]any{"field": "id"})
	}

	user.UpdatedAt = a.now().UTC()
	cols := []string{"updated_at"}
	for _, c := range columns {
		if _, locked := lockedColumns[c]; locked {
			continue
		}
		cols = append(cols, c)
	}

	res, err := tx.NewUpdate().
		Model(user).
		Column(cols...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, mapStorageError(err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return nil, newError(ErrIdentityNotFound, nil, map[string]any{"id": user.ID})
	}
	return user, nil
}

func (a *users) ConfirmTx(ctx context.Context, tx bun.IDB, id int64, at time.Time) error {
	at = at.UTC()
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("confirmed = ?", true).
		Set("confirmed_at = ?", at).
		Set("updated_at = ?", at).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return mapStorageError(err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return newError(ErrIdentityNotFound, nil, map[string]any{"id": id})
	}
	return nil
}

func (a *users) DeleteTx(ctx context.Context, tx bun.IDB, id int64) (bool, error) {
	res, err := tx.NewDelete().
		Model((*User)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, mapStorageError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, mapStorageError(err)
	}
	return n > 0, nil
}

var lockedColumns = map[string]struct{}{
	"id":            {},
	"created_at":    {},
	"password_hash": {},
	"confirmed":     {},
	"confirmed_at":  {},
	"updated_at":    {},
}

func scanOne(record *User, err error) (*User, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapStorageError(err)
	}
	return record, nil
}

func prepareUserDefaults(user *User, now time.Time) {
	now = now.UTC()
	if user.Role == "" {
		user.Role = RoleBasic
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
}
