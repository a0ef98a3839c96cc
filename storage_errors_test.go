package auth

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapStorageError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      string
		field     string
		transient bool
	}{
		{
			name:  "postgres unique with column",
			err:   &pgconn.PgError{Code: "23505", ColumnName: "email"},
			kind:  TextCodeDuplicateIdentity,
			field: "email",
		},
		{
			name:  "postgres unique from detail",
			err:   &pgconn.PgError{Code: "23505", Detail: "Key (phone_number)=(6502530000) already exists."},
			kind:  TextCodeDuplicateIdentity,
			field: "phone",
		},
		{
			name:  "postgres unique from constraint",
			err:   &pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"},
			kind:  TextCodeDuplicateIdentity,
			field: "username",
		},
		{
			name: "postgres not null",
			err:  &pgconn.PgError{Code: "23502", ConstraintName: "users_email_not_null"},
			kind: TextCodeStorageIntegrity,
		},
		{
			name: "postgres connection",
			err:  &pgconn.PgError{Code: "08006"},
			kind: TextCodeStorageConnection,
		},
		{
			name:  "wrapped postgres",
			err:   fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ColumnName: "username"}),
			kind:  TextCodeDuplicateIdentity,
			field: "username",
		},
		{
			name:  "sqlite unique",
			err:   errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)"),
			kind:  TextCodeDuplicateIdentity,
			field: "email",
		},
		{
			name:  "sqlite composite unique",
			err:   errors.New("UNIQUE constraint failed: users.phone_number, users.country_tel_code"),
			kind:  TextCodeDuplicateIdentity,
			field: "phone",
		},
		{
			name: "sqlite other constraint",
			err:  errors.New("constraint failed: NOT NULL constraint failed: users.email (1299)"),
			kind: TextCodeStorageIntegrity,
		},
		{
			name:      "bad connection",
			err:       driver.ErrBadConn,
			kind:      TextCodeStorageConnection,
			transient: true,
		},
		{
			name:      "deadline",
			err:       context.DeadlineExceeded,
			kind:      TextCodeStorageConnection,
			transient: true,
		},
		{
			name: "generic",
			err:  errors.New("syntax error near FROM"),
			kind: TextCodeStorageConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapStorageError(tt.err)
			rich := AsRichError(mapped)
			assert.Equal(t, tt.kind, rich.TextCode)
			assert.Equal(t, tt.err, rich.Source, "the driver error is kept as the source")

			if tt.field != "" {
				assert.Equal(t, tt.field, DuplicateField(mapped))
			}
			if tt.transient {
				assert.Equal(t, true, rich.Metadata["transient"])
			}
		})
	}
}

func TestMapStorageErrorPassesDomainErrors(t *testing.T) {
	assert.Nil(t, mapStorageError(nil))

	dup := duplicateError(nil, "email")
	assert.Same(t, dup, mapStorageError(dup))

	conn := newError(ErrStorageConnection, errors.New("down"), nil)
	assert.Same(t, conn, mapStorageError(conn))

	missing := newError(ErrIdentityNotFound, nil, map[string]any{"id": 1})
	assert.Same(t, missing, mapStorageError(missing))

	invalid := newError(ErrValidation, nil, map[string]any{"field": "username"})
	assert.Same(t, invalid, mapStorageError(invalid))
}
