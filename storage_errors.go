package auth

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation   = "23505"
	pgIntegrityClass    = "23"
	pgConnectionClass   = "08"
	sqliteUniquePrefix  = "UNIQUE constraint failed"
	sqliteConstraintMsg = "constraint failed"
)

var (
	sqliteUniqueColumn = regexp.MustCompile(`UNIQUE constraint failed: ([\w.]+(?:, [\w.]+)*)`)
	pgDetailKey        = regexp.MustCompile(`Key \(([^)]+)\)`)
)

// identityColumns maps storage columns to the identity field reported to callers
var identityColumns = map[string]string{
	"email":        "email",
	"username":     "username",
	"phone_number": "phone",
	"jti":          "jti",
}

// mapStorageError translates driver errors into the domain taxonomy. It
// must be called at every repository boundary so raw driver errors never
// escape.
func mapStorageError(err error) error {
	if err == nil {
		return nil
	}

	// already classified, e.g. raised inside a RunInTx callback
	var rich *goerrors.Error
	if errors.As(err, &rich) && rich.TextCode != "" {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation:
			return duplicateError(err, pgUniqueField(pgErr))
		case strings.HasPrefix(pgErr.Code, pgIntegrityClass):
			return newError(ErrStorageIntegrity, err, map[string]any{"constraint": pgErr.ConstraintName})
		case strings.HasPrefix(pgErr.Code, pgConnectionClass):
			return newError(ErrStorageConnection, err, nil)
		}
		return newError(ErrStorageConnection, err, map[string]any{"sqlstate": pgErr.Code})
	}

	msg := err.Error()
	if strings.Contains(msg, sqliteUniquePrefix) {
		return duplicateError(err, sqliteUniqueField(msg))
	}

	if strings.Contains(msg, sqliteConstraintMsg) {
		return newError(ErrStorageIntegrity, err, nil)
	}

	return newError(ErrStorageConnection, err, map[string]any{"transient": isTransient(err)})
}

func duplicateError(err error, field string) error {
	meta := map[string]any{}
	if field != "" {
		meta["field"] = field
	}
	return newError(ErrDuplicateIdentity, err, meta)
}

func sqliteUniqueField(msg string) string {
	m := sqliteUniqueColumn.FindStringSubmatch(msg)
	if len(m) < 2 {
		return ""
	}
	first := strings.TrimSpace(strings.Split(m[1], ",")[0])
	if idx := strings.LastIndex(first, "."); idx >= 0 {
		first = first[idx+1:]
	}
	return columnField(first)
}

func pgUniqueField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return columnField(pgErr.ColumnName)
	}
	if m := pgDetailKey.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return columnField(strings.TrimSpace(strings.Split(m[1], ",")[0]))
	}
	for column, field := range identityColumns {
		if strings.Contains(pgErr.ConstraintName, column) {
			return field
		}
	}
	return ""
}

func columnField(column string) string {
	if field, ok := identityColumns[column]; ok {
		return field
	}
	return column
}

func isTransient(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "database is locked")
}
