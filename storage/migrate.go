package storage

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-session-auth/migrations"
)

// Migrate applies every pending migration for driver and returns the
// versions it ran.
func Migrate(ctx context.Context, db *bun.DB, driver string) ([]int64, error) {
	fsys, err := migrations.ForDialect(driver)
	if err != nil {
		return nil, err
	}

	dialect := goose.DialectSQLite3
	if driver == DriverPostgres {
		dialect = goose.DialectPostgres
	}

	provider, err := goose.NewProvider(dialect, db.DB, fsys)
	if err != nil {
		return nil, fmt.Errorf("migration provider error: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}
