package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryDSN(t *testing.T) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
}

func TestOpenAndMigrateSQLite(t *testing.T) {
	ctx := context.Background()

	db, err := Open(ctx, DriverSQLite, memoryDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	applied, err := Migrate(ctx, db, DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, applied)

	var count int
	err = db.NewSelect().TableExpr("users").ColumnExpr("count(*)").Scan(ctx, &count)
	require.NoError(t, err)
	assert.Zero(t, count)

	again, err := Migrate(ctx, db, DriverSQLite)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestOpenWithQueryDebug(t *testing.T) {
	ctx := context.Background()

	db, err := Open(ctx, DriverSQLite, memoryDSN(t), WithQueryDebug(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = Migrate(ctx, db, DriverSQLite)
	require.NoError(t, err)

	var one int
	require.NoError(t, db.NewRaw("SELECT 1").Scan(ctx, &one))
	assert.Equal(t, 1, one)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "root@/db")
	assert.ErrorContains(t, err, "unsupported database driver")
}
