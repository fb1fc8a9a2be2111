package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestGetMigrations_Ordered(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "migrations must be numbered consecutively")
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL(DialectPostgres))
		assert.NotEmpty(t, m.SQL(DialectSQLite))
	}
}

func TestRunMigrations_SQLite(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(GetMigrations()), count)

	for _, table := range []string{
		"permissions", "roles", "role_grants", "user_roles", "user_grants",
		"tenants", "modules", "tenant_modules", "menu_items", "module_menus", "audit_logs",
	} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1", table,
		).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}

	// Second run is a no-op
	require.NoError(t, RunMigrations(ctx, db, DialectSQLite, quietLogger()))
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(GetMigrations()), count)
}

func TestRunMigrations_CreateTableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnError(errors.New("permission denied"))

	err = RunMigrations(context.Background(), db, DialectPostgres, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create migrations table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_RollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS permissions").
		WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), db, DialectPostgres, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute migration 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_SkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"version"})
	for _, m := range GetMigrations() {
		rows.AddRow(m.Version)
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(rows)

	require.NoError(t, RunMigrations(context.Background(), db, DialectPostgres, quietLogger()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
