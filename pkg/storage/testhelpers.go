package storage

import (
	"context"
	"database/sql"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

// NewTestDB opens a private in-memory SQLite database with every migration applied.
// The database is closed when the test finishes.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open(string(DialectSQLite), ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	if err := RunMigrations(context.Background(), db, DialectSQLite, quiet); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// SkipIfNoDatabase skips the test unless TEST_POSTGRES_URL points at a PostgreSQL database
func SkipIfNoDatabase(t testing.TB) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_URL")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_URL environment variable not set (database not available)")
	}
	return dbURL
}
