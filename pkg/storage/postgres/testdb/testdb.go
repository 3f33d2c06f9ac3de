// Package testdb provides migrated in-memory databases for store tests.
package testdb

import (
	"context"
	"database/sql"
	"io"
	"testing"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage/postgres"
)

// New returns an in-memory SQLite database with every migration applied.
// The pool is pinned to one connection so all queries share the same
// in-memory database; the database is closed when the test ends.
func New(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	if err := postgres.Migrate(context.Background(), db, logger); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}
