// Package databasetest opens migrated in-memory databases for tests.
package databasetest

import (
	"context"
	"testing"

	"github.com/nerrad567/homegateway/internal/infrastructure/database"
	_ "github.com/nerrad567/homegateway/migrations" // registers the schema
)

// Open returns an in-memory database with every migration applied.
// The database is closed when the test finishes.
func Open(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating in-memory database: %v", err)
	}
	return db
}
