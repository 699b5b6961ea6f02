// Package testdb opens throwaway migrated databases for service tests.
package testdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/formvault/formvault/config"
	"github.com/formvault/formvault/database"
)

// Open creates a fresh SQLite database in a per-test temp dir, with all
// migrations applied. It is closed when the test finishes.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	cfg := config.Config{DBUrl: filepath.Join(t.TempDir(), "formvault.sqlite")}
	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
