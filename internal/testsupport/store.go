package testsupport

import (
	"context"
	"testing"

	"crosspost/internal/config"
	"crosspost/internal/database"
	"crosspost/internal/outbox"
)

// MustOpenDB opens the configured SQLite database and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *database.DB {
	t.Helper()

	db, err := database.OpenSQLite(context.Background(), cfg.Database.Path)
	if err != nil {
		t.Fatalf("database.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// MustOpenOutbox opens a SQL-backed outbox on a fresh database.
func MustOpenOutbox(t testing.TB, cfg *config.Config) (*outbox.SQLStore, *database.DB) {
	t.Helper()

	db := MustOpenDB(t, cfg)
	return outbox.NewSQLStore(db, nil), db
}
