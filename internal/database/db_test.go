package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"crosspost/internal/database"
)

func TestOpenSQLiteCreatesSchemaOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crosspost.db")
	db, err := database.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if db.Dialect() != database.SQLite {
		t.Fatalf("unexpected dialect %q", db.Dialect())
	}
	for _, table := range []string{"outbox_events", "content_items", "platform_posts", "runs", "transitions"} {
		var n int
		if err := db.QueryRow(context.Background(), "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n); err != nil {
			t.Fatalf("probe %s: %v", table, err)
		}
		if n != 1 {
			t.Fatalf("expected table %s", table)
		}
	}
	_ = db.Close()

	reopened, err := database.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenSQLiteRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crosspost.db")
	db, err := database.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := db.Exec(context.Background(), "UPDATE schema_version SET version = ?", database.SchemaVersion+1); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	_, err = database.OpenSQLite(context.Background(), path)
	if !errors.Is(err, database.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect database.Dialect
		in      string
		want    string
	}{
		{database.SQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{database.Postgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{database.Postgres, "SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
		{database.Postgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		if got := database.Rebind(tt.dialect, tt.in); got != tt.want {
			t.Fatalf("Rebind(%s, %q) = %q, want %q", tt.dialect, tt.in, got, tt.want)
		}
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tx.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()

	sentinel := errors.New("boom")
	err = db.WithTx(context.Background(), func(tx *database.Tx) error {
		if _, err := tx.Exec(context.Background(),
			"INSERT INTO content_items (id, created_at, updated_at) VALUES (?, ?, ?)", "c1", 1, 1); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	var n int
	if err := db.QueryRow(context.Background(), "SELECT COUNT(1) FROM content_items").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rollback, found %d rows", n)
	}
}

func TestMillisRoundTrip(t *testing.T) {
	if database.Millis(time.Time{}) != 0 || !database.FromMillis(0).IsZero() {
		t.Fatal("zero time must map to 0")
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := database.FromMillis(database.Millis(now)); !got.Equal(now) {
		t.Fatalf("round trip mismatch: %v", got)
	}
}
