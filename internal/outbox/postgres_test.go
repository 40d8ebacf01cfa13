package outbox_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"crosspost/internal/clock"
	"crosspost/internal/database"
	"crosspost/internal/outbox"
)

var eventCols = []string{"id", "event_type", "entity_id", "payload", "idempotency_key", "status",
	"retry_count", "throttle_count", "next_retry_at", "created_at", "updated_at", "claimed_at",
	"last_heartbeat", "last_error"}

func newMockStore(t *testing.T) (*outbox.SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return outbox.NewSQLStore(database.New(conn, database.Postgres), clock.NewFake(epoch)), mock
}

func TestPostgresClaimUsesSkipLocked(t *testing.T) {
	store, mock := newMockStore(t)
	ms := epoch.UnixMilli()

	rows := sqlmock.NewRows(eventCols).
		AddRow("e2", "publish", "c2/vk", []byte("{}"), "k2", "processing", 0, 0, ms+5, ms+5, ms, ms, ms, "").
		AddRow("e1", "publish", "c1/vk", []byte("{}"), "k1", "processing", 0, 0, ms, ms, ms, ms, ms, "")
	mock.ExpectQuery(`UPDATE outbox_events\s+SET status = 'processing', claimed_at = \$1, last_heartbeat = \$2, updated_at = \$3`+
		`.*next_retry_at <= \$4.*LIMIT \$5\s+FOR UPDATE SKIP LOCKED`).
		WithArgs(ms, ms, ms, ms, 2).
		WillReturnRows(rows)

	events, err := store.ClaimBatch(context.Background(), 2, epoch)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(events) != 2 || events[0].ID != "e1" || events[1].ID != "e2" {
		t.Fatalf("expected events ordered by due time, got %+v", events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPublishReturnsExistingOnConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO outbox_events`) + `.*VALUES \(\$1, \$2, \$3, \$4, \$5, 'pending', \$6, \$7, \$8\)\s+ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM outbox_events WHERE idempotency_key = $1 AND status <> 'failed'`)).
		WithArgs("dup-key").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing"))

	id, err := store.Publish(context.Background(), "publish", "c1/vk", []byte("{}"), "dup-key")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id != "existing" {
		t.Fatalf("expected existing id, got %s", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresScheduleThrottledWritesCooldown(t *testing.T) {
	store, mock := newMockStore(t)
	ms := epoch.UnixMilli()
	cooldown := 30 * time.Second

	mock.ExpectExec(`UPDATE outbox_events SET status = 'pending', throttle_count = \$1, next_retry_at = \$2`).
		WithArgs(3, ms+cooldown.Milliseconds(), "429 too many requests", ms, "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.ScheduleThrottled(context.Background(), "e1", 3, cooldown, "429 too many requests"); err != nil {
		t.Fatalf("ScheduleThrottled: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
