package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/clock"
	"crosspost/internal/database"
	"crosspost/internal/services"
)

const eventColumns = `id, event_type, entity_id, payload, idempotency_key, status, retry_count,
	throttle_count, next_retry_at, created_at, updated_at, claimed_at, last_heartbeat, last_error`

// maxErrorLength bounds last_error so a verbose upstream body cannot bloat rows.
const maxErrorLength = 2000

// SQLStore implements Store on top of database.DB.
type SQLStore struct {
	db    *database.DB
	clock clock.Clock
}

// NewSQLStore returns a Store backed by db.
func NewSQLStore(db *database.DB, clk clock.Clock) *SQLStore {
	return &SQLStore{db: db, clock: clock.OrReal(clk)}
}

func (s *SQLStore) now() int64 {
	return database.Millis(s.clock.Now())
}

// Publish inserts a pending event unless a non-failed event with the same
// idempotency key exists, in which case that event's id is returned.
func (s *SQLStore) Publish(ctx context.Context, eventType, entityID string, payload []byte, idempotencyKey string) (string, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return "", services.Wrap(services.ErrValidation, "outbox", "publish", "event type is required", nil)
	}
	if payload == nil {
		payload = []byte{}
	}
	if idempotencyKey == "" {
		idempotencyKey = IdempotencyKey(eventType, entityID, payload)
	}

	// A concurrent MarkFailed can release the key between insert and lookup;
	// one more insert attempt settles it.
	for attempt := 0; attempt < 2; attempt++ {
		id := uuid.NewString()
		now := s.now()
		res, err := s.db.Exec(ctx, `INSERT INTO outbox_events
			(id, event_type, entity_id, payload, idempotency_key, status, next_retry_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			id, eventType, entityID, payload, idempotencyKey, now, now, now)
		if err != nil {
			return "", fmt.Errorf("insert outbox event: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return id, nil
		}

		var existing string
		err = s.db.QueryRow(ctx,
			`SELECT id FROM outbox_events WHERE idempotency_key = ? AND status <> 'failed'`,
			idempotencyKey).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("lookup duplicate event: %w", err)
		}
	}
	return "", services.Wrap(services.ErrTransient, "outbox", "publish", "idempotency key contended", nil)
}

// MarkProcessed records successful handling of a claimed event.
func (s *SQLStore) MarkProcessed(ctx context.Context, id string) error {
	return s.updateOne(ctx, "mark processed",
		`UPDATE outbox_events SET status = 'processed', last_error = '', updated_at = ? WHERE id = ?`,
		s.now(), id)
}

// MarkFailed moves an event to failed. Its idempotency key becomes free again.
func (s *SQLStore) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.updateOne(ctx, "mark failed",
		`UPDATE outbox_events SET status = 'failed', last_error = ?, updated_at = ? WHERE id = ?`,
		truncateError(reason), s.now(), id)
}

// ScheduleRetry returns a claimed event to pending after backoff.
func (s *SQLStore) ScheduleRetry(ctx context.Context, id string, retryCount int, backoff time.Duration, reason string) error {
	now := s.clock.Now()
	return s.updateOne(ctx, "schedule retry",
		`UPDATE outbox_events SET status = 'pending', retry_count = ?, next_retry_at = ?, last_error = ?,
			claimed_at = 0, last_heartbeat = 0, updated_at = ? WHERE id = ?`,
		retryCount, database.Millis(now.Add(backoff)), truncateError(reason), database.Millis(now), id)
}

// ScheduleThrottled returns a claimed event to pending after a rate limit
// cooldown. Throttles have their own budget separate from retry_count.
func (s *SQLStore) ScheduleThrottled(ctx context.Context, id string, throttleCount int, cooldown time.Duration, reason string) error {
	now := s.clock.Now()
	return s.updateOne(ctx, "schedule throttled",
		`UPDATE outbox_events SET status = 'pending', throttle_count = ?, next_retry_at = ?, last_error = ?,
			claimed_at = 0, last_heartbeat = 0, updated_at = ? WHERE id = ?`,
		throttleCount, database.Millis(now.Add(cooldown)), truncateError(reason), database.Millis(now), id)
}

// Touch refreshes the heartbeat of a processing event.
func (s *SQLStore) Touch(ctx context.Context, id string) error {
	now := s.now()
	return s.updateOne(ctx, "touch",
		`UPDATE outbox_events SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = 'processing'`,
		now, now, id)
}

// Get fetches a single event.
func (s *SQLStore) Get(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id = ?`, id)
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "outbox", "get", "event "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox event: %w", err)
	}
	return evt, nil
}

// List returns events matching filter, oldest first.
func (s *SQLStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	query := `SELECT ` + eventColumns + ` FROM outbox_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// Stats counts events per status.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(1) FROM outbox_events GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("outbox stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan outbox stats: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusProcessed:
			stats.Processed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate outbox stats: %w", err)
	}

	var oldest sql.NullInt64
	if err := s.db.QueryRow(ctx,
		`SELECT MIN(created_at) FROM outbox_events WHERE status = 'pending'`).Scan(&oldest); err != nil {
		return stats, fmt.Errorf("oldest pending: %w", err)
	}
	if oldest.Valid {
		stats.OldestPending = database.FromMillis(oldest.Int64)
	}
	return stats, nil
}

func (s *SQLStore) updateOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("outbox %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox %s rows affected: %w", op, err)
	}
	if n == 0 {
		return services.Wrap(services.ErrNotFound, "outbox", op, "no matching event", nil)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		evt    Event
		status string
	)
	var nextRetry, created, updated, claimed, lastHeartbeat int64
	if err := row.Scan(&evt.ID, &evt.EventType, &evt.EntityID, &evt.Payload, &evt.IdempotencyKey,
		&status, &evt.RetryCount, &evt.ThrottleCount, &nextRetry, &created, &updated, &claimed,
		&lastHeartbeat, &evt.LastError); err != nil {
		return nil, err
	}
	evt.Status = Status(status)
	evt.NextRetryAt = database.FromMillis(nextRetry)
	evt.CreatedAt = database.FromMillis(created)
	evt.UpdatedAt = database.FromMillis(updated)
	evt.ClaimedAt = database.FromMillis(claimed)
	evt.LastHeartbeat = database.FromMillis(lastHeartbeat)
	return &evt, nil
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, *evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return events, nil
}

func truncateError(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxErrorLength {
		return reason[:maxErrorLength]
	}
	return reason
}
