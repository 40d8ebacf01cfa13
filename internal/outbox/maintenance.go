package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crosspost/internal/database"
)

// ReclaimStale returns processing events whose heartbeat is older than cutoff
// to pending. It recovers events held by a worker that crashed.
func (s *SQLStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(ctx, `UPDATE outbox_events
		SET status = 'pending', claimed_at = 0, last_heartbeat = 0, next_retry_at = ?, updated_at = ?,
			last_error = 'reclaimed after heartbeat timeout'
		WHERE status = 'processing' AND last_heartbeat < ?`,
		s.now(), s.now(), database.Millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale events: %w", err)
	}
	return res.RowsAffected()
}

// Requeue moves failed events back to pending with fresh budgets. With no
// ids every failed event is considered. Events whose idempotency key is
// already held by a live event are skipped.
func (s *SQLStore) Requeue(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		failed, err := s.List(ctx, Filter{Status: StatusFailed})
		if err != nil {
			return 0, err
		}
		for _, evt := range failed {
			ids = append(ids, evt.ID)
		}
	}
	var total int64
	for _, id := range ids {
		now := s.now()
		res, err := s.db.Exec(ctx, `UPDATE outbox_events
			SET status = 'pending', retry_count = 0, throttle_count = 0, next_retry_at = ?, updated_at = ?,
				claimed_at = 0, last_heartbeat = 0
			WHERE id = ? AND status = 'failed'
			AND NOT EXISTS (
				SELECT 1 FROM outbox_events live
				WHERE live.idempotency_key = outbox_events.idempotency_key AND live.status <> 'failed'
			)`, now, now, id)
		if err != nil {
			return total, fmt.Errorf("requeue event %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("requeue event %s rows affected: %w", id, err)
		}
		total += n
	}
	return total, nil
}

// Expedite makes the pending events of entityID and its per-platform
// entities ("<entityID>/<platform>") due now, cutting short any backoff or
// throttle cooldown. Claimed events are left alone.
func (s *SQLStore) Expedite(ctx context.Context, entityID string) (int64, error) {
	now := s.now()
	res, err := s.db.Exec(ctx, `UPDATE outbox_events SET next_retry_at = ?, updated_at = ?
		WHERE status = 'pending' AND next_retry_at > ?
		AND (entity_id = ? OR entity_id LIKE ? ESCAPE '\')`,
		now, now, now, entityID, likePrefix(entityID)+"/%")
	if err != nil {
		return 0, fmt.Errorf("expedite events for %s: %w", entityID, err)
	}
	return res.RowsAffected()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(v string) string { return likeEscaper.Replace(v) }

// Purge deletes processed and failed events last updated before the cutoff.
func (s *SQLStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Exec(ctx,
		`DELETE FROM outbox_events WHERE status IN ('processed', 'failed') AND updated_at < ?`,
		database.Millis(before))
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.RowsAffected()
}

// CheckHealth verifies the outbox table is reachable.
func (s *SQLStore) CheckHealth(ctx context.Context) error {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM outbox_events WHERE status = 'processing'`).Scan(&n); err != nil {
		return fmt.Errorf("outbox health: %w", err)
	}
	return nil
}
