package outbox

import (
	"context"
	"fmt"
	"slices"
	"time"

	"crosspost/internal/database"
)

// ClaimBatch atomically moves up to limit due pending events to processing
// and returns them. Each event is handed to exactly one caller.
func (s *SQLStore) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	if s.db.Dialect() == database.Postgres {
		return s.claimSkipLocked(ctx, limit, now)
	}
	return s.claimCompareAndSwap(ctx, limit, now)
}

func (s *SQLStore) claimSkipLocked(ctx context.Context, limit int, now time.Time) ([]Event, error) {
	ms := database.Millis(now)
	rows, err := s.db.Query(ctx, `UPDATE outbox_events
		SET status = 'processing', claimed_at = ?, last_heartbeat = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = 'pending' AND next_retry_at <= ?
			ORDER BY next_retry_at, created_at
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventColumns,
		ms, ms, ms, ms, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	sortByDue(events)
	return events, nil
}

func (s *SQLStore) claimCompareAndSwap(ctx context.Context, limit int, now time.Time) ([]Event, error) {
	ms := database.Millis(now)
	var claimed []Event
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		claimed = claimed[:0]
		rows, err := tx.Query(ctx, `SELECT id FROM outbox_events
			WHERE status = 'pending' AND next_retry_at <= ?
			ORDER BY next_retry_at, created_at
			LIMIT ?`, ms, limit)
		if err != nil {
			return fmt.Errorf("select due events: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan due event: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate due events: %w", err)
		}

		for _, id := range ids {
			res, err := tx.Exec(ctx, `UPDATE outbox_events
				SET status = 'processing', claimed_at = ?, last_heartbeat = ?, updated_at = ?
				WHERE id = ? AND status = 'pending'`, ms, ms, ms, id)
			if err != nil {
				return fmt.Errorf("claim event %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				continue
			}
			evt, err := scanEvent(tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id = ?`, id))
			if err != nil {
				return fmt.Errorf("load claimed event %s: %w", id, err)
			}
			claimed = append(claimed, *evt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func sortByDue(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		if c := a.NextRetryAt.Compare(b.NextRetryAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
