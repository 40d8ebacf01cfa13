package workflow

import (
	"context"
	"errors"

	"crosspost/internal/logging"
)

// heartbeatLoop touches the event until ctx is done so the sweep does not
// reclaim it while a worker still holds it.
func (m *Manager) heartbeatLoop(ctx context.Context, done chan<- struct{}, eventID string) {
	defer close(done)
	if m.heartbeatInterval <= 0 {
		<-ctx.Done()
		return
	}
	logger := logging.WithContext(ctx, m.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.heartbeatInterval):
			if err := m.outbox.Touch(ctx, eventID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}

// reclaimStale returns processing events with an expired heartbeat to pending.
func (m *Manager) reclaimStale(ctx context.Context) error {
	if m.heartbeatTimeout <= 0 {
		return nil
	}
	cutoff := m.clock.Now().Add(-m.heartbeatTimeout)
	reclaimed, err := m.outbox.ReclaimStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		m.metrics.AddReclaimed(reclaimed)
		m.logger.Info("reclaimed stale events",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "outbox_reclaimed"),
		)
	}
	return nil
}
