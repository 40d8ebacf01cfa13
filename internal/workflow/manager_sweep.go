package workflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"crosspost/internal/logging"
	"crosspost/internal/outbox"
	"crosspost/internal/services"
	"crosspost/internal/stage"
)

const purgeEvery = time.Hour

// SweepOnce runs one maintenance and processing pass: reclaim stale events,
// purge expired ones, claim a batch of due events, and process the batch on
// the worker pool. It returns the number of events claimed.
func (m *Manager) SweepOnce(ctx context.Context) (int, error) {
	if err := m.reclaimStale(ctx); err != nil {
		return 0, fmt.Errorf("reclaim stale events: %w", err)
	}
	m.purge(ctx)

	now := m.clock.Now()
	batch, err := m.outbox.ClaimBatch(ctx, m.batchSize, now)
	if err != nil {
		return 0, fmt.Errorf("claim events: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(m.workers)
	for _, ev := range batch {
		g.Go(func() error {
			m.processEvent(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	m.lastSweep = now
	m.mu.Unlock()
	if m.metrics != nil {
		if stats, err := m.outbox.Stats(ctx); err == nil {
			m.metrics.SetOutboxStats(stats)
		}
	}
	return len(batch), nil
}

func (m *Manager) purge(ctx context.Context) {
	if m.retention <= 0 {
		return
	}
	now := m.clock.Now()
	m.mu.Lock()
	due := now.Sub(m.lastPurge) >= purgeEvery
	if due {
		m.lastPurge = now
	}
	m.mu.Unlock()
	if !due {
		return
	}
	cutoff := now.Add(-m.retention)
	if m.media != nil {
		m.media.CleanBefore(ctx, cutoff)
	}
	purged, err := m.outbox.Purge(ctx, cutoff)
	if err != nil {
		logging.WarnWithContext(m.logger, "outbox purge failed", "outbox_purge_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access"),
			logging.String(logging.FieldImpact, "old events are kept until the next purge"),
		)
		return
	}
	if purged > 0 {
		m.logger.Info("purged old events", logging.Int64("count", purged))
	}
}

// processEvent executes one claimed event and settles its outcome.
func (m *Manager) processEvent(ctx context.Context, ev outbox.Event) {
	logger := m.logger.With(logging.String(logging.FieldEventID, ev.ID))
	name, ok := stage.ParseEventType(ev.EventType)
	if !ok {
		m.failEvent(ctx, logger, ev, fmt.Sprintf("unknown event type %q", ev.EventType))
		return
	}
	payload, err := stage.DecodePayload(ev.Payload)
	if err != nil {
		m.failEvent(ctx, logger, ev, err.Error())
		return
	}
	handler, ok := m.stages.Handler(name)
	if !ok {
		m.failEvent(ctx, logger, ev, fmt.Sprintf("no executor for stage %s", name))
		return
	}

	evCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	untrack := m.track(payload.RunID, ev.ID, cancel)
	defer untrack()
	evCtx = services.WithRunID(evCtx, payload.RunID)
	evCtx = services.WithContentID(evCtx, payload.ContentID)
	evCtx = services.WithPlatform(evCtx, payload.Platform)
	evCtx = services.WithStage(evCtx, string(name))
	evCtx = services.WithEventID(evCtx, ev.ID)
	logger = logging.WithContext(evCtx, m.logger)

	task := stage.Task{
		EventID:   ev.ID,
		Stage:     name,
		Payload:   payload,
		Attempts:  ev.RetryCount,
		Throttled: ev.ThrottleCount,
	}

	hbCtx, hbCancel := context.WithCancel(evCtx)
	hbDone := make(chan struct{})
	go m.heartbeatLoop(hbCtx, hbDone, ev.ID)

	started := m.clock.Now()
	logger.Debug("stage started", logging.Int("attempt", ev.RetryCount+1))
	execErr := handler.Execute(evCtx, task)
	hbCancel()
	<-hbDone

	outcome := m.settle(ctx, evCtx, logger, ev, task, execErr)
	m.metrics.ObserveStage(string(name), outcome, m.clock.Now().Sub(started))
}
