package workflow

import (
	"context"
	"log/slog"

	"crosspost/internal/logging"
	"crosspost/internal/outbox"
	"crosspost/internal/retry"
	"crosspost/internal/services"
	"crosspost/internal/stage"
)

// settle records the result of an execution in the outbox and returns the
// outcome label used for metrics.
func (m *Manager) settle(ctx, evCtx context.Context, logger *slog.Logger, ev outbox.Event, task stage.Task, execErr error) string {
	store := context.WithoutCancel(ctx)
	if execErr == nil {
		if err := m.outbox.MarkProcessed(store, ev.ID); err != nil {
			m.settleFailed(logger, "mark processed", err)
		}
		return "processed"
	}

	if evCtx.Err() != nil {
		// Shutdown or run cancellation. Either way the event goes back to
		// pending unchanged; executors route cancelled runs to finalize.
		reason := "interrupted by shutdown"
		outcome := "interrupted"
		if ctx.Err() == nil {
			reason = "run cancelled"
			outcome = "cancelled"
		}
		if err := m.outbox.ScheduleRetry(store, ev.ID, ev.RetryCount, 0, reason); err != nil {
			m.settleFailed(logger, "requeue interrupted event", err)
		}
		logger.Info("stage interrupted", logging.String("reason", reason))
		return outcome
	}

	decision := m.policies[task.Stage].Decide(execErr, ev.RetryCount, ev.ThrottleCount)
	details := services.Details(execErr)
	attrs := []logging.Attr{
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String("action", string(decision.Action)),
		logging.Duration("delay", decision.Delay),
		logging.Int("retry_count", ev.RetryCount),
		logging.Int("throttle_count", ev.ThrottleCount),
		logging.Error(execErr),
	}

	switch decision.Action {
	case retry.ActionRetry:
		logging.WarnWithContext(logger, "stage failed; retrying", "stage_retry",
			append(attrs,
				logging.String(logging.FieldErrorHint, details.Hint),
				logging.String(logging.FieldImpact, "event retried after backoff"),
			)...)
		if err := m.outbox.ScheduleRetry(store, ev.ID, ev.RetryCount+1, decision.Delay, decision.Reason); err != nil {
			m.settleFailed(logger, "schedule retry", err)
		}
		return "retry"
	case retry.ActionThrottle:
		logger.Info("stage throttled", logging.Args(attrs...)...)
		if err := m.outbox.ScheduleThrottled(store, ev.ID, ev.ThrottleCount+1, decision.Delay, decision.Reason); err != nil {
			m.settleFailed(logger, "schedule throttle", err)
		}
		return "throttle"
	default:
		logger.Error("stage failed",
			logging.Args(append(attrs,
				logging.Alert("stage_failure"),
				logging.String(logging.FieldEventType, "stage_failure"),
				logging.String(logging.FieldErrorHint, hintOr(details.Hint, "inspect the run status and outbox event")),
			)...)...)
		if err := m.stages.Abort(store, task, decision.Reason, decision.Kind); err != nil {
			// The event stays live until finalize is queued, otherwise the
			// run would never complete. Its retry count is left alone so a
			// flaky store cannot exhaust the stage's attempts.
			logging.ErrorWithContext(logger, "stage abort failed; rescheduling", "stage_abort_failed",
				logging.Error(err),
				logging.Duration("delay", m.errorInterval),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			if err := m.outbox.ScheduleRetry(store, ev.ID, ev.RetryCount, m.errorInterval, "abort failed: "+err.Error()); err != nil {
				m.settleFailed(logger, "reschedule aborted event", err)
			}
			return "retry"
		}
		if err := m.outbox.MarkFailed(store, ev.ID, decision.Reason); err != nil {
			m.settleFailed(logger, "mark failed", err)
		}
		return "failed"
	}
}

func (m *Manager) failEvent(ctx context.Context, logger *slog.Logger, ev outbox.Event, reason string) {
	logger.Error("event cannot be processed",
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "event_invalid"),
		logging.String(logging.FieldErrorHint, "inspect the event payload"),
	)
	if err := m.outbox.MarkFailed(context.WithoutCancel(ctx), ev.ID, reason); err != nil {
		m.settleFailed(logger, "mark failed", err)
	}
	m.metrics.ObserveStage("unknown", "failed", 0)
}

// settleFailed logs a failed outbox write. The event stays processing and
// is reclaimed after its heartbeat expires.
func (m *Manager) settleFailed(logger *slog.Logger, op string, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "outbox update failed", "outbox_settle_failed",
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check database access; the event is reclaimed after its heartbeat expires"),
	)
}

func hintOr(hint, fallback string) string {
	if hint != "" {
		return hint
	}
	return fallback
}
