package workflow

import (
	"context"
	"errors"

	"crosspost/internal/logging"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.stages == nil || m.outbox == nil || m.repo == nil {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.loop(runCtx)
	m.logger.Info("workflow started",
		logging.Int("workers", m.workers),
		logging.Int("batch_size", m.batchSize),
		logging.Duration("sweep_interval", m.sweepInterval),
	)
	return nil
}

// Stop terminates background processing and waits for in-flight events.
// Interrupted events go back to pending.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	for {
		claimed, err := m.SweepOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.setLastError(err)
			m.logger.Error("outbox sweep failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "sweep_failed"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			select {
			case <-ctx.Done():
				return
			case <-m.clock.After(m.errorInterval):
			}
			continue
		}
		if claimed >= m.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-m.clock.After(m.sweepInterval):
		}
	}
}
