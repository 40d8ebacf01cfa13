package workflow

import (
	"context"
	"time"

	"crosspost/internal/logging"
	"crosspost/internal/outbox"
	"crosspost/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                    `json:"running"`
	LastError   string                  `json:"last_error,omitempty"`
	LastSweep   time.Time               `json:"last_sweep,omitzero"`
	Outbox      outbox.Stats            `json:"outbox"`
	OutboxError string                  `json:"outbox_error,omitempty"`
	StageHealth map[string]stage.Health `json:"stage_health"`
	Breakers    map[string]string       `json:"breakers,omitempty"`
}

// Healthy reports whether the store answers and every stage is healthy.
func (s StatusSummary) Healthy() bool {
	if s.OutboxError != "" {
		return false
	}
	for _, h := range s.StageHealth {
		if !h.Ready {
			return false
		}
	}
	return true
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running, LastSweep: m.lastSweep}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	if m.outbox != nil {
		if err := m.outbox.CheckHealth(ctx); err != nil {
			summary.OutboxError = err.Error()
		} else if stats, err := m.outbox.Stats(ctx); err != nil {
			m.logger.Warn("failed to read outbox stats", logging.Error(err))
			summary.OutboxError = err.Error()
		} else {
			summary.Outbox = stats
		}
	}
	if m.stages != nil {
		summary.StageHealth = m.stages.Health(ctx)
	}
	if m.breakers != nil && len(m.platforms) > 0 {
		summary.Breakers = make(map[string]string, len(m.platforms))
		for _, p := range m.platforms {
			summary.Breakers[p] = m.breakers.State(p)
		}
	}
	return summary
}
