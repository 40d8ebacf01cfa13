package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crosspost/internal/clock"
	"crosspost/internal/config"
	"crosspost/internal/content"
	"crosspost/internal/logging"
	"crosspost/internal/metrics"
	"crosspost/internal/outbox"
	"crosspost/internal/retry"
	"crosspost/internal/stage"
	"crosspost/internal/staging"
)

// Options carries the Manager's collaborators.
type Options struct {
	Repo     content.Repository
	Outbox   outbox.Store
	Stages   *stage.Set
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Breakers *retry.Breakers
	// Platforms lists the platforms with a registered publisher, for status.
	Platforms []string
	// Media reclaims staged media on the purge schedule.
	Media *staging.Cleaner
}

// Manager coordinates outbox processing using the stage executors.
type Manager struct {
	cfg      *config.Config
	repo     content.Repository
	outbox   outbox.Store
	stages   *stage.Set
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	breakers *retry.Breakers
	policies map[stage.Name]retry.Policy
	media    *staging.Cleaner

	platforms         []string
	sweepInterval     time.Duration
	errorInterval     time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	retention         time.Duration
	batchSize         int
	workers           int

	wake chan struct{}

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastSweep time.Time
	lastPurge time.Time
	inflight  map[string]map[string]context.CancelFunc
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	policies := make(map[stage.Name]retry.Policy, len(stage.Order))
	for _, name := range stage.Order {
		policies[name] = retry.FromConfig(cfg.Retry, string(name))
	}
	return &Manager{
		cfg:               cfg,
		repo:              opts.Repo,
		outbox:            opts.Outbox,
		stages:            opts.Stages,
		clock:             clock.OrReal(opts.Clock),
		logger:            logging.NewComponentLogger(logger, "workflow"),
		metrics:           opts.Metrics,
		breakers:          opts.Breakers,
		policies:          policies,
		platforms:         opts.Platforms,
		media:             opts.Media,
		sweepInterval:     seconds(cfg.Workflow.SweepInterval),
		errorInterval:     seconds(cfg.Workflow.ErrorRetryInterval),
		heartbeatInterval: seconds(cfg.Workflow.HeartbeatInterval),
		heartbeatTimeout:  seconds(cfg.Workflow.HeartbeatTimeout),
		retention:         time.Duration(cfg.Workflow.EventRetentionDays) * 24 * time.Hour,
		batchSize:         max(cfg.Workflow.BatchSize, 1),
		workers:           max(cfg.Workflow.Workers, 1),
		wake:              make(chan struct{}, 1),
		inflight:          make(map[string]map[string]context.CancelFunc),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Wake asks the sweep loop to run now instead of waiting for the interval.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// track registers the cancel func of an in-flight event so CancelRun can
// interrupt it. The returned func unregisters it.
func (m *Manager) track(runID, eventID string, cancel context.CancelFunc) func() {
	m.mu.Lock()
	events := m.inflight[runID]
	if events == nil {
		events = make(map[string]context.CancelFunc)
		m.inflight[runID] = events
	}
	events[eventID] = cancel
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.inflight[runID], eventID)
		if len(m.inflight[runID]) == 0 {
			delete(m.inflight, runID)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) interrupt(runID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, cancel := range m.inflight[runID] {
		cancel()
		n++
	}
	return n
}
