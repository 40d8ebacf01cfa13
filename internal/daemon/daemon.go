package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"crosspost/internal/config"
	"crosspost/internal/logging"
	"crosspost/internal/metrics"
	"crosspost/internal/outbox"
	"crosspost/internal/preflight"
	"crosspost/internal/workflow"
)

// File names created under the data directory.
const (
	LockFileName = "crosspostd.lock"
	PIDFileName  = "crosspostd.pid"
)

// Components are the long-lived services the daemon serves over HTTP.
type Components struct {
	Workflow *workflow.Manager
	Outbox   outbox.Store
	Rules    *preflight.Loader
	Metrics  *metrics.Metrics
	// Checks are probed for /healthz. Nil fields are skipped.
	Checks preflight.Dependencies
	// Closers run in order on Close, after the workflow stops.
	Closers []func() error
}

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	workflow *workflow.Manager
	outbox   outbox.Store
	rules    *preflight.Loader
	metrics  *metrics.Metrics
	checks   preflight.Dependencies
	closers  []func() error

	lockPath string
	lock     *flock.Flock
	server   *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	Workflow     workflow.StatusSummary
	Checks       []preflight.CheckResult
}

// Healthy reports whether the workflow and every readiness probe pass.
func (s Status) Healthy() bool {
	if !s.Workflow.Healthy() {
		return false
	}
	return len(preflight.Failed(s.Checks)) == 0
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, c Components) (*Daemon, error) {
	if cfg == nil || c.Workflow == nil || c.Outbox == nil {
		return nil, errors.New("daemon requires config, workflow manager, and outbox")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, LockFileName)
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		workflow: c.Workflow,
		outbox:   c.Outbox,
		rules:    c.Rules,
		metrics:  c.Metrics,
		checks:   c.Checks,
		closers:  c.Closers,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg.API.Bind, d, logger)
	return d, nil
}

// Handler exposes the HTTP API, mainly for tests.
func (d *Daemon) Handler() http.Handler {
	return d.server.engine
}

// Start acquires the daemon lock, launches the workflow manager, and starts
// the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another crosspost daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.server.start(runCtx); err != nil {
		d.workflow.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("crosspost daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.server.stop()
	d.workflow.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("crosspost daemon stopped")
}

// Close stops the daemon and releases the resources it owns.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	for _, closeFn := range d.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status returns the daemon's runtime status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		Workflow:     d.workflow.Status(ctx),
		Checks:       preflight.RunAll(ctx, d.cfg, d.checks),
	}
	if d.cfg.Database.Driver == config.DriverSQLite {
		status.DatabasePath = d.cfg.Database.Path
	}
	return status
}
