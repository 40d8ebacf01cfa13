// Package daemonrun builds every long-lived component from configuration and
// runs the daemon until it receives a termination signal.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"crosspost/internal/clock"
	"crosspost/internal/collab"
	"crosspost/internal/config"
	"crosspost/internal/content"
	"crosspost/internal/daemon"
	"crosspost/internal/database"
	"crosspost/internal/events"
	"crosspost/internal/logging"
	"crosspost/internal/metrics"
	"crosspost/internal/notifications"
	"crosspost/internal/outbox"
	"crosspost/internal/preflight"
	"crosspost/internal/ratelimit"
	"crosspost/internal/retry"
	"crosspost/internal/stage"
	"crosspost/internal/staging"
	"crosspost/internal/storage"
	"crosspost/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the crosspost daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runStamp := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("crosspost-%s.log", runStamp))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:           level,
		Format:          cfg.Logging.Format,
		OutputPaths:     []string{"stdout", logPath},
		Development:     opts.Development,
		ComponentLevels: cfg.Logging.ComponentLevels,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logging.LogFileName, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "crosspost-*.log", time.Now())

	pidPath := filepath.Join(cfg.Paths.DataDir, daemon.PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := Build(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("daemon setup failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_setup_failed"),
			logging.String(logging.FieldErrorHint, "check configuration, database, and broker access"),
		)
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("crosspost daemon shutting down")
	return nil
}

// Build constructs the daemon and everything it owns. The returned daemon
// closes the database, broker, and Redis connections on Close.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *daemon.Daemon, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			for _, closeFn := range closers {
				_ = closeFn()
			}
		}
	}()

	clk := clock.Real{}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	closers = append(closers, db.Close)

	repo := content.NewSQLRepository(db, clk)
	store := outbox.NewSQLStore(db, clk)
	m := metrics.New()

	var redisClient goredis.UniversalClient
	if cfg.RateLimiter.Backend == config.RateLimiterRedis {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append([]func() error{redisClient.Close}, closers...)
	}
	limiter := ratelimit.New(ratelimit.ConfigResolver(cfg), ratelimit.Options{
		Clock:     clk,
		Logger:    logger,
		Redis:     redisClient,
		KeyPrefix: cfg.Redis.KeyPrefix,
		Observer: func(key ratelimit.Key, waited time.Duration) {
			m.ObserveRateLimitWait(key.Platform, waited)
		},
	})

	breakers := retry.NewBreakers(cfg.Retry, logger)
	breakers.OnStateChange(m.SetBreakerState)

	objects, err := storage.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	sink, err := events.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect event sink: %w", err)
	}
	closers = append([]func() error{sink.Close}, closers...)

	rules, err := preflight.NewLoader(preflight.LoaderOptions{
		Path:   cfg.Preflight.RulesPath,
		TTL:    time.Duration(cfg.Preflight.ReloadSeconds) * time.Second,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load preflight rules: %w", err)
	}

	platforms := rules.Platforms(ctx)
	for name := range cfg.Publishers {
		if !slices.Contains(platforms, name) {
			platforms = append(platforms, name)
		}
	}
	publishers := collab.NewPublishers(cfg, platforms)

	set := stage.NewSet(stage.Deps{
		Repo:       repo,
		Outbox:     store,
		Clock:      clk,
		Logger:     logger,
		Media:      collab.NewStagingProcessor(objects, &http.Client{Timeout: 5 * time.Minute}),
		Captioner:  collab.NewCaptioner(cfg),
		Publishers: publishers,
		Limiter:    limiter,
		Breakers:   breakers,
		Rules:      rules,
		Metrics:    m,
		Events:     sink,
		Notifier:   notifications.NewService(cfg),
	})
	var media *staging.Cleaner
	if cfg.Storage.Backend == config.StorageLocal {
		media = staging.NewCleaner(cfg.Storage.LocalDir, logger, staging.RunningContent(repo))
	}
	manager := workflow.NewManager(cfg, workflow.Options{
		Repo:      repo,
		Outbox:    store,
		Stages:    set,
		Clock:     clk,
		Logger:    logger,
		Metrics:   m,
		Breakers:  breakers,
		Platforms: publishers.Platforms(),
		Media:     media,
	})

	logger.Info("daemon components ready",
		logging.String(logging.FieldEventType, "daemon_components_ready"),
		logging.String("database_driver", cfg.Database.Driver),
		logging.String("rate_limiter", cfg.RateLimiter.Backend),
		logging.String("storage", cfg.Storage.Backend),
		logging.String("caption_provider", cfg.Caption.Provider),
		logging.Bool("kafka_enabled", len(cfg.Kafka.Brokers) > 0),
		logging.Bool("notifications_enabled", cfg.Notifications.NtfyTopic != ""),
		logging.Int("publishers", len(publishers)),
	)

	return daemon.New(cfg, logger, daemon.Components{
		Workflow: manager,
		Outbox:   store,
		Rules:    rules,
		Metrics:  m,
		Checks:   preflight.Dependencies{DB: db, Redis: redisClient, Loader: rules},
		Closers:  closers,
	})
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logging.LogFileName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
