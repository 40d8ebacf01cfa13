// Package testsupport builds configs and stores for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"crosspost/internal/config"
)

// ConfigOption adjusts a generated test config.
type ConfigOption func(*config.Config)

// NewConfig returns defaults rooted in a fresh temp directory: SQLite outbox,
// local media staging, in-process rate limiter and no API listener.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = base
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.Path = filepath.Join(base, "crosspost.db")
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.LocalDir = filepath.Join(base, "media")
	cfg.API.Bind = ""

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithRedis selects the Redis rate limiter backend at addr.
func WithRedis(addr string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.RateLimiter.Backend = config.RateLimiterRedis
		cfg.Redis.Addr = addr
	}
}

// WithDefaultPlatforms sets the platforms used when a submission names none.
func WithDefaultPlatforms(platforms ...string) ConfigOption {
	return func(cfg *config.Config) { cfg.Workflow.DefaultPlatforms = platforms }
}

func WithWorkers(n int) ConfigOption {
	return func(cfg *config.Config) { cfg.Workflow.Workers = n }
}
