package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateRateLimiter(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateCaption(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver. Set CROSSPOST_DATABASE_DSN or edit the config")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (want sqlite or postgres)", c.Database.Driver)
	}
	if c.Database.MaxOpenConns < 0 {
		return errors.New("database.max_open_conns must be non-negative")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if c.Workflow.EventRetentionDays < 0 {
		return errors.New("workflow.event_retention_days must be non-negative")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.BaseDelaySeconds <= 0 {
		return errors.New("retry.base_delay_seconds must be positive")
	}
	if c.Retry.MaxDelaySeconds < c.Retry.BaseDelaySeconds {
		return errors.New("retry.max_delay_seconds must be at least retry.base_delay_seconds")
	}
	if c.Retry.MaxAttempts <= 0 || c.Retry.PublishMaxAttempts <= 0 {
		return errors.New("retry.max_attempts and retry.publish_max_attempts must be positive")
	}
	if c.Retry.MaxThrottled < 0 {
		return errors.New("retry.max_throttled must be non-negative")
	}
	if c.Retry.BreakerFailureThreshold < 0 {
		return errors.New("retry.breaker_failure_threshold must be non-negative")
	}
	if c.Retry.BreakerFailureThreshold > 0 && c.Retry.BreakerWindow < c.Retry.BreakerFailureThreshold {
		return errors.New("retry.breaker_window must be at least retry.breaker_failure_threshold")
	}
	return nil
}

func (c *Config) validateRateLimiter() error {
	switch c.RateLimiter.Backend {
	case RateLimiterMemory:
	case RateLimiterRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required when rate_limiter.backend is redis")
		}
	default:
		return fmt.Errorf("rate_limiter.backend %q is not supported (want memory or redis)", c.RateLimiter.Backend)
	}
	if err := validateRateLimit("rate_limiter.default", c.RateLimiter.Default); err != nil {
		return err
	}
	for key, rl := range c.RateLimiter.Keys {
		if key == "" || strings.HasPrefix(key, ":") {
			return errors.New("rate_limiter.keys must be named platform, platform:subkey, or platform:*")
		}
		if err := validateRateLimit("rate_limiter.keys."+key, rl); err != nil {
			return err
		}
	}
	return nil
}

func validateRateLimit(field string, rl RateLimit) error {
	switch rl.Discipline {
	case DisciplineFixedWindow:
		if rl.Limit <= 0 || rl.WindowSeconds <= 0 {
			return fmt.Errorf("%s: fixed_window requires positive limit and window_seconds", field)
		}
	case DisciplineTokenBucket:
		if rl.Rate <= 0 || rl.Capacity <= 0 {
			return fmt.Errorf("%s: token_bucket requires positive rate and capacity", field)
		}
	default:
		return fmt.Errorf("%s: discipline %q is not supported", field, rl.Discipline)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
	case StorageS3:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the s3 backend")
		}
		if (c.Storage.AccessKey == "") != (c.Storage.SecretKey == "") {
			return errors.New("storage.access_key and storage.secret_key must be set together")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported (want local or s3)", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateCaption() error {
	switch c.Caption.Provider {
	case CaptionTemplate:
	case CaptionLLM:
		if c.Caption.APIKey == "" {
			return errors.New("caption.api_key is required for the llm provider. Set CROSSPOST_LLM_API_KEY or edit the config")
		}
	default:
		return fmt.Errorf("caption.provider %q is not supported (want template or llm)", c.Caption.Provider)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (want console or json)", c.Logging.Format)
	}
	levels := []string{c.Logging.Level}
	for _, lvl := range c.Logging.ComponentLevels {
		levels = append(levels, lvl)
	}
	for _, lvl := range levels {
		switch lvl {
		case "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("logging level %q is not supported", lvl)
		}
	}
	return nil
}
