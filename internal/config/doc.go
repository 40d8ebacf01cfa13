// Package config loads, normalizes, and validates crosspost configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks such as CROSSPOST_DATABASE_DSN. The Config type
// centralizes every knob the daemon and CLI need: the outbox database,
// worker pool sizing, retry budgets, per-platform rate limits, preflight
// rules, and the optional redis, S3, and Kafka integrations.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
