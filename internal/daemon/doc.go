// Package daemon coordinates the long-running crosspost process.
//
// It ties configuration, the outbox database, the workflow manager, and the
// HTTP API into a single lifecycle with flock-based locking to prevent
// multiple instances on one data directory. The daemon reports readiness
// probes alongside workflow status.
//
// Keep orchestration logic here: pipeline steps live in the stage package
// while the daemon focuses on startup, shutdown, and serving the API.
package daemon
