// Package api defines wire-format types, converters, and the HTTP client for
// the daemon API. It translates workflow and outbox models into
// transport-friendly DTOs that the CLI renders without coupling to internal
// types.
//
// # Key Types
//
// Run: transport representation of a run with per-platform posts and the
// transition log.
//
// OutboxEvent: one outbox row with its decoded payload.
//
// WorkflowStatus: daemon running state, outbox counts, stage health, and
// circuit breaker states.
//
// # Converters
//
// FromRunStatus: workflow.RunStatus -> Run.
//
// FromOutboxEvent: outbox.Event -> OutboxEvent.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus.
//
// StageHealthSlice: deterministic ordering of the stage health map.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums are exposed as lowercase
// strings. Timestamps use RFC3339 with milliseconds.
package api
