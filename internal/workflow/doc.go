// Package workflow drives submitted content through the stage pipeline.
//
// The Manager sweeps the outbox on an interval: it returns events whose
// worker stopped heartbeating to pending, purges old events, claims a batch
// of due events, and runs them on a bounded worker pool. Each event's result
// is settled through the retry policy: success marks it processed, transient
// failures are rescheduled with backoff, rate-limited failures are throttled
// on their own budget, and anything else fails the post and routes it to
// finalize.
//
// SubmitContent, GetRunStatus, CancelRun, and RetryEvents are the operations
// the API and CLI expose.
package workflow
