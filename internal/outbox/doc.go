// Package outbox persists pipeline events for at-least-once delivery.
//
// Every stage transition is an outbox event. Publish deduplicates on an
// idempotency key (a partial unique index ignores failed rows, so a failed
// event may be published again). ClaimBatch hands due pending events to
// exactly one worker: SQLite uses a compare-and-swap update inside a
// transaction, Postgres uses FOR UPDATE SKIP LOCKED. Claimed events carry a
// heartbeat; ReclaimStale returns abandoned ones to pending so every claimed
// event eventually ends processed or failed.
package outbox
