package outbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Status is the lifecycle state of an outbox event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Event is one durable pipeline event.
type Event struct {
	ID             string
	EventType      string
	EntityID       string
	Payload        []byte
	IdempotencyKey string
	Status         Status
	RetryCount     int
	ThrottleCount  int
	NextRetryAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClaimedAt      time.Time
	LastHeartbeat  time.Time
	LastError      string
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status    Status
	EventType string
	EntityID  string
	Limit     int
}

// Stats summarizes the outbox for health reporting.
type Stats struct {
	Pending       int
	Processing    int
	Processed     int
	Failed        int
	OldestPending time.Time
}

// Store is the durable event log used by the pipeline.
type Store interface {
	Publish(ctx context.Context, eventType, entityID string, payload []byte, idempotencyKey string) (string, error)
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]Event, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, backoff time.Duration, reason string) error
	ScheduleThrottled(ctx context.Context, id string, throttleCount int, cooldown time.Duration, reason string) error
	Touch(ctx context.Context, id string) error
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	Requeue(ctx context.Context, ids ...string) (int64, error)
	Expedite(ctx context.Context, entityID string) (int64, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
	Get(ctx context.Context, id string) (*Event, error)
	List(ctx context.Context, filter Filter) ([]Event, error)
	Stats(ctx context.Context) (Stats, error)
	CheckHealth(ctx context.Context) error
}

// IdempotencyKey derives the default dedup key for an event.
func IdempotencyKey(eventType, entityID string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(entityID))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
