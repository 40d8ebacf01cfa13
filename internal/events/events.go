// Package events emits run and post lifecycle records to external consumers.
// The daemon ships a Kafka sink built on franz-go and a no-op sink used when
// no brokers are configured.
package events

import (
	"context"
	"time"
)

// Type names a lifecycle record.
type Type string

const (
	PostPublished Type = "post.published"
	PostFailed    Type = "post.failed"
	PostRejected  Type = "post.rejected"
	RunFinalized  Type = "run.finalized"
)

// Summary counts post outcomes for a finalized run.
type Summary struct {
	Published int `json:"published"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// Event is one lifecycle record.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	RunID      string    `json:"run_id"`
	ContentID  string    `json:"content_id"`
	Platform   string    `json:"platform,omitempty"`
	Status     string    `json:"status"`
	ExternalID string    `json:"external_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Error      string    `json:"error,omitempty"`
	Summary    *Summary  `json:"summary,omitempty"`
	At         time.Time `json:"at"`
}

// Sink receives lifecycle records.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }
