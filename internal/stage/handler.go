// Package stage implements one executor per pipeline stage. Each executor
// loads its inputs, does its work, persists the result, and only then
// publishes the next stage's outbox event. Executors are safe to run again
// for the same event: they check the post's state before acting.
package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Name identifies a pipeline stage.
type Name string

const (
	Ingest     Name = "ingest"
	Enrich     Name = "enrich"
	Captionize Name = "captionize"
	Transcode  Name = "transcode"
	Preflight  Name = "preflight"
	Publish    Name = "publish"
	Finalize   Name = "finalize"
)

const eventTypePrefix = "stage."

// Order lists the stages in pipeline order.
var Order = []Name{Ingest, Enrich, Captionize, Transcode, Preflight, Publish, Finalize}

// EventType is the outbox event type that triggers the stage.
func (n Name) EventType() string { return eventTypePrefix + string(n) }

// ContentLevel reports whether the stage runs once per item rather than per platform.
func (n Name) ContentLevel() bool { return n == Ingest || n == Enrich }

// Index is the stage's position in Order, or -1.
func (n Name) Index() int {
	for i, s := range Order {
		if s == n {
			return i
		}
	}
	return -1
}

// ParseEventType maps an outbox event type back to its stage.
func ParseEventType(eventType string) (Name, bool) {
	name := Name(strings.TrimPrefix(eventType, eventTypePrefix))
	if !strings.HasPrefix(eventType, eventTypePrefix) || name.Index() < 0 {
		return "", false
	}
	return name, true
}

// Payload is the body of every stage event. Platform is empty for
// content-level stages and for a run-level finalize.
type Payload struct {
	RunID     string `json:"run_id"`
	ContentID string `json:"content_id"`
	Platform  string `json:"platform,omitempty"`
}

// EntityID is the outbox entity the event belongs to.
func (p Payload) EntityID() string {
	if p.Platform == "" {
		return p.ContentID
	}
	return p.ContentID + "/" + p.Platform
}

func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses an event body.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode stage payload: %w", err)
	}
	if p.RunID == "" || p.ContentID == "" {
		return p, fmt.Errorf("decode stage payload: run_id and content_id required")
	}
	return p, nil
}

// EventKey is the idempotency key of the event that moves content (or one
// of its platform posts) into stage next.
func EventKey(contentID, platform string, next Name) string {
	subject := contentID
	if platform != "" {
		subject += "/" + platform
	}
	sum := sha256.Sum256([]byte(subject + "\x00" + string(next)))
	return hex.EncodeToString(sum[:])
}

// Task is one claimed stage event handed to an executor.
type Task struct {
	EventID   string
	Stage     Name
	Payload   Payload
	Attempts  int
	Throttled int
}

// Handler describes the contract the workflow needs from each stage.
type Handler interface {
	Stage() Name
	Execute(ctx context.Context, task Task) error
	HealthCheck(ctx context.Context) Health
}
