package api

import "crosspost/internal/content"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// MediaRef describes one media attachment of a submission.
type MediaRef struct {
	URL             string  `json:"url"`
	Kind            string  `json:"kind"`
	Format          string  `json:"format,omitempty"`
	SizeBytes       int64   `json:"sizeBytes,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
}

// SubmitRequest is the body of POST /v1/runs.
type SubmitRequest struct {
	ContentID string            `json:"contentId,omitempty"`
	Text      string            `json:"text"`
	Media     []MediaRef        `json:"media,omitempty"`
	Platforms []string          `json:"platforms,omitempty"`
	Targets   map[string]string `json:"targets,omitempty"`
}

// SubmitResponse reports the run created for a submission.
type SubmitResponse struct {
	RunID string `json:"runId"`
}

// Violation mirrors a preflight finding.
type Violation struct {
	Type       string `json:"type"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	Field      string `json:"field"`
	Current    any    `json:"current,omitempty"`
	Limit      any    `json:"limit,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Post is the per-platform state of a run.
type Post struct {
	Platform   string      `json:"platform"`
	Target     string      `json:"target,omitempty"`
	Status     string      `json:"status"`
	State      string      `json:"state"`
	ExternalID string      `json:"externalId,omitempty"`
	URL        string      `json:"url,omitempty"`
	LastError  string      `json:"lastError,omitempty"`
	Attempts   int         `json:"attempts"`
	Violations []Violation `json:"violations,omitempty"`
}

// Transition is one entry of the run's state log.
type Transition struct {
	Platform string `json:"platform,omitempty"`
	State    string `json:"state"`
	At       string `json:"at"`
}

// Summary counts terminal post outcomes.
type Summary struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// Run describes a pipeline run.
type Run struct {
	ID              string       `json:"id"`
	ContentID       string       `json:"contentId"`
	Status          string       `json:"status"`
	Stage           string       `json:"stage"`
	CancelRequested bool         `json:"cancelRequested"`
	Summary         Summary      `json:"summary"`
	CreatedAt       string       `json:"createdAt,omitempty"`
	UpdatedAt       string       `json:"updatedAt,omitempty"`
	FinishedAt      string       `json:"finishedAt,omitempty"`
	Posts           []Post       `json:"posts"`
	Transitions     []Transition `json:"transitions,omitempty"`
}

// RunResponse wraps a single run.
type RunResponse struct {
	Run Run `json:"run"`
}

// CancelResponse reports whether a cancel request changed the run.
type CancelResponse struct {
	RunID     string `json:"runId"`
	Cancelled bool   `json:"cancelled"`
}

// OutboxEvent describes an outbox row.
type OutboxEvent struct {
	ID            string `json:"id"`
	EventType     string `json:"eventType"`
	EntityID      string `json:"entityId"`
	Status        string `json:"status"`
	RetryCount    int    `json:"retryCount"`
	ThrottleCount int    `json:"throttleCount"`
	RunID         string `json:"runId,omitempty"`
	ContentID     string `json:"contentId,omitempty"`
	Platform      string `json:"platform,omitempty"`
	LastError     string `json:"lastError,omitempty"`
	NextRetryAt   string `json:"nextRetryAt,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

// OutboxListResponse wraps a collection of outbox events.
type OutboxListResponse struct {
	Events []OutboxEvent `json:"events"`
}

// RetryRequest lists the failed events to requeue. An empty list requeues
// every failed event.
type RetryRequest struct {
	IDs []string `json:"ids,omitempty"`
}

// RetryResponse reports how many events went back to pending.
type RetryResponse struct {
	Requeued int64 `json:"requeued"`
}

// ValidateRequest is the body of POST /v1/preflight/validate.
type ValidateRequest struct {
	Text      string     `json:"text"`
	Hashtags  []string   `json:"hashtags,omitempty"`
	Mentions  []string   `json:"mentions,omitempty"`
	Links     []string   `json:"links,omitempty"`
	Media     []MediaRef `json:"media,omitempty"`
	Platforms []string   `json:"platforms"`
}

// ValidationResult is the preflight verdict for one platform.
type ValidationResult struct {
	Platform     string      `json:"platform"`
	Valid        bool        `json:"valid"`
	RulesVersion string      `json:"rulesVersion,omitempty"`
	Violations   []Violation `json:"violations"`
}

// ValidateResponse wraps per-platform verdicts.
type ValidateResponse struct {
	Results []ValidationResult `json:"results"`
}

// OutboxStats counts outbox rows by status.
type OutboxStats struct {
	Pending       int    `json:"pending"`
	Processing    int    `json:"processing"`
	Processed     int    `json:"processed"`
	Failed        int    `json:"failed"`
	OldestPending string `json:"oldestPending,omitempty"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool              `json:"running"`
	LastError   string            `json:"lastError,omitempty"`
	LastSweep   string            `json:"lastSweep,omitempty"`
	Outbox      OutboxStats       `json:"outbox"`
	OutboxError string            `json:"outboxError,omitempty"`
	StageHealth []StageHealth     `json:"stageHealth"`
	Breakers    map[string]string `json:"breakers,omitempty"`
}

// CheckResult reports one readiness probe.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Healthy      bool           `json:"healthy"`
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath,omitempty"`
	LockFilePath string         `json:"lockFilePath"`
	Workflow     WorkflowStatus `json:"workflow"`
	Checks       []CheckResult  `json:"checks,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// ToItem converts a submission into a content item.
func (r SubmitRequest) ToItem() content.Item {
	return content.Item{
		ID:        r.ContentID,
		Text:      r.Text,
		Media:     toMediaRefs(r.Media),
		Platforms: r.Platforms,
		Targets:   r.Targets,
	}
}

func toMediaRefs(in []MediaRef) []content.MediaRef {
	if len(in) == 0 {
		return nil
	}
	out := make([]content.MediaRef, 0, len(in))
	for _, m := range in {
		out = append(out, content.MediaRef{
			URL:             m.URL,
			Kind:            content.MediaKind(m.Kind),
			Format:          m.Format,
			SizeBytes:       m.SizeBytes,
			DurationSeconds: m.DurationSeconds,
			Width:           m.Width,
			Height:          m.Height,
		})
	}
	return out
}
