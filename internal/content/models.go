// Package content holds the content items, per-platform posts, and runs the
// pipeline moves through its stages, together with their persistence.
package content

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// MediaKind classifies a media attachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// MediaRef points at one media attachment.
type MediaRef struct {
	URL             string    `json:"url"`
	Kind            MediaKind `json:"kind"`
	Format          string    `json:"format,omitempty"`
	SizeBytes       int64     `json:"size_bytes,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Width           int       `json:"width,omitempty"`
	Height          int       `json:"height,omitempty"`
	StorageKey      string    `json:"storage_key,omitempty"`
}

// Item is one piece of source content.
type Item struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Media     []MediaRef        `json:"media,omitempty"`
	Platforms []string          `json:"platforms"`
	Targets   map[string]string `json:"targets,omitempty"`
	Hashtags  []string          `json:"hashtags,omitempty"`
	Mentions  []string          `json:"mentions,omitempty"`
	Links     []string          `json:"links,omitempty"`
	Enriched  bool              `json:"enriched"`
	Finalized bool              `json:"finalized"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PostStatus is the externally visible status of a platform post.
type PostStatus string

const (
	StatusQueued     PostStatus = "queued"
	StatusValidating PostStatus = "validating"
	StatusPublishing PostStatus = "publishing"
	StatusPublished  PostStatus = "published"
	StatusFailed     PostStatus = "failed"
	StatusRejected   PostStatus = "rejected"
)

// Terminal reports whether no further stage may change the status.
func (s PostStatus) Terminal() bool {
	return s == StatusPublished || s == StatusFailed || s == StatusRejected
}

// PostState is the pipeline position of a platform post.
type PostState string

const (
	StateIngested         PostState = "ingested"
	StateEnriched         PostState = "enriched"
	StateCaptioned        PostState = "captioned"
	StateTranscoded       PostState = "transcoded"
	StatePreflightPassed  PostState = "preflight_passed"
	StatePreflightBlocked PostState = "preflight_blocked"
	StatePublished        PostState = "published"
	StatePublishFailed    PostState = "publish_failed"
	StateFinalized        PostState = "finalized"
)

// Severity grades a preflight violation.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// Violation is one preflight rule breach. Posts keep a snapshot for status reporting.
type Violation struct {
	Type       string   `json:"type" yaml:"type"`
	Severity   Severity `json:"severity" yaml:"severity"`
	Message    string   `json:"message" yaml:"message"`
	Field      string   `json:"field" yaml:"field"`
	Current    any      `json:"current,omitempty" yaml:"current,omitempty"`
	Limit      any      `json:"limit,omitempty" yaml:"limit,omitempty"`
	Suggestion string   `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// Post is the per-platform rendition of an item.
type Post struct {
	ContentID  string      `json:"content_id"`
	Platform   string      `json:"platform"`
	Target     string      `json:"target,omitempty"`
	Status     PostStatus  `json:"status"`
	State      PostState   `json:"state"`
	Caption    string      `json:"caption"`
	Hashtags   []string    `json:"hashtags,omitempty"`
	Mentions   []string    `json:"mentions,omitempty"`
	Links      []string    `json:"links,omitempty"`
	Media      []MediaRef  `json:"media,omitempty"`
	ExternalID string      `json:"external_id,omitempty"`
	URL        string      `json:"url,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
	Attempts   int         `json:"attempts"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Summary counts post outcomes at finalization.
type Summary struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// Run tracks one pass of an item through the pipeline.
type Run struct {
	ID              string    `json:"id"`
	ContentID       string    `json:"content_id"`
	Status          RunStatus `json:"status"`
	Stage           string    `json:"stage"`
	CancelRequested bool      `json:"cancel_requested"`
	Summary         Summary   `json:"summary"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
}

// Transition is one append-only pipeline state change.
type Transition struct {
	RunID    string    `json:"run_id"`
	Platform string    `json:"platform,omitempty"`
	State    PostState `json:"state"`
	At       time.Time `json:"at"`
}

// Summarize counts post outcomes.
func Summarize(posts []Post) Summary {
	sum := Summary{Total: len(posts)}
	for _, p := range posts {
		switch p.Status {
		case StatusPublished:
			sum.Published++
		case StatusRejected:
			sum.Rejected++
		case StatusFailed:
			sum.Failed++
		}
	}
	return sum
}

// FinalStatus derives the run outcome: completed when any platform published.
func (s Summary) FinalStatus() RunStatus {
	if s.Published > 0 {
		return RunCompleted
	}
	return RunFailed
}

var (
	hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	mentionPattern = regexp.MustCompile(`(^|[^\p{L}\p{N}_.])@([\p{L}\p{N}_.]+)`)
	linkPattern    = regexp.MustCompile(`https?://[^\s<>"']+`)
)

// Entities holds the derived fields extracted from item text.
type Entities struct {
	Hashtags []string
	Mentions []string
	Links    []string
}

// ExtractEntities finds hashtags, mentions, and links in text, deduplicated
// in order of first appearance.
func ExtractEntities(text string) Entities {
	var out Entities
	for _, tag := range hashtagPattern.FindAllString(text, -1) {
		out.Hashtags = appendUnique(out.Hashtags, tag)
	}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		out.Mentions = appendUnique(out.Mentions, "@"+strings.TrimRight(m[2], "."))
	}
	for _, link := range linkPattern.FindAllString(text, -1) {
		out.Links = appendUnique(out.Links, strings.TrimRight(link, ".,;:!?)"))
	}
	return out
}

func appendUnique(list []string, value string) []string {
	if slices.Contains(list, value) {
		return list
	}
	return append(list, value)
}
