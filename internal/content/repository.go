package content

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an item, post, or run does not exist.
var ErrNotFound = errors.New("content: not found")

// ErrExists is returned when creating a record that already exists.
var ErrExists = errors.New("content: already exists")

// Repository persists items, posts, runs, and the transition log.
type Repository interface {
	// CreateSubmission stores a new item together with its run.
	CreateSubmission(ctx context.Context, item *Item, run *Run) error
	GetItem(ctx context.Context, id string) (*Item, error)
	UpdateItem(ctx context.Context, item *Item) error

	GetRun(ctx context.Context, id string) (*Run, error)
	GetRunByContent(ctx context.Context, contentID string) (*Run, error)
	ListRuns(ctx context.Context, status RunStatus, limit int) ([]Run, error)
	SetRunStage(ctx context.Context, runID, stage string) error
	// RequestCancel flags a running run; it reports false when the run already finished.
	RequestCancel(ctx context.Context, runID string) (bool, error)
	// CompleteRun moves a running run to its final status exactly once and
	// reports whether this call performed the transition.
	CompleteRun(ctx context.Context, runID string, status RunStatus, summary Summary) (bool, error)

	// CreatePost inserts a post; it reports false when one already exists.
	CreatePost(ctx context.Context, post *Post) (bool, error)
	GetPost(ctx context.Context, contentID, platform string) (*Post, error)
	ListPosts(ctx context.Context, contentID string) ([]Post, error)
	UpdatePost(ctx context.Context, post *Post) error
	// FailOpenPosts marks every non-terminal post of the item failed.
	FailOpenPosts(ctx context.Context, contentID, reason string) (int, error)

	AppendTransition(ctx context.Context, t Transition) error
	ListTransitions(ctx context.Context, runID string) ([]Transition, error)
}

var (
	_ Repository = (*SQLRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
