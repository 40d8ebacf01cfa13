package content

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"crosspost/internal/clock"
)

// MemoryRepository is an in-process Repository used by tests and dry runs.
type MemoryRepository struct {
	mu          sync.Mutex
	clock       clock.Clock
	items       map[string]Item
	runs        map[string]Run
	posts       map[string]Post
	transitions map[string][]Transition
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository(clk clock.Clock) *MemoryRepository {
	return &MemoryRepository{
		clock:       clock.OrReal(clk),
		items:       make(map[string]Item),
		runs:        make(map[string]Run),
		posts:       make(map[string]Post),
		transitions: make(map[string][]Transition),
	}
}

func postKey(contentID, platform string) string {
	return contentID + "/" + platform
}

func cloneItem(item Item) Item {
	item.Media = slices.Clone(item.Media)
	item.Platforms = slices.Clone(item.Platforms)
	item.Targets = maps.Clone(item.Targets)
	item.Hashtags = slices.Clone(item.Hashtags)
	item.Mentions = slices.Clone(item.Mentions)
	item.Links = slices.Clone(item.Links)
	return item
}

func clonePost(post Post) Post {
	post.Hashtags = slices.Clone(post.Hashtags)
	post.Mentions = slices.Clone(post.Mentions)
	post.Links = slices.Clone(post.Links)
	post.Media = slices.Clone(post.Media)
	post.Violations = slices.Clone(post.Violations)
	return post
}

func (m *MemoryRepository) CreateSubmission(_ context.Context, item *Item, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; ok {
		return fmt.Errorf("%w: item %s", ErrExists, item.ID)
	}
	now := m.clock.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	run.CreatedAt, run.UpdatedAt = now, now
	if run.Status == "" {
		run.Status = RunRunning
	}
	m.items[item.ID] = cloneItem(*item)
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryRepository) GetItem(_ context.Context, id string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, id)
	}
	out := cloneItem(item)
	return &out, nil
}

func (m *MemoryRepository) UpdateItem(_ context.Context, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[item.ID]
	if !ok {
		return fmt.Errorf("%w: item %s", ErrNotFound, item.ID)
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = m.clock.Now().UTC()
	m.items[item.ID] = cloneItem(*item)
	return nil
}

func (m *MemoryRepository) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return &run, nil
}

func (m *MemoryRepository) GetRunByContent(_ context.Context, contentID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.ContentID == contentID {
			return &run, nil
		}
	}
	return nil, fmt.Errorf("%w: run for %s", ErrNotFound, contentID)
}

func (m *MemoryRepository) ListRuns(_ context.Context, status RunStatus, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []Run
	for _, run := range m.runs {
		if status == "" || run.Status == status {
			runs = append(runs, run)
		}
	}
	slices.SortFunc(runs, func(a, b Run) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MemoryRepository) SetRunStage(_ context.Context, runID, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.Status != RunRunning {
		return nil
	}
	run.Stage = stage
	run.UpdatedAt = m.clock.Now().UTC()
	m.runs[runID] = run
	return nil
}

func (m *MemoryRepository) RequestCancel(_ context.Context, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return false, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	if run.Status != RunRunning {
		return false, nil
	}
	run.CancelRequested = true
	run.UpdatedAt = m.clock.Now().UTC()
	m.runs[runID] = run
	return true, nil
}

func (m *MemoryRepository) CompleteRun(_ context.Context, runID string, status RunStatus, summary Summary) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.Status != RunRunning {
		return false, nil
	}
	now := m.clock.Now().UTC()
	run.Status = status
	run.Summary = summary
	run.Stage = "finalize"
	run.UpdatedAt = now
	run.FinishedAt = now
	m.runs[runID] = run
	return true, nil
}

func (m *MemoryRepository) CreatePost(_ context.Context, post *Post) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := postKey(post.ContentID, post.Platform)
	if _, ok := m.posts[key]; ok {
		return false, nil
	}
	now := m.clock.Now().UTC()
	post.CreatedAt, post.UpdatedAt = now, now
	m.posts[key] = clonePost(*post)
	return true, nil
}

func (m *MemoryRepository) GetPost(_ context.Context, contentID, platform string) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[postKey(contentID, platform)]
	if !ok {
		return nil, fmt.Errorf("%w: post %s/%s", ErrNotFound, contentID, platform)
	}
	out := clonePost(post)
	return &out, nil
}

func (m *MemoryRepository) ListPosts(_ context.Context, contentID string) ([]Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var posts []Post
	for _, post := range m.posts {
		if post.ContentID == contentID {
			posts = append(posts, clonePost(post))
		}
	}
	slices.SortFunc(posts, func(a, b Post) int { return strings.Compare(a.Platform, b.Platform) })
	return posts, nil
}

func (m *MemoryRepository) UpdatePost(_ context.Context, post *Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := postKey(post.ContentID, post.Platform)
	existing, ok := m.posts[key]
	if !ok {
		return fmt.Errorf("%w: post %s", ErrNotFound, key)
	}
	post.CreatedAt = existing.CreatedAt
	post.UpdatedAt = m.clock.Now().UTC()
	m.posts[key] = clonePost(*post)
	return nil
}

func (m *MemoryRepository) FailOpenPosts(_ context.Context, contentID, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, post := range m.posts {
		if post.ContentID != contentID || post.Status.Terminal() {
			continue
		}
		post.Status = StatusFailed
		post.LastError = reason
		post.UpdatedAt = m.clock.Now().UTC()
		m.posts[key] = post
		n++
	}
	return n, nil
}

func (m *MemoryRepository) AppendTransition(_ context.Context, t Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.At.IsZero() {
		t.At = m.clock.Now().UTC()
	}
	m.transitions[t.RunID] = append(m.transitions[t.RunID], t)
	return nil
}

func (m *MemoryRepository) ListTransitions(_ context.Context, runID string) ([]Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.transitions[runID]), nil
}
