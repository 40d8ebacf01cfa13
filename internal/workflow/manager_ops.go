package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"crosspost/internal/content"
	"crosspost/internal/logging"
	"crosspost/internal/services"
	"crosspost/internal/stage"
)

// PlatformStatus is the per-platform view of a run.
type PlatformStatus struct {
	Platform   string              `json:"platform"`
	Target     string              `json:"target,omitempty"`
	Status     content.PostStatus  `json:"status"`
	State      content.PostState   `json:"state"`
	ExternalID string              `json:"external_id,omitempty"`
	URL        string              `json:"url,omitempty"`
	LastError  string              `json:"last_error,omitempty"`
	Violations []content.Violation `json:"violations,omitempty"`
	Attempts   int                 `json:"attempts"`
}

// RunStatus reports the progress of one run.
type RunStatus struct {
	Run         content.Run          `json:"run"`
	Platforms   []PlatformStatus     `json:"platforms"`
	Transitions []content.Transition `json:"transitions"`
}

// SubmitContent stores the item with a new run and queues its ingest event.
// Submitting an item ID that already exists returns the existing run.
func (m *Manager) SubmitContent(ctx context.Context, item content.Item) (string, error) {
	if m.repo == nil || m.outbox == nil {
		return "", services.Wrap(services.ErrConfiguration, "submit", "check workflow", "workflow storage not configured", nil)
	}
	m.normalizeItem(&item)
	if err := validateItem(item); err != nil {
		return "", err
	}

	run := content.Run{
		ID:        uuid.NewString(),
		ContentID: item.ID,
		Status:    content.RunRunning,
		Stage:     string(stage.Ingest),
	}
	err := m.repo.CreateSubmission(ctx, &item, &run)
	switch {
	case errors.Is(err, content.ErrExists):
		existing, getErr := m.repo.GetRunByContent(ctx, item.ID)
		if getErr != nil {
			return "", services.Wrap(services.ErrTransient, "submit", "load run", "content exists but its run could not be loaded", getErr)
		}
		run = *existing
		m.logger.Info("content already submitted",
			logging.String(logging.FieldContentID, item.ID),
			logging.String(logging.FieldRunID, run.ID),
		)
	case err != nil:
		return "", services.Wrap(services.ErrTransient, "submit", "store submission", "failed to store content", err)
	}

	payload := stage.Payload{RunID: run.ID, ContentID: item.ID}
	body, err := payload.Encode()
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, "submit", "encode payload", "failed to encode ingest event", err)
	}
	key := stage.EventKey(item.ID, "", stage.Ingest)
	if _, err := m.outbox.Publish(ctx, stage.Ingest.EventType(), payload.EntityID(), body, key); err != nil {
		return "", services.Wrap(services.ErrTransient, "submit", "publish event", "failed to queue ingest event", err)
	}
	m.logger.Info("content submitted",
		logging.String(logging.FieldContentID, item.ID),
		logging.String(logging.FieldRunID, run.ID),
		logging.String("platforms", strings.Join(item.Platforms, ",")),
		logging.String(logging.FieldEventType, "content_submitted"),
	)
	m.Wake()
	return run.ID, nil
}

func (m *Manager) normalizeItem(item *content.Item) {
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Text = strings.TrimSpace(item.Text)
	platforms := make([]string, 0, len(item.Platforms))
	for _, p := range item.Platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && !slices.Contains(platforms, p) {
			platforms = append(platforms, p)
		}
	}
	if len(platforms) == 0 && m.cfg != nil {
		platforms = append(platforms, m.cfg.Workflow.DefaultPlatforms...)
	}
	item.Platforms = platforms
	if len(item.Targets) > 0 {
		targets := make(map[string]string, len(item.Targets))
		for k, v := range item.Targets {
			targets[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
		item.Targets = targets
	}
	item.Enriched = false
	item.Finalized = false
}

func validateItem(item content.Item) error {
	if item.Text == "" && len(item.Media) == 0 {
		return services.Wrap(services.ErrValidation, "submit", "check item", "content needs text or media", nil)
	}
	if len(item.Platforms) == 0 {
		return services.Wrap(services.ErrValidation, "submit", "check item", "no target platforms", nil)
	}
	for i, ref := range item.Media {
		if strings.TrimSpace(ref.URL) == "" {
			return services.Wrap(services.ErrValidation, "submit", "check item", fmt.Sprintf("media %d has no url", i), nil)
		}
	}
	return nil
}

// GetRunStatus returns the run with its per-platform posts and transitions.
func (m *Manager) GetRunStatus(ctx context.Context, runID string) (RunStatus, error) {
	run, err := m.repo.GetRun(ctx, runID)
	if err != nil {
		return RunStatus{}, lookupErr("load run", runID, err)
	}
	posts, err := m.repo.ListPosts(ctx, run.ContentID)
	if err != nil {
		return RunStatus{}, lookupErr("list posts", run.ContentID, err)
	}
	transitions, err := m.repo.ListTransitions(ctx, runID)
	if err != nil {
		return RunStatus{}, lookupErr("list transitions", runID, err)
	}
	status := RunStatus{Run: *run, Transitions: transitions, Platforms: make([]PlatformStatus, 0, len(posts))}
	for _, post := range posts {
		status.Platforms = append(status.Platforms, PlatformStatus{
			Platform:   post.Platform,
			Target:     post.Target,
			Status:     post.Status,
			State:      post.State,
			ExternalID: post.ExternalID,
			URL:        post.URL,
			LastError:  post.LastError,
			Violations: post.Violations,
			Attempts:   post.Attempts,
		})
	}
	if run.Status == content.RunRunning {
		status.Run.Summary = content.Summarize(posts)
	}
	return status, nil
}

// CancelRun flags the run as cancelled and interrupts its in-flight events.
// Open posts are failed and the run finalizes as cancelled. It reports false
// when the run had already finished.
func (m *Manager) CancelRun(ctx context.Context, runID string) (bool, error) {
	ok, err := m.repo.RequestCancel(ctx, runID)
	if err != nil {
		return false, lookupErr("cancel run", runID, err)
	}
	if !ok {
		return false, nil
	}
	interrupted := m.interrupt(runID)
	expedited := m.expediteRun(ctx, runID)
	m.logger.Info("run cancel requested",
		logging.String(logging.FieldRunID, runID),
		logging.Int("interrupted", interrupted),
		logging.Int64("expedited", expedited),
		logging.String(logging.FieldEventType, "run_cancel_requested"),
	)
	m.Wake()
	return true, nil
}

// expediteRun makes the run's waiting events due now so a cancelled run
// does not sit out a retry backoff or throttle cooldown before finalizing.
// A failure only delays finalize until the events come due on their own.
func (m *Manager) expediteRun(ctx context.Context, runID string) int64 {
	run, err := m.repo.GetRun(ctx, runID)
	if err == nil {
		var n int64
		n, err = m.outbox.Expedite(ctx, run.ContentID)
		if err == nil {
			return n
		}
	}
	logging.WarnWithContext(m.logger, "cancelled run events not expedited", "run_cancel_expedite_failed",
		logging.String(logging.FieldRunID, runID),
		logging.Error(err),
		logging.String(logging.FieldImpact, "run finalizes once pending backoffs expire"),
	)
	return 0
}

// RetryEvents moves failed events back to pending.
func (m *Manager) RetryEvents(ctx context.Context, ids ...string) (int64, error) {
	n, err := m.outbox.Requeue(ctx, ids...)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "outbox", "requeue", "failed to requeue events", err)
	}
	if n > 0 {
		m.logger.Info("events requeued", logging.Int64("count", n))
		m.Wake()
	}
	return n, nil
}

func lookupErr(op, id string, err error) error {
	if errors.Is(err, content.ErrNotFound) {
		return services.Wrap(services.ErrNotFound, "status", op, id+" not found", err)
	}
	return services.Wrap(services.ErrTransient, "status", op, "failed to read "+id, err)
}
