package stage

import (
	"context"
	"strconv"

	"crosspost/internal/content"
	"crosspost/internal/events"
	"crosspost/internal/logging"
	"crosspost/internal/notifications"
)

// FinalizeExecutor closes a post and, once every post of the item is
// closed, completes the run. Run completion happens exactly once because
// the repository only moves a running run.
type FinalizeExecutor struct{ *base }

func (e *FinalizeExecutor) Stage() Name { return Finalize }

func (e *FinalizeExecutor) Execute(ctx context.Context, task Task) error {
	p := task.Payload
	if p.Platform == "" {
		if err := e.closeAll(ctx, p); err != nil {
			return err
		}
		return e.completeRun(ctx, p, true)
	}
	post, err := e.post(ctx, p)
	if err != nil {
		return err
	}
	if err := e.closePost(ctx, p, post); err != nil {
		return err
	}
	return e.completeRun(ctx, p, false)
}

func (e *FinalizeExecutor) HealthCheck(context.Context) Health { return Healthy(Finalize) }

func (e *FinalizeExecutor) closePost(ctx context.Context, p Payload, post *content.Post) error {
	if post.State == content.StateFinalized {
		return nil
	}
	if !post.Status.Terminal() {
		post.Status = content.StatusFailed
		if post.LastError == "" {
			post.LastError = "finalized before publishing"
		}
	}
	if err := e.transitionOnce(ctx, p, content.StateFinalized); err != nil {
		return err
	}
	post.State = content.StateFinalized
	if err := e.savePost(ctx, post); err != nil {
		return err
	}
	e.deps.Metrics.IncPost(post.Platform, string(post.Status))
	switch post.Status {
	case content.StatusFailed:
		e.emitRecord(ctx, events.Event{Type: events.PostFailed, RunID: p.RunID, ContentID: p.ContentID,
			Platform: post.Platform, Status: string(post.Status), Error: post.LastError})
	case content.StatusRejected:
		e.emitRecord(ctx, events.Event{Type: events.PostRejected, RunID: p.RunID, ContentID: p.ContentID,
			Platform: post.Platform, Status: string(post.Status), Error: post.LastError})
	}
	return nil
}

// closeAll finalizes every post of an item whose run ended before or
// during fan-out.
func (e *FinalizeExecutor) closeAll(ctx context.Context, p Payload) error {
	posts, err := e.deps.Repo.ListPosts(ctx, p.ContentID)
	if err != nil {
		return storeErr("list posts", p.ContentID, err)
	}
	for i := range posts {
		post := posts[i]
		if err := e.closePost(ctx, Payload{RunID: p.RunID, ContentID: p.ContentID, Platform: post.Platform}, &post); err != nil {
			return err
		}
	}
	return nil
}

// completeRun finishes the run when every post is finalized. A run-level
// finalize does not wait for a complete fan-out.
func (e *FinalizeExecutor) completeRun(ctx context.Context, p Payload, runLevel bool) error {
	item, err := e.deps.Repo.GetItem(ctx, p.ContentID)
	if err != nil {
		return storeErr("load item", p.ContentID, err)
	}
	posts, err := e.deps.Repo.ListPosts(ctx, p.ContentID)
	if err != nil {
		return storeErr("list posts", p.ContentID, err)
	}
	if !runLevel && len(posts) < len(item.Platforms) {
		return nil
	}
	for _, post := range posts {
		if post.State != content.StateFinalized {
			return nil
		}
	}
	run, err := e.run(ctx, p)
	if err != nil {
		return err
	}
	if run.Status != content.RunRunning {
		return nil
	}
	summary := content.Summarize(posts)
	status := summary.FinalStatus()
	if run.CancelRequested {
		status = content.RunCancelled
	}
	if err := e.transitionOnce(ctx, Payload{RunID: p.RunID, ContentID: p.ContentID}, content.StateFinalized); err != nil {
		return err
	}
	completed, err := e.deps.Repo.CompleteRun(ctx, p.RunID, status, summary)
	if err != nil {
		return storeErr("complete run", p.RunID, err)
	}
	if !completed {
		return nil
	}

	item.Finalized = true
	if err := e.deps.Repo.UpdateItem(ctx, item); err != nil {
		e.logger(ctx).Debug("item finalized flag not saved", logging.Error(err))
	}
	e.deps.Metrics.IncRun(string(status))
	e.logger(ctx).Info("run finalized",
		logging.String(logging.FieldEventType, "run_finalized"),
		logging.String("status", string(status)),
		logging.Int("published", summary.Published),
		logging.Int("rejected", summary.Rejected),
		logging.Int("failed", summary.Failed),
	)
	e.emitRecord(ctx, events.Event{
		Type:      events.RunFinalized,
		RunID:     p.RunID,
		ContentID: p.ContentID,
		Status:    string(status),
		Summary:   &events.Summary{Published: summary.Published, Rejected: summary.Rejected, Failed: summary.Failed},
	})
	e.notify(ctx, notifications.EventRunFinalized, notifications.Payload{
		"content_id": p.ContentID,
		"status":     string(status),
		"published":  strconv.Itoa(summary.Published),
		"rejected":   strconv.Itoa(summary.Rejected),
		"failed":     strconv.Itoa(summary.Failed),
	})
	return nil
}
