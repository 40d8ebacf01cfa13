package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"crosspost/internal/clock"
	"crosspost/internal/collab"
	"crosspost/internal/content"
	"crosspost/internal/events"
	"crosspost/internal/logging"
	"crosspost/internal/metrics"
	"crosspost/internal/notifications"
	"crosspost/internal/outbox"
	"crosspost/internal/preflight"
	"crosspost/internal/ratelimit"
	"crosspost/internal/retry"
	"crosspost/internal/services"
)

// Deps bundles the collaborators executors share. The daemon builds one
// Deps and passes it to every executor.
type Deps struct {
	Repo       content.Repository
	Outbox     outbox.Store
	Clock      clock.Clock
	Logger     *slog.Logger
	Media      collab.MediaProcessor
	Captioner  collab.CaptionGenerator
	Publishers collab.Publishers
	Limiter    *ratelimit.Limiter
	Breakers   *retry.Breakers
	Rules      *preflight.Loader
	Metrics    *metrics.Metrics
	Events     events.Sink
	Notifier   notifications.Service
}

func (d *Deps) normalize() {
	d.Clock = clock.OrReal(d.Clock)
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Media == nil {
		d.Media = collab.PassthroughProcessor{}
	}
	if d.Captioner == nil {
		d.Captioner = collab.TemplateCaptioner{}
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
}

// base holds helpers shared by the executors.
type base struct {
	deps Deps
}

func (b *base) logger(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, b.deps.Logger)
}

// emit publishes the event that moves p into stage next.
func (b *base) emit(ctx context.Context, next Name, p Payload) error {
	body, err := p.Encode()
	if err != nil {
		return err
	}
	if _, err := b.deps.Outbox.Publish(ctx, next.EventType(), p.EntityID(), body, EventKey(p.ContentID, p.Platform, next)); err != nil {
		return services.Wrap(services.ErrTransient, string(next), "publish event", "outbox write failed", err)
	}
	return nil
}

func (b *base) transition(ctx context.Context, p Payload, state content.PostState) error {
	err := b.deps.Repo.AppendTransition(ctx, content.Transition{RunID: p.RunID, Platform: p.Platform, State: state})
	if err != nil {
		return services.Wrap(services.ErrTransient, "stage", "append transition", string(state), err)
	}
	return nil
}

// transitionOnce appends state unless the log already holds it for the same
// run and platform. Executors record the transition before the state change
// it describes so a redelivered event can still write a missing entry.
func (b *base) transitionOnce(ctx context.Context, p Payload, state content.PostState) error {
	log, err := b.deps.Repo.ListTransitions(ctx, p.RunID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "stage", "list transitions", p.RunID, err)
	}
	for _, t := range log {
		if t.Platform == p.Platform && t.State == state {
			return nil
		}
	}
	return b.transition(ctx, p, state)
}

func (b *base) run(ctx context.Context, p Payload) (*content.Run, error) {
	run, err := b.deps.Repo.GetRun(ctx, p.RunID)
	if err != nil {
		return nil, storeErr("load run", p.RunID, err)
	}
	return run, nil
}

func (b *base) post(ctx context.Context, p Payload) (*content.Post, error) {
	post, err := b.deps.Repo.GetPost(ctx, p.ContentID, p.Platform)
	if err != nil {
		return nil, storeErr("load post", p.EntityID(), err)
	}
	return post, nil
}

func (b *base) savePost(ctx context.Context, post *content.Post) error {
	if err := b.deps.Repo.UpdatePost(ctx, post); err != nil {
		return storeErr("save post", post.ContentID+"/"+post.Platform, err)
	}
	return nil
}

func (b *base) setStage(ctx context.Context, p Payload, name Name) {
	if err := b.deps.Repo.SetRunStage(ctx, p.RunID, string(name)); err != nil {
		b.logger(ctx).Debug("run stage update failed", logging.Error(err))
	}
}

// skipToFinalize handles a post that no longer needs the current stage:
// it is terminal, or its run was cancelled. Cancelled posts are failed
// first so finalize sees a terminal status.
func (b *base) skipToFinalize(ctx context.Context, p Payload, post *content.Post, run *content.Run) (bool, error) {
	if post.State == content.StateFinalized {
		return true, nil
	}
	if !post.Status.Terminal() && run.CancelRequested {
		post.Status = content.StatusFailed
		post.LastError = "run cancelled"
		if err := b.savePost(ctx, post); err != nil {
			return true, err
		}
	}
	if post.Status.Terminal() {
		return true, b.emit(ctx, Finalize, p)
	}
	return false, nil
}

// storeErr classifies repository failures: a missing row can never appear
// on retry, anything else might.
func storeErr(op, id string, err error) error {
	if errors.Is(err, content.ErrNotFound) {
		return services.Wrap(services.ErrNotFound, "stage", op, id, err)
	}
	return services.Wrap(services.ErrTransient, "stage", op, fmt.Sprintf("%s: repository error", id), err)
}
