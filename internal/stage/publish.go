package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/events"
	"crosspost/internal/logging"
	"crosspost/internal/notifications"
	"crosspost/internal/ratelimit"
	"crosspost/internal/services"
)

// maxSlotWait bounds how long a worker holds an event waiting for a rate
// limit slot. Longer waits go back to the outbox as a throttle.
const maxSlotWait = 30 * time.Second

// PublishExecutor delivers the post through its platform publisher.
type PublishExecutor struct{ *base }

func (e *PublishExecutor) Stage() Name { return Publish }

func (e *PublishExecutor) Execute(ctx context.Context, task Task) error {
	p := task.Payload
	post, done, err := e.open(ctx, p)
	if done || err != nil {
		return err
	}
	if post.Status == content.StatusPublished || reached(post, content.StatePublished) {
		return e.emit(ctx, Finalize, p)
	}
	pub, err := e.deps.Publishers.For(p.Platform)
	if err != nil {
		return err
	}
	if err := e.acquire(ctx, post); err != nil {
		return err
	}

	post.Status = content.StatusPublishing
	post.Attempts++
	if err := e.savePost(ctx, post); err != nil {
		return err
	}

	var externalID, url string
	call := func(ctx context.Context) error {
		var err error
		externalID, url, err = pub.Publish(ctx, *post)
		return err
	}
	if e.deps.Breakers != nil {
		err = e.deps.Breakers.Execute(ctx, p.Platform, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		post.LastError = err.Error()
		if saveErr := e.savePost(ctx, post); saveErr != nil {
			e.logger(ctx).Debug("could not record publish error", logging.Error(saveErr))
		}
		if services.KindOf(err) == services.KindAuth {
			e.notify(ctx, notifications.EventAuthFailure, notifications.Payload{
				"platform": p.Platform,
				"error":    err.Error(),
			})
		}
		return err
	}

	post.ExternalID = externalID
	post.URL = url
	post.Status = content.StatusPublished
	post.State = content.StatePublished
	post.LastError = ""
	if err := e.savePost(ctx, post); err != nil {
		return err
	}
	if err := e.transition(ctx, p, content.StatePublished); err != nil {
		return err
	}
	e.setStage(ctx, p, Publish)
	e.logger(ctx).Info("post published",
		logging.String(logging.FieldEventType, "post_published"),
		logging.String("external_id", externalID),
		logging.String("url", url),
		logging.Int("attempts", post.Attempts),
	)
	e.emitRecord(ctx, events.Event{
		Type:       events.PostPublished,
		RunID:      p.RunID,
		ContentID:  p.ContentID,
		Platform:   p.Platform,
		Status:     string(post.Status),
		ExternalID: externalID,
		URL:        url,
	})
	return e.emit(ctx, Finalize, p)
}

// acquire takes the platform slot and, for posts with a target, the
// per-target slot.
func (e *PublishExecutor) acquire(ctx context.Context, post *content.Post) error {
	if e.deps.Limiter == nil {
		return nil
	}
	keys := []ratelimit.Key{{Platform: post.Platform}}
	if post.Target != "" {
		keys = append(keys, ratelimit.Key{Platform: post.Platform, SubKey: post.Target})
	}
	waitCtx, cancel := context.WithTimeout(ctx, maxSlotWait)
	defer cancel()
	err := e.deps.Limiter.AcquireAll(waitCtx, keys...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ratelimit.ErrWouldExceedDeadline),
		errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return services.RateLimited(string(Publish), post.Platform,
			fmt.Sprintf("no rate limit slot within %s", maxSlotWait), 0, err)
	default:
		return err
	}
}

func (e *PublishExecutor) HealthCheck(context.Context) Health {
	if len(e.deps.Publishers) == 0 {
		return Unhealthy(Publish, "no publishers registered")
	}
	for _, platform := range e.deps.Publishers.Platforms() {
		if state := e.deps.Breakers.State(platform); state != "closed" {
			return Health{Name: string(Publish), Ready: true, Detail: fmt.Sprintf("%s circuit breaker %s", platform, state)}
		}
	}
	return Healthy(Publish)
}

func (b *base) emitRecord(ctx context.Context, ev events.Event) {
	ev.At = b.deps.Clock.Now().UTC()
	if err := b.deps.Events.Emit(ctx, ev); err != nil {
		logging.WarnWithContext(b.logger(ctx), "run event not delivered", "run_event_failed",
			logging.String("record_type", string(ev.Type)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check kafka brokers"),
			logging.String(logging.FieldImpact, "downstream consumers miss this record"),
		)
	}
}
