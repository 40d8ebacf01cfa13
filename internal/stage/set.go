package stage

import (
	"context"

	"crosspost/internal/content"
	"crosspost/internal/logging"
	"crosspost/internal/notifications"
	"crosspost/internal/services"
)

// Set holds the executor for every stage.
type Set struct {
	base     *base
	handlers map[Name]Handler
}

// NewSet builds one executor per stage around shared deps.
func NewSet(deps Deps) *Set {
	deps.normalize()
	b := &base{deps: deps}
	s := &Set{base: b, handlers: make(map[Name]Handler, len(Order))}
	for _, h := range []Handler{
		&IngestExecutor{b},
		&EnrichExecutor{b},
		&CaptionizeExecutor{b},
		&TranscodeExecutor{b},
		&PreflightExecutor{b},
		&PublishExecutor{b},
		&FinalizeExecutor{b},
	} {
		s.handlers[h.Stage()] = h
	}
	return s
}

// Handler returns the executor for name.
func (s *Set) Handler(name Name) (Handler, bool) {
	h, ok := s.handlers[name]
	return h, ok
}

// Health reports every executor's readiness keyed by stage name.
func (s *Set) Health(ctx context.Context) map[string]Health {
	out := make(map[string]Health, len(s.handlers))
	for _, name := range Order {
		if h, ok := s.handlers[name]; ok {
			out[string(name)] = h.HealthCheck(ctx)
		}
	}
	return out
}

// Abort records a failure the retry policy gave up on and routes the work to
// finalize. A platform event fails its post. A content-level event fails
// every open post of the item and finalizes the run.
func (s *Set) Abort(ctx context.Context, task Task, reason string, kind services.Kind) error {
	b := s.base
	p := task.Payload
	logger := b.logger(ctx)
	if task.Stage.ContentLevel() || p.Platform == "" {
		if _, err := b.deps.Repo.FailOpenPosts(ctx, p.ContentID, reason); err != nil {
			return storeErr("fail open posts", p.ContentID, err)
		}
		return b.emit(ctx, Finalize, Payload{RunID: p.RunID, ContentID: p.ContentID})
	}

	post, err := b.post(ctx, p)
	if err != nil {
		return err
	}
	if !post.Status.Terminal() {
		if task.Stage == Publish {
			if err := b.transitionOnce(ctx, p, content.StatePublishFailed); err != nil {
				return err
			}
		}
		post.Status = content.StatusFailed
		post.LastError = reason
		if task.Stage == Publish {
			post.State = content.StatePublishFailed
		}
		if err := b.savePost(ctx, post); err != nil {
			return err
		}
		if task.Stage == Publish {
			b.notify(ctx, notifications.EventPublishFailed, notifications.Payload{
				"content_id": p.ContentID,
				"platform":   p.Platform,
				"error":      reason,
				"kind":       string(kind),
			})
		}
	}
	logger.Warn("post failed",
		logging.String(logging.FieldStage, string(task.Stage)),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "post_failed"),
		logging.String(logging.FieldErrorHint, "inspect the run status for the last error"),
	)
	return b.emit(ctx, Finalize, p)
}

func (b *base) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if b.deps.Notifier == nil {
		return
	}
	if err := b.deps.Notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(b.logger(ctx), "notification failed", "notification_failed",
			logging.String("notification", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the ntfy topic and network"),
			logging.String(logging.FieldImpact, "operators miss this alert"),
		)
	}
}

// stateRank orders post states along the pipeline. The two preflight
// outcomes share a rank, as do the two publish outcomes.
func stateRank(state content.PostState) int {
	switch state {
	case content.StateIngested:
		return 0
	case content.StateEnriched:
		return 1
	case content.StateCaptioned:
		return 2
	case content.StateTranscoded:
		return 3
	case content.StatePreflightPassed, content.StatePreflightBlocked:
		return 4
	case content.StatePublished, content.StatePublishFailed:
		return 5
	case content.StateFinalized:
		return 6
	default:
		return -1
	}
}

func reached(post *content.Post, state content.PostState) bool {
	return stateRank(post.State) >= stateRank(state)
}
