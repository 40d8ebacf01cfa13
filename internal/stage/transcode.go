package stage

import (
	"context"

	"crosspost/internal/collab"
	"crosspost/internal/content"
	"crosspost/internal/logging"
)

// TranscodeExecutor prepares the post's media for its platform.
type TranscodeExecutor struct{ *base }

func (e *TranscodeExecutor) Stage() Name { return Transcode }

func (e *TranscodeExecutor) Execute(ctx context.Context, task Task) error {
	p := task.Payload
	post, done, err := e.open(ctx, p)
	if done || err != nil {
		return err
	}
	if reached(post, content.StateTranscoded) {
		return e.emit(ctx, Preflight, p)
	}
	if len(post.Media) > 0 {
		rules := e.platformRules(ctx, p.Platform)
		spec := collab.MediaSpec{
			Platform:     p.Platform,
			Formats:      rules.Media.SupportedFormats,
			MaxFileSize:  rules.Media.MaxFileSize,
			MaxWidth:     rules.Media.Video.MaxWidth,
			MaxHeight:    rules.Media.Video.MaxHeight,
			AspectRatios: rules.Media.Video.AspectRatios,
		}
		refs, err := e.deps.Media.Transcode(ctx, p.ContentID, post.Media, []collab.MediaSpec{spec})
		if err != nil {
			return err
		}
		post.Media = refs
	}
	post.State = content.StateTranscoded
	if err := e.savePost(ctx, post); err != nil {
		return err
	}
	if err := e.transition(ctx, p, content.StateTranscoded); err != nil {
		return err
	}
	e.setStage(ctx, p, Transcode)
	e.logger(ctx).Debug("media prepared", logging.Int("media", len(post.Media)))
	return e.emit(ctx, Preflight, p)
}

func (e *TranscodeExecutor) HealthCheck(context.Context) Health { return Healthy(Transcode) }
