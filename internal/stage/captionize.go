package stage

import (
	"context"

	"crosspost/internal/collab"
	"crosspost/internal/content"
	"crosspost/internal/logging"
	"crosspost/internal/preflight"
)

// CaptionizeExecutor writes the platform caption.
type CaptionizeExecutor struct{ *base }

func (e *CaptionizeExecutor) Stage() Name { return Captionize }

func (e *CaptionizeExecutor) Execute(ctx context.Context, task Task) error {
	p := task.Payload
	post, done, err := e.open(ctx, p)
	if done || err != nil {
		return err
	}
	if reached(post, content.StateCaptioned) {
		return e.emit(ctx, Transcode, p)
	}
	item, err := e.deps.Repo.GetItem(ctx, p.ContentID)
	if err != nil {
		return storeErr("load item", p.ContentID, err)
	}
	rules := e.platformRules(ctx, p.Platform)
	caption, hashtags, err := e.deps.Captioner.Generate(ctx, p.Platform, item.Text, collab.CaptionContext{
		ContentID:   p.ContentID,
		Hashtags:    post.Hashtags,
		Mentions:    post.Mentions,
		Links:       post.Links,
		MaxLength:   rules.Caption.MaxLength,
		MaxHashtags: rules.Hashtags.MaxCount,
	})
	if err != nil {
		return err
	}
	post.Caption = caption
	if hashtags != nil {
		post.Hashtags = hashtags
	}
	post.State = content.StateCaptioned
	if err := e.savePost(ctx, post); err != nil {
		return err
	}
	if err := e.transition(ctx, p, content.StateCaptioned); err != nil {
		return err
	}
	e.setStage(ctx, p, Captionize)
	e.logger(ctx).Debug("caption written",
		logging.Int("caption_runes", len([]rune(caption))),
		logging.Int("hashtags", len(post.Hashtags)),
	)
	return e.emit(ctx, Transcode, p)
}

func (e *CaptionizeExecutor) HealthCheck(context.Context) Health { return Healthy(Captionize) }

// open loads the post and routes terminal or cancelled posts to
// finalize. done reports that the caller has nothing left to do.
func (b *base) open(ctx context.Context, p Payload) (*content.Post, bool, error) {
	run, err := b.run(ctx, p)
	if err != nil {
		return nil, true, err
	}
	post, err := b.post(ctx, p)
	if err != nil {
		return nil, true, err
	}
	done, err := b.skipToFinalize(ctx, p, post, run)
	return post, done, err
}

// platformRules returns the preflight rules for platform, or the defaults
// when no loader is wired or the platform is unknown.
func (b *base) platformRules(ctx context.Context, platform string) preflight.PlatformRules {
	if b.deps.Rules == nil {
		return preflight.DefaultPlatformRules()
	}
	if rules, ok := b.deps.Rules.Rules(ctx).For(platform); ok {
		return rules
	}
	return preflight.DefaultPlatformRules()
}
