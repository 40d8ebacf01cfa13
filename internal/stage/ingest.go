package stage

import (
	"context"
	"strings"

	"crosspost/internal/content"
	"crosspost/internal/logging"
	"crosspost/internal/services"
)

// IngestExecutor checks the stored item and starts enrichment.
type IngestExecutor struct{ *base }

func (e *IngestExecutor) Stage() Name { return Ingest }

func (e *IngestExecutor) Execute(ctx context.Context, task Task) error {
	p := task.Payload
	run, err := e.run(ctx, p)
	if err != nil {
		return err
	}
	if run.Status != content.RunRunning {
		return nil
	}
	if run.CancelRequested {
		return e.emit(ctx, Finalize, Payload{RunID: p.RunID, ContentID: p.ContentID})
	}
	item, err := e.deps.Repo.GetItem(ctx, p.ContentID)
	if err != nil {
		return storeErr("load item", p.ContentID, err)
	}
	if strings.TrimSpace(item.Text) == "" && len(item.Media) == 0 {
		return services.Wrap(services.ErrValidation, string(Ingest), "check item", "item has neither text nor media", nil)
	}
	if len(item.Platforms) == 0 {
		return services.Wrap(services.ErrValidation, string(Ingest), "check item", "item targets no platforms", nil)
	}
	if err := e.transition(ctx, p, content.StateIngested); err != nil {
		return err
	}
	e.setStage(ctx, p, Ingest)
	e.logger(ctx).Info("content ingested",
		logging.String(logging.FieldEventType, "content_ingested"),
		logging.Int("media", len(item.Media)),
		logging.String("platforms", strings.Join(item.Platforms, ",")),
	)
	return e.emit(ctx, Enrich, p)
}

func (e *IngestExecutor) HealthCheck(context.Context) Health { return Healthy(Ingest) }

// EnrichExecutor extracts hashtags, mentions, and links, then fans the item
// out into one post per platform.
type EnrichExecutor struct{ *base }

func (e *EnrichExecutor) Stage() Name { return Enrich }

func (e *EnrichExecutor) Execute(ctx context.Context, task Task) error {
	p := task.Payload
	run, err := e.run(ctx, p)
	if err != nil {
		return err
	}
	if run.Status != content.RunRunning {
		return nil
	}
	if run.CancelRequested {
		return e.emit(ctx, Finalize, Payload{RunID: p.RunID, ContentID: p.ContentID})
	}
	item, err := e.deps.Repo.GetItem(ctx, p.ContentID)
	if err != nil {
		return storeErr("load item", p.ContentID, err)
	}
	if !item.Enriched {
		entities := content.ExtractEntities(item.Text)
		item.Hashtags = entities.Hashtags
		item.Mentions = entities.Mentions
		item.Links = entities.Links
		item.Enriched = true
		if err := e.deps.Repo.UpdateItem(ctx, item); err != nil {
			return storeErr("save item", item.ID, err)
		}
	}

	// Every post exists before any platform event is published, so finalize
	// never sees a partial fan-out.
	for _, platform := range item.Platforms {
		post := &content.Post{
			ContentID: item.ID,
			Platform:  platform,
			Target:    item.Targets[platform],
			Status:    content.StatusQueued,
			State:     content.StateEnriched,
			Caption:   item.Text,
			Hashtags:  item.Hashtags,
			Mentions:  item.Mentions,
			Links:     item.Links,
			Media:     item.Media,
		}
		created, err := e.deps.Repo.CreatePost(ctx, post)
		if err != nil {
			return storeErr("create post", item.ID+"/"+platform, err)
		}
		if created {
			if err := e.transition(ctx, Payload{RunID: p.RunID, ContentID: p.ContentID, Platform: platform}, content.StateEnriched); err != nil {
				return err
			}
		}
	}
	for _, platform := range item.Platforms {
		if err := e.emit(ctx, Captionize, Payload{RunID: p.RunID, ContentID: p.ContentID, Platform: platform}); err != nil {
			return err
		}
	}
	e.setStage(ctx, p, Enrich)
	e.logger(ctx).Info("content enriched",
		logging.String(logging.FieldEventType, "content_enriched"),
		logging.Int("hashtags", len(item.Hashtags)),
		logging.Int("mentions", len(item.Mentions)),
		logging.Int("links", len(item.Links)),
		logging.Int("posts", len(item.Platforms)),
	)
	return nil
}

func (e *EnrichExecutor) HealthCheck(context.Context) Health { return Healthy(Enrich) }
