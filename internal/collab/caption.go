package collab

import (
	"context"
	"slices"
	"strings"

	"crosspost/internal/config"
	"crosspost/internal/services/llm"
)

// TemplateCaptioner uses the source text verbatim and keeps the hashtags
// extracted at enrichment. Platform limits are left for preflight to judge.
type TemplateCaptioner struct{}

func (TemplateCaptioner) Generate(_ context.Context, _ string, text string, cc CaptionContext) (string, []string, error) {
	return strings.TrimSpace(text), slices.Clone(cc.Hashtags), nil
}

// LLMCaptioner asks a chat model to rewrite the text for each platform.
type LLMCaptioner struct {
	client *llm.Client
}

// NewLLMCaptioner wraps an LLM client.
func NewLLMCaptioner(client *llm.Client) *LLMCaptioner {
	return &LLMCaptioner{client: client}
}

func (c *LLMCaptioner) Generate(ctx context.Context, platform, text string, cc CaptionContext) (string, []string, error) {
	out, err := c.client.GenerateCaption(ctx, llm.CaptionRequest{
		Platform:    platform,
		Text:        text,
		Hashtags:    cc.Hashtags,
		MaxLength:   cc.MaxLength,
		MaxHashtags: cc.MaxHashtags,
	})
	if err != nil {
		return "", nil, err
	}
	return out.Caption, normalizeHashtags(out.Hashtags), nil
}

// NewCaptioner selects the captioner configured in cfg.Caption.
func NewCaptioner(cfg *config.Config) CaptionGenerator {
	if cfg.Caption.Provider == config.CaptionLLM {
		return NewLLMCaptioner(llm.NewClient(llm.Config{
			APIKey:         cfg.Caption.APIKey,
			BaseURL:        cfg.Caption.BaseURL,
			Model:          cfg.Caption.Model,
			TimeoutSeconds: cfg.Caption.TimeoutSeconds,
		}))
	}
	return TemplateCaptioner{}
}

func normalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		if !slices.Contains(out, tag) {
			out = append(out, tag)
		}
	}
	return out
}
