package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/config"
	"crosspost/internal/content"
	"crosspost/internal/services"
)

const (
	stagePublish          = "publish"
	defaultPublishTimeout = 30 * time.Second
)

// SimulatedPublisher accepts every post and invents an external id. It is
// the adapter used for platforms without a configured endpoint.
type SimulatedPublisher struct {
	Platform string
}

func (p SimulatedPublisher) Publish(ctx context.Context, post content.Post) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	id := uuid.NewString()
	platform := p.Platform
	if platform == "" {
		platform = post.Platform
	}
	return id, fmt.Sprintf("sim://%s/%s", platform, id), nil
}

// WebhookPublisher POSTs the post as JSON to an adapter endpoint and expects
// {"id": "...", "url": "..."} back.
type WebhookPublisher struct {
	platform string
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// NewWebhookPublisher builds a publisher for one platform endpoint.
func NewWebhookPublisher(platform string, cfg config.Publisher, client *http.Client) *WebhookPublisher {
	if client == nil {
		timeout := defaultPublishTimeout
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookPublisher{
		platform: platform,
		endpoint: strings.TrimSpace(cfg.Endpoint),
		client:   client,
		now:      time.Now,
	}
}

type publishRequest struct {
	ContentID string             `json:"content_id"`
	Platform  string             `json:"platform"`
	Target    string             `json:"target,omitempty"`
	Caption   string             `json:"caption"`
	Hashtags  []string           `json:"hashtags,omitempty"`
	Mentions  []string           `json:"mentions,omitempty"`
	Links     []string           `json:"links,omitempty"`
	Media     []content.MediaRef `json:"media,omitempty"`
}

type publishResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (p *WebhookPublisher) Publish(ctx context.Context, post content.Post) (string, string, error) {
	body, err := json.Marshal(publishRequest{
		ContentID: post.ContentID,
		Platform:  p.platform,
		Target:    post.Target,
		Caption:   post.Caption,
		Hashtags:  post.Hashtags,
		Mentions:  post.Mentions,
		Links:     post.Links,
		Media:     post.Media,
	})
	if err != nil {
		return "", "", services.Wrap(services.ErrValidation, stagePublish, p.platform, "encode post", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", services.Wrap(services.ErrConfiguration, stagePublish, p.platform, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", post.ContentID+":"+p.platform)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", services.Wrap(services.ErrTransient, stagePublish, p.platform, "http error", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", "", services.Wrap(services.ErrTransient, stagePublish, p.platform, "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := services.ParseRetryAfter(resp.Header.Get("Retry-After"), p.now())
		return "", "", services.FromHTTPStatus(stagePublish, p.platform, resp.StatusCode, retryAfter, string(payload))
	}
	var out publishResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", "", services.Wrap(services.ErrTransient, stagePublish, p.platform, "decode response", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", "", services.Wrap(services.ErrTransient, stagePublish, p.platform, "adapter returned no id", nil)
	}
	return out.ID, out.URL, nil
}

// NewPublishers registers a publisher for each platform: a webhook when
// cfg.Publishers names an endpoint, otherwise the simulated adapter.
func NewPublishers(cfg *config.Config, platforms []string) Publishers {
	out := make(Publishers, len(platforms))
	for _, platform := range platforms {
		platform = strings.ToLower(strings.TrimSpace(platform))
		if platform == "" {
			continue
		}
		if pc, ok := cfg.Publishers[platform]; ok && strings.TrimSpace(pc.Endpoint) != "" {
			out[platform] = NewWebhookPublisher(platform, pc, nil)
			continue
		}
		out[platform] = SimulatedPublisher{Platform: platform}
	}
	return out
}
