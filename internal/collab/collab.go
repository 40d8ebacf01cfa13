// Package collab defines the narrow interfaces the pipeline uses to reach
// external collaborators (media processing, caption writing, platform
// publishing) along with the implementations the daemon ships: a storage
// backed media stager, template and LLM captioners, and simulated and
// webhook publishers.
//
// Implementations report failures with services error kinds so the retry
// policy can classify them without knowing the collaborator.
package collab

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"crosspost/internal/content"
	"crosspost/internal/services"
)

// MediaSpec is the media envelope one platform accepts.
type MediaSpec struct {
	Platform     string
	Formats      []string
	MaxFileSize  int64
	MaxWidth     int
	MaxHeight    int
	AspectRatios []string
}

// CaptionContext carries the limits and derived entities a captioner should respect.
type CaptionContext struct {
	ContentID   string
	Hashtags    []string
	Mentions    []string
	Links       []string
	MaxLength   int
	MaxHashtags int
}

// MediaProcessor prepares media for a set of platform specs.
type MediaProcessor interface {
	Transcode(ctx context.Context, contentID string, refs []content.MediaRef, specs []MediaSpec) ([]content.MediaRef, error)
}

// CaptionGenerator writes a platform caption for source text.
type CaptionGenerator interface {
	Generate(ctx context.Context, platform, text string, cc CaptionContext) (caption string, hashtags []string, err error)
}

// PlatformPublisher delivers a finished post to one platform.
type PlatformPublisher interface {
	Publish(ctx context.Context, post content.Post) (externalID, url string, err error)
}

// Publishers routes posts to the publisher registered for their platform.
type Publishers map[string]PlatformPublisher

// For returns the publisher for platform or a configuration error.
func (p Publishers) For(platform string) (PlatformPublisher, error) {
	pub, ok := p[strings.ToLower(platform)]
	if !ok || pub == nil {
		return nil, services.Wrap(services.ErrConfiguration, "publish", "lookup publisher",
			fmt.Sprintf("no publisher registered for %q", platform), nil)
	}
	return pub, nil
}

// Platforms lists registered platforms in sorted order.
func (p Publishers) Platforms() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
