package collab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/services"
	"crosspost/internal/storage"
)

const (
	stageTranscode       = "transcode"
	defaultMaxStageBytes = 512 << 20
)

// PassthroughProcessor returns media unchanged.
type PassthroughProcessor struct{}

func (PassthroughProcessor) Transcode(_ context.Context, _ string, refs []content.MediaRef, _ []MediaSpec) ([]content.MediaRef, error) {
	return slices.Clone(refs), nil
}

// StagingProcessor copies each source media object into Storage so every
// publisher fetches from one place. Refs that already carry a storage key
// are left alone, which makes redelivery cheap.
type StagingProcessor struct {
	store    storage.Storage
	client   *http.Client
	maxBytes int64
	now      func() time.Time
}

// NewStagingProcessor builds a processor writing into store.
func NewStagingProcessor(store storage.Storage, client *http.Client) *StagingProcessor {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &StagingProcessor{store: store, client: client, maxBytes: defaultMaxStageBytes, now: time.Now}
}

// WithMaxBytes caps the size of a single staged object. Values <= 0 keep the
// default.
func (p *StagingProcessor) WithMaxBytes(n int64) *StagingProcessor {
	if n > 0 {
		p.maxBytes = n
	}
	return p
}

func (p *StagingProcessor) Transcode(ctx context.Context, contentID string, refs []content.MediaRef, specs []MediaSpec) ([]content.MediaRef, error) {
	scope := "shared"
	if len(specs) == 1 && specs[0].Platform != "" {
		scope = specs[0].Platform
	}
	out := make([]content.MediaRef, 0, len(refs))
	for i, ref := range refs {
		if ref.StorageKey != "" {
			out = append(out, ref)
			continue
		}
		staged, err := p.stage(ctx, fmt.Sprintf("%s/%s/%d", contentID, scope, i), ref)
		if err != nil {
			return nil, err
		}
		out = append(out, staged)
	}
	return out, nil
}

func (p *StagingProcessor) stage(ctx context.Context, keyBase string, ref content.MediaRef) (content.MediaRef, error) {
	data, err := p.fetch(ctx, ref.URL)
	if err != nil {
		return ref, err
	}
	format := strings.ToLower(strings.TrimPrefix(ref.Format, "."))
	if format == "" {
		format = strings.ToLower(strings.TrimPrefix(path.Ext(sourcePath(ref.URL)), "."))
	}
	key := keyBase
	if format != "" {
		key += "." + format
	}
	stagedURL, err := p.store.Put(ctx, key, bytes.NewReader(data), mime.TypeByExtension("."+format))
	if err != nil {
		return ref, err
	}
	ref.StorageKey = key
	ref.URL = stagedURL
	ref.Format = format
	if ref.SizeBytes == 0 {
		ref.SizeBytes = int64(len(data))
	}
	return ref, nil
}

func (p *StagingProcessor) fetch(ctx context.Context, raw string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return nil, services.Wrap(services.ErrValidation, stageTranscode, "fetch media", fmt.Sprintf("invalid media url %q", raw), err)
	}
	switch u.Scheme {
	case "file":
		f, err := os.Open(u.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, services.Wrap(services.ErrNotFound, stageTranscode, "fetch media", u.Path, err)
			}
			return nil, services.Wrap(services.ErrTransient, stageTranscode, "fetch media", u.Path, err)
		}
		defer f.Close()
		return p.readLimited(f, raw)
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, stageTranscode, "fetch media", raw, err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, services.Wrap(services.ErrTransient, stageTranscode, "fetch media", raw, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusMultipleChoices {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			retryAfter, _ := services.ParseRetryAfter(resp.Header.Get("Retry-After"), p.now())
			return nil, services.FromHTTPStatus(stageTranscode, "fetch media", resp.StatusCode, retryAfter, string(body))
		}
		return p.readLimited(resp.Body, raw)
	default:
		return nil, services.Wrap(services.ErrValidation, stageTranscode, "fetch media", fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}
}

func (p *StagingProcessor) readLimited(r io.Reader, source string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, p.maxBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageTranscode, "read media", source, err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, services.Wrap(services.ErrValidation, stageTranscode, "read media",
			fmt.Sprintf("%s exceeds %d bytes", source, p.maxBytes), nil)
	}
	return data, nil
}

func sourcePath(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Path
	}
	return raw
}
