package services

import "context"

type contextKey string

const (
	runIDKey     contextKey = "run_id"
	contentIDKey contextKey = "content_id"
	platformKey  contextKey = "platform"
	stageKey     contextKey = "stage"
	eventIDKey   contextKey = "event_id"
	requestIDKey contextKey = "request_id"
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRunID annotates context with the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	return withString(ctx, runIDKey, id)
}

// RunIDFromContext extracts the pipeline run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, runIDKey)
}

// WithContentID annotates context with the content item identifier.
func WithContentID(ctx context.Context, id string) context.Context {
	return withString(ctx, contentIDKey, id)
}

// ContentIDFromContext extracts the content item identifier if present.
func ContentIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, contentIDKey)
}

// WithPlatform annotates context with the target platform.
func WithPlatform(ctx context.Context, platform string) context.Context {
	return withString(ctx, platformKey, platform)
}

// PlatformFromContext returns the target platform if present.
func PlatformFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, platformKey)
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithEventID annotates context with the outbox event being processed.
func WithEventID(ctx context.Context, id string) context.Context {
	return withString(ctx, eventIDKey, id)
}

// EventIDFromContext returns the outbox event identifier if present.
func EventIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, eventIDKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}
