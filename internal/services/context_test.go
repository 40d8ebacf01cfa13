package services_test

import (
	"context"
	"testing"

	"crosspost/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithContentID(ctx, "content-1")
	ctx = services.WithPlatform(ctx, "vk")
	ctx = services.WithStage(ctx, "publish")
	ctx = services.WithEventID(ctx, "evt-9")
	ctx = services.WithRequestID(ctx, "req-123")

	checks := []struct {
		name string
		get  func(context.Context) (string, bool)
		want string
	}{
		{"run", services.RunIDFromContext, "run-1"},
		{"content", services.ContentIDFromContext, "content-1"},
		{"platform", services.PlatformFromContext, "vk"},
		{"stage", services.StageFromContext, "publish"},
		{"event", services.EventIDFromContext, "evt-9"},
		{"request", services.RequestIDFromContext, "req-123"},
	}
	for _, tc := range checks {
		got, ok := tc.get(ctx)
		if !ok || got != tc.want {
			t.Fatalf("%s: got %q (%v), want %q", tc.name, got, ok, tc.want)
		}
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := services.WithStage(context.Background(), "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
