package preflight_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crosspost/internal/clock"
	"crosspost/internal/content"
	"crosspost/internal/preflight"
)

const rulesV1 = "version: v1\nplatforms:\n  telegram:\n    caption: {max_length: 10, required: false}\n"
const rulesV2 = "version: v2\nplatforms:\n  telegram:\n    caption: {max_length: 100, required: false}\n"

func writeRules(t *testing.T, path, doc string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
}

func TestLoaderReloadsAfterTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, rulesV1)
	clk := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	loader, err := preflight.NewLoader(preflight.LoaderOptions{Path: path, TTL: time.Minute, Clock: clk})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	ctx := context.Background()
	if v := loader.Rules(ctx).Version; v != "v1" {
		t.Fatalf("version = %q, want v1", v)
	}

	writeRules(t, path, rulesV2)
	clk.Advance(30 * time.Second)
	if v := loader.Rules(ctx).Version; v != "v1" {
		t.Fatalf("rules reloaded before TTL: %q", v)
	}
	clk.Advance(30 * time.Second)
	if v := loader.Rules(ctx).Version; v != "v2" {
		t.Fatalf("version = %q, want v2 after TTL", v)
	}

	res := loader.Validate(ctx, content.Post{Platform: "telegram", Caption: "a caption longer than ten"})
	if !res.Valid {
		t.Fatalf("expected v2 limits to apply, got %+v", res.Violations)
	}
}

func TestLoaderKeepsLastKnownGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, rulesV1)
	clk := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	loader, err := preflight.NewLoader(preflight.LoaderOptions{Path: path, TTL: time.Minute, Clock: clk})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	writeRules(t, path, "platforms: [")
	clk.Advance(2 * time.Minute)
	if v := loader.Rules(context.Background()).Version; v != "v1" {
		t.Fatalf("expected last known good v1, got %q", v)
	}
	if loader.LastError() == nil {
		t.Fatal("expected reload error to be recorded")
	}
	if err := loader.Reload(context.Background()); err == nil {
		t.Fatal("expected explicit reload to fail")
	}
	if result := preflight.CheckRules(context.Background(), loader); result.Passed {
		t.Fatal("rules check should flag the failed reload")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := loader.Reload(context.Background()); err == nil {
		t.Fatal("expected missing file to fail reload")
	}
	if v := loader.Rules(context.Background()).Version; v != "v1" {
		t.Fatalf("expected v1 after missing file, got %q", v)
	}
}

func TestLoaderFallsBackToEmbeddedDefaults(t *testing.T) {
	loader, err := preflight.NewLoader(preflight.LoaderOptions{Path: filepath.Join(t.TempDir(), "absent.yaml")})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	names := loader.Platforms(context.Background())
	if len(names) != 5 {
		t.Fatalf("expected embedded platforms, got %v", names)
	}
	if loader.LastError() == nil {
		t.Fatal("expected the missing file to be reported")
	}
}

func TestLoaderConcurrentReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, rulesV1)
	clk := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	loader, err := preflight.NewLoader(preflight.LoaderOptions{Path: path, TTL: time.Second, Clock: clk})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	writeRules(t, path, rulesV2)
	clk.Advance(time.Second)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rs := loader.Rules(context.Background()); rs == nil {
				t.Error("nil rule set")
			}
		}()
	}
	wg.Wait()
	if v := loader.Rules(context.Background()).Version; v != "v2" {
		t.Fatalf("version = %q, want v2", v)
	}
}
