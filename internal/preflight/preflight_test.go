package preflight_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"crosspost/internal/config"
	"crosspost/internal/preflight"
	"crosspost/internal/testsupport"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := preflight.CheckDirectoryAccess("test", f); result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDatabase(t *testing.T) {
	ok := preflight.CheckDatabase(context.Background(), pingerFunc(func(context.Context) error { return nil }))
	if !ok.Passed {
		t.Fatalf("expected pass, got %s", ok.Detail)
	}
	bad := preflight.CheckDatabase(context.Background(), pingerFunc(func(context.Context) error { return errors.New("database is locked") }))
	if bad.Passed || bad.Detail != "database is locked" {
		t.Fatalf("expected failure with detail, got %+v", bad)
	}
	timeout := preflight.CheckDatabase(context.Background(), pingerFunc(func(context.Context) error { return context.DeadlineExceeded }))
	if timeout.Detail != "check timed out" {
		t.Fatalf("unexpected timeout detail %q", timeout.Detail)
	}
}

func TestCheckRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if result := preflight.CheckRedis(context.Background(), client); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	mr.Close()
	if result := preflight.CheckRedis(context.Background(), client); result.Passed {
		t.Fatal("expected failure once redis is down")
	}
	if result := preflight.CheckRedis(context.Background(), nil); result.Passed {
		t.Fatal("expected failure for nil client")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := preflight.RunAll(context.Background(), nil, preflight.Dependencies{}); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()

	loader, err := preflight.NewLoader(preflight.LoaderOptions{})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	results := preflight.RunAll(context.Background(), &cfg, preflight.Dependencies{
		DB:     pingerFunc(func(context.Context) error { return nil }),
		Loader: loader,
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d: %+v", len(results), results)
	}
	if failed := preflight.Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_IncludesRedisWhenBackendIsRedis(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRedis("127.0.0.1:1"))

	results := preflight.RunAll(context.Background(), cfg, preflight.Dependencies{})
	found := false
	for _, r := range results {
		if r.Name == "Redis" {
			found = true
			if r.Passed {
				t.Fatal("redis check should fail without a client")
			}
		}
	}
	if !found {
		t.Fatal("expected Redis check in results")
	}
}
