package testsupport_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crosspost/internal/config"
	"crosspost/internal/testsupport"
)

func TestNewConfigIsolatesPaths(t *testing.T) {
	a := testsupport.NewConfig(t)
	b := testsupport.NewConfig(t, testsupport.WithWorkers(7), testsupport.WithDefaultPlatforms("vk"))

	if a.Paths.DataDir == b.Paths.DataDir {
		t.Fatalf("configs share data dir %s", a.Paths.DataDir)
	}
	if !strings.HasPrefix(a.Database.Path, a.Paths.DataDir) {
		t.Fatalf("database %s outside data dir %s", a.Database.Path, a.Paths.DataDir)
	}
	if a.Storage.Backend != config.StorageLocal || a.API.Bind != "" {
		t.Fatalf("unexpected defaults: storage=%s bind=%q", a.Storage.Backend, a.API.Bind)
	}
	if b.Workflow.Workers != 7 || len(b.Workflow.DefaultPlatforms) != 1 || b.Workflow.DefaultPlatforms[0] != "vk" {
		t.Fatalf("options not applied: %+v", b.Workflow)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "clip.mp4")
	testsupport.WriteFile(t, path, 0)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 1 {
		t.Fatalf("size = %d, want 1", info.Size())
	}
}
