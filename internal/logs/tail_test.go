package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crosspost/internal/logs"
)

func writeLog(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func appendLog(t *testing.T, path, body string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crosspost.log")
	writeLog(t, path, "a run=1\nb run=2\nc run=1\npartial")

	tests := []struct {
		name   string
		n      int
		filter logs.Filter
		want   []string
	}{
		{name: "last two", n: 2, want: []string{"b run=2", "c run=1"}},
		{name: "more than available", n: 10, want: []string{"a run=1", "b run=2", "c run=1"}},
		{name: "filtered", n: 5, filter: logs.Filter{Contains: []string{"run=1"}}, want: []string{"a run=1", "c run=1"}},
		{name: "zero", n: 0, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, offset, err := logs.Tail(path, tt.n, tt.filter)
			if err != nil {
				t.Fatalf("Tail: %v", err)
			}
			if len(lines) != len(tt.want) {
				t.Fatalf("lines = %#v, want %#v", lines, tt.want)
			}
			for i := range lines {
				if lines[i] != tt.want[i] {
					t.Fatalf("lines = %#v, want %#v", lines, tt.want)
				}
			}
			if tt.n > 0 && offset != int64(len("a run=1\nb run=2\nc run=1\n")) {
				t.Fatalf("offset = %d", offset)
			}
		})
	}
}

func TestTailMissingFile(t *testing.T) {
	lines, offset, err := logs.Tail(filepath.Join(t.TempDir(), "none.log"), 5, logs.Filter{})
	if err != nil || lines != nil || offset != 0 {
		t.Fatalf("Tail missing = %v, %d, %v", lines, offset, err)
	}
}

type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func waitForLines(t *testing.T, c *collector, n int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines, got %#v", n, c.snapshot())
	return nil
}

func TestFollowAppendsAndSwitchesTarget(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "crosspost-1.log")
	second := filepath.Join(dir, "crosspost-2.log")
	pointer := filepath.Join(dir, "crosspost.log")
	writeLog(t, first, "old\n")
	if err := os.Symlink(filepath.Base(first), pointer); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	_, offset, err := logs.Tail(pointer, 1, logs.Filter{})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := &collector{}
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, pointer, offset, 10*time.Millisecond, logs.Filter{}, got.add)
	}()

	appendLog(t, first, "later\n")
	waitForLines(t, got, 1)

	writeLog(t, second, "fresh run\n")
	if err := os.Remove(pointer); err != nil {
		t.Fatalf("remove pointer: %v", err)
	}
	if err := os.Symlink(filepath.Base(second), pointer); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	lines := waitForLines(t, got, 2)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if lines[0] != "later" || lines[1] != "fresh run" {
		t.Fatalf("lines = %#v", lines)
	}
}
