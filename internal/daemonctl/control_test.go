package daemonctl_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"crosspost/internal/api"
	"crosspost/internal/config"
	"crosspost/internal/daemonctl"
)

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{name: "valid", content: "4242\n", want: 4242},
		{name: "garbage", content: "abc", wantErr: true},
		{name: "zero", content: "0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".pid")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			got, err := daemonctl.ReadPID(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadPID err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ReadPID = %d, want %d", got, tt.want)
			}
		})
	}
	if pid, err := daemonctl.ReadPID(filepath.Join(dir, "missing.pid")); err != nil || pid != 0 {
		t.Fatalf("missing pid file = %d, %v", pid, err)
	}
}

func TestProcessAlive(t *testing.T) {
	if !daemonctl.ProcessAlive(os.Getpid()) {
		t.Fatal("current process reported dead")
	}
	if daemonctl.ProcessAlive(0) {
		t.Fatal("pid 0 reported alive")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	client, err := api.NewClient("127.0.0.1:1", &http.Client{Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = daemonctl.StopAndTerminate(context.Background(), client, &cfg, time.Second)
	if err != daemonctl.ErrDaemonNotRunning {
		t.Fatalf("err = %v, want ErrDaemonNotRunning", err)
	}
}

func TestEnsureStartedWhenAlreadyRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(api.DaemonStatus{Running: true, PID: 77})
	}))
	defer srv.Close()
	client, err := api.NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	res, err := daemonctl.EnsureStarted(context.Background(), client, "/nonexistent", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if res.State != daemonctl.StartStateAlreadyRunning || res.PID != 77 {
		t.Fatalf("result = %+v (pid %s)", res, strconv.Itoa(res.PID))
	}
}
