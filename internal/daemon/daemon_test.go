package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crosspost/internal/api"
	"crosspost/internal/collab"
	"crosspost/internal/config"
	"crosspost/internal/content"
	"crosspost/internal/daemon"
	"crosspost/internal/metrics"
	"crosspost/internal/outbox"
	"crosspost/internal/preflight"
	"crosspost/internal/stage"
	"crosspost/internal/testsupport"
	"crosspost/internal/workflow"
)

type fixture struct {
	cfg     *config.Config
	daemon  *daemon.Daemon
	manager *workflow.Manager
	outbox  *outbox.SQLStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, db := testsupport.MustOpenOutbox(t, cfg)
	rules, err := preflight.NewLoader(preflight.LoaderOptions{})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	repo := content.NewMemoryRepository(nil)
	publishers := collab.Publishers{"telegram": collab.SimulatedPublisher{Platform: "telegram"}}
	set := stage.NewSet(stage.Deps{Repo: repo, Outbox: store, Rules: rules, Publishers: publishers})
	mgr := workflow.NewManager(cfg, workflow.Options{Repo: repo, Outbox: store, Stages: set})

	d, err := daemon.New(cfg, nil, daemon.Components{
		Workflow: mgr,
		Outbox:   store,
		Rules:    rules,
		Metrics:  metrics.New(),
		Checks:   preflight.Dependencies{DB: db, Loader: rules},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &fixture{cfg: cfg, daemon: d, manager: mgr, outbox: store}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.daemon.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}
	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	f.daemon.Stop()
	if f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondDaemonIsLockedOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.daemon.Stop()

	other, err := daemon.New(f.cfg, nil, daemon.Components{Workflow: f.manager, Outbox: f.outbox})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	err = other.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second daemon Start = %v, want lock error", err)
	}
}

func TestSubmitAndFetchRun(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/runs", api.SubmitRequest{Text: "hello", Platforms: []string{"telegram"}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d body=%s", rec.Code, rec.Body.String())
	}
	submitted := decode[api.SubmitResponse](t, rec)
	if submitted.RunID == "" {
		t.Fatal("empty run id")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}

	for i := 0; i < 20; i++ {
		if _, err := f.manager.SweepOnce(context.Background()); err != nil {
			t.Fatalf("SweepOnce: %v", err)
		}
	}

	rec = f.do(t, http.MethodGet, "/v1/runs/"+submitted.RunID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d body=%s", rec.Code, rec.Body.String())
	}
	run := decode[api.RunResponse](t, rec).Run
	if run.Status != string(content.RunCompleted) {
		t.Fatalf("run = %+v, want completed", run)
	}
	if len(run.Posts) != 1 || run.Posts[0].Status != string(content.StatusPublished) {
		t.Fatalf("posts = %+v", run.Posts)
	}
	if !strings.HasPrefix(run.Posts[0].URL, "sim://telegram/") {
		t.Fatalf("url = %q", run.Posts[0].URL)
	}
}

func TestAPIErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "missing run", method: http.MethodGet, path: "/v1/runs/nope", want: http.StatusNotFound},
		{name: "empty submission", method: http.MethodPost, path: "/v1/runs", body: api.SubmitRequest{}, want: http.StatusBadRequest},
		{name: "bad outbox status", method: http.MethodGet, path: "/v1/outbox?status=bogus", want: http.StatusBadRequest},
		{name: "bad limit", method: http.MethodGet, path: "/v1/outbox?limit=-1", want: http.StatusBadRequest},
		{name: "cancel missing", method: http.MethodPost, path: "/v1/runs/nope/cancel", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body=%s)", rec.Code, tt.want, rec.Body.String())
			}
			if decode[api.ErrorResponse](t, rec).Error == "" {
				t.Fatal("error body missing message")
			}
		})
	}
}

func TestCancelAndOutboxListing(t *testing.T) {
	f := newFixture(t)
	submitted := decode[api.SubmitResponse](t, f.do(t, http.MethodPost, "/v1/runs", api.SubmitRequest{Text: "hello"}))

	rec := f.do(t, http.MethodGet, "/v1/outbox?status=pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("outbox status = %d", rec.Code)
	}
	events := decode[api.OutboxListResponse](t, rec).Events
	if len(events) != 1 || events[0].RunID != submitted.RunID || events[0].EventType != stage.Ingest.EventType() {
		t.Fatalf("events = %+v", events)
	}

	rec = f.do(t, http.MethodPost, "/v1/runs/"+submitted.RunID+"/cancel", nil)
	if rec.Code != http.StatusOK || !decode[api.CancelResponse](t, rec).Cancelled {
		t.Fatalf("cancel = %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/v1/outbox/retry", nil)
	if rec.Code != http.StatusOK || decode[api.RetryResponse](t, rec).Requeued != 0 {
		t.Fatalf("retry = %d %s", rec.Code, rec.Body.String())
	}
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/preflight/validate", api.ValidateRequest{Text: "hello", Platforms: []string{"telegram", "TikTok"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	results := decode[api.ValidateResponse](t, rec).Results
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if !results[0].Valid || results[0].Platform != "telegram" {
		t.Fatalf("telegram = %+v", results[0])
	}
	if results[1].Valid || results[1].Platform != "tiktok" {
		t.Fatalf("tiktok = %+v, want invalid", results[1])
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d body=%s", rec.Code, rec.Body.String())
	}
	status := decode[api.DaemonStatus](t, rec)
	if !status.Healthy || len(status.Workflow.StageHealth) != len(stage.Order) {
		t.Fatalf("status = %+v", status)
	}

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}
