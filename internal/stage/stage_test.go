package stage_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"crosspost/internal/clock"
	"crosspost/internal/collab"
	"crosspost/internal/content"
	"crosspost/internal/database"
	"crosspost/internal/metrics"
	"crosspost/internal/notifications"
	"crosspost/internal/outbox"
	"crosspost/internal/preflight"
	"crosspost/internal/services"
	"crosspost/internal/stage"
)

var epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type countingPublisher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *countingPublisher) Publish(_ context.Context, post content.Post) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", "", p.err
	}
	return "ext-" + post.Platform, "https://example.test/" + post.Platform, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type harness struct {
	repo     *content.MemoryRepository
	outbox   *outbox.SQLStore
	set      *stage.Set
	pub      *countingPublisher
	notifier *recordingNotifier
}

// flakyTransitions fails the first failures appends of state for platform.
type flakyTransitions struct {
	content.Repository
	platform string
	state    content.PostState
	failures int
}

func (r *flakyTransitions) AppendTransition(ctx context.Context, tr content.Transition) error {
	if tr.Platform == r.platform && tr.State == r.state && r.failures > 0 {
		r.failures--
		return errors.New("disk I/O error")
	}
	return r.Repository.AppendTransition(ctx, tr)
}

type harnessOptions struct {
	repo    func(content.Repository) content.Repository
	metrics *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, harnessOptions{})
}

func newHarnessWith(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "stage.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	clk := clock.NewFake(epoch)
	rules, err := preflight.NewLoader(preflight.LoaderOptions{Clock: clk})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	h := &harness{
		repo:     content.NewMemoryRepository(clk),
		outbox:   outbox.NewSQLStore(db, clk),
		pub:      &countingPublisher{},
		notifier: &recordingNotifier{},
	}
	var repo content.Repository = h.repo
	if opts.repo != nil {
		repo = opts.repo(repo)
	}
	h.set = stage.NewSet(stage.Deps{
		Repo:       repo,
		Metrics:    opts.metrics,
		Outbox:     h.outbox,
		Clock:      clk,
		Rules:      rules,
		Publishers: collab.Publishers{"telegram": h.pub, "tiktok": h.pub},
		Notifier:   h.notifier,
	})
	return h
}

// seed stores an item with one post already at state.
func (h *harness) seed(t *testing.T, platform string, post content.Post) stage.Payload {
	t.Helper()
	ctx := context.Background()
	item := &content.Item{ID: "c1", Text: "hello", Platforms: []string{platform}, Enriched: true}
	run := &content.Run{ID: "run-1", ContentID: "c1"}
	if err := h.repo.CreateSubmission(ctx, item, run); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	post.ContentID, post.Platform = "c1", platform
	if _, err := h.repo.CreatePost(ctx, &post); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	return stage.Payload{RunID: "run-1", ContentID: "c1", Platform: platform}
}

func (h *harness) exec(t *testing.T, name stage.Name, p stage.Payload) error {
	t.Helper()
	handler, ok := h.set.Handler(name)
	if !ok {
		t.Fatalf("no handler for %s", name)
	}
	return handler.Execute(context.Background(), stage.Task{EventID: "ev", Stage: name, Payload: p})
}

func (h *harness) pending(t *testing.T, name stage.Name) []outbox.Event {
	t.Helper()
	evs, err := h.outbox.List(context.Background(), outbox.Filter{EventType: name.EventType(), Status: outbox.StatusPending})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return evs
}

func TestEventTypesRoundTrip(t *testing.T) {
	for _, name := range stage.Order {
		got, ok := stage.ParseEventType(name.EventType())
		if !ok || got != name {
			t.Fatalf("ParseEventType(%q) = %q, %v", name.EventType(), got, ok)
		}
	}
	if _, ok := stage.ParseEventType("stage.bogus"); ok {
		t.Fatal("unknown stage parsed")
	}
	if _, ok := stage.ParseEventType("publish"); ok {
		t.Fatal("event type without prefix parsed")
	}
	a := stage.EventKey("c1", "vk", stage.Publish)
	if a != stage.EventKey("c1", "vk", stage.Publish) {
		t.Fatal("event key is not deterministic")
	}
	if a == stage.EventKey("c1", "vk", stage.Finalize) || a == stage.EventKey("c1", "", stage.Publish) {
		t.Fatal("event keys collide across stage or platform")
	}
}

func TestDecodePayloadRequiresIdentity(t *testing.T) {
	if _, err := stage.DecodePayload([]byte(`{"platform":"vk"}`)); err == nil {
		t.Fatal("expected error for payload without run and content")
	}
	p, err := stage.DecodePayload([]byte(`{"run_id":"r","content_id":"c","platform":"vk"}`))
	if err != nil || p.EntityID() != "c/vk" {
		t.Fatalf("DecodePayload = %+v, %v", p, err)
	}
}

func TestPublishIsIdempotentOnRedelivery(t *testing.T) {
	h := newHarness(t)
	p := h.seed(t, "telegram", content.Post{Status: content.StatusValidating, State: content.StatePreflightPassed, Caption: "hi"})

	for range 2 {
		if err := h.exec(t, stage.Publish, p); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if h.pub.calls != 1 {
		t.Fatalf("publisher called %d times", h.pub.calls)
	}
	post, _ := h.repo.GetPost(context.Background(), "c1", "telegram")
	if post.Status != content.StatusPublished || post.ExternalID != "ext-telegram" || post.Attempts != 1 {
		t.Fatalf("post = %+v", post)
	}
	if got := len(h.pending(t, stage.Finalize)); got != 1 {
		t.Fatalf("finalize events = %d, want 1", got)
	}
}

func TestPublishAuthFailureAlerts(t *testing.T) {
	h := newHarness(t)
	h.pub.err = services.Wrap(services.ErrAuth, "publish", "telegram", "token revoked", nil)
	p := h.seed(t, "telegram", content.Post{Status: content.StatusValidating, State: content.StatePreflightPassed, Caption: "hi"})

	err := h.exec(t, stage.Publish, p)
	if !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0] != notifications.EventAuthFailure {
		t.Fatalf("notifications = %v", h.notifier.events)
	}
	post, _ := h.repo.GetPost(context.Background(), "c1", "telegram")
	if post.LastError == "" || post.Status != content.StatusPublishing {
		t.Fatalf("post = %+v", post)
	}
}

func TestPreflightRejectsMissingMedia(t *testing.T) {
	h := newHarness(t)
	p := h.seed(t, "tiktok", content.Post{Status: content.StatusQueued, State: content.StateTranscoded, Caption: "dance"})

	if err := h.exec(t, stage.Preflight, p); err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	post, _ := h.repo.GetPost(context.Background(), "c1", "tiktok")
	if post.Status != content.StatusRejected || post.State != content.StatePreflightBlocked {
		t.Fatalf("post = %+v", post)
	}
	found := false
	for _, v := range post.Violations {
		if v.Type == preflight.MediaMissing && v.Severity == content.SeverityBlocking {
			found = true
		}
	}
	if !found {
		t.Fatalf("violations = %+v", post.Violations)
	}
	if len(h.pending(t, stage.Publish)) != 0 || len(h.pending(t, stage.Finalize)) != 1 {
		t.Fatal("rejected post must go straight to finalize")
	}
}

func TestAbortFailsPostAndFinalizes(t *testing.T) {
	h := newHarness(t)
	p := h.seed(t, "telegram", content.Post{Status: content.StatusPublishing, State: content.StatePreflightPassed})

	task := stage.Task{Stage: stage.Publish, Payload: p}
	if err := h.set.Abort(context.Background(), task, "retries exhausted", services.KindPermanent); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	post, _ := h.repo.GetPost(context.Background(), "c1", "telegram")
	if post.Status != content.StatusFailed || post.State != content.StatePublishFailed || post.LastError != "retries exhausted" {
		t.Fatalf("post = %+v", post)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0] != notifications.EventPublishFailed {
		t.Fatalf("notifications = %v", h.notifier.events)
	}

	if err := h.exec(t, stage.Finalize, p); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	run, _ := h.repo.GetRun(context.Background(), "run-1")
	if run.Status != content.RunFailed || run.Summary.Failed != 1 {
		t.Fatalf("run = %+v", run)
	}
}

func TestFinalizeRewritesTransitionAfterFailedAppend(t *testing.T) {
	tests := []struct {
		name     string
		platform string
	}{
		{name: "post transition", platform: "telegram"},
		{name: "run transition", platform: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			h := newHarnessWith(t, harnessOptions{
				metrics: m,
				repo: func(r content.Repository) content.Repository {
					return &flakyTransitions{Repository: r, platform: tt.platform, state: content.StateFinalized, failures: 1}
				},
			})
			p := h.seed(t, "telegram", content.Post{Status: content.StatusPublished, State: content.StatePublished})

			if err := h.exec(t, stage.Finalize, p); err == nil {
				t.Fatal("expected the failed transition append to surface")
			}
			if err := h.exec(t, stage.Finalize, p); err != nil {
				t.Fatalf("redelivered Finalize: %v", err)
			}

			ctx := context.Background()
			run, _ := h.repo.GetRun(ctx, "run-1")
			if run.Status != content.RunCompleted {
				t.Fatalf("run status = %s, want completed", run.Status)
			}
			log, err := h.repo.ListTransitions(ctx, "run-1")
			if err != nil {
				t.Fatalf("ListTransitions: %v", err)
			}
			finalized := map[string]int{}
			for _, tr := range log {
				if tr.State == content.StateFinalized {
					finalized[tr.Platform]++
				}
			}
			if finalized["telegram"] != 1 || finalized[""] != 1 {
				t.Fatalf("finalized transitions = %v, want one post and one run entry", finalized)
			}
			if got := testutil.ToFloat64(m.Posts.WithLabelValues("telegram", "published")); got != 1 {
				t.Fatalf("post metric = %v, want 1", got)
			}
			if got := testutil.ToFloat64(m.Runs.WithLabelValues("completed")); got != 1 {
				t.Fatalf("run metric = %v, want 1", got)
			}
		})
	}
}
