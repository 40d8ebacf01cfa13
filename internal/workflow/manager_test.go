package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crosspost/internal/clock"
	"crosspost/internal/collab"
	"crosspost/internal/config"
	"crosspost/internal/content"
	"crosspost/internal/outbox"
	"crosspost/internal/preflight"
	"crosspost/internal/services"
	"crosspost/internal/stage"
	"crosspost/internal/testsupport"
	"crosspost/internal/workflow"
)

var epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// scriptedPublisher returns the queued errors in order, then succeeds.
type scriptedPublisher struct {
	mu    sync.Mutex
	errs  []error
	calls int
	// always, when set, is returned on every call.
	always error
}

func (p *scriptedPublisher) Publish(_ context.Context, post content.Post) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.always != nil {
		return "", "", p.always
	}
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return "", "", err
	}
	return "ext-" + post.Platform, "https://example.test/" + post.Platform, nil
}

func (p *scriptedPublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// blockingPublisher parks until its context is cancelled.
type blockingPublisher struct {
	started chan struct{}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ content.Post) (string, string, error) {
	select {
	case p.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return "", "", ctx.Err()
}

// flakyOutbox fails the first failures writes of eventType.
type flakyOutbox struct {
	outbox.Store
	eventType string

	mu       sync.Mutex
	failures int
}

func (o *flakyOutbox) Publish(ctx context.Context, eventType, entityID string, payload []byte, key string) (string, error) {
	o.mu.Lock()
	fail := eventType == o.eventType && o.failures > 0
	if fail {
		o.failures--
	}
	o.mu.Unlock()
	if fail {
		return "", errors.New("database is locked")
	}
	return o.Store.Publish(ctx, eventType, entityID, payload, key)
}

type fixture struct {
	clk     *clock.Fake
	repo    *content.MemoryRepository
	outbox  *outbox.SQLStore
	manager *workflow.Manager
}

func newFixture(t *testing.T, publishers collab.Publishers) *fixture {
	t.Helper()
	return newFixtureWith(t, publishers, fixtureOptions{})
}

type fixtureOptions struct {
	// wrap, when set, sits between the pipeline and the SQL outbox.
	wrap func(outbox.Store) outbox.Store
	// rules is a YAML rule set; empty uses the embedded defaults.
	rules string
}

func newFixtureWith(t *testing.T, publishers collab.Publishers, opts fixtureOptions) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithWorkers(2),
		testsupport.WithDefaultPlatforms("telegram"),
	)
	db := testsupport.MustOpenDB(t, cfg)
	clk := clock.NewFake(epoch)
	loaderOpts := preflight.LoaderOptions{Clock: clk}
	if opts.rules != "" {
		loaderOpts.Path = filepath.Join(cfg.Paths.DataDir, "rules.yaml")
		if err := os.WriteFile(loaderOpts.Path, []byte(opts.rules), 0o644); err != nil {
			t.Fatalf("write rules: %v", err)
		}
	}
	rules, err := preflight.NewLoader(loaderOpts)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	f := &fixture{
		clk:    clk,
		repo:   content.NewMemoryRepository(clk),
		outbox: outbox.NewSQLStore(db, clk),
	}
	var store outbox.Store = f.outbox
	if opts.wrap != nil {
		store = opts.wrap(store)
	}
	set := stage.NewSet(stage.Deps{
		Repo:       f.repo,
		Outbox:     store,
		Clock:      clk,
		Rules:      rules,
		Publishers: publishers,
	})
	f.manager = workflow.NewManager(cfg, workflow.Options{
		Repo:      f.repo,
		Outbox:    store,
		Stages:    set,
		Clock:     clk,
		Platforms: publishers.Platforms(),
	})
	return f
}

// drain sweeps until the run finishes, advancing the clock past backoffs.
func (f *fixture) drain(t *testing.T, runID string) workflow.RunStatus {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		claimed, err := f.manager.SweepOnce(ctx)
		if err != nil {
			t.Fatalf("SweepOnce: %v", err)
		}
		status, err := f.manager.GetRunStatus(ctx, runID)
		if err != nil {
			t.Fatalf("GetRunStatus: %v", err)
		}
		if status.Run.Status != content.RunRunning {
			return status
		}
		if claimed == 0 {
			f.clk.Advance(2 * time.Minute)
		}
	}
	t.Fatalf("run %s did not finish", runID)
	return workflow.RunStatus{}
}

func (f *fixture) submit(t *testing.T, item content.Item) string {
	t.Helper()
	runID, err := f.manager.SubmitContent(context.Background(), item)
	if err != nil {
		t.Fatalf("SubmitContent: %v", err)
	}
	return runID
}

func platformStatus(t *testing.T, status workflow.RunStatus, platform string) workflow.PlatformStatus {
	t.Helper()
	for _, p := range status.Platforms {
		if p.Platform == platform {
			return p
		}
	}
	t.Fatalf("no post for %s in %+v", platform, status.Platforms)
	return workflow.PlatformStatus{}
}

var stateRank = map[content.PostState]int{
	content.StateEnriched:         1,
	content.StateCaptioned:        2,
	content.StateTranscoded:       3,
	content.StatePreflightPassed:  4,
	content.StatePreflightBlocked: 4,
	content.StatePublished:        5,
	content.StatePublishFailed:    5,
	content.StateFinalized:        6,
}

func TestPipelinePublishesEveryPlatformInStageOrder(t *testing.T) {
	pub := &scriptedPublisher{}
	f := newFixture(t, collab.Publishers{"telegram": pub, "vk": pub})
	runID := f.submit(t, content.Item{Text: "Release notes #golang", Platforms: []string{"Telegram", "vk", "telegram"}})

	status := f.drain(t, runID)
	if status.Run.Status != content.RunCompleted {
		t.Fatalf("run status = %s, want completed", status.Run.Status)
	}
	if status.Run.Summary.Published != 2 || status.Run.Summary.Total != 2 {
		t.Fatalf("summary = %+v", status.Run.Summary)
	}
	for _, platform := range []string{"telegram", "vk"} {
		ps := platformStatus(t, status, platform)
		if ps.Status != content.StatusPublished || ps.ExternalID != "ext-"+platform {
			t.Fatalf("%s = %+v", platform, ps)
		}
	}
	if pub.Calls() != 2 {
		t.Fatalf("publisher calls = %d, want 2", pub.Calls())
	}

	last := map[string]int{}
	seen := map[string]int{}
	for _, tr := range status.Transitions {
		if tr.Platform == "" {
			continue
		}
		rank, ok := stateRank[tr.State]
		if !ok {
			t.Fatalf("unexpected state %s", tr.State)
		}
		if rank < last[tr.Platform] {
			t.Fatalf("%s went back to %s after rank %d", tr.Platform, tr.State, last[tr.Platform])
		}
		last[tr.Platform] = rank
		seen[tr.Platform]++
	}
	for _, platform := range []string{"telegram", "vk"} {
		if seen[platform] != 6 {
			t.Fatalf("%s transitions = %d, want 6", platform, seen[platform])
		}
	}

	stats, err := f.outbox.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Pending != 0 || stats.Processing != 0 || stats.Failed != 0 {
		t.Fatalf("outbox not drained: %+v", stats)
	}
}

func TestMissingMediaRejectsOnlyThatPlatform(t *testing.T) {
	pub := &scriptedPublisher{}
	f := newFixture(t, collab.Publishers{"telegram": pub, "tiktok": pub})
	runID := f.submit(t, content.Item{Text: "hello", Platforms: []string{"telegram", "tiktok"}})

	status := f.drain(t, runID)
	if status.Run.Status != content.RunCompleted {
		t.Fatalf("run status = %s, want completed", status.Run.Status)
	}
	tiktok := platformStatus(t, status, "tiktok")
	if tiktok.Status != content.StatusRejected {
		t.Fatalf("tiktok status = %s, want rejected", tiktok.Status)
	}
	found := false
	for _, v := range tiktok.Violations {
		if v.Type == preflight.MediaMissing && v.Severity == content.SeverityBlocking {
			found = true
		}
	}
	if !found {
		t.Fatalf("tiktok violations = %+v, want %s", tiktok.Violations, preflight.MediaMissing)
	}
	if got := platformStatus(t, status, "telegram").Status; got != content.StatusPublished {
		t.Fatalf("telegram status = %s, want published", got)
	}
	if status.Run.Summary.Rejected != 1 || status.Run.Summary.Published != 1 {
		t.Fatalf("summary = %+v", status.Run.Summary)
	}
	if pub.Calls() != 1 {
		t.Fatalf("publisher calls = %d, want 1", pub.Calls())
	}
}

const textOnlyRules = `version: "test"
platforms:
  telegram: {caption: {required: false}}
  vk: {caption: {required: false}}
  mastodon: {caption: {required: false}}
`

func TestPermanentFailureOnOnePlatform(t *testing.T) {
	good := &scriptedPublisher{}
	bad := &scriptedPublisher{always: services.Wrap(services.ErrPermanent, "publish", "vk", "wall post rejected", nil)}
	f := newFixtureWith(t, collab.Publishers{"telegram": good, "vk": bad, "mastodon": good}, fixtureOptions{
		rules: textOnlyRules,
	})
	runID := f.submit(t, content.Item{Text: "hello", Platforms: []string{"telegram", "vk", "mastodon"}})

	status := f.drain(t, runID)
	if status.Run.Status != content.RunCompleted {
		t.Fatalf("run status = %s, want completed", status.Run.Status)
	}
	vk := platformStatus(t, status, "vk")
	if vk.Status != content.StatusFailed || vk.LastError == "" {
		t.Fatalf("vk = %+v, want failed with error", vk)
	}
	if bad.Calls() != 1 {
		t.Fatalf("permanent error retried: %d calls", bad.Calls())
	}
	for _, platform := range []string{"telegram", "mastodon"} {
		if ps := platformStatus(t, status, platform); ps.Status != content.StatusPublished {
			t.Fatalf("%s = %+v, want published", platform, ps)
		}
	}
	if s := status.Run.Summary; s.Total != 3 || s.Published != 2 || s.Failed != 1 || s.Rejected != 0 {
		t.Fatalf("summary = %+v, want 2 published and 1 failed of 3", s)
	}
}

func TestAbortRetriesWhenFinalizeCannotBeQueued(t *testing.T) {
	bad := &scriptedPublisher{always: services.Wrap(services.ErrPermanent, "publish", "telegram", "chat not found", nil)}
	var flaky *flakyOutbox
	f := newFixtureWith(t, collab.Publishers{"telegram": bad}, fixtureOptions{
		wrap: func(store outbox.Store) outbox.Store {
			flaky = &flakyOutbox{Store: store, eventType: stage.Finalize.EventType(), failures: 1}
			return flaky
		},
	})
	runID := f.submit(t, content.Item{Text: "hello", Platforms: []string{"telegram"}})

	status := f.drain(t, runID)
	if status.Run.Status != content.RunFailed {
		t.Fatalf("run status = %s, want failed", status.Run.Status)
	}
	if flaky.failures != 0 {
		t.Fatal("finalize write never failed")
	}
	if bad.Calls() != 1 {
		t.Fatalf("publisher calls = %d, want 1", bad.Calls())
	}
	ps := platformStatus(t, status, "telegram")
	if ps.Status != content.StatusFailed || ps.State != content.StateFinalized {
		t.Fatalf("post = %+v, want failed and finalized", ps)
	}
	failed, err := f.outbox.List(context.Background(), outbox.Filter{Status: outbox.StatusFailed})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("failed events = %+v, want none once finalize ran", failed)
	}
}

func TestTransientExhaustionFailsRun(t *testing.T) {
	pub := &scriptedPublisher{always: services.Wrap(services.ErrTransient, "publish", "telegram", "upstream timeout", nil)}
	f := newFixture(t, collab.Publishers{"telegram": pub})
	runID := f.submit(t, content.Item{Text: "hello", Platforms: []string{"telegram"}})

	status := f.drain(t, runID)
	if status.Run.Status != content.RunFailed {
		t.Fatalf("run status = %s, want failed", status.Run.Status)
	}
	cfg := config.Default()
	if pub.Calls() != cfg.Retry.PublishMaxAttempts {
		t.Fatalf("publisher calls = %d, want %d", pub.Calls(), cfg.Retry.PublishMaxAttempts)
	}
	ps := platformStatus(t, status, "telegram")
	if ps.Status != content.StatusFailed || ps.LastError == "" {
		t.Fatalf("post = %+v", ps)
	}

	ctx := context.Background()
	failed, err := f.outbox.List(ctx, outbox.Filter{Status: outbox.StatusFailed})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(failed) != 1 || failed[0].EventType != stage.Publish.EventType() {
		t.Fatalf("failed events = %+v", failed)
	}

	n, err := f.manager.RetryEvents(ctx, failed[0].ID)
	if err != nil || n != 1 {
		t.Fatalf("RetryEvents = %d, %v", n, err)
	}
	if _, err := f.manager.SweepOnce(ctx); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if pub.Calls() != cfg.Retry.PublishMaxAttempts {
		t.Fatalf("retry of a finished post called the publisher again")
	}
}

func TestThrottledPublishEventuallySucceeds(t *testing.T) {
	limited := services.RateLimited("publish", "telegram", "slow down", 30*time.Second, nil)
	pub := &scriptedPublisher{errs: []error{limited, limited}}
	f := newFixture(t, collab.Publishers{"telegram": pub})
	runID := f.submit(t, content.Item{Text: "hello", Platforms: []string{"telegram"}})

	status := f.drain(t, runID)
	if status.Run.Status != content.RunCompleted {
		t.Fatalf("run status = %s, want completed", status.Run.Status)
	}
	ps := platformStatus(t, status, "telegram")
	if ps.Status != content.StatusPublished || ps.Attempts != 3 {
		t.Fatalf("post = %+v, want published after 3 attempts", ps)
	}
}

func TestSubmitIsIdempotentPerContentID(t *testing.T) {
	f := newFixture(t, collab.Publishers{"telegram": &scriptedPublisher{}})
	item := content.Item{ID: "post-42", Text: "hello", Platforms: []string{"telegram"}}
	first := f.submit(t, item)
	second := f.submit(t, item)
	if first != second {
		t.Fatalf("resubmission created run %s, want %s", second, first)
	}
	evs, err := f.outbox.List(context.Background(), outbox.Filter{EventType: stage.Ingest.EventType()})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("ingest events = %d, want 1", len(evs))
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, collab.Publishers{"telegram": &scriptedPublisher{}})
	tests := []struct {
		name string
		item content.Item
	}{
		{name: "empty", item: content.Item{Platforms: []string{"telegram"}}},
		{name: "media without url", item: content.Item{Text: "x", Media: []content.MediaRef{{Kind: content.MediaImage}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.SubmitContent(context.Background(), tt.item)
			if services.KindOf(err) != services.KindValidation {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
}

func TestSubmitUsesDefaultPlatforms(t *testing.T) {
	f := newFixture(t, collab.Publishers{"telegram": &scriptedPublisher{}})
	runID := f.submit(t, content.Item{Text: "hello"})
	status := f.drain(t, runID)
	if len(status.Platforms) != 1 || status.Platforms[0].Platform != "telegram" {
		t.Fatalf("platforms = %+v, want telegram", status.Platforms)
	}
}

func TestCancelBeforeProcessing(t *testing.T) {
	f := newFixture(t, collab.Publishers{"telegram": &scriptedPublisher{}})
	runID := f.submit(t, content.Item{Text: "hello", Platforms: []string{"telegram"}})
	ok, err := f.manager.CancelRun(context.Background(), runID)
	if err != nil || !ok {
		t.Fatalf("CancelRun = %v, %v", ok, err)
	}
	status := f.drain(t, runID)
	if status.Run.Status != content.RunCancelled {
		t.Fatalf("run status = %s, want cancelled", status.Run.Status)
	}
	ok, err = f.manager.CancelRun(context.Background(), runID)
	if err != nil || ok {
		t.Fatalf("second CancelRun = %v, %v; want false", ok, err)
	}
}

func TestCancelInterruptsInFlightPublish(t *testing.T) {
	pub := &blockingPublisher{started: make(chan struct{}, 1)}
	f := newFixture(t, collab.Publishers{"telegram": pub})
	runID := f.submit(t, content.Item{Text: "hello", Platforms: []string{"telegram"}})

	done := make(chan workflow.RunStatus, 1)
	go func() {
		ctx := context.Background()
		for i := 0; i < 500; i++ {
			claimed, err := f.manager.SweepOnce(ctx)
			if err != nil {
				break
			}
			status, err := f.manager.GetRunStatus(ctx, runID)
			if err == nil && status.Run.Status != content.RunRunning {
				done <- status
				return
			}
			if claimed == 0 {
				f.clk.Advance(time.Minute)
			}
		}
		close(done)
	}()

	select {
	case <-pub.started:
	case <-time.After(5 * time.Second):
		t.Fatal("publish never started")
	}
	if _, err := f.manager.CancelRun(context.Background(), runID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	select {
	case status, ok := <-done:
		if !ok {
			t.Fatal("run did not finish after cancel")
		}
		if status.Run.Status != content.RunCancelled {
			t.Fatalf("run status = %s, want cancelled", status.Run.Status)
		}
		ps := platformStatus(t, status, "telegram")
		if ps.Status != content.StatusFailed || ps.LastError != "run cancelled" {
			t.Fatalf("post = %+v", ps)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for cancelled run")
	}
}

func TestCancelCutsThrottleCooldownShort(t *testing.T) {
	pub := &scriptedPublisher{always: services.RateLimited("publish", "telegram", "flood wait", time.Hour, nil)}
	f := newFixture(t, collab.Publishers{"telegram": pub})
	runID := f.submit(t, content.Item{Text: "hello", Platforms: []string{"telegram"}})
	ctx := context.Background()

	for i := 0; i < 50 && pub.Calls() == 0; i++ {
		if _, err := f.manager.SweepOnce(ctx); err != nil {
			t.Fatalf("SweepOnce: %v", err)
		}
	}
	if pub.Calls() != 1 {
		t.Fatalf("publisher calls = %d, want 1", pub.Calls())
	}
	if ok, err := f.manager.CancelRun(ctx, runID); err != nil || !ok {
		t.Fatalf("CancelRun = %v, %v", ok, err)
	}

	// The clock stays put: nothing may wait out the hour-long cooldown.
	var status workflow.RunStatus
	for i := 0; i < 10; i++ {
		if _, err := f.manager.SweepOnce(ctx); err != nil {
			t.Fatalf("SweepOnce: %v", err)
		}
		var err error
		status, err = f.manager.GetRunStatus(ctx, runID)
		if err != nil {
			t.Fatalf("GetRunStatus: %v", err)
		}
		if status.Run.Status != content.RunRunning {
			break
		}
	}
	if status.Run.Status != content.RunCancelled {
		t.Fatalf("run status = %s, want cancelled", status.Run.Status)
	}
	if pub.Calls() != 1 {
		t.Fatalf("cancelled post was published again: %d calls", pub.Calls())
	}
	ps := platformStatus(t, status, "telegram")
	if ps.Status != content.StatusFailed || ps.LastError != "run cancelled" {
		t.Fatalf("post = %+v", ps)
	}
}

func TestStaleEventsAreReclaimed(t *testing.T) {
	f := newFixture(t, collab.Publishers{"telegram": &scriptedPublisher{}})
	runID := f.submit(t, content.Item{Text: "hello", Platforms: []string{"telegram"}})

	// A worker claims the ingest event and dies.
	claimed, err := f.outbox.ClaimBatch(context.Background(), 10, f.clk.Now())
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimBatch = %d, %v", len(claimed), err)
	}
	if n, err := f.manager.SweepOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("SweepOnce before timeout = %d, %v", n, err)
	}

	cfg := config.Default()
	f.clk.Advance(time.Duration(cfg.Workflow.HeartbeatTimeout+1) * time.Second)
	status := f.drain(t, runID)
	if status.Run.Status != content.RunCompleted {
		t.Fatalf("run status = %s, want completed", status.Run.Status)
	}
}

func TestGetRunStatusNotFound(t *testing.T) {
	f := newFixture(t, collab.Publishers{"telegram": &scriptedPublisher{}})
	_, err := f.manager.GetRunStatus(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestStatusReportsOutboxAndStages(t *testing.T) {
	f := newFixture(t, collab.Publishers{"telegram": &scriptedPublisher{}})
	f.submit(t, content.Item{Text: "hello"})
	summary := f.manager.Status(context.Background())
	if summary.Running {
		t.Fatal("manager reports running before Start")
	}
	if summary.Outbox.Pending != 1 {
		t.Fatalf("pending = %d, want 1", summary.Outbox.Pending)
	}
	if len(summary.StageHealth) != len(stage.Order) {
		t.Fatalf("stage health = %+v", summary.StageHealth)
	}
	if !summary.Healthy() {
		t.Fatalf("summary unhealthy: %+v", summary)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, collab.Publishers{"telegram": &scriptedPublisher{}})
	ctx := context.Background()
	if err := f.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.manager.Start(ctx); err == nil {
		t.Fatal("second Start succeeded")
	}
	if !f.manager.Status(ctx).Running {
		t.Fatal("not running after Start")
	}
	f.manager.Stop()
	if f.manager.Status(ctx).Running {
		t.Fatal("still running after Stop")
	}
}
