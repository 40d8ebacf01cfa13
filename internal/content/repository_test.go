package content_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"crosspost/internal/clock"
	"crosspost/internal/content"
	"crosspost/internal/database"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func repositories(t *testing.T) map[string]content.Repository {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return map[string]content.Repository{
		"sql":    content.NewSQLRepository(db, clock.NewFake(epoch)),
		"memory": content.NewMemoryRepository(clock.NewFake(epoch)),
	}
}

func submit(t *testing.T, repo content.Repository, id string) (*content.Item, *content.Run) {
	t.Helper()
	item := &content.Item{
		ID:        id,
		Text:      "New drop #sale @shop https://example.com/p",
		Media:     []content.MediaRef{{URL: "s3://bucket/a.jpg", Kind: content.MediaImage, Format: "jpg", SizeBytes: 1024}},
		Platforms: []string{"telegram", "vk"},
		Targets:   map[string]string{"telegram": "-1001"},
	}
	run := &content.Run{ID: "run-" + id, ContentID: id}
	if err := repo.CreateSubmission(context.Background(), item, run); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	return item, run
}

func TestRepositorySubmissionRoundTrip(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			submit(t, repo, "c1")

			item, err := repo.GetItem(ctx, "c1")
			if err != nil {
				t.Fatalf("GetItem: %v", err)
			}
			if item.Targets["telegram"] != "-1001" || len(item.Media) != 1 || item.Media[0].SizeBytes != 1024 {
				t.Fatalf("unexpected item: %+v", item)
			}
			run, err := repo.GetRunByContent(ctx, "c1")
			if err != nil {
				t.Fatalf("GetRunByContent: %v", err)
			}
			if run.ID != "run-c1" || run.Status != content.RunRunning {
				t.Fatalf("unexpected run: %+v", run)
			}

			err = repo.CreateSubmission(ctx, &content.Item{ID: "c1"}, &content.Run{ID: "other", ContentID: "c1"})
			if !errors.Is(err, content.ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}

			item.Enriched = true
			item.Hashtags = []string{"#sale"}
			if err := repo.UpdateItem(ctx, item); err != nil {
				t.Fatalf("UpdateItem: %v", err)
			}
			reloaded, _ := repo.GetItem(ctx, "c1")
			if !reloaded.Enriched || len(reloaded.Hashtags) != 1 {
				t.Fatalf("update not persisted: %+v", reloaded)
			}

			if _, err := repo.GetItem(ctx, "missing"); !errors.Is(err, content.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestRepositoryPostsAreCreatedOnce(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			submit(t, repo, "c1")

			post := &content.Post{ContentID: "c1", Platform: "vk", Status: content.StatusQueued, State: content.StateEnriched}
			created, err := repo.CreatePost(ctx, post)
			if err != nil || !created {
				t.Fatalf("CreatePost: created=%v err=%v", created, err)
			}
			again, err := repo.CreatePost(ctx, &content.Post{ContentID: "c1", Platform: "vk", Status: content.StatusFailed})
			if err != nil || again {
				t.Fatalf("duplicate CreatePost: created=%v err=%v", again, err)
			}

			post.Status = content.StatusRejected
			post.State = content.StatePreflightBlocked
			post.Violations = []content.Violation{{Type: "caption_too_long", Severity: content.SeverityBlocking, Field: "caption"}}
			if err := repo.UpdatePost(ctx, post); err != nil {
				t.Fatalf("UpdatePost: %v", err)
			}
			got, err := repo.GetPost(ctx, "c1", "vk")
			if err != nil {
				t.Fatalf("GetPost: %v", err)
			}
			if got.Status != content.StatusRejected || len(got.Violations) != 1 || got.Violations[0].Type != "caption_too_long" {
				t.Fatalf("unexpected post: %+v", got)
			}
		})
	}
}

func TestRepositoryFailOpenPostsSkipsTerminal(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			submit(t, repo, "c1")
			for platform, status := range map[string]content.PostStatus{
				"telegram":  content.StatusPublished,
				"vk":        content.StatusPublishing,
				"instagram": content.StatusQueued,
			} {
				if _, err := repo.CreatePost(ctx, &content.Post{ContentID: "c1", Platform: platform, Status: status}); err != nil {
					t.Fatalf("CreatePost: %v", err)
				}
			}
			n, err := repo.FailOpenPosts(ctx, "c1", "run cancelled")
			if err != nil {
				t.Fatalf("FailOpenPosts: %v", err)
			}
			if n != 2 {
				t.Fatalf("expected two posts failed, got %d", n)
			}
			posts, _ := repo.ListPosts(ctx, "c1")
			if len(posts) != 3 || posts[0].Platform != "instagram" {
				t.Fatalf("expected platform-ordered posts, got %+v", posts)
			}
			sum := content.Summarize(posts)
			if sum.Published != 1 || sum.Failed != 2 || sum.FinalStatus() != content.RunCompleted {
				t.Fatalf("unexpected summary: %+v", sum)
			}
		})
	}
}

func TestRepositoryCompleteRunOnlyOnce(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, run := submit(t, repo, "c1")

			requested, err := repo.RequestCancel(ctx, run.ID)
			if err != nil || !requested {
				t.Fatalf("RequestCancel: %v %v", requested, err)
			}
			won, err := repo.CompleteRun(ctx, run.ID, content.RunCancelled, content.Summary{Total: 2, Failed: 2})
			if err != nil || !won {
				t.Fatalf("first CompleteRun: won=%v err=%v", won, err)
			}
			won, err = repo.CompleteRun(ctx, run.ID, content.RunCompleted, content.Summary{})
			if err != nil || won {
				t.Fatalf("second CompleteRun must lose: won=%v err=%v", won, err)
			}
			got, _ := repo.GetRun(ctx, run.ID)
			if got.Status != content.RunCancelled || got.Summary.Failed != 2 || !got.CancelRequested || got.FinishedAt.IsZero() {
				t.Fatalf("unexpected run: %+v", got)
			}
			if requested, _ := repo.RequestCancel(ctx, run.ID); requested {
				t.Fatal("finished run cannot be cancelled")
			}
			if _, err := repo.RequestCancel(ctx, "missing"); !errors.Is(err, content.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestRepositoryTransitionsKeepOrder(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, run := submit(t, repo, "c1")
			states := []content.PostState{content.StateIngested, content.StateEnriched, content.StateCaptioned}
			for _, s := range states {
				if err := repo.AppendTransition(ctx, content.Transition{RunID: run.ID, Platform: "vk", State: s}); err != nil {
					t.Fatalf("AppendTransition: %v", err)
				}
			}
			got, err := repo.ListTransitions(ctx, run.ID)
			if err != nil {
				t.Fatalf("ListTransitions: %v", err)
			}
			if len(got) != len(states) {
				t.Fatalf("expected %d transitions, got %d", len(states), len(got))
			}
			for i, s := range states {
				if got[i].State != s {
					t.Fatalf("transition %d: got %s want %s", i, got[i].State, s)
				}
			}
		})
	}
}

func TestExtractEntities(t *testing.T) {
	got := content.ExtractEntities("Hi @shop and @shop. New #drop #sale #drop see https://example.com/a, mail me@x.io")
	if len(got.Hashtags) != 2 || got.Hashtags[0] != "#drop" {
		t.Fatalf("unexpected hashtags: %v", got.Hashtags)
	}
	if len(got.Mentions) != 1 || got.Mentions[0] != "@shop" {
		t.Fatalf("unexpected mentions: %v", got.Mentions)
	}
	if len(got.Links) != 1 || got.Links[0] != "https://example.com/a" {
		t.Fatalf("unexpected links: %v", got.Links)
	}
}
