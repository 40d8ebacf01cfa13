package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"crosspost/internal/clock"
	"crosspost/internal/database"
)

const (
	itemColumns = `id, body, media, platforms, targets, hashtags, mentions, links, enriched, finalized,
	created_at, updated_at`
	postColumns = `content_id, platform, target, status, state, caption, hashtags, mentions, links, media,
	external_id, url, last_error, violations, attempts, created_at, updated_at`
	runColumns = `id, content_id, status, stage, cancel_requested, summary, created_at, updated_at, finished_at`
)

// SQLRepository implements Repository on database.DB.
type SQLRepository struct {
	db    *database.DB
	clock clock.Clock
}

// NewSQLRepository returns a Repository backed by db.
func NewSQLRepository(db *database.DB, clk clock.Clock) *SQLRepository {
	return &SQLRepository{db: db, clock: clock.OrReal(clk)}
}

// CreateSubmission stores a new item and its run in one transaction.
func (r *SQLRepository) CreateSubmission(ctx context.Context, item *Item, run *Run) error {
	now := r.clock.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	run.CreatedAt, run.UpdatedAt = now, now
	if run.Status == "" {
		run.Status = RunRunning
	}
	cols, err := itemValues(item)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		var n int
		if err := tx.QueryRow(ctx, `SELECT COUNT(1) FROM content_items WHERE id = ?`, item.ID).Scan(&n); err != nil {
			return fmt.Errorf("check item: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: item %s", ErrExists, item.ID)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO content_items (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, cols...); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO runs (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.ContentID, string(run.Status), run.Stage, boolInt(run.CancelRequested), string(summary),
			database.Millis(now), database.Millis(now), database.Millis(run.FinishedAt)); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// GetItem fetches an item.
func (r *SQLRepository) GetItem(ctx context.Context, id string) (*Item, error) {
	item, err := scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM content_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// UpdateItem rewrites an item's mutable fields.
func (r *SQLRepository) UpdateItem(ctx context.Context, item *Item) error {
	item.UpdatedAt = r.clock.Now().UTC()
	cols, err := itemValues(item)
	if err != nil {
		return err
	}
	res, err := r.db.Exec(ctx, `UPDATE content_items SET body = ?, media = ?, platforms = ?, targets = ?,
		hashtags = ?, mentions = ?, links = ?, enriched = ?, finalized = ?, updated_at = ? WHERE id = ?`,
		cols[1], cols[2], cols[3], cols[4], cols[5], cols[6], cols[7], cols[8], cols[9], cols[11], item.ID)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return expectOne(res, "item", item.ID)
}

// GetRun fetches a run.
func (r *SQLRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	return r.getRun(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
}

// GetRunByContent fetches the run for an item.
func (r *SQLRepository) GetRunByContent(ctx context.Context, contentID string) (*Run, error) {
	return r.getRun(ctx, `SELECT `+runColumns+` FROM runs WHERE content_id = ?`, contentID)
}

func (r *SQLRepository) getRun(ctx context.Context, query, key string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (r *SQLRepository) ListRuns(ctx context.Context, status RunStatus, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// SetRunStage records the most recent stage of a running run.
func (r *SQLRepository) SetRunStage(ctx context.Context, runID, stage string) error {
	_, err := r.db.Exec(ctx, `UPDATE runs SET stage = ?, updated_at = ? WHERE id = ? AND status = 'running'`,
		stage, database.Millis(r.clock.Now()), runID)
	if err != nil {
		return fmt.Errorf("set run stage: %w", err)
	}
	return nil
}

// RequestCancel flags a running run for cancellation.
func (r *SQLRepository) RequestCancel(ctx context.Context, runID string) (bool, error) {
	res, err := r.db.Exec(ctx, `UPDATE runs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = 'running'`,
		database.Millis(r.clock.Now()), runID)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("request cancel rows affected: %w", err)
	}
	if n == 0 {
		if _, err := r.GetRun(ctx, runID); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

// CompleteRun finishes a running run. Only the first caller wins.
func (r *SQLRepository) CompleteRun(ctx context.Context, runID string, status RunStatus, summary Summary) (bool, error) {
	encoded, err := json.Marshal(summary)
	if err != nil {
		return false, fmt.Errorf("encode summary: %w", err)
	}
	now := database.Millis(r.clock.Now())
	res, err := r.db.Exec(ctx, `UPDATE runs SET status = ?, summary = ?, stage = 'finalize', updated_at = ?, finished_at = ?
		WHERE id = ? AND status = 'running'`, string(status), string(encoded), now, now, runID)
	if err != nil {
		return false, fmt.Errorf("complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete run rows affected: %w", err)
	}
	return n == 1, nil
}

// CreatePost inserts a post unless one exists for the same item and platform.
func (r *SQLRepository) CreatePost(ctx context.Context, post *Post) (bool, error) {
	now := r.clock.Now().UTC()
	post.CreatedAt, post.UpdatedAt = now, now
	cols, err := postValues(post)
	if err != nil {
		return false, err
	}
	res, err := r.db.Exec(ctx, `INSERT INTO platform_posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`, cols...)
	if err != nil {
		return false, fmt.Errorf("insert post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert post rows affected: %w", err)
	}
	return n == 1, nil
}

// GetPost fetches one platform post.
func (r *SQLRepository) GetPost(ctx context.Context, contentID, platform string) (*Post, error) {
	post, err := scanPost(r.db.QueryRow(ctx, `SELECT `+postColumns+` FROM platform_posts
		WHERE content_id = ? AND platform = ?`, contentID, platform))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: post %s/%s", ErrNotFound, contentID, platform)
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

// ListPosts returns the posts of an item ordered by platform.
func (r *SQLRepository) ListPosts(ctx context.Context, contentID string) ([]Post, error) {
	rows, err := r.db.Query(ctx, `SELECT `+postColumns+` FROM platform_posts
		WHERE content_id = ? ORDER BY platform`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

// UpdatePost rewrites a post's mutable fields.
func (r *SQLRepository) UpdatePost(ctx context.Context, post *Post) error {
	post.UpdatedAt = r.clock.Now().UTC()
	cols, err := postValues(post)
	if err != nil {
		return err
	}
	res, err := r.db.Exec(ctx, `UPDATE platform_posts SET target = ?, status = ?, state = ?, caption = ?,
		hashtags = ?, mentions = ?, links = ?, media = ?, external_id = ?, url = ?, last_error = ?,
		violations = ?, attempts = ?, updated_at = ?
		WHERE content_id = ? AND platform = ?`,
		cols[2], cols[3], cols[4], cols[5], cols[6], cols[7], cols[8], cols[9], cols[10], cols[11], cols[12],
		cols[13], cols[14], cols[16], post.ContentID, post.Platform)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	return expectOne(res, "post", post.ContentID+"/"+post.Platform)
}

// FailOpenPosts marks every non-terminal post of an item failed.
func (r *SQLRepository) FailOpenPosts(ctx context.Context, contentID, reason string) (int, error) {
	res, err := r.db.Exec(ctx, `UPDATE platform_posts SET status = 'failed', last_error = ?, updated_at = ?
		WHERE content_id = ? AND status NOT IN ('published', 'failed', 'rejected')`,
		reason, database.Millis(r.clock.Now()), contentID)
	if err != nil {
		return 0, fmt.Errorf("fail open posts: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// AppendTransition adds one entry to the transition log.
func (r *SQLRepository) AppendTransition(ctx context.Context, t Transition) error {
	if t.At.IsZero() {
		t.At = r.clock.Now()
	}
	if _, err := r.db.Exec(ctx, `INSERT INTO transitions (run_id, platform, state, at) VALUES (?, ?, ?, ?)`,
		t.RunID, t.Platform, string(t.State), database.Millis(t.At)); err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

// ListTransitions returns a run's transitions in insertion order.
func (r *SQLRepository) ListTransitions(ctx context.Context, runID string) ([]Transition, error) {
	rows, err := r.db.Query(ctx, `SELECT run_id, platform, state, at FROM transitions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()
	var out []Transition
	for rows.Next() {
		var (
			t     Transition
			state string
			at    int64
		)
		if err := rows.Scan(&t.RunID, &t.Platform, &state, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.State = PostState(state)
		t.At = database.FromMillis(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func itemValues(item *Item) ([]any, error) {
	media, err := encodeJSON(item.Media, "[]")
	if err != nil {
		return nil, err
	}
	platforms, err := encodeJSON(item.Platforms, "[]")
	if err != nil {
		return nil, err
	}
	targets, err := encodeJSON(item.Targets, "{}")
	if err != nil {
		return nil, err
	}
	hashtags, err := encodeJSON(item.Hashtags, "[]")
	if err != nil {
		return nil, err
	}
	mentions, err := encodeJSON(item.Mentions, "[]")
	if err != nil {
		return nil, err
	}
	links, err := encodeJSON(item.Links, "[]")
	if err != nil {
		return nil, err
	}
	return []any{item.ID, item.Text, media, platforms, targets, hashtags, mentions, links,
		boolInt(item.Enriched), boolInt(item.Finalized), database.Millis(item.CreatedAt), database.Millis(item.UpdatedAt)}, nil
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var media, platforms, targets, hashtags, mentions, links string
	var enriched, finalized int
	var created, updated int64
	if err := row.Scan(&item.ID, &item.Text, &media, &platforms, &targets, &hashtags, &mentions, &links,
		&enriched, &finalized, &created, &updated); err != nil {
		return nil, err
	}
	for _, field := range []struct {
		raw  string
		dest any
	}{
		{media, &item.Media}, {platforms, &item.Platforms}, {targets, &item.Targets},
		{hashtags, &item.Hashtags}, {mentions, &item.Mentions}, {links, &item.Links},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dest); err != nil {
			return nil, fmt.Errorf("decode item %s: %w", item.ID, err)
		}
	}
	item.Enriched = enriched != 0
	item.Finalized = finalized != 0
	item.CreatedAt = database.FromMillis(created)
	item.UpdatedAt = database.FromMillis(updated)
	return &item, nil
}

func postValues(post *Post) ([]any, error) {
	hashtags, err := encodeJSON(post.Hashtags, "[]")
	if err != nil {
		return nil, err
	}
	mentions, err := encodeJSON(post.Mentions, "[]")
	if err != nil {
		return nil, err
	}
	links, err := encodeJSON(post.Links, "[]")
	if err != nil {
		return nil, err
	}
	media, err := encodeJSON(post.Media, "[]")
	if err != nil {
		return nil, err
	}
	violations, err := encodeJSON(post.Violations, "[]")
	if err != nil {
		return nil, err
	}
	return []any{post.ContentID, post.Platform, post.Target, string(post.Status), string(post.State),
		post.Caption, hashtags, mentions, links, media, post.ExternalID, post.URL, post.LastError,
		violations, post.Attempts, database.Millis(post.CreatedAt), database.Millis(post.UpdatedAt)}, nil
}

func scanPost(row rowScanner) (*Post, error) {
	var post Post
	var status, state string
	var hashtags, mentions, links, media, violations string
	var created, updated int64
	if err := row.Scan(&post.ContentID, &post.Platform, &post.Target, &status, &state, &post.Caption,
		&hashtags, &mentions, &links, &media, &post.ExternalID, &post.URL, &post.LastError, &violations,
		&post.Attempts, &created, &updated); err != nil {
		return nil, err
	}
	for _, field := range []struct {
		raw  string
		dest any
	}{
		{hashtags, &post.Hashtags}, {mentions, &post.Mentions}, {links, &post.Links},
		{media, &post.Media}, {violations, &post.Violations},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dest); err != nil {
			return nil, fmt.Errorf("decode post %s/%s: %w", post.ContentID, post.Platform, err)
		}
	}
	post.Status = PostStatus(status)
	post.State = PostState(state)
	post.CreatedAt = database.FromMillis(created)
	post.UpdatedAt = database.FromMillis(updated)
	return &post, nil
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status, summary string
	var cancel int
	var created, updated, finished int64
	if err := row.Scan(&run.ID, &run.ContentID, &status, &run.Stage, &cancel, &summary,
		&created, &updated, &finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("decode run %s summary: %w", run.ID, err)
	}
	run.Status = RunStatus(status)
	run.CancelRequested = cancel != 0
	run.CreatedAt = database.FromMillis(created)
	run.UpdatedAt = database.FromMillis(updated)
	run.FinishedAt = database.FromMillis(finished)
	return &run, nil
}

func encodeJSON(value any, empty string) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", kind, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}
