// Package staging reclaims media copied into the local store once the runs
// that used it are finished and older than the retention window.
//
// The local store lays media out as <root>/<content-id>/<scope>/<n>.<ext>, so
// each top-level directory belongs to exactly one content item.
package staging

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/logging"
)

// Result contains the outcome of a cleanup pass.
type Result struct {
	Removed []string
	Bytes   int64
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path string
	Err  error
}

// ActiveFunc reports whether a content item still has work in flight.
type ActiveFunc func(ctx context.Context, contentID string) bool

// Cleaner removes stale content directories under a local media root.
type Cleaner struct {
	root   string
	logger *slog.Logger
	active ActiveFunc
}

// NewCleaner builds a cleaner for root. A nil active func treats every item
// as finished.
func NewCleaner(root string, logger *slog.Logger, active ActiveFunc) *Cleaner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cleaner{
		root:   strings.TrimSpace(root),
		logger: logging.NewComponentLogger(logger, "staging"),
		active: active,
	}
}

// RunningContent reports an item as active while its run is still running.
// Lookup errors other than not-found keep the media.
func RunningContent(repo content.Repository) ActiveFunc {
	return func(ctx context.Context, contentID string) bool {
		run, err := repo.GetRunByContent(ctx, contentID)
		if errors.Is(err, content.ErrNotFound) {
			return false
		}
		if err != nil {
			return true
		}
		return run.Status == content.RunRunning
	}
}

// CleanBefore removes every content directory whose newest file was modified
// before cutoff and whose item is not active.
func (c *Cleaner) CleanBefore(ctx context.Context, cutoff time.Time) Result {
	var result Result
	if c == nil || c.root == "" {
		return result
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: c.root, Err: err})
		}
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(c.root, entry.Name())
		newest, size, err := scanDir(dirPath)
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Err: err})
			continue
		}
		if !newest.Before(cutoff) {
			continue
		}
		if c.active != nil && c.active(ctx, entry.Name()) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Err: err})
			c.logger.Warn("failed to remove staged media",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldEventType, "staging_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check storage.local_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		result.Bytes += size
		c.logger.Debug("removed staged media",
			logging.String(logging.FieldContentID, entry.Name()),
			logging.Int64("bytes", size),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}

	if len(result.Removed) > 0 {
		c.logger.Info("reclaimed staged media",
			logging.Int("directories", len(result.Removed)),
			logging.Int64("bytes", result.Bytes),
		)
	}
	return result
}

// scanDir returns the newest modification time and total size under dir.
func scanDir(dir string) (time.Time, int64, error) {
	var newest time.Time
	var size int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		if !d.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return newest, size, err
}
