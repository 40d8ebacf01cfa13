// Package storage persists staged media so publishers can fetch it by URL.
//
// Two backends exist: a local directory (default, used by the dry-run
// daemon and tests) and S3 or any S3-compatible service. Keys are slash
// separated and relative; "..", empty segments, and absolute keys are
// rejected.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/services"
)

// Storage stores and serves media objects.
type Storage interface {
	// Put stores r under key and returns a URL a publisher can fetch.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// URL returns a fetchable URL for an existing key.
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// New builds the backend selected in cfg.Storage.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Storage, error) {
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return NewS3(ctx, S3Config{
			Bucket:     cfg.Storage.Bucket,
			Region:     cfg.Storage.Region,
			Endpoint:   cfg.Storage.Endpoint,
			AccessKey:  cfg.Storage.AccessKey,
			SecretKey:  cfg.Storage.SecretKey,
			PresignTTL: time.Duration(cfg.Storage.PresignSeconds) * time.Second,
		}, logger)
	case config.StorageLocal, "":
		return NewLocal(cfg.Storage.LocalDir)
	default:
		return nil, fmt.Errorf("storage backend %q is not supported", cfg.Storage.Backend)
	}
}

// CleanKey validates and normalizes an object key.
func CleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" || strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, "\\") {
		return "", invalidKey(key)
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", invalidKey(key)
		}
	}
	return path.Clean(trimmed), nil
}

func invalidKey(key string) error {
	return services.Wrap(services.ErrValidation, "storage", "key", fmt.Sprintf("invalid object key %q", key), nil)
}

func notFound(op, key string, err error) error {
	return services.Wrap(services.ErrNotFound, "storage", op, fmt.Sprintf("object %q not found", key), err)
}
