package preflight

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"crosspost/internal/clock"
	"crosspost/internal/content"
	"crosspost/internal/logging"
)

// DefaultReloadInterval is how long a loaded rule set stays fresh.
const DefaultReloadInterval = 300 * time.Second

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Path of the YAML rules file. Empty uses the embedded defaults only.
	Path   string
	TTL    time.Duration
	Clock  clock.Clock
	Logger *slog.Logger
}

// Loader serves the current rule set, reloading it from disk once the TTL
// has passed. Concurrent reloads collapse into one read. A reload that
// fails keeps the previous rules in place.
type Loader struct {
	path   string
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	current  *RuleSet
	loadedAt time.Time
	lastErr  error
}

// NewLoader loads the initial rule set. When the rules file cannot be read
// the embedded defaults are used and a warning is logged, so the loader
// always has rules to serve.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultReloadInterval
	}
	l := &Loader{
		path:   strings.TrimSpace(opts.Path),
		ttl:    ttl,
		clock:  clock.OrReal(opts.Clock),
		logger: logger,
	}

	rs, err := l.read()
	if err != nil {
		logging.WarnWithContext(logger, "preflight rules unavailable, using embedded defaults", "preflight_rules_fallback",
			logging.String("path", l.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the rules file; it is retried on the next reload"),
			logging.String(logging.FieldImpact, "built-in platform limits apply"),
		)
		l.lastErr = err
		rs, err = DefaultRules()
		if err != nil {
			return nil, err
		}
	}
	l.current = rs
	l.loadedAt = l.clock.Now()
	logger.Info("preflight rules loaded",
		logging.String("version", rs.Version),
		logging.Int("platforms", len(rs.Platforms)),
		logging.String("source", l.source()),
	)
	return l, nil
}

// Rules returns the current rule set, reloading it first when stale.
func (l *Loader) Rules(ctx context.Context) *RuleSet {
	l.mu.RLock()
	rs, stale := l.current, l.clock.Now().Sub(l.loadedAt) >= l.ttl
	l.mu.RUnlock()
	if !stale || l.path == "" {
		return rs
	}
	_ = l.Reload(ctx)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Reload reads the rules file now. On failure the previous rule set stays
// active and the error is returned.
func (l *Loader) Reload(ctx context.Context) error {
	if l.path == "" {
		return nil
	}
	_, err, _ := l.group.Do("reload", func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rs, err := l.read()
		l.mu.Lock()
		defer l.mu.Unlock()
		// Stamp the attempt either way so a broken file is not re-read on every call.
		l.loadedAt = l.clock.Now()
		l.lastErr = err
		if err != nil {
			logging.WarnWithContext(l.logger, "preflight rules reload failed; keeping previous rules", "preflight_rules_reload_failed",
				logging.String("path", l.path),
				logging.String("version", l.current.Version),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix the rules file syntax"),
				logging.String(logging.FieldImpact, "last known good rules stay active"),
			)
			return nil, err
		}
		if rs.Version != l.current.Version {
			l.logger.Info("preflight rules updated",
				logging.String("previous_version", l.current.Version),
				logging.String("version", rs.Version),
			)
		}
		l.current = rs
		return nil, nil
	})
	return err
}

// Validate checks post against the current rules.
func (l *Loader) Validate(ctx context.Context, post content.Post) Result {
	return Validate(post, l.Rules(ctx))
}

// Platforms lists platforms that have rules.
func (l *Loader) Platforms(ctx context.Context) []string {
	return l.Rules(ctx).PlatformNames()
}

// LastError reports the most recent load failure, if any.
func (l *Loader) LastError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr
}

func (l *Loader) source() string {
	if l.path == "" || l.lastErr != nil {
		return "embedded"
	}
	return l.path
}

func (l *Loader) read() (*RuleSet, error) {
	if l.path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", l.path, err)
	}
	rs, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.path, err)
	}
	return rs, nil
}
