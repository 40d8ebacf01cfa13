// Package ratelimit throttles outbound platform calls per key.
//
// A key is a platform plus an optional sub-key such as a chat id. Each key
// has its own discipline: token_bucket (rate R per second, capacity C, starts
// full) or fixed_window (at most N acquisitions in any rolling window T).
// State is guarded by one mutex per key, so unrelated keys never contend.
// Fixed-window keys can be shared across processes through redis.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"crosspost/internal/clock"
	"crosspost/internal/config"
	"crosspost/internal/logging"
)

// ErrWouldExceedDeadline is returned when the next free slot lies beyond the
// context deadline. Acquire returns it immediately instead of waiting.
var ErrWouldExceedDeadline = errors.New("ratelimit: next slot is past the context deadline")

// Discipline names a limiting algorithm.
type Discipline string

const (
	TokenBucket Discipline = config.DisciplineTokenBucket
	FixedWindow Discipline = config.DisciplineFixedWindow
)

// Key identifies a limited resource.
type Key struct {
	Platform string
	SubKey   string
}

// String renders "platform" or "platform:subkey".
func (k Key) String() string {
	if k.SubKey == "" {
		return k.Platform
	}
	return k.Platform + ":" + k.SubKey
}

// Rule is the discipline applied to one key.
type Rule struct {
	Discipline Discipline
	Limit      int
	Window     time.Duration
	Rate       float64
	Capacity   int
}

// RuleFromConfig converts a configured rate limit.
func RuleFromConfig(rl config.RateLimit) Rule {
	return Rule{
		Discipline: Discipline(rl.Discipline),
		Limit:      rl.Limit,
		Window:     time.Duration(rl.WindowSeconds) * time.Second,
		Rate:       rl.Rate,
		Capacity:   rl.Capacity,
	}
}

// Resolver maps a key to its rule.
type Resolver func(Key) Rule

// ConfigResolver resolves rules through cfg: "platform:subkey", then
// "platform:*", then "platform", then the default rule.
func ConfigResolver(cfg *config.Config) Resolver {
	return func(k Key) Rule {
		return RuleFromConfig(cfg.RateLimitFor(k.Platform, k.SubKey))
	}
}

// Options configures a Limiter.
type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
	// Redis, when set, backs fixed_window keys so several daemons share one budget.
	Redis     goredis.UniversalClient
	KeyPrefix string
	// Observer is told how long each successful Acquire waited.
	Observer func(key Key, waited time.Duration)
}

// Limiter hands out slots per key.
type Limiter struct {
	resolve  Resolver
	clock    clock.Clock
	logger   *slog.Logger
	redis    *redisWindow
	observer func(Key, time.Duration)

	mu     sync.Mutex
	states map[string]*keyState
}

type keyState struct {
	mu     sync.Mutex
	rule   Rule
	tokens float64
	last   time.Time
	log    []time.Time
}

// New returns a Limiter using resolve for per-key rules.
func New(resolve Resolver, opts Options) *Limiter {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	l := &Limiter{
		resolve:  resolve,
		clock:    clock.OrReal(opts.Clock),
		logger:   logger,
		observer: opts.Observer,
		states:   make(map[string]*keyState),
	}
	if opts.Redis != nil {
		prefix := strings.TrimSpace(opts.KeyPrefix)
		if prefix == "" {
			prefix = "crosspost:ratelimit"
		}
		l.redis = &redisWindow{client: opts.Redis, prefix: prefix}
	}
	return l
}

// Acquire blocks until key has a free slot, ctx is done, or the next slot
// would fall after ctx's deadline.
func (l *Limiter) Acquire(ctx context.Context, key Key) error {
	rule := l.resolve(key)
	started := l.clock.Now()
	// Context deadlines are wall-clock; waits run on l.clock. The remaining
	// wall time is read once and then spent in limiter time.
	budget, bounded := time.Duration(0), false
	if deadline, ok := ctx.Deadline(); ok {
		budget, bounded = time.Until(deadline), true
	}
	for {
		wait, err := l.tryTake(ctx, key, rule)
		if err != nil {
			return err
		}
		if wait <= 0 {
			if l.observer != nil {
				l.observer(key, l.clock.Now().Sub(started))
			}
			return nil
		}
		if bounded && budget-l.clock.Now().Sub(started) < wait {
			return ErrWouldExceedDeadline
		}
		l.logger.Debug("rate limit wait",
			logging.String(logging.FieldPlatform, key.Platform),
			logging.String("rate_key", key.String()),
			logging.Duration("wait", wait),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// AcquireAll acquires each key in order. Publish uses it to take the
// platform-wide slot and then the per-target slot.
func (l *Limiter) AcquireAll(ctx context.Context, keys ...Key) error {
	for _, key := range keys {
		if err := l.Acquire(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// tryTake consumes a slot if one is free and otherwise reports how long until
// the next one. Nothing is reserved while the caller waits.
func (l *Limiter) tryTake(ctx context.Context, key Key, rule Rule) (time.Duration, error) {
	if rule.Discipline == FixedWindow && l.redis != nil {
		return l.redis.take(ctx, key.String(), rule, l.clock.Now())
	}
	state := l.state(key, rule)
	state.mu.Lock()
	defer state.mu.Unlock()
	now := l.clock.Now()
	if rule.Discipline == FixedWindow {
		return state.takeWindow(now), nil
	}
	return state.takeToken(now), nil
}

func (l *Limiter) state(key Key, rule Rule) *keyState {
	name := key.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[name]
	if !ok || st.rule != rule {
		st = &keyState{rule: rule, tokens: float64(rule.Capacity)}
		l.states[name] = st
	}
	return st
}

func (s *keyState) takeToken(now time.Time) time.Duration {
	rate := s.rule.Rate
	capacity := float64(max(s.rule.Capacity, 1))
	if rate <= 0 {
		rate = 1
	}
	if !s.last.IsZero() && now.After(s.last) {
		s.tokens = min(capacity, s.tokens+now.Sub(s.last).Seconds()*rate)
	}
	if s.last.IsZero() || now.After(s.last) {
		s.last = now
	}
	if s.tokens >= 1 {
		s.tokens--
		return 0
	}
	missing := 1 - s.tokens
	wait := time.Duration(missing / rate * float64(time.Second))
	if wait <= 0 {
		wait = time.Nanosecond
	}
	return wait
}

func (s *keyState) takeWindow(now time.Time) time.Duration {
	limit := max(s.rule.Limit, 1)
	window := s.rule.Window
	if window <= 0 {
		window = time.Second
	}
	cutoff := now.Add(-window)
	drop := 0
	for drop < len(s.log) && !s.log[drop].After(cutoff) {
		drop++
	}
	s.log = s.log[drop:]
	if len(s.log) < limit {
		s.log = append(s.log, now)
		return 0
	}
	return s.log[0].Add(window).Sub(now)
}
