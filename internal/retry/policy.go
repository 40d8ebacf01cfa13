// Package retry classifies stage failures and computes backoff.
//
// Every failure resolves to a services.Kind. Transient failures retry with
// exponential backoff until the attempt budget is spent, then escalate to
// permanent. Rate-limited failures wait for the upstream Retry-After (or the
// computed backoff) and draw from a separate throttle budget. Everything
// else aborts immediately.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"crosspost/internal/clock"
	"crosspost/internal/config"
	"crosspost/internal/services"
)

// Action is what the caller should do with a failed event.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionThrottle Action = "throttle"
	ActionAbort    Action = "abort"
)

const (
	DefaultBase         = 2 * time.Second
	DefaultMaxDelay     = 60 * time.Second
	DefaultMaxAttempts  = 3
	PublishMaxAttempts  = 5
	DefaultMaxThrottled = 10
)

// Policy holds backoff parameters and attempt budgets.
type Policy struct {
	Base         time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	MaxThrottled int
	// Jitter returns a value in [0, n). Nil uses math/rand.
	Jitter func(n int64) int64
}

// Decision is the outcome of classifying one failure.
type Decision struct {
	Action Action
	Kind   services.Kind
	Delay  time.Duration
	Reason string
}

// Default returns the policy for content-level and media stages.
func Default() Policy {
	return Policy{
		Base:         DefaultBase,
		MaxDelay:     DefaultMaxDelay,
		MaxAttempts:  DefaultMaxAttempts,
		MaxThrottled: DefaultMaxThrottled,
	}
}

// FromConfig builds the policy for stage from configuration. The publish
// stage gets its own, larger attempt budget.
func FromConfig(cfg config.Retry, stage string) Policy {
	p := Policy{
		Base:         time.Duration(cfg.BaseDelaySeconds) * time.Second,
		MaxDelay:     time.Duration(cfg.MaxDelaySeconds) * time.Second,
		MaxAttempts:  cfg.MaxAttempts,
		MaxThrottled: cfg.MaxThrottled,
	}
	if stage == "publish" {
		p.MaxAttempts = cfg.PublishMaxAttempts
	}
	return p.normalized()
}

func (p Policy) normalized() Policy {
	if p.Base <= 0 {
		p.Base = DefaultBase
	}
	if p.MaxDelay < p.Base {
		p.MaxDelay = p.Base
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MaxThrottled < 0 {
		p.MaxThrottled = 0
	}
	return p
}

// Backoff returns the delay before retry number attempt (0-based):
// min(MaxDelay, Base*2^attempt + jitter) with jitter in [0, Base). The jitter
// is additive and smaller than Base, so delays never decrease as attempt grows.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}
	delay := p.Base
	for i := 0; i < attempt; i++ {
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
		delay *= 2
	}
	return min(p.MaxDelay, delay+time.Duration(p.jitter(int64(p.Base))))
}

func (p Policy) jitter(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if p.Jitter != nil {
		return p.Jitter(n)
	}
	return rand.Int64N(n)
}

// Decide classifies err for an event that has already been retried
// attempts times and throttled throttled times.
func (p Policy) Decide(err error, attempts, throttled int) Decision {
	p = p.normalized()
	details := services.Details(err)
	reason := details.Message
	if err != nil {
		reason = err.Error()
	}

	switch details.Kind {
	case services.KindTransient:
		if attempts+1 >= p.MaxAttempts {
			return Decision{
				Action: ActionAbort,
				Kind:   services.KindPermanent,
				Reason: fmt.Sprintf("retries exhausted after %d attempts: %s", attempts+1, reason),
			}
		}
		return Decision{Action: ActionRetry, Kind: details.Kind, Delay: p.Backoff(attempts), Reason: reason}
	case services.KindRateLimited:
		if throttled >= p.MaxThrottled {
			return Decision{
				Action: ActionAbort,
				Kind:   services.KindPermanent,
				Reason: fmt.Sprintf("rate limited %d times: %s", throttled, reason),
			}
		}
		delay := details.RetryAfter
		if delay <= 0 {
			delay = p.Backoff(throttled)
		}
		return Decision{Action: ActionThrottle, Kind: details.Kind, Delay: delay, Reason: reason}
	default:
		return Decision{Action: ActionAbort, Kind: details.Kind, Reason: reason}
	}
}

// Sleep waits for d on clk or until ctx is done.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.OrReal(clk).After(d):
		return nil
	}
}
