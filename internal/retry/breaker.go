package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"crosspost/internal/config"
	"crosspost/internal/logging"
	"crosspost/internal/services"
)

// Breakers keeps one circuit breaker per platform. A platform whose calls
// keep failing transiently is short-circuited for a cooldown, and callers see
// a rate-limited error carrying the remaining delay.
type Breakers struct {
	mu        sync.Mutex
	breakers  map[string]circuitbreaker.CircuitBreaker[any]
	failures  uint
	window    uint
	delay     time.Duration
	logger    *slog.Logger
	onChanged func(platform, state string)
}

// NewBreakers builds breakers from retry configuration. A zero failure
// threshold disables them; Execute then just calls fn.
func NewBreakers(cfg config.Retry, logger *slog.Logger) *Breakers {
	if logger == nil {
		logger = logging.NewNop()
	}
	failures := max(cfg.BreakerFailureThreshold, 0)
	window := max(cfg.BreakerWindow, failures)
	return &Breakers{
		breakers: make(map[string]circuitbreaker.CircuitBreaker[any]),
		failures: uint(failures),
		window:   uint(window),
		delay:    time.Duration(cfg.BreakerDelaySeconds) * time.Second,
		logger:   logger,
	}
}

// OnStateChange registers a callback invoked on every breaker transition.
func (b *Breakers) OnStateChange(fn func(platform, state string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChanged = fn
}

func (b *Breakers) get(platform string) circuitbreaker.CircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[platform]; ok {
		return cb
	}
	onChanged := b.onChanged
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(b.failures, b.window).
		WithDelay(b.delay).
		WithSuccessThreshold(1).
		HandleIf(func(_ any, err error) bool {
			return err != nil && services.KindOf(err) == services.KindTransient
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			state := stateName(event.NewState)
			b.logger.Warn("circuit breaker state change",
				logging.String(logging.FieldPlatform, platform),
				logging.String("from_state", stateName(event.OldState)),
				logging.String("to_state", state),
				logging.String(logging.FieldEventType, "circuit_breaker_state"),
			)
			if onChanged != nil {
				onChanged(platform, state)
			}
		}).
		Build()
	b.breakers[platform] = cb
	return cb
}

// Execute runs fn through the platform's breaker. When the breaker is open
// the returned error is classified rate_limited with the remaining cooldown.
func (b *Breakers) Execute(ctx context.Context, platform string, fn func(context.Context) error) error {
	if b == nil || b.failures == 0 {
		return fn(ctx)
	}
	cb := b.get(platform)
	err := failsafe.With[any](cb).WithContext(ctx).Run(func() error {
		return fn(ctx)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return services.RateLimited("publish", platform, "circuit breaker open", cb.RemainingDelay(), err)
	}
	return err
}

// State reports "closed", "open", or "half-open" for platform.
func (b *Breakers) State(platform string) string {
	if b == nil || b.failures == 0 {
		return "closed"
	}
	return stateName(b.get(platform).State())
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}
