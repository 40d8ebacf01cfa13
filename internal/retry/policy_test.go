package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"crosspost/internal/clock"
	"crosspost/internal/config"
	"crosspost/internal/retry"
	"crosspost/internal/services"
)

func maxJitter(n int64) int64 { return n - 1 }
func noJitter(int64) int64    { return 0 }

func TestBackoffIsMonotonicAndCapped(t *testing.T) {
	for _, jitter := range []func(int64) int64{noJitter, maxJitter, nil} {
		p := retry.Default()
		p.Jitter = jitter
		prev := time.Duration(0)
		for attempt := 0; attempt < 40; attempt++ {
			d := p.Backoff(attempt)
			if d < prev {
				t.Fatalf("attempt %d: backoff %v decreased from %v", attempt, d, prev)
			}
			if d > p.MaxDelay {
				t.Fatalf("attempt %d: backoff %v exceeds max %v", attempt, d, p.MaxDelay)
			}
			prev = d
		}
		if prev != p.MaxDelay {
			t.Fatalf("expected backoff to saturate at %v, got %v", p.MaxDelay, prev)
		}
	}
}

func TestBackoffValues(t *testing.T) {
	p := retry.Default()
	p.Jitter = noJitter
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, 60 * time.Second}
	for attempt, w := range want {
		if got := p.Backoff(attempt); got != w {
			t.Fatalf("Backoff(%d) = %v, want %v", attempt, got, w)
		}
	}
	p.Jitter = maxJitter
	if got := p.Backoff(0); got >= 4*time.Second || got < 2*time.Second {
		t.Fatalf("jitter must stay below base, got %v", got)
	}
}

func TestDecideTransientExhaustsBudget(t *testing.T) {
	p := retry.Default()
	p.Jitter = noJitter
	err := services.Wrap(services.ErrTransient, "transcode", "ffmpeg", "exit 1", nil)

	d := p.Decide(err, 0, 0)
	if d.Action != retry.ActionRetry || d.Delay != 2*time.Second {
		t.Fatalf("first failure should retry after base: %+v", d)
	}
	d = p.Decide(err, 1, 0)
	if d.Action != retry.ActionRetry || d.Delay != 4*time.Second {
		t.Fatalf("second failure should retry: %+v", d)
	}
	d = p.Decide(err, 2, 0)
	if d.Action != retry.ActionAbort || d.Kind != services.KindPermanent {
		t.Fatalf("third failure of a 3-attempt budget should escalate: %+v", d)
	}
}

func TestDecideUnclassifiedErrorsAreTransient(t *testing.T) {
	d := retry.Default().Decide(errors.New("connection reset"), 0, 0)
	if d.Action != retry.ActionRetry || d.Kind != services.KindTransient {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecideRateLimitedUsesRetryAfterAndSeparateBudget(t *testing.T) {
	p := retry.Default()
	p.Jitter = noJitter
	err := services.RateLimited("publish", "vk", "429", 17*time.Second, nil)

	d := p.Decide(err, 4, 0)
	if d.Action != retry.ActionThrottle || d.Delay != 17*time.Second {
		t.Fatalf("rate limit must throttle with Retry-After regardless of attempts: %+v", d)
	}
	noHint := services.RateLimited("publish", "vk", "429", 0, nil)
	if d := p.Decide(noHint, 0, 3); d.Delay != 16*time.Second {
		t.Fatalf("missing Retry-After should fall back to backoff(throttled): %+v", d)
	}
	if d := p.Decide(err, 0, p.MaxThrottled); d.Action != retry.ActionAbort {
		t.Fatalf("throttle budget must be finite: %+v", d)
	}
}

func TestDecideTerminalKindsAbort(t *testing.T) {
	p := retry.Default()
	for _, err := range []error{
		services.Wrap(services.ErrPermanent, "publish", "vk", "bad request", nil),
		services.Wrap(services.ErrValidation, "preflight", "", "caption too long", nil),
		services.FromHTTPStatus("publish", "instagram", 401, 0, "token expired"),
		context.Canceled,
	} {
		d := p.Decide(err, 0, 0)
		if d.Action != retry.ActionAbort {
			t.Fatalf("%v: expected abort, got %+v", err, d)
		}
		if d.Kind == services.KindTransient {
			t.Fatalf("%v: terminal error misclassified", err)
		}
	}
}

func TestFromConfigPublishBudget(t *testing.T) {
	cfg := config.Default().Retry
	if p := retry.FromConfig(cfg, "publish"); p.MaxAttempts != 5 {
		t.Fatalf("publish attempts: %d", p.MaxAttempts)
	}
	if p := retry.FromConfig(cfg, "transcode"); p.MaxAttempts != 3 || p.Base != 2*time.Second || p.MaxDelay != time.Minute {
		t.Fatalf("unexpected transcode policy: %+v", p)
	}
}

func TestSleepHonoursClockAndCancellation(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	done := make(chan error, 1)
	go func() { done <- retry.Sleep(context.Background(), clk, time.Minute) }()
	for clk.Waiters() == 0 {
		time.Sleep(time.Millisecond)
	}
	clk.Advance(time.Minute)
	if err := <-done; err != nil {
		t.Fatalf("Sleep: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := retry.Sleep(ctx, clk, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
