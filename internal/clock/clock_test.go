package clock_test

import (
	"testing"
	"time"

	"crosspost/internal/clock"
)

func TestFakeFiresTimersOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)

	ch := fake.After(5 * time.Second)
	if fake.Waiters() != 1 {
		t.Fatalf("expected 1 waiter, got %d", fake.Waiters())
	}

	fake.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}

	fake.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(5 * time.Second)) {
			t.Fatalf("unexpected fire time %v", got)
		}
	default:
		t.Fatal("timer did not fire")
	}
	if fake.Waiters() != 0 {
		t.Fatalf("expected waiters drained, got %d", fake.Waiters())
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	select {
	case <-fake.After(0):
	default:
		t.Fatal("expected immediate fire for zero duration")
	}
}

func TestFakeSetNeverMovesBackwards(t *testing.T) {
	start := time.Unix(1000, 0)
	fake := clock.NewFake(start)
	fake.Set(start.Add(-time.Hour))
	if !fake.Now().Equal(start) {
		t.Fatalf("clock moved backwards to %v", fake.Now())
	}
}
