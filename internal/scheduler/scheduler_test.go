package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"usher/internal/logging"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(logging.NewNop())
	s.minInterval = time.Millisecond
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestJobRunsOnInterval(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int64
	s.Register("tick", 5*time.Millisecond, 0, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 3 })
}

func TestRegisterIsIdempotent(t *testing.T) {
	s := newTestScheduler(t)

	var first, second atomic.Int64
	s.Register("tick", 5*time.Millisecond, 0, func(context.Context) error {
		first.Add(1)
		return nil
	})
	waitFor(t, 2*time.Second, func() bool { return first.Load() >= 1 })

	// Re-registering the same id replaces the job instead of doubling it.
	s.Register("tick", 5*time.Millisecond, 0, func(context.Context) error {
		second.Add(1)
		return nil
	})
	waitFor(t, 2*time.Second, func() bool { return second.Load() >= 2 })

	settled := first.Load()
	time.Sleep(50 * time.Millisecond)
	if got := first.Load(); got != settled {
		t.Fatalf("replaced job still running: %d -> %d", settled, got)
	}
}

func TestIntervalClamped(t *testing.T) {
	s := New(logging.NewNop())
	defer s.Stop()

	var runs atomic.Int64
	// A negative interval falls back to the floor; with the production
	// 10s minimum and no initial delay the job runs exactly once here.
	s.Register("tick", -1, 0, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	waitFor(t, 2*time.Second, func() bool { return runs.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want exactly 1 within the clamped interval", runs.Load())
	}
}

func TestRunsNeverOverlapPerJob(t *testing.T) {
	s := newTestScheduler(t)

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	var runs atomic.Int64

	s.Register("tick", time.Millisecond, 0, func(context.Context) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		runs.Add(1)
		return nil
	})

	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 3 })
	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 1 {
		t.Fatalf("max in-flight runs = %d, want 1", maxInFlight)
	}
}

func TestPanicDoesNotKillJob(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int64
	s.Register("tick", time.Millisecond, 0, func(context.Context) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})

	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 3 })
}

func TestErrorsAreNonFatal(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int64
	s.Register("tick", time.Millisecond, 0, func(context.Context) error {
		runs.Add(1)
		return errors.New("transient")
	})

	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 3 })
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	s := New(logging.NewNop())
	s.minInterval = time.Millisecond

	started := make(chan struct{})
	var finished atomic.Bool
	s.Register("tick", time.Millisecond, 0, func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	<-started
	s.Stop()
	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight run finished")
	}
}

func TestRegisterAfterStopIsNoop(t *testing.T) {
	s := New(logging.NewNop())
	s.minInterval = time.Millisecond
	s.Stop()

	var runs atomic.Int64
	s.Register("tick", time.Millisecond, 0, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("runs = %d, want 0 after Stop", runs.Load())
	}
}
