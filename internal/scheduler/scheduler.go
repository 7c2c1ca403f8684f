// Package scheduler drives the recurring background jobs (session ticks,
// catalog syncs, expiration sweeps). One goroutine per job id, runs strictly
// sequential per id, panics recovered so a bad tick cannot kill the driver.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"usher/internal/logging"
)

// MinInterval is the floor for job intervals; anything shorter is clamped.
const MinInterval = 10 * time.Second

// Func is one scheduled job body. Errors are logged, never fatal.
type Func func(ctx context.Context) error

// Scheduler owns a set of interval jobs keyed by id.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool

	// minInterval is overridable in tests; production uses MinInterval.
	minInterval time.Duration
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:      logger.With(logging.FieldComponent, "scheduler"),
		jobs:        make(map[string]*job),
		minInterval: MinInterval,
	}
}

// Register starts a job running fn every interval after an initial delay.
// Registering an id that already exists reschedules it in place: the old
// loop finishes its in-flight run and exits before the new one starts, so
// runs for one id never overlap.
func (s *Scheduler) Register(id string, interval, initialDelay time.Duration, fn Func) {
	if interval < s.minIntervalFloor() {
		interval = s.minIntervalFloor()
	}
	if initialDelay < 0 {
		initialDelay = 0
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if existing, ok := s.jobs[id]; ok {
		existing.cancel()
		s.mu.Unlock()
		<-existing.done
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &job{cancel: cancel, done: make(chan struct{})}
	s.jobs[id] = entry
	s.mu.Unlock()

	s.logger.Info("job registered",
		logging.FieldJob, id,
		"interval", interval.String(),
		"initial_delay", initialDelay.String())

	go s.run(ctx, entry, id, interval, initialDelay, fn)
}

// Stop cancels every job and waits for in-flight runs to finish. The
// scheduler cannot be reused afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	jobs := make([]*job, 0, len(s.jobs))
	for _, entry := range s.jobs {
		entry.cancel()
		jobs = append(jobs, entry)
	}
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	for _, entry := range jobs {
		<-entry.done
	}
}

func (s *Scheduler) run(ctx context.Context, entry *job, id string, interval, initialDelay time.Duration, fn Func) {
	defer close(entry.done)

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.invoke(ctx, id, fn)

		select {
		case <-ctx.Done():
			return
		default:
		}
		timer.Reset(interval)
	}
}

// invoke runs one tick, containing panics and logging errors.
func (s *Scheduler) invoke(ctx context.Context, id string, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", logging.FieldJob, id, "panic", r)
		}
	}()

	started := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error("job failed",
			logging.FieldJob, id,
			"elapsed", time.Since(started).String(),
			logging.Error(err))
	}
}

func (s *Scheduler) minIntervalFloor() time.Duration {
	if s.minInterval <= 0 {
		return MinInterval
	}
	return s.minInterval
}
