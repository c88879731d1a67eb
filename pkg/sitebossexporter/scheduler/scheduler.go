// Package scheduler runs the exporter's poll cycle at a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Runner
// ─────────────────────────────────────────────────────────────────────────────

// Runner executes one poll cycle. Tests inject a fake; production uses
// app.App.
type Runner interface {
	RunCycle(ctx context.Context) error
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context) error

// RunCycle implements Runner.
func (f RunnerFunc) RunCycle(ctx context.Context) error { return f(ctx) }

// ─────────────────────────────────────────────────────────────────────────────
// Scheduler
// ─────────────────────────────────────────────────────────────────────────────

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = 30 * time.Second

// Scheduler calls Runner.RunCycle once immediately and then once per
// interval. Cycles run on the loop goroutine, so they never overlap; a cycle
// that overruns the interval delays the next one instead of queueing extra
// runs. A failing or panicking cycle is logged and the loop continues.
type Scheduler struct {
	runner Runner
	logger *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	cycles   uint64
	failures uint64

	done chan struct{}
}

// New creates a Scheduler. It does NOT start automatically; call Start.
func New(interval time.Duration, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		runner:   runner,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs the loop. It blocks until ctx is cancelled. The in-flight cycle
// receives ctx and is allowed to return before Start does.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	s.logger.Info("scheduler: started", "interval", s.Interval().String())
	next := time.Now()
	for {
		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler: stopped", "cycles", s.Cycles())
			return
		case <-timer.C:
		}

		started := time.Now()
		s.fire(ctx)

		next = started.Add(s.Interval())
		if now := time.Now(); next.Before(now) {
			s.logger.Warn("scheduler: cycle overran interval",
				"duration_ms", now.Sub(started).Milliseconds(),
				"interval", s.Interval().String(),
			)
			next = now
		}
	}
}

// Stop waits for the loop to exit. The caller must cancel the context passed
// to Start before calling Stop.
func (s *Scheduler) Stop() {
	<-s.done
}

// Reload replaces the interval. It takes effect after the current wait.
func (s *Scheduler) Reload(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()
	s.logger.Info("scheduler: interval changed", "interval", interval.String())
}

// Interval returns the current interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Cycles returns how many cycles have completed (for monitoring / tests).
func (s *Scheduler) Cycles() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// Failures returns how many completed cycles returned an error or panicked.
func (s *Scheduler) Failures() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

// fire runs one cycle and isolates its failure.
func (s *Scheduler) fire(ctx context.Context) {
	err := s.safeRun(ctx)

	s.mu.Lock()
	s.cycles++
	if err != nil {
		s.failures++
	}
	n := s.cycles
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("scheduler: cycle failed", "cycle", n, "error", err.Error())
		return
	}
	s.logger.Debug("scheduler: cycle complete", "cycle", n)
}

func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: cycle panicked: %v", r)
		}
	}()
	return s.runner.RunCycle(ctx)
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
