package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/scheduler"
)

// ─────────────────────────────────────────────────────────────────────────────
// Mock Runner
// ─────────────────────────────────────────────────────────────────────────────

type mockRunner struct {
	calls    atomic.Int32
	active   atomic.Int32
	overlaps atomic.Int32
	hold     time.Duration
	err      error
	panicAt  int32
}

func (m *mockRunner) RunCycle(ctx context.Context) error {
	n := m.calls.Add(1)
	if m.active.Add(1) > 1 {
		m.overlaps.Add(1)
	}
	defer m.active.Add(-1)

	if m.hold > 0 {
		time.Sleep(m.hold)
	}
	if m.panicAt != 0 && n == m.panicAt {
		panic("boom")
	}
	return m.err
}

func run(t *testing.T, s *scheduler.Scheduler, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	go s.Start(ctx)
	<-ctx.Done()
	s.Stop()
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestScheduler_RunsImmediately(t *testing.T) {
	m := &mockRunner{}
	s := scheduler.New(time.Hour, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)
	waitFor(t, func() bool { return m.calls.Load() == 1 }, time.Second)
	cancel()
	s.Stop()

	if got := s.Cycles(); got != 1 {
		t.Errorf("Cycles() = %d, want 1", got)
	}
}

func TestScheduler_RepeatsAtInterval(t *testing.T) {
	m := &mockRunner{}
	s := scheduler.New(50*time.Millisecond, m, nil)

	run(t, s, 280*time.Millisecond)

	// t=0, 50, 100, 150, 200, 250 → about 6; allow for slow CI.
	if got := m.calls.Load(); got < 3 || got > 7 {
		t.Errorf("calls = %d, want between 3 and 7", got)
	}
}

func TestScheduler_CyclesNeverOverlap(t *testing.T) {
	m := &mockRunner{hold: 30 * time.Millisecond}
	s := scheduler.New(10*time.Millisecond, m, nil)

	run(t, s, 200*time.Millisecond)

	if m.overlaps.Load() != 0 {
		t.Errorf("overlapping cycles = %d, want 0", m.overlaps.Load())
	}
	if m.calls.Load() < 2 {
		t.Errorf("calls = %d, want at least 2", m.calls.Load())
	}
}

func TestScheduler_ErrorsDoNotStopLoop(t *testing.T) {
	m := &mockRunner{err: errors.New("fetch failed")}
	s := scheduler.New(20*time.Millisecond, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)
	waitFor(t, func() bool { return m.calls.Load() >= 3 }, 2*time.Second)
	cancel()
	s.Stop()

	if s.Failures() < 3 {
		t.Errorf("Failures() = %d, want >= 3", s.Failures())
	}
	if s.Failures() != s.Cycles() {
		t.Errorf("Failures() = %d, Cycles() = %d, want equal", s.Failures(), s.Cycles())
	}
}

func TestScheduler_PanicIsIsolated(t *testing.T) {
	m := &mockRunner{panicAt: 1}
	s := scheduler.New(20*time.Millisecond, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)
	waitFor(t, func() bool { return m.calls.Load() >= 3 }, 2*time.Second)
	cancel()
	s.Stop()

	if s.Failures() != 1 {
		t.Errorf("Failures() = %d, want 1", s.Failures())
	}
}

func TestScheduler_StopWaitsForInFlightCycle(t *testing.T) {
	var finished atomic.Bool
	started := make(chan struct{})
	var once sync.Once
	r := scheduler.RunnerFunc(func(ctx context.Context) error {
		once.Do(func() { close(started) })
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	s := scheduler.New(time.Hour, r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)
	<-started
	cancel()
	s.Stop()

	if !finished.Load() {
		t.Error("Stop returned before the in-flight cycle finished")
	}
}

func TestScheduler_CycleReceivesContext(t *testing.T) {
	got := make(chan error, 1)
	r := scheduler.RunnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	})
	s := scheduler.New(time.Hour, r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	s.Stop()

	select {
	case err := <-got:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cycle ctx error = %v, want context.Canceled", err)
		}
	default:
		t.Error("cycle never observed cancellation")
	}
}

func TestScheduler_DefaultIntervalAndReload(t *testing.T) {
	s := scheduler.New(0, &mockRunner{}, nil)
	if s.Interval() != scheduler.DefaultInterval {
		t.Errorf("Interval() = %s, want %s", s.Interval(), scheduler.DefaultInterval)
	}
	s.Reload(5 * time.Second)
	if s.Interval() != 5*time.Second {
		t.Errorf("Interval() after Reload = %s, want 5s", s.Interval())
	}
	s.Reload(-1)
	if s.Interval() != scheduler.DefaultInterval {
		t.Errorf("Interval() after bad Reload = %s, want default", s.Interval())
	}
}
