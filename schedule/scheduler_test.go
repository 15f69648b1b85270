package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kbukum/tradeguard/logger"
)

func newTestScheduler(mock *clock.Mock) *Scheduler {
	return New("test", WithClock(mock), WithLogger(logger.NewNop()))
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job run")
	}
}

func TestScheduler_RunsOnEveryTick(t *testing.T) {
	mock := clock.NewMock()
	s := newTestScheduler(mock)

	ran := make(chan struct{}, 10)
	if err := s.Every("sweep", time.Second, func(context.Context) { ran <- struct{}{} }); err != nil {
		t.Fatalf("Every: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	for i := 0; i < 3; i++ {
		mock.Add(time.Second)
		waitFor(t, ran)
	}

	stats := s.Stats()
	if len(stats) != 1 || stats[0].Name != "sweep" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestScheduler_NoRunBeforeInterval(t *testing.T) {
	mock := clock.NewMock()
	s := newTestScheduler(mock)

	var runs atomic.Int32
	_ = s.Every("snapshot", time.Minute, func(context.Context) { runs.Add(1) })
	s.Start(context.Background())
	defer s.Stop()

	mock.Add(59 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Errorf("expected no runs before the interval, got %d", got)
	}
}

func TestScheduler_PanicDoesNotStopJob(t *testing.T) {
	mock := clock.NewMock()
	s := newTestScheduler(mock)

	ran := make(chan struct{}, 10)
	var calls atomic.Int32
	_ = s.Every("flaky", time.Second, func(context.Context) {
		defer func() { ran <- struct{}{} }()
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})
	s.Start(context.Background())
	defer s.Stop()

	mock.Add(time.Second)
	waitFor(t, ran)
	mock.Add(time.Second)
	waitFor(t, ran)

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestScheduler_StopCancelsContext(t *testing.T) {
	mock := clock.NewMock()
	s := newTestScheduler(mock)

	_ = s.Every("noop", time.Second, func(context.Context) {})
	s.Start(context.Background())
	if !s.Running() {
		t.Fatal("expected scheduler to be running")
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	if s.Running() {
		t.Error("expected scheduler to be stopped")
	}

	// A second Stop is a no-op.
	s.Stop()
}

func TestScheduler_EveryValidation(t *testing.T) {
	s := newTestScheduler(clock.NewMock())

	if err := s.Every("bad", 0, func(context.Context) {}); err == nil {
		t.Error("expected error for zero interval")
	}
	if err := s.Every("nil", time.Second, nil); err == nil {
		t.Error("expected error for nil func")
	}
	if err := s.Every("dup", time.Second, func(context.Context) {}); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if err := s.Every("dup", time.Second, func(context.Context) {}); err == nil {
		t.Error("expected error for duplicate job")
	}

	s.Start(context.Background())
	defer s.Stop()
	if err := s.Every("late", time.Second, func(context.Context) {}); err == nil {
		t.Error("expected error when registering on a running scheduler")
	}
}
