// Package schedule runs periodic background jobs (aging sweeps, snapshot
// collection, dedup cleanup) on an injectable clock, so that tests can
// drive them with a mock instead of sleeping.
package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sourcegraph/conc"

	"github.com/kbukum/tradeguard/logger"
)

// JobFunc is one run of a periodic job.
type JobFunc func(ctx context.Context)

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
}

// JobStats reports how often a job ran.
type JobStats struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int64         `json:"runs"`
	Panics   int64         `json:"panics"`
	LastRun  time.Time     `json:"last_run,omitempty"`
}

// Scheduler owns a set of periodic jobs. Jobs are registered with Every
// before Start; each job gets its own goroutine and ticker, and a panic in
// one run is logged and does not stop the job.
type Scheduler struct {
	name  string
	clock clock.Clock
	log   *logger.Logger

	mu      sync.Mutex
	jobs    []job
	stats   map[string]*JobStats
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock that drives the tickers.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New creates a stopped scheduler.
func New(name string, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:  name,
		stats: make(map[string]*JobStats),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.log == nil {
		s.log = logger.WithComponent(name)
	}
	return s
}

// Every registers fn to run every interval. Registering on a running
// scheduler or with a non-positive interval returns an error.
func (s *Scheduler) Every(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("schedule: job %q: interval must be positive", name)
	}
	if fn == nil {
		return fmt.Errorf("schedule: job %q: nil func", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("schedule: job %q: scheduler %s already running", name, s.name)
	}
	if _, ok := s.stats[name]; ok {
		return fmt.Errorf("schedule: job %q already registered", name)
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, fn: fn})
	s.stats[name] = &JobStats{Name: name, Interval: interval}
	return nil
}

// Start launches every registered job. The jobs stop when ctx is done or
// Stop is called. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg = conc.NewWaitGroup()
	s.running = true

	for _, j := range s.jobs {
		ticker := s.clock.Ticker(j.interval)
		s.wg.Go(func() {
			defer ticker.Stop()
			s.loop(ctx, j, ticker)
		})
	}
	s.log.Debug("scheduler started", logger.Fields("scheduler", s.name, "jobs", len(s.jobs)))
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, wg := s.cancel, s.wg
	s.mu.Unlock()

	cancel()
	wg.Wait()
	s.log.Debug("scheduler stopped", logger.Fields("scheduler", s.name))
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns per-job run counters.
func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStats, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *s.stats[j.name])
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, j job, ticker *clock.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, j)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, j job) {
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				s.log.Error("scheduled job panicked", logger.Fields(
					"scheduler", s.name, "job", j.name,
					"panic", fmt.Sprint(r), "stack", string(debug.Stack()),
				))
			}
		}()
		j.fn(ctx)
	}()

	s.mu.Lock()
	st := s.stats[j.name]
	st.Runs++
	if panicked {
		st.Panics++
	}
	st.LastRun = s.clock.Now()
	s.mu.Unlock()
}
