// Package queue holds pending exchange calls in four priority levels with
// FIFO order inside a level, request deduplication, backpressure by
// evicting the oldest LOW task, anti-starvation aging, and market-condition
// priority boosts.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	apperrors "github.com/kbukum/tradeguard/errors"
	"github.com/kbukum/tradeguard/logger"
	"github.com/kbukum/tradeguard/schedule"
	"github.com/kbukum/tradeguard/task"
)

type dedupEntry struct {
	task    *task.Task
	expires time.Time
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Levels          map[string]int  `json:"levels"`
	Total           int             `json:"total"`
	DedupEntries    int             `json:"dedup_entries"`
	MarketCondition MarketCondition `json:"market_condition"`
	OldestWait      time.Duration   `json:"oldest_wait"`
	Enqueued        int64           `json:"enqueued"`
	Dequeued        int64           `json:"dequeued"`
	Deduplicated    int64           `json:"deduplicated"`
	Evicted         int64           `json:"evicted"`
	Rejected        int64           `json:"rejected"`
	Removed         int64           `json:"removed"`
	Promoted        int64           `json:"promoted"`
	Rebalanced      int64           `json:"rebalanced"`
	Escalated       int64           `json:"escalated"`
	Requeued        int64           `json:"requeued"`
}

// PriorityQueue is safe for concurrent use.
type PriorityQueue struct {
	config Config
	clock  clock.Clock
	log    *logger.Logger
	policy MarketPolicy
	sched  *schedule.Scheduler

	mu        sync.Mutex
	levels    [task.NumLevels][]*task.Task
	dedup     map[string]*dedupEntry
	events    *eventRing
	condition MarketCondition

	enqueued, dequeued, deduplicated int64
	evicted, rejected, removed       int64
	promoted, rebalanced, requeued   int64
	escalated                        int64
}

// Option configures a PriorityQueue.
type Option func(*PriorityQueue)

// WithClock sets the clock used for enqueue times, aging and dedup expiry.
func WithClock(c clock.Clock) Option {
	return func(q *PriorityQueue) { q.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(q *PriorityQueue) { q.log = l }
}

// WithMarketPolicy replaces the configured boost table.
func WithMarketPolicy(p MarketPolicy) Option {
	return func(q *PriorityQueue) { q.policy = p }
}

// New creates a queue. It fails if the configured boost table is invalid.
func New(cfg Config, opts ...Option) (*PriorityQueue, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	q := &PriorityQueue{
		config: cfg,
		dedup:  make(map[string]*dedupEntry),
		events: newEventRing(cfg.EventBufferSize),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.clock == nil {
		q.clock = clock.New()
	}
	if q.log == nil {
		q.log = logger.WithComponent("queue")
	}
	if q.policy == nil {
		table, err := ParseBoostTable(cfg.MarketBoosts)
		if err != nil {
			return nil, err
		}
		q.policy = table.Policy()
	}

	q.sched = schedule.New("queue", schedule.WithClock(q.clock), schedule.WithLogger(q.log))
	if err := q.sched.Every("aging", cfg.AgingInterval, func(context.Context) { q.Age() }); err != nil {
		return nil, err
	}
	if err := q.sched.Every("dedup-cleanup", cfg.CleanupInterval, func(context.Context) { q.CleanupExpired() }); err != nil {
		return nil, err
	}
	return q, nil
}

// Start launches the aging sweep and dedup cleanup jobs.
func (q *PriorityQueue) Start(ctx context.Context) {
	q.sched.Start(ctx)
}

// Stop halts the background jobs. Pending tasks stay queued.
func (q *PriorityQueue) Stop() {
	q.sched.Stop()
}

// Enqueue admits t and returns the handle its caller waits on. When a live
// task with the same signature is pending, that task's handle is returned
// and t is dropped. On backpressure the handle of t is rejected with
// QUEUE_FULL and the error is also returned.
func (q *PriorityQueue) Enqueue(t *task.Task) (*task.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	if q.dedupable(t) {
		if e, ok := q.dedup[t.Signature]; ok {
			if now.Before(e.expires) && !e.task.Handle().Settled() {
				q.deduplicated++
				q.record(EventDedup, e.task, e.task.Priority(), "joined by "+t.ID, now)
				q.escalate(e.task, t.BasePriority(), t.ID, now)
				return e.task.Handle(), nil
			}
			delete(q.dedup, t.Signature)
		}
	}

	t.SetPriority(effectivePriority(q.policy, q.condition, t))
	if err := q.admit(t, now); err != nil {
		t.Handle().Reject(err)
		return t.Handle(), err
	}
	if q.dedupable(t) {
		q.dedup[t.Signature] = &dedupEntry{task: t, expires: now.Add(q.config.DedupTimeout)}
	}
	q.enqueued++
	q.record(EventEnqueue, t, t.Priority(), "", now)
	return t.Handle(), nil
}

// Requeue puts a task back after a failed attempt, keeping its handle and
// its original enqueue time. It bypasses the dedup check.
func (q *PriorityQueue) Requeue(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	t.SetPriority(effectivePriority(q.policy, q.condition, t))
	if err := q.admit(t, now); err != nil {
		t.Handle().Reject(err)
		return err
	}
	if q.dedupable(t) {
		q.dedup[t.Signature] = &dedupEntry{task: t, expires: now.Add(q.config.DedupTimeout)}
	}
	q.requeued++
	q.record(EventRequeue, t, t.Priority(), fmt.Sprintf("retry %d", t.Retries()), now)
	return nil
}

// Dequeue removes and returns the oldest task of the highest non-empty level.
func (q *PriorityQueue) Dequeue() (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range task.Levels {
		level := q.levels[p]
		if len(level) == 0 {
			continue
		}
		t := level[0]
		level[0] = nil
		q.levels[p] = level[1:]
		q.forget(t)
		q.dequeued++
		q.record(EventDequeue, t, p, "", q.clock.Now())
		return t, true
	}
	return nil, false
}

// Peek returns the task Dequeue would return, without removing it.
func (q *PriorityQueue) Peek() (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range task.Levels {
		if len(q.levels[p]) > 0 {
			return q.levels[p][0], true
		}
	}
	return nil, false
}

// Remove takes every pending task matching match out of the queue and
// rejects its handle with CANCELLED.
func (q *PriorityQueue) Remove(match func(*task.Task) bool, reason string) []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var out []*task.Task
	for _, p := range task.Levels {
		kept := q.levels[p][:0]
		for _, t := range q.levels[p] {
			if match(t) {
				out = append(out, t)
				continue
			}
			kept = append(kept, t)
		}
		clear(q.levels[p][len(kept):])
		q.levels[p] = kept
	}

	for _, t := range out {
		q.forget(t)
		q.removed++
		q.record(EventRemove, t, t.Priority(), reason, now)
		t.Handle().Reject(apperrors.Cancelled(reason))
	}
	return out
}

// RemoveByID removes a single pending task. It reports whether one was found.
func (q *PriorityQueue) RemoveByID(id, reason string) bool {
	return len(q.Remove(func(t *task.Task) bool { return t.ID == id }, reason)) > 0
}

// Clear removes every pending task and returns how many were cancelled.
func (q *PriorityQueue) Clear(reason string) int {
	removed := q.Remove(func(*task.Task) bool { return true }, reason)
	if len(removed) > 0 {
		q.log.Warn("queue cleared", logger.Fields("removed", len(removed), "reason", reason))
	}
	return len(removed)
}

// Age runs one anti-starvation sweep: MEDIUM tasks waiting longer than the
// aging threshold move to HIGH, LOW tasks to MEDIUM. A task is promoted at
// most once per threshold it has waited. It returns the number promoted.
func (q *PriorityQueue) Age() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	count := 0
	// MEDIUM first so a LOW task promoted in this sweep is not promoted twice.
	for _, from := range []task.Priority{task.PriorityMedium, task.PriorityLow} {
		kept := q.levels[from][:0]
		var moved []*task.Task
		for _, t := range q.levels[from] {
			due := q.config.AgingThreshold * time.Duration(t.Promotions()+1)
			if t.Age(now) < due {
				kept = append(kept, t)
				continue
			}
			t.PromoteBase(t.BasePriority().Promote())
			t.SetPriority(effectivePriority(q.policy, q.condition, t))
			moved = append(moved, t)
		}
		clear(q.levels[from][len(kept):])
		q.levels[from] = kept

		for _, t := range moved {
			q.insert(t)
			q.promoted++
			count++
			q.record(EventPromote, t, t.Priority(), "aging", now, from)
			q.log.Info("task promoted by aging", logger.Fields(
				"task_id", t.ID, "description", t.Description,
				"from", from.String(), "to", t.Priority().String(),
				"waited", t.Age(now).String(),
			))
		}
	}
	return count
}

// CleanupExpired drops dedup entries past their expiry and returns how many
// were dropped. The tasks themselves stay queued.
func (q *PriorityQueue) CleanupExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	n := 0
	for sig, e := range q.dedup {
		if !now.Before(e.expires) {
			delete(q.dedup, sig)
			n++
		}
	}
	if n > 0 {
		q.log.Debug("expired dedup entries dropped", logger.Fields("count", n))
	}
	return n
}

// SetMarketCondition switches the condition and rebalances every pending
// task to max(base priority, policy boost). Returning to NORMAL drops all
// boosts. It returns the number of tasks that changed level.
func (q *PriorityQueue) SetMarketCondition(c MarketCondition) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if c == q.condition {
		return 0
	}
	from := q.condition
	q.condition = c

	now := q.clock.Now()
	var all []*task.Task
	for _, p := range task.Levels {
		all = append(all, q.levels[p]...)
		clear(q.levels[p])
		q.levels[p] = q.levels[p][:0]
	}

	moved := 0
	for _, t := range all {
		old := t.Priority()
		next := effectivePriority(q.policy, c, t)
		t.SetPriority(next)
		q.insert(t)
		if next != old {
			moved++
			q.rebalanced++
			q.record(EventRebalance, t, next, c.String(), now, old)
		}
	}
	q.log.Info("market condition changed", logger.Fields(
		"from", from.String(), "to", c.String(), "rebalanced", moved, "pending", len(all),
	))
	return moved
}

// MarketCondition returns the current condition.
func (q *PriorityQueue) MarketCondition() MarketCondition {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.condition
}

// Len returns the number of pending tasks.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total()
}

// LevelLen returns the number of pending tasks at one level.
func (q *PriorityQueue) LevelLen(p task.Priority) int {
	if !p.Valid() {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.levels[p])
}

// Events returns the recent event history, oldest first.
func (q *PriorityQueue) Events() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.events.snapshot()
}

// Stats returns a snapshot of the queue.
func (q *PriorityQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	levels := make(map[string]int, len(task.Levels))
	var oldest time.Duration
	for _, p := range task.Levels {
		levels[p.String()] = len(q.levels[p])
		for _, t := range q.levels[p] {
			if age := t.Age(now); age > oldest {
				oldest = age
			}
		}
	}
	return Stats{
		Levels:          levels,
		Total:           q.total(),
		DedupEntries:    len(q.dedup),
		MarketCondition: q.condition,
		OldestWait:      oldest,
		Enqueued:        q.enqueued,
		Dequeued:        q.dequeued,
		Deduplicated:    q.deduplicated,
		Evicted:         q.evicted,
		Rejected:        q.rejected,
		Removed:         q.removed,
		Promoted:        q.promoted,
		Rebalanced:      q.rebalanced,
		Escalated:       q.escalated,
		Requeued:        q.requeued,
	}
}

// ResetCondition returns the market condition to NORMAL and clears the
// event history. Pending tasks are rebalanced.
func (q *PriorityQueue) ResetCondition() {
	q.SetMarketCondition(MarketNormal)
	q.mu.Lock()
	q.events.reset()
	q.mu.Unlock()
}

// admit places t at its level, evicting the oldest LOW task when that makes
// room. Callers hold q.mu.
func (q *PriorityQueue) admit(t *task.Task, now time.Time) error {
	p := t.Priority()
	if len(q.levels[p]) >= q.config.LevelCap(p) {
		if p != task.PriorityLow || !q.evictOldestLow(now, "low level full") {
			return q.reject(t, now, fmt.Sprintf("%s level full", p))
		}
	}
	if q.total() >= q.config.MaxTotalSize {
		if !q.evictOldestLow(now, "queue full") {
			return q.reject(t, now, "queue full")
		}
	}
	q.insert(t)
	return nil
}

func (q *PriorityQueue) reject(t *task.Task, now time.Time, reason string) error {
	q.rejected++
	q.record(EventReject, t, t.Priority(), reason, now)
	q.log.Warn("task rejected by backpressure", logger.Fields(
		"task_id", t.ID, "description", t.Description, "priority", t.Priority().String(), "reason", reason,
	))
	return apperrors.QueueFull(reason).WithDetail("task_id", t.ID)
}

func (q *PriorityQueue) evictOldestLow(now time.Time, reason string) bool {
	low := q.levels[task.PriorityLow]
	if len(low) == 0 {
		return false
	}
	victim := low[0]
	low[0] = nil
	q.levels[task.PriorityLow] = low[1:]
	q.forget(victim)
	q.evicted++
	q.record(EventEvict, victim, task.PriorityLow, reason, now)
	q.log.Warn("task evicted by backpressure", logger.Fields(
		"task_id", victim.ID, "description", victim.Description, "reason", reason,
	))
	victim.Handle().Reject(apperrors.QueueFull("evicted: "+reason).WithDetail("task_id", victim.ID))
	return true
}

// escalate raises a pending task joined by a caller of higher priority and
// moves it to its new level. The move ignores the level cap since a join
// adds no work. Callers hold q.mu.
func (q *PriorityQueue) escalate(t *task.Task, p task.Priority, joinedBy string, now time.Time) {
	from := t.Priority()
	if !t.RaiseBase(p) {
		return
	}
	t.SetPriority(effectivePriority(q.policy, q.condition, t))
	to := t.Priority()
	if to == from {
		return
	}
	level := q.levels[from]
	for i, pending := range level {
		if pending == t {
			copy(level[i:], level[i+1:])
			level[len(level)-1] = nil
			q.levels[from] = level[:len(level)-1]
			break
		}
	}
	q.insert(t)
	q.escalated++
	q.record(EventEscalate, t, to, "joined by "+joinedBy, now, from)
	q.log.Info("task escalated by a duplicate request", logger.Fields(
		"task_id", t.ID, "description", t.Description,
		"from", from.String(), "to", to.String(), "joined_by", joinedBy,
	))
}

// insert places t in its level ordered by enqueue time.
func (q *PriorityQueue) insert(t *task.Task) {
	p := t.Priority()
	level := q.levels[p]
	i := sort.Search(len(level), func(i int) bool {
		return level[i].EnqueuedAt.After(t.EnqueuedAt)
	})
	level = append(level, nil)
	copy(level[i+1:], level[i:])
	level[i] = t
	q.levels[p] = level
}

// forget drops t's dedup entry if it still points at t.
func (q *PriorityQueue) forget(t *task.Task) {
	if t.Signature == "" {
		return
	}
	if e, ok := q.dedup[t.Signature]; ok && e.task == t {
		delete(q.dedup, t.Signature)
	}
}

func (q *PriorityQueue) dedupable(t *task.Task) bool {
	return q.config.EnableDeduplication && !t.NoDedup && t.Signature != ""
}

func (q *PriorityQueue) total() int {
	n := 0
	for _, level := range q.levels {
		n += len(level)
	}
	return n
}

func (q *PriorityQueue) record(typ EventType, t *task.Task, p task.Priority, reason string, at time.Time, from ...task.Priority) {
	e := Event{Type: typ, TaskID: t.ID, Priority: p, From: p, Reason: reason, At: at}
	if len(from) > 0 {
		e.From = from[0]
	}
	q.events.add(e)
}
