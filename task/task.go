// Package task defines the unit of work flowing through the gateway: a
// prioritized executor plus the handle its caller waits on.
package task

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Executor performs the actual exchange call. It returns a result or an
// error carrying enough information to classify it.
type Executor func(ctx context.Context) (any, error)

// Options carries optional task metadata.
type Options struct {
	// Endpoint is the exchange path, e.g. "/api/v3/order".
	Endpoint string
	// Method is the HTTP verb.
	Method string
	// Params are the request parameters; they feed the dedup signature.
	Params map[string]any
	// Type classifies the task for market-condition boosting ("order", "cancel", "account", ...).
	Type string
	// Weight is the number of rate-limit tokens the call consumes. Defaults to 1.
	Weight int
	// NoDedup disables deduplication for this task.
	NoDedup bool
	// MaxRetries overrides the orchestrator's retry budget when non-nil.
	MaxRetries *int
}

// Task is a queued unit of work. Fields other than the priority and the
// retry counter are immutable after New.
type Task struct {
	ID          string
	Description string
	Declared    Priority
	EnqueuedAt  time.Time
	Endpoint    string
	Method      string
	Params      map[string]any
	Type        string
	Weight      int
	Signature   string
	MaxRetries  *int
	NoDedup     bool

	exec   Executor
	handle *Handle

	mu        sync.RWMutex
	priority  Priority
	base      Priority
	retries   int
	promotion int
}

// New builds a task. now is the enqueue time as seen by the caller's clock.
func New(exec Executor, description string, priority Priority, opts Options, now time.Time) *Task {
	if !priority.Valid() {
		priority = PriorityMedium
	}
	weight := opts.Weight
	if weight <= 0 {
		weight = 1
	}
	id := uuid.NewString()
	t := &Task{
		ID:          id,
		Description: description,
		Declared:    priority,
		EnqueuedAt:  now,
		Endpoint:    opts.Endpoint,
		Method:      strings.ToUpper(opts.Method),
		Params:      opts.Params,
		Type:        opts.Type,
		Weight:      weight,
		MaxRetries:  opts.MaxRetries,
		NoDedup:     opts.NoDedup,
		exec:        exec,
		handle:      NewHandle(id),
		priority:    priority,
		base:        priority,
	}
	if opts.Endpoint != "" {
		t.Signature = Signature(t.Method, opts.Endpoint, opts.Params)
	}
	return t
}

// Handle returns the task's outcome handle.
func (t *Task) Handle() *Handle { return t.handle }

// Run invokes the executor.
func (t *Task) Run(ctx context.Context) (any, error) {
	if t.exec == nil {
		return nil, fmt.Errorf("task %s has no executor", t.ID)
	}
	return t.exec(ctx)
}

// Priority returns the current effective priority.
func (t *Task) Priority() Priority {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.priority
}

// BasePriority returns the priority before any market-condition boost:
// the declared priority raised by aging.
func (t *Task) BasePriority() Priority {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.base
}

// SetPriority sets the effective priority without touching the base.
func (t *Task) SetPriority(p Priority) {
	t.mu.Lock()
	t.priority = p
	t.mu.Unlock()
}

// PromoteBase raises the base priority to p (aging) and returns the new base.
// A p at or below the current base only counts the promotion. The effective
// priority never drops below the new base.
func (t *Task) PromoteBase(p Priority) Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Higher(t.base) {
		t.base = p
	}
	t.promotion++
	if t.base.Higher(t.priority) {
		t.priority = t.base
	}
	return t.base
}

// RaiseBase lifts the base priority to p when p is higher, without counting
// an aging promotion. It reports whether the base changed.
func (t *Task) RaiseBase(p Priority) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !p.Valid() || !p.Higher(t.base) {
		return false
	}
	t.base = p
	if p.Higher(t.priority) {
		t.priority = p
	}
	return true
}

// Promotions returns how many times aging promoted the task.
func (t *Task) Promotions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.promotion
}

// Retries returns the retry counter.
func (t *Task) Retries() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retries
}

// IncRetries increments and returns the retry counter.
func (t *Task) IncRetries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retries++
	return t.retries
}

// Age returns how long the task has waited as of now.
func (t *Task) Age(now time.Time) time.Duration {
	return now.Sub(t.EnqueuedAt)
}

// Signature returns the dedup key for a request: method, endpoint and the
// parameters in sorted key order, hashed with xxhash.
func Signature(method, endpoint string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(endpoint)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fmt.Sprint(params[k]))
	}
	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

type resultTypeError struct {
	got any
}

func (e *resultTypeError) Error() string {
	return fmt.Sprintf("task: unexpected result type %T", e.got)
}
