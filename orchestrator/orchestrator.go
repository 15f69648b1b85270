package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/tradeguard/component"
	apperrors "github.com/kbukum/tradeguard/errors"
	"github.com/kbukum/tradeguard/health"
	"github.com/kbukum/tradeguard/logger"
	"github.com/kbukum/tradeguard/observability"
	"github.com/kbukum/tradeguard/queue"
	"github.com/kbukum/tradeguard/resilience"
	"github.com/kbukum/tradeguard/signing"
	"github.com/kbukum/tradeguard/task"
)

const (
	codeOK = "OK"

	reasonStopped = "orchestrator stopped"
	reasonReset   = "emergency reset"

	// queueDegradedRatio is the fill level above which the queue reports degraded.
	queueDegradedRatio = 0.9
)

// compile-time assertion
var _ component.Component = (*Orchestrator)(nil)

// Orchestrator runs every exchange call through the queue, the token
// bucket and the circuit breaker, one task at a time, and records the
// outcome with the health monitor.
type Orchestrator struct {
	config   Config
	clock    clock.Clock
	log      *logger.Logger
	tracer   trace.Tracer
	metrics  *observability.Metrics
	signer   signing.Signer
	client   *http.Client
	detector ConditionDetector
	policy   queue.MarketPolicy

	bucket   *resilience.TokenBucket
	breaker  *resilience.CircuitBreaker
	queue    *queue.PriorityQueue
	monitor  *health.Monitor
	registry *component.Registry

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        *conc.WaitGroup
	startedAt time.Time
	retries   map[string]pendingRetry

	busy      atomic.Bool
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
}

type pendingRetry struct {
	task  *task.Task
	timer *clock.Timer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock shared by every owned component.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger. Owned components log through sub-loggers of it.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithHTTPClient replaces the HTTP/2-enabled client used by the verb helpers.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.client = c }
}

// WithSigner sets the signer used by the authenticated verb helpers.
func WithSigner(s signing.Signer) Option {
	return func(o *Orchestrator) { o.signer = s }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer used for task and request spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMarketPolicy replaces the queue's table-driven market policy.
func WithMarketPolicy(p queue.MarketPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithConditionDetector replaces the latency-based condition detector.
func WithConditionDetector(d ConditionDetector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// New builds an orchestrator and the components it owns. Call Start to
// run the consumer loop and the background sweeps.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:  cfg,
		retries: make(map[string]pendingRetry),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.log == nil {
		o.log = logger.WithComponent("orchestrator")
	}
	if o.tracer == nil {
		o.tracer = observability.Tracer()
	}
	if o.metrics == nil {
		m, err := observability.NewMetrics(observability.Meter())
		if err != nil {
			return nil, err
		}
		o.metrics = m
	}
	if o.client == nil {
		o.client = newHTTPClient(cfg.RequestTimeout, o.log)
	}
	if o.detector == nil {
		o.detector = NewLatencyDetector(cfg.Detector)
	}

	bucketCfg := cfg.RateLimit
	bucketCfg.Clock = o.clock
	bucketCfg.OnThrottle = func(name string, from, to float64) {
		o.log.Warn("token bucket multiplier changed", logger.Fields("bucket", name, "from", from, "to", to))
	}
	o.bucket = resilience.NewTokenBucket(bucketCfg)

	breakerCfg := cfg.CircuitBreaker
	breakerCfg.Clock = o.clock
	breakerCfg.OnStateChange = func(name string, from, to resilience.State) {
		o.log.Warn("circuit breaker state changed", logger.Fields(
			"breaker", name, "from", from.String(), logger.FieldState, to.String(),
		))
	}
	o.breaker = resilience.NewCircuitBreaker(breakerCfg)

	qopts := []queue.Option{queue.WithClock(o.clock), queue.WithLogger(o.log.WithComponent("queue"))}
	if o.policy != nil {
		qopts = append(qopts, queue.WithMarketPolicy(o.policy))
	}
	q, err := queue.New(cfg.Queue, qopts...)
	if err != nil {
		return nil, err
	}
	o.queue = q

	o.monitor = health.NewMonitor(cfg.Health,
		health.WithClock(o.clock),
		health.WithLogger(o.log.WithComponent("health")),
		health.WithAlertHook(o.onAlert),
	)

	o.registry = component.NewRegistry(o.log)
	for _, c := range o.components() {
		if err := o.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// components lists what Start brings up, in start order: the queue sweeps,
// the snapshot job and finally the consumer loop.
func (o *Orchestrator) components() []component.Component {
	return []component.Component{
		&component.Funcs{
			ComponentName: "queue",
			StartFunc:     func(ctx context.Context) error { o.queue.Start(ctx); return nil },
			StopFunc:      func(context.Context) error { o.queue.Stop(); return nil },
			HealthFunc:    o.queueHealth,
		},
		&component.Funcs{
			ComponentName: "health",
			StartFunc:     func(ctx context.Context) error { o.monitor.Start(ctx); return nil },
			StopFunc:      func(context.Context) error { o.monitor.Stop(); return nil },
			HealthFunc:    o.monitorHealth,
		},
		&component.Funcs{
			ComponentName: "consumer",
			StartFunc:     o.startLoop,
			StopFunc:      o.stopLoop,
			HealthFunc:    o.loopHealth,
		},
	}
}

// Name implements component.Component.
func (o *Orchestrator) Name() string { return o.config.Name }

// Start launches the background sweeps and the consumer loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.registry.StartAll(ctx); err != nil {
		return err
	}
	o.log.Info("orchestrator started", logger.Fields(
		"name", o.config.Name,
		"tick_interval", o.config.TickInterval.String(),
		"capacity", o.config.RateLimit.Capacity,
		"refill_rate", o.config.RateLimit.RefillRate,
	))
	return nil
}

// Stop halts the loop and the sweeps. Pending tasks and scheduled retries
// are rejected with CANCELLED; a task in flight is cancelled through its
// context.
func (o *Orchestrator) Stop(ctx context.Context) error {
	err := o.registry.StopAll(ctx)
	o.log.Info("orchestrator stopped", logger.Fields("name", o.config.Name))
	return err
}

// Running reports whether the consumer loop is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancel != nil
}

// Enqueue admits an executor and returns the handle its caller waits on.
// Backpressure and invalid input reject the handle immediately.
func (o *Orchestrator) Enqueue(exec task.Executor, description string, priority task.Priority, opts task.Options) *task.Handle {
	t := task.New(exec, description, priority, opts, o.clock.Now())
	var invalid *apperrors.AppError
	switch {
	case exec == nil:
		invalid = apperrors.InvalidInput("executor", "must not be nil")
	case !priority.Valid():
		invalid = apperrors.InvalidInput("priority", fmt.Sprintf("unknown priority %d", priority))
	}
	if invalid != nil {
		t.Handle().Reject(invalid)
		o.metrics.RecordReject(context.Background(), string(invalid.Code))
		return t.Handle()
	}

	h, err := o.queue.Enqueue(t)
	if err != nil {
		o.metrics.RecordReject(context.Background(), string(apperrors.CodeOf(err)))
		return h
	}
	o.log.Debug("task enqueued", logger.Fields(
		logger.FieldTaskID, t.ID, "description", description, logger.FieldPriority, t.Priority().String(),
	))
	return h
}

// ProcessNext runs one loop iteration: if no task is in flight, it takes
// the next task off the queue and drives it to an outcome or a scheduled
// retry. It reports whether a task was processed.
func (o *Orchestrator) ProcessNext(ctx context.Context) bool {
	if !o.busy.CompareAndSwap(false, true) {
		return false
	}
	defer o.busy.Store(false)

	t, ok := o.queue.Dequeue()
	if !ok {
		return false
	}
	o.process(ctx, t)
	o.recordGauges(ctx)
	return true
}

func (o *Orchestrator) startLoop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		return nil
	}
	ctx, o.cancel = context.WithCancel(ctx)
	o.wg = conc.NewWaitGroup()
	o.startedAt = o.clock.Now()

	ticker := o.clock.Ticker(o.config.TickInterval)
	o.wg.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.ProcessNext(ctx)
			}
		}
	})
	return nil
}

func (o *Orchestrator) stopLoop(context.Context) error {
	o.mu.Lock()
	cancel, wg := o.cancel, o.wg
	o.cancel, o.wg = nil, nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		wg.Wait()
	}
	retries := o.cancelRetries(reasonStopped)
	pending := o.queue.Clear(reasonStopped)
	if retries+pending > 0 {
		o.log.Warn("pending tasks cancelled on stop", logger.Fields("queued", pending, "retries", retries))
	}
	return nil
}

func (o *Orchestrator) process(ctx context.Context, t *task.Task) {
	priority := t.Priority()
	ctx, span := o.tracer.Start(ctx, observability.SpanTaskExecute, trace.WithAttributes(
		attribute.String(observability.AttrTaskID, t.ID),
		attribute.String(observability.AttrDescription, t.Description),
		attribute.String(observability.AttrPriority, priority.String()),
		attribute.Int(observability.AttrRetries, t.Retries()),
		attribute.String(observability.AttrEndpoint, t.Endpoint),
		attribute.String(observability.AttrMethod, t.Method),
	))
	o.processed.Add(1)

	// Fail fast instead of spending tokens on a call the breaker would refuse.
	if !o.breaker.CanExecute() {
		o.finish(ctx, span, t, nil, apperrors.CircuitOpen(o.config.Name), 0, false)
		return
	}

	wait := o.config.TokenWait
	if priority == task.PriorityCritical {
		wait = o.config.CriticalTokenWait
	}
	waitStart := o.clock.Now()
	err := o.bucket.WaitForTokens(ctx, t.Weight, priority, wait)
	waited := o.clock.Since(waitStart)
	span.SetAttributes(attribute.Int64(observability.AttrWaitMs, waited.Milliseconds()))
	o.metrics.RecordTokenWait(ctx, priority.String(), waited)
	if err != nil {
		o.finish(ctx, span, t, nil, apperrors.Classify(err), 0, false)
		return
	}

	called := false
	var latency time.Duration
	result, err := o.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		called = true
		o.monitor.StartRequest(t.ID, health.Metadata{
			Endpoint:    t.Endpoint,
			Method:      t.Method,
			Priority:    priority,
			Description: t.Description,
		})
		start := o.clock.Now()
		v, err := o.run(ctx, t)
		latency = o.clock.Since(start)
		return v, err
	})
	if called {
		o.monitor.EndRequest(t.ID, health.ResultFromError(err))
	}
	o.finish(ctx, span, t, result, err, latency, called)
}

// run calls the executor under the request timeout. An executor that
// ignores its context still yields TIMEOUT once the deadline passes, and a
// panic becomes an UNKNOWN_ERROR.
func (o *Orchestrator) run(ctx context.Context, t *task.Task) (any, error) {
	ctx, cancel := o.clock.WithTimeout(ctx, o.config.RequestTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		var (
			out outcome
			pc  panics.Catcher
		)
		pc.Try(func() { out.value, out.err = t.Run(ctx) })
		if r := pc.Recovered(); r != nil {
			out.err = apperrors.Unknown(r.AsError())
		}
		done <- out
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.Timeout(t.Description).WithCause(ctx.Err())
		}
		return nil, apperrors.Cancelled(reasonStopped).WithCause(ctx.Err())
	}
}

// finish feeds the outcome back into the bucket and the market condition,
// then resolves, rejects or schedules a retry.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, t *task.Task, result any, err error, latency time.Duration, called bool) {
	priority := t.Priority().String()
	fields := logger.Fields(
		logger.FieldTaskID, t.ID,
		"description", t.Description,
		logger.FieldPriority, priority,
		logger.FieldRetries, t.Retries(),
		logger.FieldDuration, latency.Milliseconds(),
	)

	if err == nil {
		o.bucket.AdaptiveAdjustment(false, latency)
		o.detectCondition(latency)
		o.succeeded.Add(1)
		o.metrics.RecordRequest(ctx, t.Endpoint, priority, codeOK, latency)
		observability.EndSpan(span, nil)
		o.log.Debug("task succeeded", fields)
		t.Handle().Resolve(result)
		return
	}

	appErr := apperrors.Classify(err)
	span.SetAttributes(attribute.String(observability.AttrErrorCode, string(appErr.Code)))
	observability.EndSpan(span, appErr)
	fields[logger.FieldCode] = string(appErr.Code)
	fields[logger.FieldError] = appErr.Error()

	if called {
		// Only a throttle feeds the bucket; a fast failure is no sign of headroom.
		if appErr.Code == apperrors.ErrCodeRateLimit {
			o.bucket.AdaptiveAdjustment(true, latency)
			o.queue.SetMarketCondition(queue.MarketCritical)
		}
		o.metrics.RecordRequest(ctx, t.Endpoint, priority, string(appErr.Code), latency)
	}

	maxRetries := -1
	if t.MaxRetries != nil {
		maxRetries = *t.MaxRetries
	}
	if o.config.Retry.ShouldRetry(appErr, t.Retries(), maxRetries) {
		o.scheduleRetry(ctx, t, appErr)
		return
	}

	o.failed.Add(1)
	if !called {
		o.metrics.RecordReject(ctx, string(appErr.Code))
	}
	o.log.Warn("task failed", fields)
	t.Handle().Reject(appErr)
}

func (o *Orchestrator) detectCondition(latency time.Duration) {
	current := o.queue.MarketCondition()
	if next := o.detector.Detect(current, latency); next != current {
		o.queue.SetMarketCondition(next)
	}
}

// scheduleRetry puts t back on the queue after its backoff. The wait runs
// on the clock, never on the loop.
func (o *Orchestrator) scheduleRetry(ctx context.Context, t *task.Task, cause *apperrors.AppError) {
	attempt := t.IncRetries()
	delay := o.config.Retry.Backoff(attempt)
	o.retried.Add(1)
	o.metrics.RecordRetry(ctx, string(cause.Code))
	o.log.Info("task retry scheduled", logger.Fields(
		logger.FieldTaskID, t.ID,
		"description", t.Description,
		logger.FieldRetries, attempt,
		"backoff_ms", delay.Milliseconds(),
		logger.FieldCode, string(cause.Code),
	))

	o.mu.Lock()
	defer o.mu.Unlock()
	timer := o.clock.AfterFunc(delay, func() { o.requeue(t) })
	o.retries[t.ID] = pendingRetry{task: t, timer: timer}
}

func (o *Orchestrator) requeue(t *task.Task) {
	o.mu.Lock()
	_, ok := o.retries[t.ID]
	delete(o.retries, t.ID)
	o.mu.Unlock()
	if !ok || t.Handle().Settled() {
		return
	}
	if err := o.queue.Requeue(t); err != nil {
		o.failed.Add(1)
		o.metrics.RecordReject(context.Background(), string(apperrors.CodeOf(err)))
	}
}

// cancelRetries stops every scheduled retry and rejects its handle.
func (o *Orchestrator) cancelRetries(reason string) int {
	o.mu.Lock()
	pending := o.retries
	o.retries = make(map[string]pendingRetry)
	o.mu.Unlock()

	for _, r := range pending {
		r.timer.Stop()
		r.task.Handle().Reject(apperrors.Cancelled(reason))
	}
	return len(pending)
}

func (o *Orchestrator) onAlert(a health.Alert) {
	o.metrics.RecordAlert(context.Background(), string(a.Severity), string(a.Type))
}

func (o *Orchestrator) recordGauges(ctx context.Context) {
	for _, p := range task.Levels {
		o.metrics.RecordQueueDepth(ctx, p.String(), o.queue.LevelLen(p))
	}
	o.metrics.RecordBucket(ctx, o.bucket.Tokens())
	o.metrics.RecordBreaker(ctx, o.config.Name, int(o.breaker.State()), o.breaker.HealthScore())
}
