// Package health records the outcome of every exchange call and turns the
// records into rolling snapshots, threshold alerts, trend and anomaly
// detection, and remediation suggestions. The monitor only observes: it
// never changes the state of the bucket, breaker or queue.
package health

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	apperrors "github.com/kbukum/tradeguard/errors"
	"github.com/kbukum/tradeguard/logger"
	"github.com/kbukum/tradeguard/schedule"
	"github.com/kbukum/tradeguard/task"
)

const (
	recentAlertLimit = 10
	trendEpsilon     = 1e-9
)

// Metadata describes a request when it starts.
type Metadata struct {
	Endpoint    string        `json:"endpoint"`
	Method      string        `json:"method"`
	Priority    task.Priority `json:"priority"`
	Description string        `json:"description"`
}

// Result describes how a request ended.
type Result struct {
	Success bool
	// Code is the classified failure kind. Ignored when Success is set.
	Code apperrors.ErrorCode
}

// ResultFromError builds a Result from an executor error. err is expected
// to be classified already; an unclassified error counts as UNKNOWN_ERROR.
func ResultFromError(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	return Result{Code: apperrors.CodeOf(err)}
}

// Record is one finished request.
type Record struct {
	ID       string              `json:"id"`
	Endpoint string              `json:"endpoint"`
	Method   string              `json:"method"`
	Priority task.Priority       `json:"priority"`
	Start    time.Time           `json:"start"`
	End      time.Time           `json:"end"`
	Latency  time.Duration       `json:"latency"`
	Success  bool                `json:"success"`
	Code     apperrors.ErrorCode `json:"code,omitempty"`
}

type inFlight struct {
	meta  Metadata
	start time.Time
}

// Monitor is safe for concurrent use.
type Monitor struct {
	config  Config
	clock   clock.Clock
	log     *logger.Logger
	sched   *schedule.Scheduler
	onAlert func(Alert)

	mu         sync.Mutex
	inFlight   map[string]inFlight
	records    []Record
	snapshots  map[Window][]Snapshot
	alerts     []Alert
	lastAlert  map[string]time.Time
	suppressed int64
	requests   int64
	failures   int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock used for latencies, windows and cooldowns.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithAlertHook registers a function called for every alert that passes
// the cooldown. It runs outside the monitor's lock.
func WithAlertHook(fn func(Alert)) Option {
	return func(m *Monitor) { m.onAlert = fn }
}

// NewMonitor creates a monitor. Call Start to run periodic snapshots.
func NewMonitor(cfg Config, opts ...Option) *Monitor {
	cfg.ApplyDefaults()
	m := &Monitor{
		config:    cfg,
		inFlight:  make(map[string]inFlight),
		snapshots: make(map[Window][]Snapshot),
		lastAlert: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.log == nil {
		m.log = logger.WithComponent("health")
	}
	m.sched = schedule.New("health", schedule.WithClock(m.clock), schedule.WithLogger(m.log))
	// Registration on a fresh scheduler with a positive interval cannot fail.
	_ = m.sched.Every("snapshot", cfg.SnapshotInterval, func(context.Context) { m.TakeSnapshots() })
	return m
}

// Start launches the periodic snapshot job.
func (m *Monitor) Start(ctx context.Context) {
	m.sched.Start(ctx)
}

// Stop halts the snapshot job.
func (m *Monitor) Stop() {
	m.sched.Stop()
}

// StartRequest marks the start of request id.
func (m *Monitor) StartRequest(id string, meta Metadata) {
	m.mu.Lock()
	m.inFlight[id] = inFlight{meta: meta, start: m.clock.Now()}
	m.mu.Unlock()
}

// EndRequest records the outcome of request id and checks for slow
// responses and error bursts. It returns false if id was never started.
func (m *Monitor) EndRequest(id string, res Result) (Record, bool) {
	m.mu.Lock()
	f, ok := m.inFlight[id]
	if !ok {
		m.mu.Unlock()
		return Record{}, false
	}
	delete(m.inFlight, id)

	now := m.clock.Now()
	rec := Record{
		ID:       id,
		Endpoint: f.meta.Endpoint,
		Method:   f.meta.Method,
		Priority: f.meta.Priority,
		Start:    f.start,
		End:      now,
		Latency:  now.Sub(f.start),
		Success:  res.Success,
	}
	if !res.Success {
		rec.Code = res.Code
		if rec.Code == "" {
			rec.Code = apperrors.ErrCodeUnknown
		}
	}
	m.records = append(m.records, rec)
	m.requests++
	m.pruneRecords(now)

	var raised []Alert
	if rec.Latency > m.config.ResponseTimeThreshold {
		raised = m.raise(raised, newAlert(SeverityWarning, AlertSlowResponse,
			fmt.Sprintf("%s %s took %s", rec.Method, rec.Endpoint, rec.Latency),
			map[string]any{
				"endpoint":   rec.Endpoint,
				"latency_ms": rec.Latency.Milliseconds(),
				"threshold":  m.config.ResponseTimeThreshold.String(),
			}, now))
	}
	if !rec.Success {
		m.failures++
		if n := m.recentFailures(now); n >= m.config.ErrorBurstCount {
			raised = m.raise(raised, newAlert(SeverityCritical, AlertErrorBurst,
				fmt.Sprintf("%d failures within %s", n, m.config.ErrorBurstWindow),
				map[string]any{
					"failures":   n,
					"window":     m.config.ErrorBurstWindow.String(),
					"last_error": string(rec.Code),
				}, now))
		}
	}
	m.mu.Unlock()

	m.notify(raised)
	return rec, true
}

// TakeSnapshots aggregates every window, stores the snapshots and runs
// threshold, trend and anomaly checks on the short window.
func (m *Monitor) TakeSnapshots() map[Window]Snapshot {
	m.mu.Lock()
	now := m.clock.Now()
	m.pruneRecords(now)
	m.pruneInFlight(now)

	out := make(map[Window]Snapshot, len(Windows))
	for _, w := range Windows {
		s := buildSnapshot(w, m.span(w), m.records, now)
		out[w] = s
		hist := append(m.snapshots[w], s)
		if len(hist) > m.config.MaxSnapshots {
			hist = hist[len(hist)-m.config.MaxSnapshots:]
		}
		m.snapshots[w] = hist
	}

	var raised []Alert
	raised = m.checkThresholds(raised, out[WindowShort], now)
	raised = m.checkTrends(raised, m.snapshots[WindowShort], now)
	raised = m.checkAnomalies(raised, m.snapshots[WindowShort], now)
	m.mu.Unlock()

	m.notify(raised)
	return out
}

// Snapshots returns the stored snapshot history of one window, oldest first.
func (m *Monitor) Snapshots(w Window) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot(nil), m.snapshots[w]...)
}

// Alerts returns up to limit alerts, newest first. limit <= 0 returns all.
func (m *Monitor) Alerts(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentAlerts(limit)
}

// Report builds a fresh health report from live snapshots.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	snaps := make(map[Window]Snapshot, len(Windows))
	for _, w := range Windows {
		snaps[w] = buildSnapshot(w, m.span(w), m.records, now)
	}
	short := snaps[WindowShort]

	cutoff := now.Add(-m.config.ShortWindow)
	var recentShort []Alert
	for _, a := range m.alerts {
		if a.Timestamp.After(cutoff) {
			recentShort = append(recentShort, a)
		}
	}

	score := scoreSnapshot(&m.config, short)
	issues := detectIssues(&m.config, short, recentShort)
	suggestions := make([]Suggestion, 0, len(issues))
	for _, i := range issues {
		if s, ok := SuggestionFor(i); ok {
			suggestions = append(suggestions, s)
		}
	}

	return Report{
		Status:      statusFor(score),
		Score:       score,
		GeneratedAt: now,
		InFlight:    len(m.inFlight),
		Snapshots:   snaps,
		Alerts:      m.recentAlerts(recentAlertLimit),
		Issues:      issues,
		Suggestions: suggestions,
	}
}

// Totals returns the lifetime request, failure and suppressed-alert counts.
func (m *Monitor) Totals() (requests, failures, suppressed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests, m.failures, m.suppressed
}

// ResetAlerts clears the alert history and cooldowns.
func (m *Monitor) ResetAlerts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = nil
	m.lastAlert = make(map[string]time.Time)
	m.suppressed = 0
}

// Reset clears all records, snapshots, alerts and in-flight requests.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = make(map[string]inFlight)
	m.records = nil
	m.snapshots = make(map[Window][]Snapshot)
	m.alerts = nil
	m.lastAlert = make(map[string]time.Time)
	m.suppressed, m.requests, m.failures = 0, 0, 0
}

func (m *Monitor) span(w Window) time.Duration {
	switch w {
	case WindowShort:
		return m.config.ShortWindow
	case WindowMedium:
		return m.config.MediumWindow
	default:
		return m.config.LongWindow
	}
}

func (m *Monitor) checkThresholds(raised []Alert, short Snapshot, now time.Time) []Alert {
	if short.Total == 0 || short.Total < m.config.MinRequests {
		return raised
	}
	if short.SuccessRate < m.config.SuccessRateThreshold {
		raised = m.raise(raised, newAlert(SeverityWarning, AlertLowSuccessRate,
			fmt.Sprintf("success rate %.1f%% below %.1f%%", short.SuccessRate*100, m.config.SuccessRateThreshold*100),
			map[string]any{"success_rate": short.SuccessRate, "requests": short.Total}, now))
	}
	if short.ErrorRate > m.config.ErrorRateThreshold {
		sev := SeverityWarning
		if short.ErrorRate > 2*m.config.ErrorRateThreshold {
			sev = SeverityCritical
		}
		raised = m.raise(raised, newAlert(sev, AlertHighErrorRate,
			fmt.Sprintf("error rate %.1f%% above %.1f%%", short.ErrorRate*100, m.config.ErrorRateThreshold*100),
			map[string]any{"error_rate": short.ErrorRate, "errors": short.Errors, "requests": short.Total}, now))
	}
	return raised
}

// checkTrends fits a line through the last TrendSamples snapshots of each
// tracked metric. The slope is divided by the series mean so that the
// sensitivity is a fraction per snapshot regardless of the metric's unit.
func (m *Monitor) checkTrends(raised []Alert, hist []Snapshot, now time.Time) []Alert {
	n := m.config.TrendSamples
	if len(hist) < n {
		return raised
	}
	window := hist[len(hist)-n:]
	for _, s := range window {
		if s.Total == 0 {
			return raised
		}
	}

	for _, mt := range trackedMetrics {
		values := make([]float64, n)
		for i, s := range window {
			values[i] = mt.value(s)
		}
		avg := mean(values)
		if math.Abs(avg) < trendEpsilon {
			continue
		}
		slope := linearSlope(values)
		rel := slope / math.Abs(avg)
		degrading := (mt.rising && rel > m.config.TrendSensitivity) ||
			(!mt.rising && rel < -m.config.TrendSensitivity)
		if !degrading {
			continue
		}
		direction := "increasing"
		if rel < 0 {
			direction = "decreasing"
		}
		raised = m.raise(raised, newAlert(SeverityWarning, AlertTrend,
			fmt.Sprintf("%s %s by %.1f%% per snapshot", mt.name, direction, math.Abs(rel)*100),
			map[string]any{
				"metric":         mt.name,
				"slope":          slope,
				"relative_slope": rel,
				"samples":        n,
			}, now))
	}
	return raised
}

// checkAnomalies compares the latest snapshot with the last AnomalyWindow
// non-empty snapshots before it. Idle windows are not part of the baseline.
func (m *Monitor) checkAnomalies(raised []Alert, hist []Snapshot, now time.Time) []Alert {
	if len(hist) < 2 {
		return raised
	}
	latest := hist[len(hist)-1]
	if latest.Total == 0 {
		return raised
	}
	prev := make([]Snapshot, 0, m.config.AnomalyWindow)
	for i := len(hist) - 2; i >= 0 && len(prev) < m.config.AnomalyWindow; i-- {
		if hist[i].Total > 0 {
			prev = append(prev, hist[i])
		}
	}
	if len(prev) < m.config.AnomalyMinSamples {
		return raised
	}

	for _, mt := range trackedMetrics {
		sample := make([]float64, len(prev))
		for i, s := range prev {
			sample[i] = mt.value(s)
		}
		value := mt.value(latest)
		z, ok := zScore(value, sample)
		if !ok || math.Abs(z) <= m.config.AnomalyThreshold {
			continue
		}
		raised = m.raise(raised, newAlert(SeverityWarning, AlertAnomaly,
			fmt.Sprintf("%s is %.1f standard deviations from its recent mean", mt.name, z),
			map[string]any{
				"metric":  mt.name,
				"value":   value,
				"mean":    mean(sample),
				"z_score": z,
			}, now))
	}
	return raised
}

// raise stores a, unless an alert with the same cooldown key fired within
// AlertCooldown, and appends it to out for notification. Callers hold m.mu.
func (m *Monitor) raise(out []Alert, a Alert) []Alert {
	key := a.CooldownKey()
	if last, ok := m.lastAlert[key]; ok && a.Timestamp.Sub(last) < m.config.AlertCooldown {
		m.suppressed++
		return out
	}
	m.lastAlert[key] = a.Timestamp

	m.alerts = append(m.alerts, a)
	if len(m.alerts) > m.config.MaxAlerts {
		m.alerts = m.alerts[len(m.alerts)-m.config.MaxAlerts:]
	}

	fields := logger.Fields("alert_id", a.ID, "severity", string(a.Severity), "type", string(a.Type))
	if a.Severity == SeverityCritical {
		m.log.Error(a.Message, fields)
	} else {
		m.log.Warn(a.Message, fields)
	}
	return append(out, a)
}

func (m *Monitor) notify(alerts []Alert) {
	if m.onAlert == nil {
		return
	}
	for _, a := range alerts {
		m.onAlert(a)
	}
}

func (m *Monitor) recentAlerts(limit int) []Alert {
	n := len(m.alerts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.alerts[i])
	}
	return out
}

// recentFailures counts failures that ended within ErrorBurstWindow.
// Records are appended in end order.
func (m *Monitor) recentFailures(now time.Time) int {
	cutoff := now.Add(-m.config.ErrorBurstWindow)
	n := 0
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if !r.End.After(cutoff) {
			break
		}
		if !r.Success {
			n++
		}
	}
	return n
}

func (m *Monitor) pruneRecords(now time.Time) {
	cutoff := now.Add(-m.config.LongWindow)
	drop := 0
	for drop < len(m.records) && !m.records[drop].End.After(cutoff) {
		drop++
	}
	if excess := len(m.records) - drop - m.config.MaxRecords; excess > 0 {
		drop += excess
	}
	if drop > 0 {
		m.records = append(m.records[:0], m.records[drop:]...)
	}
}

// pruneInFlight drops requests that never ended within the long window.
func (m *Monitor) pruneInFlight(now time.Time) {
	for id, f := range m.inFlight {
		if now.Sub(f.start) > m.config.LongWindow {
			delete(m.inFlight, id)
		}
	}
}
