package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	apperrors "github.com/kbukum/tradeguard/errors"
	"github.com/kbukum/tradeguard/logger"
	"github.com/kbukum/tradeguard/task"
)

func newTestMonitor(mock *clock.Mock, mutate func(*Config), opts ...Option) *Monitor {
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithClock(mock), WithLogger(logger.NewNop())}, opts...)
	return NewMonitor(cfg, opts...)
}

// request runs one request through the monitor taking latency.
func request(m *Monitor, mock *clock.Mock, id string, latency time.Duration, res Result) Record {
	m.StartRequest(id, Metadata{Endpoint: "/api/v3/order", Method: "POST", Priority: task.PriorityHigh})
	mock.Add(latency)
	rec, _ := m.EndRequest(id, res)
	return rec
}

func failure(code apperrors.ErrorCode) Result {
	return Result{Code: code}
}

func countType(alerts []Alert, typ AlertType) int {
	n := 0
	for _, a := range alerts {
		if a.Type == typ {
			n++
		}
	}
	return n
}

func TestMonitor_EndUnknownRequest(t *testing.T) {
	m := newTestMonitor(clock.NewMock(), nil)

	if _, ok := m.EndRequest("missing", Result{Success: true}); ok {
		t.Error("expected EndRequest to report an unknown id")
	}
}

func TestMonitor_RecordsLatency(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, nil)

	rec := request(m, mock, "r1", 250*time.Millisecond, failure(apperrors.ErrCodeServer))
	if rec.Latency != 250*time.Millisecond {
		t.Errorf("expected 250ms latency, got %s", rec.Latency)
	}
	if rec.Success || rec.Code != apperrors.ErrCodeServer {
		t.Errorf("expected SERVER_ERROR failure, got %+v", rec)
	}
	if rec.Priority != task.PriorityHigh || rec.Endpoint != "/api/v3/order" {
		t.Errorf("metadata not carried into record: %+v", rec)
	}

	if r := request(m, mock, "r2", 0, Result{}); r.Code != apperrors.ErrCodeUnknown {
		t.Errorf("expected missing code to default to UNKNOWN_ERROR, got %q", r.Code)
	}

	requests, failures, _ := m.Totals()
	if requests != 2 || failures != 2 {
		t.Errorf("expected 2 requests and 2 failures, got %d/%d", requests, failures)
	}
}

func TestResultFromError(t *testing.T) {
	if r := ResultFromError(nil); !r.Success {
		t.Error("nil error should be a success")
	}
	if r := ResultFromError(apperrors.RateLimited("slow down")); r.Success || r.Code != apperrors.ErrCodeRateLimit {
		t.Errorf("expected RATE_LIMIT, got %+v", r)
	}
	if r := ResultFromError(errors.New("boom")); r.Code != apperrors.ErrCodeUnknown {
		t.Errorf("expected UNKNOWN_ERROR, got %+v", r)
	}
}

func TestMonitor_SlowResponseAlertAndCooldown(t *testing.T) {
	mock := clock.NewMock()
	var hooked []Alert
	m := newTestMonitor(mock, nil, WithAlertHook(func(a Alert) { hooked = append(hooked, a) }))

	request(m, mock, "slow-1", 3*time.Second, Result{Success: true})
	request(m, mock, "slow-2", 3*time.Second, Result{Success: true})

	alerts := m.Alerts(0)
	if got := countType(alerts, AlertSlowResponse); got != 1 {
		t.Fatalf("expected 1 slow-response alert inside the cooldown, got %d", got)
	}
	if len(hooked) != 1 {
		t.Errorf("expected the hook to fire once, got %d", len(hooked))
	}
	if _, _, suppressed := m.Totals(); suppressed != 1 {
		t.Errorf("expected 1 suppressed alert, got %d", suppressed)
	}

	mock.Add(5 * time.Minute)
	request(m, mock, "slow-3", 3*time.Second, Result{Success: true})
	if got := countType(m.Alerts(0), AlertSlowResponse); got != 2 {
		t.Errorf("expected a second alert after the cooldown, got %d", got)
	}
}

func TestMonitor_ErrorBurst(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, nil)

	for i := 0; i < 4; i++ {
		request(m, mock, fmt.Sprintf("f%d", i), time.Second, failure(apperrors.ErrCodeTimeout))
	}
	if got := countType(m.Alerts(0), AlertErrorBurst); got != 0 {
		t.Fatalf("expected no burst below the count, got %d", got)
	}

	request(m, mock, "f4", time.Second, failure(apperrors.ErrCodeTimeout))
	alerts := m.Alerts(0)
	if got := countType(alerts, AlertErrorBurst); got != 1 {
		t.Fatalf("expected 1 burst alert, got %d", got)
	}
	if alerts[0].Severity != SeverityCritical {
		t.Errorf("expected CRITICAL burst, got %s", alerts[0].Severity)
	}
}

func TestMonitor_ErrorBurstWindowSlides(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, nil)

	for i := 0; i < 5; i++ {
		request(m, mock, fmt.Sprintf("f%d", i), 0, failure(apperrors.ErrCodeNetwork))
		mock.Add(10 * time.Second)
	}
	if got := countType(m.Alerts(0), AlertErrorBurst); got != 0 {
		t.Errorf("failures spread over 50s should not count as a burst, got %d", got)
	}
}

func TestMonitor_ThresholdAlerts(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, nil)

	for i := 0; i < 8; i++ {
		request(m, mock, fmt.Sprintf("ok%d", i), 100*time.Millisecond, Result{Success: true})
	}
	for i := 0; i < 2; i++ {
		request(m, mock, fmt.Sprintf("err%d", i), 100*time.Millisecond, failure(apperrors.ErrCodeServer))
	}

	snaps := m.TakeSnapshots()
	short := snaps[WindowShort]
	if short.Total != 10 || short.Failures != 2 {
		t.Fatalf("unexpected short snapshot: %+v", short)
	}
	if short.ErrorRate != 0.2 {
		t.Errorf("expected error rate 0.2, got %v", short.ErrorRate)
	}

	alerts := m.Alerts(0)
	if countType(alerts, AlertLowSuccessRate) != 1 {
		t.Error("expected a LOW_SUCCESS_RATE alert")
	}
	for _, a := range alerts {
		if a.Type == AlertHighErrorRate && a.Severity != SeverityCritical {
			t.Errorf("error rate above twice the threshold should be CRITICAL, got %s", a.Severity)
		}
	}
	if countType(alerts, AlertHighErrorRate) != 1 {
		t.Error("expected a HIGH_ERROR_RATE alert")
	}
}

func TestMonitor_ThresholdsNeedMinRequests(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, nil)

	for i := 0; i < 4; i++ {
		request(m, mock, fmt.Sprintf("err%d", i), 0, failure(apperrors.ErrCodeServer))
	}
	m.TakeSnapshots()

	alerts := m.Alerts(0)
	if countType(alerts, AlertHighErrorRate)+countType(alerts, AlertLowSuccessRate) != 0 {
		t.Errorf("rate alerts should wait for %d requests, got %+v", DefaultConfig().MinRequests, alerts)
	}
}

func shortWindows(c *Config) {
	c.ShortWindow = time.Minute
	c.MediumWindow = 2 * time.Minute
	c.LongWindow = 3 * time.Minute
}

// oneRequestPerMinute records one successful request per minute with the
// given latencies and snapshots at the end of each minute.
func oneRequestPerMinute(m *Monitor, mock *clock.Mock, latencies []time.Duration) {
	for i, lat := range latencies {
		request(m, mock, fmt.Sprintf("r%d", i), lat, Result{Success: true})
		mock.Add(time.Minute - lat)
		m.TakeSnapshots()
	}
}

func TestMonitor_TrendDetection(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, shortWindows)

	oneRequestPerMinute(m, mock, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
	})

	alerts := m.Alerts(0)
	if countType(alerts, AlertTrend) != 1 {
		t.Fatalf("expected one TREND alert, got %+v", alerts)
	}
	for _, a := range alerts {
		if a.Type == AlertTrend && a.Details["relative_slope"].(float64) <= 0.1 {
			t.Errorf("expected relative slope above sensitivity, got %v", a.Details["relative_slope"])
		}
	}
	if got := len(m.Snapshots(WindowShort)); got != 5 {
		t.Errorf("expected 5 stored short snapshots, got %d", got)
	}
}

func TestMonitor_NoTrendWhenSteady(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, shortWindows)

	lat := 200 * time.Millisecond
	oneRequestPerMinute(m, mock, []time.Duration{lat, lat, lat, lat, lat, lat})

	if alerts := m.Alerts(0); len(alerts) != 0 {
		t.Errorf("expected no alerts for steady traffic, got %+v", alerts)
	}
}

func TestMonitor_AnomalyDetection(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, shortWindows)

	oneRequestPerMinute(m, mock, []time.Duration{
		100 * time.Millisecond,
		110 * time.Millisecond,
		100 * time.Millisecond,
		110 * time.Millisecond,
		100 * time.Millisecond,
	})
	if got := countType(m.Alerts(0), AlertAnomaly); got != 0 {
		t.Fatalf("expected no anomaly before enough samples, got %d", got)
	}

	oneRequestPerMinute(m, mock, []time.Duration{1500 * time.Millisecond})
	if got := countType(m.Alerts(0), AlertAnomaly); got != 1 {
		t.Errorf("expected one ANOMALY alert, got %d", got)
	}
}

func TestMonitor_IdleSnapshotsNotInAnomalyBaseline(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, func(c *Config) {
		shortWindows(c)
		c.AnomalyMinSamples = 2
	})

	oneRequestPerMinute(m, mock, []time.Duration{100 * time.Millisecond, 110 * time.Millisecond})
	for i := 0; i < 30; i++ {
		mock.Add(time.Minute)
		m.TakeSnapshots()
	}

	oneRequestPerMinute(m, mock, []time.Duration{105 * time.Millisecond})
	if got := countType(m.Alerts(0), AlertAnomaly); got != 0 {
		t.Fatalf("a usual latency after a quiet spell must not be an anomaly, got %d alerts", got)
	}

	oneRequestPerMinute(m, mock, []time.Duration{1500 * time.Millisecond})
	if got := countType(m.Alerts(0), AlertAnomaly); got != 1 {
		t.Errorf("expected one ANOMALY alert for a real outlier, got %d", got)
	}
}

func TestMonitor_AnomalyBaselineWindow(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, func(c *Config) {
		shortWindows(c)
		c.AnomalyMinSamples = 3
		c.AnomalyWindow = 3
	})

	// Noisy history followed by a tight recent baseline. Only the recent
	// three samples judge the next one.
	oneRequestPerMinute(m, mock, []time.Duration{
		10 * time.Millisecond,
		500 * time.Millisecond,
		10 * time.Millisecond,
		500 * time.Millisecond,
		100 * time.Millisecond,
		101 * time.Millisecond,
		100 * time.Millisecond,
	})
	if got := countType(m.Alerts(0), AlertAnomaly); got != 0 {
		t.Fatalf("expected no anomaly while history is noisy, got %d", got)
	}

	oneRequestPerMinute(m, mock, []time.Duration{130 * time.Millisecond})
	if got := countType(m.Alerts(0), AlertAnomaly); got != 1 {
		t.Errorf("expected the jump from a tight recent baseline to be an anomaly, got %d", got)
	}
}

func TestMonitor_SnapshotHistoryBounded(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, func(c *Config) { c.MaxSnapshots = 3 })

	for i := 0; i < 5; i++ {
		mock.Add(time.Minute)
		m.TakeSnapshots()
	}
	for _, w := range Windows {
		if got := len(m.Snapshots(w)); got != 3 {
			t.Errorf("%s: expected 3 snapshots, got %d", w, got)
		}
	}
	if s := m.Snapshots(WindowShort)[0]; s.SuccessRate != 1 || s.Total != 0 {
		t.Errorf("empty window should report success rate 1, got %+v", s)
	}
}

func TestMonitor_RecordsPruned(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, func(c *Config) { c.MaxRecords = 3 })

	for i := 0; i < 5; i++ {
		request(m, mock, fmt.Sprintf("r%d", i), time.Millisecond, Result{Success: true})
	}
	if got := m.TakeSnapshots()[WindowLong].Total; got != 3 {
		t.Errorf("expected 3 retained records, got %d", got)
	}

	mock.Add(2 * time.Hour)
	if got := m.TakeSnapshots()[WindowLong].Total; got != 0 {
		t.Errorf("expected records older than the long window dropped, got %d", got)
	}
}

func TestMonitor_Report(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, nil)

	if r := m.Report(); r.Status != StatusHealthy || r.Score != 100 {
		t.Errorf("empty monitor should be HEALTHY/100, got %s/%v", r.Status, r.Score)
	}

	for i := 0; i < 4; i++ {
		request(m, mock, fmt.Sprintf("ok%d", i), 50*time.Millisecond, Result{Success: true})
	}
	for i := 0; i < 6; i++ {
		request(m, mock, fmt.Sprintf("rl%d", i), 50*time.Millisecond, failure(apperrors.ErrCodeRateLimit))
	}
	m.StartRequest("pending", Metadata{Endpoint: "/api/v3/account", Method: "GET"})

	r := m.Report()
	if r.Status != StatusCritical {
		t.Errorf("expected CRITICAL at 40%% success, got %s (score %v)", r.Status, r.Score)
	}
	if r.InFlight != 1 {
		t.Errorf("expected 1 in-flight request, got %d", r.InFlight)
	}
	if len(r.Snapshots) != len(Windows) {
		t.Errorf("expected a snapshot per window, got %d", len(r.Snapshots))
	}

	want := map[Issue]bool{IssueRateLimited: false, IssueErrorBurst: false, IssueHighErrorRate: false}
	for _, i := range r.Issues {
		if _, ok := want[i]; ok {
			want[i] = true
		}
	}
	for issue, found := range want {
		if !found {
			t.Errorf("expected issue %s in %v", issue, r.Issues)
		}
	}
	if len(r.Suggestions) != len(r.Issues) {
		t.Errorf("expected a suggestion per issue, got %d for %d", len(r.Suggestions), len(r.Issues))
	}
}

func TestMonitor_AlertsNewestFirst(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, func(c *Config) { c.AlertCooldown = 0 })

	request(m, mock, "a", 3*time.Second, Result{Success: true})
	request(m, mock, "b", 4*time.Second, Result{Success: true})

	alerts := m.Alerts(1)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Details["latency_ms"] != int64(4000) {
		t.Errorf("expected the newest alert first, got %+v", alerts[0].Details)
	}
}

func TestMonitor_Reset(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, nil)

	request(m, mock, "slow", 3*time.Second, Result{Success: true})
	m.StartRequest("pending", Metadata{})
	m.TakeSnapshots()

	m.ResetAlerts()
	if len(m.Alerts(0)) != 0 {
		t.Error("ResetAlerts should clear alerts")
	}
	request(m, mock, "slow-again", 3*time.Second, Result{Success: true})
	if len(m.Alerts(0)) != 1 {
		t.Error("ResetAlerts should clear cooldowns")
	}

	m.Reset()
	requests, _, _ := m.Totals()
	if requests != 0 || len(m.Snapshots(WindowShort)) != 0 || m.Report().InFlight != 0 {
		t.Error("Reset should clear all state")
	}
}

func TestMonitor_PeriodicSnapshots(t *testing.T) {
	mock := clock.NewMock()
	m := newTestMonitor(mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	mock.Add(time.Minute)

	deadline := time.Now().Add(time.Second)
	for len(m.Snapshots(WindowShort)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the snapshot job")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
