package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/tradeguard/component"
	"github.com/kbukum/tradeguard/health"
	"github.com/kbukum/tradeguard/logger"
	"github.com/kbukum/tradeguard/queue"
	"github.com/kbukum/tradeguard/resilience"
)

// Status is a point-in-time view of the orchestrator and its components.
type Status struct {
	Name           string                         `json:"name"`
	Running        bool                           `json:"running"`
	Busy           bool                           `json:"busy"`
	StartedAt      time.Time                      `json:"started_at,omitzero"`
	Processed      int64                          `json:"processed"`
	Succeeded      int64                          `json:"succeeded"`
	Failed         int64                          `json:"failed"`
	Retried        int64                          `json:"retried"`
	PendingRetries int                            `json:"pending_retries"`
	Bucket         resilience.TokenBucketStats    `json:"bucket"`
	Breaker        resilience.CircuitBreakerStats `json:"breaker"`
	Queue          queue.Stats                    `json:"queue"`
	Health         health.Status                  `json:"health"`
	HealthScore    float64                        `json:"health_score"`
	Components     []component.Health             `json:"components"`
}

// ResetResult reports what EmergencyReset cancelled.
type ResetResult struct {
	Cancelled        int       `json:"cancelled"`
	RetriesCancelled int       `json:"retries_cancelled"`
	At               time.Time `json:"at"`
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	report := o.monitor.Report()

	o.mu.Lock()
	running, startedAt, pending := o.cancel != nil, o.startedAt, len(o.retries)
	o.mu.Unlock()

	return Status{
		Name:           o.config.Name,
		Running:        running,
		Busy:           o.busy.Load(),
		StartedAt:      startedAt,
		Processed:      o.processed.Load(),
		Succeeded:      o.succeeded.Load(),
		Failed:         o.failed.Load(),
		Retried:        o.retried.Load(),
		PendingRetries: pending,
		Bucket:         o.bucket.Stats(),
		Breaker:        o.breaker.Stats(),
		Queue:          o.queue.Stats(),
		Health:         report.Status,
		HealthScore:    report.Score,
		Components:     o.registry.HealthAll(context.Background()),
	}
}

// HealthReport returns the monitor's full report.
func (o *Orchestrator) HealthReport() health.Report {
	return o.monitor.Report()
}

// LogStatus writes a one-line summary of Status to the log.
func (o *Orchestrator) LogStatus() {
	s := o.Status()
	o.log.Info("orchestrator status", logger.Fields(
		"running", s.Running,
		"processed", s.Processed,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"retried", s.Retried,
		"queued", s.Queue.Total,
		"market_condition", s.Queue.MarketCondition.String(),
		"tokens", fmt.Sprintf("%.2f/%d", s.Bucket.Tokens, s.Bucket.Capacity),
		"multiplier", s.Bucket.Multiplier,
		logger.FieldState, s.Breaker.State.String(),
		"breaker_health", s.Breaker.HealthScore,
		"health", string(s.Health),
		"health_score", s.HealthScore,
	))
}

// EmergencyReset rejects every pending task and scheduled retry with
// CANCELLED, then restores the breaker, the bucket, the monitor's alerts
// and the market condition. A task already in flight finishes normally.
// It is meant for operators; nothing in the orchestrator calls it.
func (o *Orchestrator) EmergencyReset() ResetResult {
	retries := o.cancelRetries(reasonReset)
	cancelled := o.queue.Clear(reasonReset)
	o.breaker.Reset()
	o.bucket.Reset()
	o.monitor.ResetAlerts()
	o.queue.ResetCondition()

	res := ResetResult{Cancelled: cancelled, RetriesCancelled: retries, At: o.clock.Now()}
	o.log.Warn("emergency reset", logger.Fields("cancelled", cancelled, "retries_cancelled", retries))
	return res
}

// Health implements component.Component. An open circuit or a stopped loop
// is unhealthy; a probing circuit or a non-healthy monitor verdict is degraded.
func (o *Orchestrator) Health(ctx context.Context) component.Health {
	breaker := o.breaker.Stats()
	report := o.monitor.Report()
	details := map[string]any{
		"breaker":          breaker.State.String(),
		"breaker_health":   breaker.HealthScore,
		"health":           string(report.Status),
		"health_score":     report.Score,
		"queued":           o.queue.Len(),
		"market_condition": o.queue.MarketCondition().String(),
	}

	h := component.Health{Name: o.Name(), Status: component.StatusHealthy, Details: details}
	switch {
	case !o.Running():
		h.Status = component.StatusUnhealthy
		h.Message = "consumer loop not running"
	case breaker.State == resilience.StateOpen:
		h.Status = component.StatusUnhealthy
		h.Message = "circuit open"
	case breaker.State == resilience.StateHalfOpen:
		h.Status = component.StatusDegraded
		h.Message = "circuit half-open"
	case report.Status != health.StatusHealthy:
		h.Status = component.StatusDegraded
		h.Message = fmt.Sprintf("health %s", report.Status)
	}
	if worst := component.Worst(o.registry.HealthAll(ctx)); worst == component.StatusDegraded && h.Status == component.StatusHealthy {
		h.Status = component.StatusDegraded
		h.Message = "component degraded"
	}
	return h
}

func (o *Orchestrator) queueHealth(context.Context) component.Health {
	stats := o.queue.Stats()
	h := component.Health{
		Name:    "queue",
		Status:  component.StatusHealthy,
		Details: map[string]any{"total": stats.Total, "max_total": o.config.Queue.MaxTotalSize},
	}
	if float64(stats.Total) >= queueDegradedRatio*float64(o.config.Queue.MaxTotalSize) {
		h.Status = component.StatusDegraded
		h.Message = "queue nearly full"
	}
	return h
}

func (o *Orchestrator) monitorHealth(context.Context) component.Health {
	report := o.monitor.Report()
	h := component.Health{
		Name:    "health",
		Status:  component.StatusHealthy,
		Details: map[string]any{"status": string(report.Status), "score": report.Score},
	}
	switch report.Status {
	case health.StatusCritical:
		h.Status = component.StatusUnhealthy
	case health.StatusDegraded:
		h.Status = component.StatusDegraded
	}
	return h
}

func (o *Orchestrator) loopHealth(context.Context) component.Health {
	h := component.Health{Name: "consumer", Status: component.StatusHealthy}
	if !o.Running() {
		h.Status = component.StatusUnhealthy
		h.Message = "not running"
	}
	return h
}
