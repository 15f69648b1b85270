package health

import (
	"math"
	"time"
)

// Status is the overall health verdict.
type Status string

// Overall statuses.
const (
	StatusHealthy  Status = "HEALTHY"
	StatusDegraded Status = "DEGRADED"
	StatusCritical Status = "CRITICAL"
)

// Report is the monitor's full health view.
type Report struct {
	Status      Status              `json:"status"`
	Score       float64             `json:"score"`
	GeneratedAt time.Time           `json:"generated_at"`
	InFlight    int                 `json:"in_flight"`
	Snapshots   map[Window]Snapshot `json:"snapshots"`
	Alerts      []Alert             `json:"alerts"`
	Issues      []Issue             `json:"issues,omitempty"`
	Suggestions []Suggestion        `json:"suggestions,omitempty"`
}

const (
	healthyScore  = 80.0
	degradedScore = 50.0
)

// scoreSnapshot rates the short window on a 0–100 scale: the success rate,
// less 20 when mean latency is above the threshold and 10 more when p95 is
// above twice the threshold. An empty window scores 100.
func scoreSnapshot(cfg *Config, s Snapshot) float64 {
	if s.Total == 0 {
		return 100
	}
	score := s.SuccessRate * 100
	if s.MeanLatency > cfg.ResponseTimeThreshold {
		score -= 20
	}
	if s.P95 > 2*cfg.ResponseTimeThreshold {
		score -= 10
	}
	return math.Max(0, math.Min(100, score))
}

func statusFor(score float64) Status {
	switch {
	case score >= healthyScore:
		return StatusHealthy
	case score >= degradedScore:
		return StatusDegraded
	default:
		return StatusCritical
	}
}
