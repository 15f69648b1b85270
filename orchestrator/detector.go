package orchestrator

import (
	"time"

	"github.com/kbukum/tradeguard/queue"
)

// ConditionDetector derives the market condition from a successful
// response. Rate-limit failures bypass it: they always mean CRITICAL.
type ConditionDetector interface {
	Detect(current queue.MarketCondition, latency time.Duration) queue.MarketCondition
}

// DetectorFunc adapts a function to ConditionDetector.
type DetectorFunc func(current queue.MarketCondition, latency time.Duration) queue.MarketCondition

// Detect calls f.
func (f DetectorFunc) Detect(current queue.MarketCondition, latency time.Duration) queue.MarketCondition {
	return f(current, latency)
}

// DetectorConfig holds the latency thresholds of the default detector.
type DetectorConfig struct {
	// VolatileLatency is the response time at or above which the market is VOLATILE.
	VolatileLatency time.Duration `yaml:"volatile_latency" mapstructure:"volatile_latency" validate:"gt=0"`
	// CalmLatency is the response time below which the market returns to NORMAL.
	CalmLatency time.Duration `yaml:"calm_latency" mapstructure:"calm_latency" validate:"gt=0"`
}

// DefaultDetectorConfig returns sensible defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		VolatileLatency: 3 * time.Second,
		CalmLatency:     time.Second,
	}
}

// ApplyDefaults fills zero values.
func (c *DetectorConfig) ApplyDefaults() {
	d := DefaultDetectorConfig()
	if c.VolatileLatency <= 0 {
		c.VolatileLatency = d.VolatileLatency
	}
	if c.CalmLatency <= 0 {
		c.CalmLatency = d.CalmLatency
	}
}

// LatencyDetector is the default ConditionDetector. Between the two
// thresholds the current condition is kept, so one slow-ish response
// neither raises nor clears a condition.
type LatencyDetector struct {
	config DetectorConfig
}

// NewLatencyDetector creates a LatencyDetector.
func NewLatencyDetector(cfg DetectorConfig) *LatencyDetector {
	cfg.ApplyDefaults()
	return &LatencyDetector{config: cfg}
}

// Detect implements ConditionDetector.
func (d *LatencyDetector) Detect(current queue.MarketCondition, latency time.Duration) queue.MarketCondition {
	switch {
	case latency >= d.config.VolatileLatency:
		if current == queue.MarketCritical {
			return current
		}
		return queue.MarketVolatile
	case latency < d.config.CalmLatency:
		return queue.MarketNormal
	default:
		return current
	}
}
