package resilience

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	apperrors "github.com/kbukum/tradeguard/errors"
	"github.com/kbukum/tradeguard/task"
)

const (
	minPollDelay = 50 * time.Millisecond
	maxPollDelay = 5 * time.Second

	throttleDecay = 0.5
	recoveryGrow  = 1.05
)

// TokenBucketConfig configures a token bucket.
type TokenBucketConfig struct {
	// Name identifies this bucket for metrics/logging.
	Name string `yaml:"name" mapstructure:"name"`
	// Capacity is the maximum number of tokens held.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"gt=0"`
	// RefillRate is the base number of tokens added per second.
	RefillRate float64 `yaml:"refill_rate" mapstructure:"refill_rate" validate:"gt=0"`
	// BurstCapacity is the largest single request the bucket will ever admit.
	BurstCapacity int `yaml:"burst_capacity" mapstructure:"burst_capacity" validate:"gte=0"`
	// MinReserve is kept back for CRITICAL requests.
	MinReserve float64 `yaml:"min_reserve" mapstructure:"min_reserve" validate:"gte=0"`
	// MinThrottle is the floor of the adaptive throttle multiplier.
	MinThrottle float64 `yaml:"min_throttle" mapstructure:"min_throttle" validate:"gt=0,lte=1"`
	// SafetyBuffer is added to every computed poll delay.
	SafetyBuffer time.Duration `yaml:"safety_buffer" mapstructure:"safety_buffer"`
	// FastResponse is the latency under which a response counts as fast and healthy.
	FastResponse time.Duration `yaml:"fast_response" mapstructure:"fast_response"`
	// LowUtilization is the utilization under which the multiplier may recover.
	LowUtilization float64 `yaml:"low_utilization" mapstructure:"low_utilization" validate:"gte=0,lte=1"`
	// OnThrottle is called when the multiplier changes.
	OnThrottle func(name string, from, to float64) `yaml:"-" mapstructure:"-"`
	// Clock drives refill and waits. Defaults to the wall clock.
	Clock clock.Clock `yaml:"-" mapstructure:"-"`
}

// DefaultTokenBucketConfig returns sensible defaults.
func DefaultTokenBucketConfig(name string) TokenBucketConfig {
	return TokenBucketConfig{
		Name:           name,
		Capacity:       20,
		RefillRate:     10,
		BurstCapacity:  20,
		MinReserve:     2,
		MinThrottle:    0.1,
		SafetyBuffer:   100 * time.Millisecond,
		FastResponse:   500 * time.Millisecond,
		LowUtilization: 0.5,
	}
}

// ApplyDefaults fills zero values.
func (c *TokenBucketConfig) ApplyDefaults() {
	d := DefaultTokenBucketConfig(c.Name)
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.RefillRate <= 0 {
		c.RefillRate = d.RefillRate
	}
	if c.BurstCapacity <= 0 || c.BurstCapacity > c.Capacity {
		c.BurstCapacity = c.Capacity
	}
	if c.MinReserve < 0 {
		c.MinReserve = 0
	}
	if c.MinReserve >= float64(c.Capacity) {
		c.MinReserve = float64(c.Capacity) - 1
	}
	if c.MinThrottle <= 0 || c.MinThrottle > 1 {
		c.MinThrottle = d.MinThrottle
	}
	if c.SafetyBuffer <= 0 {
		c.SafetyBuffer = d.SafetyBuffer
	}
	if c.FastResponse <= 0 {
		c.FastResponse = d.FastResponse
	}
	if c.LowUtilization <= 0 {
		c.LowUtilization = d.LowUtilization
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// TokenBucketStats is a point-in-time view of the bucket.
type TokenBucketStats struct {
	Name          string        `json:"name"`
	Tokens        float64       `json:"tokens"`
	Capacity      int           `json:"capacity"`
	RefillRate    float64       `json:"refill_rate"`
	EffectiveRate float64       `json:"effective_rate"`
	Multiplier    float64       `json:"multiplier"`
	Utilization   float64       `json:"utilization"`
	Admitted      int64         `json:"admitted"`
	Rejected      int64         `json:"rejected"`
	Waits         int64         `json:"waits"`
	TotalWait     time.Duration `json:"total_wait"`
	Throttles     int64         `json:"throttles"`
}

// TokenBucket implements admission control: bursts up to Capacity, a
// sustained rate of RefillRate scaled by an adaptive throttle multiplier,
// and a reserve only CRITICAL requests may dip into.
type TokenBucket struct {
	config TokenBucketConfig
	clock  clock.Clock

	mu         sync.Mutex
	limiter    *rate.Limiter
	multiplier float64

	admitted  int64
	rejected  int64
	waits     int64
	totalWait time.Duration
	throttles int64
}

// NewTokenBucket creates a full token bucket.
func NewTokenBucket(config TokenBucketConfig) *TokenBucket {
	config.ApplyDefaults()
	return &TokenBucket{
		config:     config,
		clock:      config.Clock,
		limiter:    rate.NewLimiter(rate.Limit(config.RefillRate), config.Capacity),
		multiplier: 1.0,
	}
}

// TryConsume takes n tokens if, after refill, tokens >= n and the remainder
// stays at or above MinReserve. CRITICAL requests ignore the reserve.
func (b *TokenBucket) TryConsume(n int, priority task.Priority) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tryConsumeLocked(n, priority, b.clock.Now()) {
		b.admitted++
		return true
	}
	b.rejected++
	return false
}

func (b *TokenBucket) tryConsumeLocked(n int, priority task.Priority, now time.Time) bool {
	if n <= 0 {
		return true
	}
	if n > b.config.BurstCapacity {
		return false
	}
	tokens := b.limiter.TokensAt(now)
	need := float64(n)
	if tokens < need {
		return false
	}
	if priority != task.PriorityCritical && tokens-need < b.config.MinReserve {
		return false
	}
	return b.limiter.AllowN(now, n)
}

// WaitForTokens blocks until n tokens are admitted, maxWait elapses, or ctx
// is done. maxWait of zero waits without bound. It returns nil on admission,
// a TOKEN_WAIT_TIMEOUT error on timeout, and ctx.Err() on cancellation.
func (b *TokenBucket) WaitForTokens(ctx context.Context, n int, priority task.Priority, maxWait time.Duration) error {
	start := b.clock.Now()
	if n > b.config.BurstCapacity {
		return apperrors.InvalidInput("tokens", "request exceeds burst capacity")
	}

	waited := false
	for {
		if b.TryConsume(n, priority) {
			if waited {
				b.recordWait(b.clock.Since(start))
			}
			return nil
		}
		waited = true

		delay := b.PollDelay(n, priority)
		if maxWait > 0 {
			remaining := maxWait - b.clock.Since(start)
			if remaining <= 0 {
				b.recordWait(b.clock.Since(start))
				return apperrors.TokenWaitTimeout(float64(n), b.clock.Since(start).String())
			}
			if delay > remaining {
				delay = remaining
			}
		}

		timer := b.clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// PollDelay is the time to wait before re-checking for n tokens at the
// given priority: the refill time for the deficit plus the safety buffer,
// clamped to [50ms, 5s]. The deficit counts MinReserve unless priority is
// CRITICAL.
func (b *TokenBucket) PollDelay(n int, priority task.Priority) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	need := float64(n)
	if priority != task.PriorityCritical {
		need += b.config.MinReserve
	}
	tokens := b.limiter.TokensAt(b.clock.Now())
	deficit := math.Max(0, need-tokens)
	ms := deficit/(b.config.RefillRate*b.multiplier)*1000 + float64(b.config.SafetyBuffer.Milliseconds())
	delay := time.Duration(ms * float64(time.Millisecond))
	switch {
	case delay < minPollDelay:
		return minPollDelay
	case delay > maxPollDelay:
		return maxPollDelay
	default:
		return delay
	}
}

// AdaptiveAdjustment tunes the throttle multiplier from response feedback.
// An upstream throttle halves it (floored at MinThrottle); a fast, healthy
// response while utilization is low grows it by 5% (capped at 1.0).
func (b *TokenBucket) AdaptiveAdjustment(wasThrottled bool, responseTime time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	from := b.multiplier
	switch {
	case wasThrottled:
		b.multiplier = math.Max(b.config.MinThrottle, b.multiplier*throttleDecay)
		b.throttles++
	case responseTime < b.config.FastResponse && b.utilizationLocked(now) < b.config.LowUtilization:
		b.multiplier = math.Min(1.0, b.multiplier*recoveryGrow)
	}
	if b.multiplier == from {
		return
	}

	b.limiter.SetLimitAt(now, rate.Limit(b.config.RefillRate*b.multiplier))
	if b.config.OnThrottle != nil {
		b.config.OnThrottle(b.config.Name, from, b.multiplier)
	}
}

// Tokens returns the current number of available tokens.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokensLocked(b.clock.Now())
}

// Multiplier returns the throttle multiplier.
func (b *TokenBucket) Multiplier() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.multiplier
}

// Utilization returns the fraction of capacity currently spent.
func (b *TokenBucket) Utilization() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.utilizationLocked(b.clock.Now())
}

// Capacity returns the maximum token count.
func (b *TokenBucket) Capacity() int {
	return b.config.Capacity
}

// Stats returns a snapshot of the bucket.
func (b *TokenBucket) Stats() TokenBucketStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	return TokenBucketStats{
		Name:          b.config.Name,
		Tokens:        b.tokensLocked(now),
		Capacity:      b.config.Capacity,
		RefillRate:    b.config.RefillRate,
		EffectiveRate: b.config.RefillRate * b.multiplier,
		Multiplier:    b.multiplier,
		Utilization:   b.utilizationLocked(now),
		Admitted:      b.admitted,
		Rejected:      b.rejected,
		Waits:         b.waits,
		TotalWait:     b.totalWait,
		Throttles:     b.throttles,
	}
}

// Reset refills the bucket and restores the multiplier to 1.0.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.multiplier
	b.limiter = rate.NewLimiter(rate.Limit(b.config.RefillRate), b.config.Capacity)
	b.multiplier = 1.0
	b.admitted, b.rejected, b.waits, b.throttles = 0, 0, 0, 0
	b.totalWait = 0
	if from != 1.0 && b.config.OnThrottle != nil {
		b.config.OnThrottle(b.config.Name, from, 1.0)
	}
}

func (b *TokenBucket) recordWait(d time.Duration) {
	b.mu.Lock()
	b.waits++
	b.totalWait += d
	b.mu.Unlock()
}

// tokensLocked clamps to [0, Capacity]; the limiter never reserves ahead
// here, so the clamp only guards float drift.
func (b *TokenBucket) tokensLocked(now time.Time) float64 {
	tokens := b.limiter.TokensAt(now)
	return math.Min(float64(b.config.Capacity), math.Max(0, tokens))
}

func (b *TokenBucket) utilizationLocked(now time.Time) float64 {
	return 1 - b.tokensLocked(now)/float64(b.config.Capacity)
}
