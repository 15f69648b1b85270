package resilience

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	apperrors "github.com/kbukum/tradeguard/errors"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows limited requests to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	maxHealthScore = 100.0
	successCredit  = 2.0

	tripShrink         = 0.8
	recoveryExpand     = 1.1
	lowHealthThreshold = 0.5
)

// DefaultPenalties is the health-score cost of one failure per kind.
// A throttle response is the costliest; an unclassified failure the cheapest.
func DefaultPenalties() map[apperrors.ErrorCode]float64 {
	return map[apperrors.ErrorCode]float64{
		apperrors.ErrCodeRateLimit:      20,
		apperrors.ErrCodeServer:         10,
		apperrors.ErrCodeTimeout:        8,
		apperrors.ErrCodeNetwork:        8,
		apperrors.ErrCodeAuthentication: 5,
		apperrors.ErrCodeUnknown:        3,
	}
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker for metrics/logging.
	Name string `yaml:"name" mapstructure:"name"`
	// FailureThreshold is the base number of consecutive failures before opening.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gt=0"`
	// RecoveryTime is the first open-to-half-open wait.
	RecoveryTime time.Duration `yaml:"recovery_time" mapstructure:"recovery_time" validate:"gt=0"`
	// SuccessThreshold is the number of consecutive half-open successes that close the circuit.
	SuccessThreshold int `yaml:"success_threshold" mapstructure:"success_threshold" validate:"gt=0"`
	// MinHealthScore halves the failure threshold while the health score is below it.
	MinHealthScore float64 `yaml:"min_health_score" mapstructure:"min_health_score" validate:"gte=0,lte=100"`
	// RecoveryBackoffMultiplier grows the recovery wait after each failed probe.
	RecoveryBackoffMultiplier float64 `yaml:"recovery_backoff_multiplier" mapstructure:"recovery_backoff_multiplier" validate:"gte=1"`
	// MaxRecoveryTime caps the recovery wait.
	MaxRecoveryTime time.Duration `yaml:"max_recovery_time" mapstructure:"max_recovery_time"`
	// MinAdaptiveMultiplier floors the threshold multiplier after repeated trips.
	MinAdaptiveMultiplier float64 `yaml:"min_adaptive_multiplier" mapstructure:"min_adaptive_multiplier" validate:"gt=0,lte=1"`
	// MaxAdaptiveMultiplier caps the threshold multiplier after recoveries.
	MaxAdaptiveMultiplier float64 `yaml:"max_adaptive_multiplier" mapstructure:"max_adaptive_multiplier" validate:"gte=1"`
	// Penalties overrides the per-kind health-score cost of a failure.
	Penalties map[apperrors.ErrorCode]float64 `yaml:"penalties" mapstructure:"penalties"`
	// OnStateChange is called when state changes.
	OnStateChange func(name string, from, to State) `yaml:"-" mapstructure:"-"`
	// Clock drives the recovery window. Defaults to the wall clock.
	Clock clock.Clock `yaml:"-" mapstructure:"-"`
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:                      name,
		FailureThreshold:          5,
		RecoveryTime:              30 * time.Second,
		SuccessThreshold:          2,
		MinHealthScore:            50,
		RecoveryBackoffMultiplier: 2,
		MaxRecoveryTime:           5 * time.Minute,
		MinAdaptiveMultiplier:     0.5,
		MaxAdaptiveMultiplier:     1,
	}
}

// ApplyDefaults fills zero values.
func (c *CircuitBreakerConfig) ApplyDefaults() {
	d := DefaultCircuitBreakerConfig(c.Name)
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTime <= 0 {
		c.RecoveryTime = d.RecoveryTime
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.MinHealthScore <= 0 {
		c.MinHealthScore = d.MinHealthScore
	}
	if c.RecoveryBackoffMultiplier < 1 {
		c.RecoveryBackoffMultiplier = d.RecoveryBackoffMultiplier
	}
	if c.MaxRecoveryTime <= 0 {
		c.MaxRecoveryTime = d.MaxRecoveryTime
	}
	if c.MaxRecoveryTime < c.RecoveryTime {
		c.MaxRecoveryTime = c.RecoveryTime
	}
	if c.MinAdaptiveMultiplier <= 0 || c.MinAdaptiveMultiplier > 1 {
		c.MinAdaptiveMultiplier = d.MinAdaptiveMultiplier
	}
	if c.MaxAdaptiveMultiplier < 1 {
		c.MaxAdaptiveMultiplier = d.MaxAdaptiveMultiplier
	}
	penalties := DefaultPenalties()
	for k, v := range c.Penalties {
		penalties[k] = v
	}
	c.Penalties = penalties
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// CircuitBreakerStats is a point-in-time view of the breaker.
type CircuitBreakerStats struct {
	Name                 string                      `json:"name"`
	State                State                       `json:"state"`
	ConsecutiveFailures  int                         `json:"consecutive_failures"`
	ConsecutiveSuccesses int                         `json:"consecutive_successes"`
	HealthScore          float64                     `json:"health_score"`
	AdaptiveMultiplier   float64                     `json:"adaptive_multiplier"`
	EffectiveThreshold   int                         `json:"effective_threshold"`
	RecoveryAttempts     int                         `json:"recovery_attempts"`
	NextAttemptAt        time.Time                   `json:"next_attempt_at,omitempty"`
	Requests             int64                       `json:"requests"`
	Successes            int64                       `json:"successes"`
	Failures             int64                       `json:"failures"`
	Rejections           int64                       `json:"rejections"`
	ErrorCounts          map[apperrors.ErrorCode]int `json:"error_counts"`
	LastError            apperrors.ErrorCode         `json:"last_error,omitempty"`
}

// CircuitBreaker implements the circuit breaker pattern with an adaptive
// failure threshold and a health score.
//
// States:
//   - Closed: normal operation; opens after the effective threshold of
//     consecutive failures, or at once on a RATE_LIMIT failure
//   - Open: requests fail immediately with CIRCUIT_OPEN until the
//     exponentially backed-off recovery window passes
//   - Half-Open: up to SuccessThreshold probes; that many consecutive
//     successes close the circuit, any failure reopens it
type CircuitBreaker struct {
	config CircuitBreakerConfig
	clock  clock.Clock

	mu                   sync.RWMutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	healthScore          float64
	adaptive             float64
	recoveryAttempts     int
	openedAt             time.Time
	halfOpenCalls        int
	errorCounts          map[apperrors.ErrorCode]int
	lastError            apperrors.ErrorCode

	requests   int64
	successes  int64
	failures   int64
	rejections int64
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	config.ApplyDefaults()
	return &CircuitBreaker{
		config:      config,
		clock:       config.Clock,
		state:       StateClosed,
		healthScore: maxHealthScore,
		adaptive:    1.0,
		errorCounts: make(map[apperrors.ErrorCode]int),
	}
}

// Execute runs fn through the circuit breaker. It returns a CIRCUIT_OPEN
// error without calling fn when the circuit rejects the request; otherwise
// fn's failure is classified and returned as an *errors.AppError.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if !cb.allowRequest() {
		return nil, apperrors.CircuitOpen(cb.config.Name)
	}

	result, err := fn(ctx)
	if err != nil {
		classified := apperrors.Classify(err)
		cb.RecordFailure(classified)
		return result, classified
	}
	cb.RecordSuccess()
	return result, nil
}

// CanExecute reports whether a request would currently be admitted.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		return cb.halfOpenCalls < cb.config.SuccessThreshold
	default:
		return false
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// HealthScore returns the current health score in [0, 100].
func (cb *CircuitBreaker) HealthScore() float64 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.healthScore
}

// EffectiveThreshold returns the number of consecutive failures that
// currently opens the circuit.
func (cb *CircuitBreaker) EffectiveThreshold() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.effectiveThreshold()
}

// RecoveryWindow returns how long the circuit stays open for the current attempt.
func (cb *CircuitBreaker) RecoveryWindow() time.Duration {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.recoveryWindow()
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState()
	counts := make(map[apperrors.ErrorCode]int, len(cb.errorCounts))
	for k, v := range cb.errorCounts {
		counts[k] = v
	}
	stats := CircuitBreakerStats{
		Name:                 cb.config.Name,
		State:                state,
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		HealthScore:          cb.healthScore,
		AdaptiveMultiplier:   cb.adaptive,
		EffectiveThreshold:   cb.effectiveThreshold(),
		RecoveryAttempts:     cb.recoveryAttempts,
		Requests:             cb.requests,
		Successes:            cb.successes,
		Failures:             cb.failures,
		Rejections:           cb.rejections,
		ErrorCounts:          counts,
		LastError:            cb.lastError,
	}
	if state == StateOpen {
		stats.NextAttemptAt = cb.openedAt.Add(cb.recoveryWindow())
	}
	return stats
}

// Reset restores the initial closed state, full health and neutral multiplier.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toState(StateClosed)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenCalls = 0
	cb.healthScore = maxHealthScore
	cb.adaptive = 1.0
	cb.recoveryAttempts = 0
	cb.errorCounts = make(map[apperrors.ErrorCode]int)
	cb.lastError = ""
	cb.requests, cb.successes, cb.failures, cb.rejections = 0, 0, 0, 0
}

// RecordSuccess records a successful call made outside Execute.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onSuccess()
}

// RecordFailure records a failed call made outside Execute. err is
// classified if it is not already an *errors.AppError.
func (cb *CircuitBreaker) RecordFailure(err error) {
	code := apperrors.Classify(err).Code

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// A cancelled caller says nothing about the downstream API.
	if code == apperrors.ErrCodeCancelled {
		if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
			cb.halfOpenCalls--
		}
		return
	}
	cb.onFailure(code)
}

// allowRequest checks if a request should be allowed.
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		cb.requests++
		return true
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.config.SuccessThreshold {
			cb.halfOpenCalls++
			cb.requests++
			return true
		}
	}
	cb.rejections++
	return false
}

// onSuccess handles a successful request.
func (cb *CircuitBreaker) onSuccess() {
	cb.successes++
	cb.healthScore = math.Min(maxHealthScore, cb.healthScore+successCredit)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses++

	if cb.currentState() == StateHalfOpen && cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.adaptive = math.Min(cb.config.MaxAdaptiveMultiplier, cb.adaptive*recoveryExpand)
		cb.toState(StateClosed)
	}
}

// onFailure handles a failed request.
func (cb *CircuitBreaker) onFailure(code apperrors.ErrorCode) {
	cb.failures++
	cb.errorCounts[code]++
	cb.lastError = code
	cb.healthScore = math.Max(0, cb.healthScore-cb.penalty(code))
	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures++

	switch cb.currentState() {
	case StateClosed:
		if code == apperrors.ErrCodeRateLimit || cb.consecutiveFailures >= cb.effectiveThreshold() {
			cb.recoveryAttempts = 1
			cb.adaptive = math.Max(cb.config.MinAdaptiveMultiplier, cb.adaptive*tripShrink)
			cb.toState(StateOpen)
		}
	case StateHalfOpen:
		cb.recoveryAttempts++
		cb.toState(StateOpen)
	case StateOpen:
		// Late result of a call admitted before the trip; a throttle
		// restarts the recovery window.
		if code == apperrors.ErrCodeRateLimit {
			cb.openedAt = cb.clock.Now()
		}
	}
}

func (cb *CircuitBreaker) penalty(code apperrors.ErrorCode) float64 {
	if p, ok := cb.config.Penalties[code]; ok {
		return p
	}
	return cb.config.Penalties[apperrors.ErrCodeUnknown]
}

// effectiveThreshold is floor(base × adaptive × healthFactor), at least 1.
func (cb *CircuitBreaker) effectiveThreshold() int {
	healthFactor := 1.0
	if cb.healthScore < cb.config.MinHealthScore {
		healthFactor = lowHealthThreshold
	}
	threshold := int(math.Floor(float64(cb.config.FailureThreshold) * cb.adaptive * healthFactor))
	if threshold < 1 {
		return 1
	}
	return threshold
}

// recoveryWindow is RecoveryTime × multiplier^(attempts−1), capped.
func (cb *CircuitBreaker) recoveryWindow() time.Duration {
	attempts := cb.recoveryAttempts
	if attempts < 1 {
		attempts = 1
	}
	window := float64(cb.config.RecoveryTime) * math.Pow(cb.config.RecoveryBackoffMultiplier, float64(attempts-1))
	if window > float64(cb.config.MaxRecoveryTime) {
		return cb.config.MaxRecoveryTime
	}
	return time.Duration(window)
}

// currentState returns the current state, handling timeout transitions.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && cb.clock.Since(cb.openedAt) >= cb.recoveryWindow() {
		cb.toState(StateHalfOpen)
	}
	return cb.state
}

// toState transitions to a new state.
func (cb *CircuitBreaker) toState(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to

	// Reset counters on state change
	switch to {
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses = 0
		cb.halfOpenCalls = 0
		cb.recoveryAttempts = 0
	case StateHalfOpen:
		cb.halfOpenCalls = 0
		cb.consecutiveSuccesses = 0
	case StateOpen:
		cb.openedAt = cb.clock.Now()
		cb.halfOpenCalls = 0
		cb.consecutiveSuccesses = 0
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
