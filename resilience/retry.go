package resilience

import (
	"math"
	"math/rand/v2"
	"time"

	apperrors "github.com/kbukum/tradeguard/errors"
)

// RetryConfig configures retry behavior for transient failures.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the first try.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64 `yaml:"backoff_factor" mapstructure:"backoff_factor" validate:"gte=1"`
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter float64 `yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
	// RetryIf determines if an error should be retried.
	RetryIf func(error) bool `yaml:"-" mapstructure:"-"`
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        DefaultRetryIf,
	}
}

// DefaultRetryIf retries only the transient kinds: TIMEOUT, NETWORK_ERROR
// and SERVER_ERROR. Rate limits, auth failures and orchestration errors
// are surfaced to the caller.
func DefaultRetryIf(err error) bool {
	return apperrors.IsRetryable(err)
}

// ApplyDefaults fills zero values.
func (c *RetryConfig) ApplyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = d.Jitter
	}
	if c.RetryIf == nil {
		c.RetryIf = DefaultRetryIf
	}
}

// ShouldRetry reports whether a task that has already been retried
// `retries` times may be retried again after err. maxRetries < 0 uses the
// configured budget.
func (c RetryConfig) ShouldRetry(err error, retries, maxRetries int) bool {
	if err == nil {
		return false
	}
	if maxRetries < 0 {
		maxRetries = c.MaxRetries
	}
	if retries >= maxRetries {
		return false
	}
	retryIf := c.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	return retryIf(err)
}

// Backoff calculates the delay before retry number attempt (1-based):
// InitialBackoff × BackoffFactor^(attempt−1) ± Jitter, capped at MaxBackoff.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoffFloat := float64(c.InitialBackoff) * math.Pow(c.BackoffFactor, float64(attempt-1))

	// Apply jitter
	if c.Jitter > 0 {
		jitterRange := backoffFloat * c.Jitter
		backoffFloat += (rand.Float64()*2 - 1) * jitterRange
	}

	// Cap at max backoff
	if backoffFloat > float64(c.MaxBackoff) {
		backoffFloat = float64(c.MaxBackoff)
	}

	// Ensure positive duration
	if backoffFloat < 0 {
		backoffFloat = float64(c.InitialBackoff)
	}

	return time.Duration(backoffFloat)
}
