package orchestrator

import (
	"fmt"
	"time"

	"github.com/kbukum/tradeguard/health"
	"github.com/kbukum/tradeguard/queue"
	"github.com/kbukum/tradeguard/resilience"
	"github.com/kbukum/tradeguard/validation"
)

// Config configures an Orchestrator and every component it owns.
type Config struct {
	// Name identifies the backend this orchestrator guards.
	Name string `yaml:"name" mapstructure:"name"`
	// TickInterval is the spacing between consumer loop iterations.
	TickInterval time.Duration `yaml:"tick_interval" mapstructure:"tick_interval" validate:"gt=0"`
	// TokenWait bounds the token wait of non-critical tasks.
	TokenWait time.Duration `yaml:"token_wait" mapstructure:"token_wait" validate:"gt=0"`
	// CriticalTokenWait bounds the token wait of CRITICAL tasks.
	CriticalTokenWait time.Duration `yaml:"critical_token_wait" mapstructure:"critical_token_wait" validate:"gt=0"`
	// RequestTimeout bounds a single executor call.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" validate:"gt=0"`
	// BaseURL is prefixed to relative URLs passed to the verb helpers.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	// Headers are sent with every verb-helper request.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	Detector       DetectorConfig                  `yaml:"detector" mapstructure:"detector"`
	RateLimit      resilience.TokenBucketConfig    `yaml:"rate_limit" mapstructure:"rate_limit"`
	CircuitBreaker resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	Retry          resilience.RetryConfig          `yaml:"retry" mapstructure:"retry"`
	Queue          queue.Config                    `yaml:"queue" mapstructure:"queue"`
	Health         health.Config                   `yaml:"health" mapstructure:"health"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		TickInterval:      100 * time.Millisecond,
		TokenWait:         30 * time.Second,
		CriticalTokenWait: 5 * time.Second,
		RequestTimeout:    30 * time.Second,
		Detector:          DefaultDetectorConfig(),
		RateLimit:         resilience.DefaultTokenBucketConfig(name),
		CircuitBreaker:    resilience.DefaultCircuitBreakerConfig(name),
		Retry:             resilience.DefaultRetryConfig(),
		Queue:             queue.DefaultConfig(),
		Health:            health.DefaultConfig(),
	}
}

// ApplyDefaults fills zero values, section by section.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "exchange"
	}
	d := DefaultConfig(c.Name)
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.TokenWait <= 0 {
		c.TokenWait = d.TokenWait
	}
	if c.CriticalTokenWait <= 0 {
		c.CriticalTokenWait = d.CriticalTokenWait
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RateLimit.Name == "" {
		c.RateLimit.Name = c.Name
	}
	if c.CircuitBreaker.Name == "" {
		c.CircuitBreaker.Name = c.Name
	}
	c.Detector.ApplyDefaults()
	c.RateLimit.ApplyDefaults()
	c.CircuitBreaker.ApplyDefaults()
	c.Retry.ApplyDefaults()
	c.Queue.ApplyDefaults()
	c.Health.ApplyDefaults()
}

// Validate checks the struct tags of every section and the cross-field
// rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	if c.CriticalTokenWait > c.TokenWait {
		return fmt.Errorf("orchestrator: critical_token_wait (%s) must not exceed token_wait (%s)",
			c.CriticalTokenWait, c.TokenWait)
	}
	if c.Detector.CalmLatency >= c.Detector.VolatileLatency {
		return fmt.Errorf("orchestrator: detector.calm_latency must be below detector.volatile_latency")
	}
	return nil
}
