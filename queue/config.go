package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/tradeguard/task"
)

// Config configures a PriorityQueue.
type Config struct {
	// MaxQueueSize is the default cap of each priority level.
	MaxQueueSize int `yaml:"max_queue_size" mapstructure:"max_queue_size" validate:"gt=0"`
	// LevelCaps overrides MaxQueueSize per level, keyed by priority name.
	LevelCaps map[string]int `yaml:"level_caps" mapstructure:"level_caps"`
	// MaxTotalSize caps the number of pending tasks across all levels.
	MaxTotalSize int `yaml:"max_total_size" mapstructure:"max_total_size" validate:"gt=0"`
	// AgingThreshold is how long a MEDIUM or LOW task waits before promotion.
	AgingThreshold time.Duration `yaml:"aging_threshold" mapstructure:"aging_threshold" validate:"gt=0"`
	// AgingInterval is how often the aging sweep runs.
	AgingInterval time.Duration `yaml:"aging_interval" mapstructure:"aging_interval" validate:"gt=0"`
	// EnableDeduplication coalesces identical pending requests.
	EnableDeduplication bool `yaml:"enable_deduplication" mapstructure:"enable_deduplication"`
	// DedupTimeout is how long a signature stays joinable.
	DedupTimeout time.Duration `yaml:"dedup_timeout" mapstructure:"dedup_timeout" validate:"gt=0"`
	// CleanupInterval is how often expired dedup entries are dropped.
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"gt=0"`
	// EventBufferSize bounds the diagnostic event ring.
	EventBufferSize int `yaml:"event_buffer_size" mapstructure:"event_buffer_size" validate:"gt=0"`
	// MarketBoosts is the default market policy: condition → task type → priority.
	MarketBoosts map[string]map[string]string `yaml:"market_boosts" mapstructure:"market_boosts"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:        1000,
		MaxTotalSize:        5000,
		AgingThreshold:      30 * time.Second,
		AgingInterval:       5 * time.Second,
		EnableDeduplication: true,
		DedupTimeout:        5 * time.Second,
		CleanupInterval:     10 * time.Second,
		EventBufferSize:     100,
		MarketBoosts:        DefaultMarketBoosts(),
	}
}

// ApplyDefaults fills zero values. EnableDeduplication is left as set.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.MaxTotalSize <= 0 {
		c.MaxTotalSize = d.MaxTotalSize
	}
	if c.AgingThreshold <= 0 {
		c.AgingThreshold = d.AgingThreshold
	}
	if c.AgingInterval <= 0 {
		c.AgingInterval = d.AgingInterval
	}
	if c.DedupTimeout <= 0 {
		c.DedupTimeout = d.DedupTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = d.EventBufferSize
	}
	if c.MarketBoosts == nil {
		c.MarketBoosts = d.MarketBoosts
	}
	if len(c.LevelCaps) > 0 {
		caps := make(map[string]int, len(c.LevelCaps))
		for k, v := range c.LevelCaps {
			caps[strings.ToUpper(k)] = v
		}
		c.LevelCaps = caps
	}
}

// Validate checks level cap names and values.
func (c *Config) Validate() error {
	for name, v := range c.LevelCaps {
		if _, err := task.ParsePriority(name); err != nil || name == "" {
			return fmt.Errorf("queue: level_caps: unknown level %q", name)
		}
		if v <= 0 {
			return fmt.Errorf("queue: level_caps: %s must be positive", name)
		}
	}
	if _, err := ParseBoostTable(c.MarketBoosts); err != nil {
		return fmt.Errorf("queue: market_boosts: %w", err)
	}
	return nil
}

// LevelCap returns the cap of one priority level.
func (c *Config) LevelCap(p task.Priority) int {
	if v, ok := c.LevelCaps[p.String()]; ok && v > 0 {
		return v
	}
	return c.MaxQueueSize
}
