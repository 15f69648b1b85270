package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/kbukum/tradeguard/queue"
)

func TestLatencyDetector(t *testing.T) {
	d := NewLatencyDetector(DetectorConfig{VolatileLatency: 3 * time.Second, CalmLatency: time.Second})

	tests := []struct {
		name    string
		current queue.MarketCondition
		latency time.Duration
		want    queue.MarketCondition
	}{
		{"fast stays normal", queue.MarketNormal, 100 * time.Millisecond, queue.MarketNormal},
		{"spike turns volatile", queue.MarketNormal, 3 * time.Second, queue.MarketVolatile},
		{"between thresholds keeps volatile", queue.MarketVolatile, 2 * time.Second, queue.MarketVolatile},
		{"between thresholds keeps normal", queue.MarketNormal, 2 * time.Second, queue.MarketNormal},
		{"fast calms volatile", queue.MarketVolatile, 500 * time.Millisecond, queue.MarketNormal},
		{"fast calms critical", queue.MarketCritical, 500 * time.Millisecond, queue.MarketNormal},
		{"spike keeps critical", queue.MarketCritical, 5 * time.Second, queue.MarketCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Detect(tt.current, tt.latency); got != tt.want {
				t.Errorf("Detect(%s, %s) = %s, want %s", tt.current, tt.latency, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"critical wait above wait", func(c *Config) {
			c.CriticalTokenWait = time.Minute
		}, "critical_token_wait"},
		{"calm above volatile", func(c *Config) {
			c.Detector.CalmLatency = 5 * time.Second
		}, "calm_latency"},
		{"bad base url", func(c *Config) {
			c.BaseURL = "not a url"
		}, "base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("test")
			tt.mutate(&cfg)
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_ApplyDefaultsNamesSections(t *testing.T) {
	cfg := Config{Name: "binance"}
	cfg.ApplyDefaults()
	if cfg.RateLimit.Name != "binance" || cfg.CircuitBreaker.Name != "binance" {
		t.Errorf("expected sections named after the orchestrator, got %q and %q",
			cfg.RateLimit.Name, cfg.CircuitBreaker.Name)
	}
	if cfg.TickInterval != 100*time.Millisecond || cfg.Queue.MaxQueueSize == 0 || cfg.Health.ShortWindow == 0 {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}
