package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/kbukum/tradeguard/errors"
)

func TestRetryConfig_ShouldRetry(t *testing.T) {
	cfg := DefaultRetryConfig()

	tests := []struct {
		name    string
		err     error
		retries int
		want    bool
	}{
		{"nil error", nil, 0, false},
		{"timeout", apperrors.Timeout("get"), 0, true},
		{"network", apperrors.Network(errors.New("reset")), 2, true},
		{"server", apperrors.Server(503, nil), 1, true},
		{"budget exhausted", apperrors.Server(503, nil), 3, false},
		{"rate limit", apperrors.RateLimited(""), 0, false},
		{"auth", apperrors.Authentication(""), 0, false},
		{"unknown", apperrors.Unknown(errors.New("boom")), 0, false},
		{"queue full", apperrors.QueueFull("full"), 0, false},
		{"circuit open", apperrors.CircuitOpen("api"), 0, false},
		{"token wait", apperrors.TokenWaitTimeout(1, "5s"), 0, false},
		{"unclassified", context.DeadlineExceeded, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.ShouldRetry(tt.err, tt.retries, -1); got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryConfig_ShouldRetryOverride(t *testing.T) {
	cfg := DefaultRetryConfig()
	err := apperrors.Timeout("get")

	if cfg.ShouldRetry(err, 0, 0) {
		t.Error("a zero per-task budget should disable retries")
	}
	if !cfg.ShouldRetry(err, 5, 6) {
		t.Error("a larger per-task budget should allow more retries")
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}

	for _, tt := range tests {
		if got := cfg.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryConfig_BackoffJitter(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2,
		Jitter:         0.5,
	}

	for i := 0; i < 100; i++ {
		got := cfg.Backoff(2)
		if got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("Backoff(2) = %s, want within 200ms ± 50%%", got)
		}
	}
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	cfg := RetryConfig{MaxRetries: -1, Jitter: 2}
	cfg.ApplyDefaults()

	if cfg.MaxRetries != 0 {
		t.Errorf("expected MaxRetries 0, got %d", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 500*time.Millisecond {
		t.Errorf("expected default InitialBackoff, got %s", cfg.InitialBackoff)
	}
	if cfg.Jitter != 0.1 {
		t.Errorf("expected default Jitter, got %v", cfg.Jitter)
	}
	if cfg.RetryIf == nil {
		t.Error("expected RetryIf to be set")
	}
}
