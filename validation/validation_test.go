package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/kbukum/tradeguard/errors"
)

func TestValidatorRequired(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"present", "https://api.example.com", false},
		{"empty", "", true},
		{"whitespace", "   ", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := New().Required("url", tc.value)
			if v.HasErrors() != tc.wantErr {
				t.Errorf("expected errors=%v, got %v", tc.wantErr, v.Errors())
			}
		})
	}
}

func TestValidatorAbsoluteURL(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"https://api.example.com/api/v3/order", false},
		{"http://localhost:8080/x", false},
		{"", false},
		{"/api/v3/order", true},
		{"ftp://example.com", true},
		{"https://", true},
	}
	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			if got := New().AbsoluteURL("url", tc.value).HasErrors(); got != tc.wantErr {
				t.Errorf("expected errors=%v, got %v", tc.wantErr, got)
			}
		})
	}
}

func TestValidatorOneOfMinCustom(t *testing.T) {
	v := New().
		OneOf("method", "PATCH", []string{"GET", "POST"}).
		OneOf("method", "", []string{"GET"}).
		Min("weight", 0, 1).
		Custom(false, "timeout", "must be positive").
		Custom(true, "ignored", "never added")

	if got := len(v.Errors()); got != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", got, v.Errors())
	}
}

func TestValidatorValidate(t *testing.T) {
	if err := New().Required("url", "x").Validate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	err := New().Required("url", "").Min("weight", 0, 1).Validate()
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Code != errors.ErrCodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", err.Code)
	}
	if !strings.Contains(err.Message, "url: is required") || !strings.Contains(err.Message, "weight: must be at least 1") {
		t.Errorf("unexpected message: %q", err.Message)
	}
	if fields, ok := err.Details["fields"].([]FieldError); !ok || len(fields) != 2 {
		t.Errorf("expected field details, got %v", err.Details)
	}
}

type bucketSection struct {
	Capacity   int           `mapstructure:"capacity" validate:"gt=0"`
	RefillRate float64       `mapstructure:"refill_rate" validate:"gt=0"`
	MinReserve float64       `mapstructure:"min_reserve" validate:"gte=0"`
	MaxWait    time.Duration `mapstructure:"max_wait" validate:"gte=0"`
}

type rootConfig struct {
	Name   string        `mapstructure:"name" validate:"required"`
	Mode   string        `mapstructure:"mode" validate:"omitempty,oneof=live paper"`
	Bucket bucketSection `mapstructure:"rate_limit"`
	Short  time.Duration `mapstructure:"short_window" validate:"gt=0"`
	Medium time.Duration `mapstructure:"medium_window" validate:"gtfield=Short"`
}

func TestStructValidateValid(t *testing.T) {
	cfg := rootConfig{
		Name:   "gateway",
		Mode:   "paper",
		Bucket: bucketSection{Capacity: 10, RefillRate: 2},
		Short:  time.Minute,
		Medium: 5 * time.Minute,
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestStructValidateInvalid(t *testing.T) {
	cfg := rootConfig{
		Mode:   "backtest",
		Bucket: bucketSection{Capacity: 0, RefillRate: 2, MinReserve: -1},
		Short:  5 * time.Minute,
		Medium: time.Minute,
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}

	msg := err.Error()
	for _, want := range []string{
		"name: is required",
		"mode: must be one of: live paper",
		"rate_limit.capacity: must be greater than 0",
		"rate_limit.min_reserve: must be at least 0",
		"medium_window: must be greater than short",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"MaxQueueSize": "max_queue_size",
		"capacity":     "capacity",
		"TTL":          "t_t_l",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
