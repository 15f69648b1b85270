package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

func newBufferLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cfg := &Config{Level: level, Format: "json"}
	return NewWithWriter(cfg, "test-svc", buf), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewWithWriter_JSON(t *testing.T) {
	l, buf := newBufferLogger(t, "info")
	l.Info("task completed", Fields(FieldTaskID, "t-1", FieldRetries, 2))

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	if got["message"] != "task completed" || got["level"] != "info" {
		t.Errorf("unexpected line: %v", got)
	}
	if got[FieldService] != "test-svc" || got[FieldTaskID] != "t-1" || got[FieldRetries] != float64(2) {
		t.Errorf("expected structured fields, got %v", got)
	}
	if _, ok := got["time"]; !ok {
		t.Error("expected a timestamp")
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(t, "warn")
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown")

	if got := len(decodeLines(t, buf)); got != 2 {
		t.Errorf("expected 2 lines at warn level, got %d", got)
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	l, buf := newBufferLogger(t, "invalid-level")
	l.Debug("hidden")
	l.Info("shown")

	if got := len(decodeLines(t, buf)); got != 1 {
		t.Errorf("expected info level fallback, got %d lines", got)
	}
}

func TestWithComponent(t *testing.T) {
	l, buf := newBufferLogger(t, "info")
	cl := l.WithComponent("breaker")
	if cl.service != "test-svc" {
		t.Errorf("service should be preserved, got %q", cl.service)
	}
	cl.Info("opened")

	if got := decodeLines(t, buf)[0][FieldComponent]; got != "breaker" {
		t.Errorf("expected component field, got %v", got)
	}
}

func TestWithContext_AddsTraceIDs(t *testing.T) {
	l, buf := newBufferLogger(t, "info")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.WithContext(ctx).Info("executing")
	got := decodeLines(t, buf)[0]
	if got[FieldTraceID] != traceID.String() || got[FieldSpanID] != spanID.String() {
		t.Errorf("expected trace correlation, got %v", got)
	}

	if l.WithContext(context.Background()) != l {
		t.Error("context without a span should return the same logger")
	}
}

func TestWithFieldsAndError(t *testing.T) {
	l, buf := newBufferLogger(t, "info")
	l.WithFields(map[string]interface{}{FieldEndpoint: "/api/v3/order"}).
		WithError(errors.New("boom")).
		Error("request failed")

	got := decodeLines(t, buf)[0]
	if got[FieldEndpoint] != "/api/v3/order" || got[FieldError] != "boom" {
		t.Errorf("expected endpoint and error fields, got %v", got)
	}
}

func TestConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewWithWriter(&Config{Level: "info", Format: "console", NoColor: true}, "svc", buf)
	l.Warn("queue full", Fields(FieldPriority, "LOW"))

	out := buf.String()
	if !strings.Contains(out, "[WRN]") || !strings.Contains(out, "queue full") || !strings.Contains(out, "priority:") {
		t.Errorf("unexpected console output: %q", out)
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("discarded")
	l.WithComponent("x").Error("discarded")
}

func TestGlobalLogger(t *testing.T) {
	prev := globalLogger
	defer SetGlobalLogger(prev)

	globalLogger = nil
	if GetGlobalLogger() == nil {
		t.Fatal("expected default global logger to be created")
	}

	l := NewNop()
	SetGlobalLogger(l)
	if GetGlobalLogger() != l {
		t.Error("expected SetGlobalLogger to set the global logger")
	}
	Debug("debug msg")
	Info("info msg")
	Warn("warn msg")
	Error("error msg")
	if WithComponent("x") == nil {
		t.Error("expected component logger")
	}

	Init(Config{Level: "debug"}, "svc")
	if GetGlobalLogger().service != "svc" {
		t.Errorf("expected Init to install a logger for svc")
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Level != "info" || cfg.Format != "json" || cfg.Output != "stdout" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Level: "debug", Format: "json"}, false},
		{"pretty", Config{Level: "info", Format: "pretty"}, false},
		{"bad level", Config{Level: "loud", Format: "json"}, true},
		{"bad format", Config{Level: "info", Format: "xml"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("expected error=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRegisterAndGet(t *testing.T) {
	l := NewNop()
	Register("queue", l)
	if Get("queue") != l {
		t.Error("expected registered logger")
	}
	if Get("unregistered-component") == nil {
		t.Error("expected fallback logger for unregistered name")
	}
}

func TestFields(t *testing.T) {
	f := Fields("a", 1, "b", "two", 3, "ignored", "dangling")
	if len(f) != 2 || f["a"] != 1 || f["b"] != "two" {
		t.Errorf("unexpected fields: %v", f)
	}
}

func TestHelperFields(t *testing.T) {
	ef := ErrorFields("dequeue", errors.New("empty"))
	if ef[FieldOperation] != "dequeue" || ef[FieldError] != "empty" {
		t.Errorf("unexpected error fields: %v", ef)
	}

	df := DurationFields("execute", 1500*time.Millisecond)
	if df[FieldDuration] != int64(1500) {
		t.Errorf("unexpected duration fields: %v", df)
	}

	mf := MergeWithError(nil, errors.New("x"))
	if mf[FieldError] != "x" {
		t.Errorf("unexpected merged fields: %v", mf)
	}
}
