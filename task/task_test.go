package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"CRITICAL", PriorityCritical, false},
		{"high", PriorityHigh, false},
		{" Medium ", PriorityMedium, false},
		{"", PriorityMedium, false},
		{"low", PriorityLow, false},
		{"urgent", PriorityMedium, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePriority(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestPriority_Ordering(t *testing.T) {
	if !PriorityCritical.Higher(PriorityHigh) || !PriorityMedium.Higher(PriorityLow) {
		t.Error("lower values must be served first")
	}
	if PriorityLow.Promote() != PriorityMedium || PriorityMedium.Promote() != PriorityHigh {
		t.Error("Promote should move one level up")
	}
	if PriorityCritical.Promote() != PriorityCritical {
		t.Error("CRITICAL cannot be promoted further")
	}
	if Priority(7).Valid() {
		t.Error("out of range priority reported valid")
	}
}

func TestPriority_TextRoundTrip(t *testing.T) {
	var p Priority
	if err := p.UnmarshalText([]byte("high")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	text, _ := p.MarshalText()
	if string(text) != "HIGH" {
		t.Errorf("expected HIGH, got %s", text)
	}
}

func TestNew_Defaults(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tk := New(nil, "ticker", Priority(42), Options{Method: "get", Endpoint: "/api/v3/ticker"}, now)

	if tk.Priority() != PriorityMedium || tk.Declared != PriorityMedium {
		t.Errorf("invalid priority should fall back to MEDIUM, got %s", tk.Priority())
	}
	if tk.Weight != 1 {
		t.Errorf("expected default weight 1, got %d", tk.Weight)
	}
	if tk.Method != "GET" {
		t.Errorf("expected upper-cased method, got %s", tk.Method)
	}
	if tk.Signature == "" {
		t.Error("expected a signature for a task with an endpoint")
	}
	if tk.ID == "" || tk.Handle().TaskID() != tk.ID {
		t.Error("handle must carry the task id")
	}
	if _, err := tk.Run(context.Background()); err == nil {
		t.Error("expected an error for a task without executor")
	}
	if got := tk.Age(now.Add(3 * time.Second)); got != 3*time.Second {
		t.Errorf("expected age 3s, got %s", got)
	}
}

func TestNew_NoSignatureWithoutEndpoint(t *testing.T) {
	tk := New(func(context.Context) (any, error) { return nil, nil }, "custom", PriorityLow, Options{}, time.Now())
	if tk.Signature != "" {
		t.Errorf("expected empty signature, got %q", tk.Signature)
	}
}

func TestSignature(t *testing.T) {
	a := Signature("GET", "/api/v3/depth", map[string]any{"symbol": "BTCUSDT", "limit": 100})
	b := Signature("get", "/api/v3/depth", map[string]any{"limit": 100, "symbol": "BTCUSDT"})
	if a != b {
		t.Errorf("signature should ignore key order and method case: %s != %s", a, b)
	}

	c := Signature("GET", "/api/v3/depth", map[string]any{"symbol": "ETHUSDT", "limit": 100})
	if a == c {
		t.Error("different params must produce different signatures")
	}
	d := Signature("POST", "/api/v3/depth", map[string]any{"symbol": "BTCUSDT", "limit": 100})
	if a == d {
		t.Error("different methods must produce different signatures")
	}
}

func TestTask_PromoteBase(t *testing.T) {
	tk := New(nil, "poll", PriorityLow, Options{}, time.Now())

	if got := tk.PromoteBase(PriorityMedium); got != PriorityMedium {
		t.Errorf("expected MEDIUM, got %s", got)
	}
	if tk.Priority() != PriorityMedium {
		t.Errorf("effective priority should follow the base up, got %s", tk.Priority())
	}

	tk.SetPriority(PriorityCritical)
	tk.PromoteBase(PriorityHigh)
	if tk.Priority() != PriorityCritical {
		t.Errorf("promotion must not lower a boosted priority, got %s", tk.Priority())
	}
	if tk.BasePriority() != PriorityHigh {
		t.Errorf("expected base HIGH, got %s", tk.BasePriority())
	}
	if got := tk.PromoteBase(PriorityLow); got != PriorityHigh {
		t.Errorf("promotion must never lower the base, got %s", got)
	}
	if tk.Promotions() != 3 {
		t.Errorf("expected 3 promotions, got %d", tk.Promotions())
	}
	if tk.Declared != PriorityLow {
		t.Errorf("declared priority must not change, got %s", tk.Declared)
	}
}

func TestTask_RaiseBase(t *testing.T) {
	tk := New(nil, "open orders", PriorityLow, Options{}, time.Now())

	if !tk.RaiseBase(PriorityCritical) {
		t.Fatal("expected the base to be raised")
	}
	if tk.BasePriority() != PriorityCritical || tk.Priority() != PriorityCritical {
		t.Errorf("expected CRITICAL, got %s (base %s)", tk.Priority(), tk.BasePriority())
	}
	if tk.RaiseBase(PriorityHigh) || tk.RaiseBase(Priority(9)) {
		t.Error("a lower or invalid priority must not change the base")
	}
	if tk.Promotions() != 0 {
		t.Errorf("raising is not an aging promotion, got %d", tk.Promotions())
	}
}

func TestTask_Retries(t *testing.T) {
	tk := New(nil, "retry", PriorityHigh, Options{}, time.Now())
	tk.IncRetries()
	if got := tk.IncRetries(); got != 2 || tk.Retries() != 2 {
		t.Errorf("expected 2 retries, got %d", got)
	}
}

func TestHandle_SettlesOnce(t *testing.T) {
	h := NewHandle("t1")

	if h.Settled() {
		t.Fatal("new handle should be pending")
	}
	if _, ok := h.Outcome(); ok {
		t.Fatal("pending handle has no outcome")
	}

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				wins <- h.Resolve(i)
			} else {
				wins <- h.Reject(errors.New("late"))
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for w := range wins {
		if w {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one settle to win, got %d", count)
	}
	if !h.Settled() {
		t.Error("handle should be settled")
	}
}

func TestHandle_Wait(t *testing.T) {
	h := NewHandle("t1")
	go h.Resolve("filled")

	v, err := h.Wait(context.Background())
	if err != nil || v != "filled" {
		t.Errorf("expected filled, got %v / %v", v, err)
	}
}

func TestHandle_WaitContext(t *testing.T) {
	h := NewHandle("t1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if h.Settled() {
		t.Error("cancelling the wait must not settle the handle")
	}
}

func TestAwait(t *testing.T) {
	type order struct{ ID int64 }

	h := NewHandle("t1")
	h.Resolve(order{ID: 7})
	got, err := Await[order](context.Background(), h)
	if err != nil || got.ID != 7 {
		t.Errorf("expected order 7, got %+v / %v", got, err)
	}

	if _, err := Await[string](context.Background(), h); err == nil {
		t.Error("expected a type error")
	}

	failed := NewHandle("t2")
	failed.Reject(errors.New("boom"))
	if _, err := Await[order](context.Background(), failed); err == nil || err.Error() != "boom" {
		t.Errorf("expected boom, got %v", err)
	}

	empty := NewHandle("t3")
	empty.Resolve(nil)
	if got, err := Await[*order](context.Background(), empty); err != nil || got != nil {
		t.Errorf("expected nil result, got %v / %v", got, err)
	}
}
