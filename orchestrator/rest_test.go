package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	apperrors "github.com/kbukum/tradeguard/errors"
	"github.com/kbukum/tradeguard/signing"
	"github.com/kbukum/tradeguard/task"
)

func awaitResponse(t *testing.T, h *task.Handle) *Response {
	t.Helper()
	resp, err := task.Await[*Response](context.Background(), h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func TestOrchestrator_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/api/v3/ticker/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("expected symbol=BTCUSDT, got %q", got)
		}
		if got := r.Header.Get("X-Client"); got != "tradeguard" {
			t.Errorf("expected default header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"symbol": "BTCUSDT", "price": "64000.10"})
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, clock.NewMock(), func(c *Config) {
		c.BaseURL = srv.URL
		c.Headers = map[string]string{"X-Client": "tradeguard"}
	})
	h := o.Get("/api/v3/ticker/price", map[string]any{"symbol": "BTCUSDT"}, RequestConfig{}, "price", task.PriorityHigh)
	o.ProcessNext(context.Background())

	resp := awaitResponse(t, h)
	var body struct {
		Price string `json:"price"`
	}
	if err := resp.Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Price != "64000.10" {
		t.Errorf("expected price 64000.10, got %q", body.Price)
	}
}

func TestOrchestrator_PostSendsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		raw, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(raw), `"side":"BUY"`) {
			t.Errorf("unexpected body %s", raw)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":42}`))
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, clock.NewMock(), nil)
	h := o.Post(srv.URL+"/api/v3/order", map[string]any{"symbol": "ETHUSDT", "side": "BUY"},
		RequestConfig{Type: "order"}, "place order", task.PriorityCritical)
	o.ProcessNext(context.Background())

	resp := awaitResponse(t, h)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}
}

func TestOrchestrator_PostsWithDifferentBodiesAreNotMerged(t *testing.T) {
	o := newTestOrchestrator(t, clock.NewMock(), nil)
	h1 := o.Post("https://api.example.com/order", map[string]any{"qty": 1}, RequestConfig{}, "a", task.PriorityHigh)
	h2 := o.Post("https://api.example.com/order", map[string]any{"qty": 2}, RequestConfig{}, "b", task.PriorityHigh)
	if h1 == h2 {
		t.Error("requests with different bodies must not be deduplicated")
	}
	h3 := o.Post("https://api.example.com/order", map[string]any{"qty": 1}, RequestConfig{}, "c", task.PriorityHigh)
	if h1 != h3 {
		t.Error("identical requests should be deduplicated")
	}
}

func TestOrchestrator_AuthGetSignsAtSendTime(t *testing.T) {
	mock := clock.NewMock()
	signer := signing.NewHMACSigner(signing.HMACConfig{APIKey: "key", Secret: "secret"}, mock)

	var gotTimestamp string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-MBX-APIKEY"); got != "key" {
			t.Errorf("expected api key header, got %q", got)
		}
		q := r.URL.Query()
		if q.Get("signature") == "" {
			t.Error("expected a signature")
		}
		gotTimestamp = q.Get("timestamp")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, mock, nil, WithSigner(signer))
	h := o.AuthGet(srv.URL+"/api/v3/account", nil, RequestConfig{}, "account", task.PriorityHigh)

	// The task waits in the queue; the timestamp must reflect the send time.
	mock.Add(90 * time.Second)
	o.ProcessNext(context.Background())
	awaitResponse(t, h)

	if gotTimestamp != "90000" {
		t.Errorf("expected timestamp from send time (90000), got %q", gotTimestamp)
	}
}

func TestOrchestrator_AuthWithoutSigner(t *testing.T) {
	o := newTestOrchestrator(t, clock.NewMock(), nil)
	h := o.AuthPost("https://api.example.com/order", nil, RequestConfig{}, "order", task.PriorityCritical)
	rejectedWith(t, h, apperrors.ErrCodeInvalidInput)
	if o.queue.Len() != 0 {
		t.Error("rejected request must not be queued")
	}
}

func TestOrchestrator_RelativeURLWithoutBase(t *testing.T) {
	o := newTestOrchestrator(t, clock.NewMock(), nil)
	h := o.Get("/api/v3/time", nil, RequestConfig{}, "time", task.PriorityLow)
	rejectedWith(t, h, apperrors.ErrCodeInvalidInput)
}

func TestOrchestrator_ClassifiesErrorResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   apperrors.ErrorCode
	}{
		{"throttled", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, apperrors.ErrCodeRateLimit},
		{"banned", http.StatusTeapot, ``, apperrors.ErrCodeRateLimit},
		{"recv window", http.StatusBadRequest, `{"code":-1021,"msg":"Timestamp outside recvWindow"}`, apperrors.ErrCodeAuthentication},
		{"unauthorized", http.StatusUnauthorized, `{"msg":"denied"}`, apperrors.ErrCodeAuthentication},
		{"server", http.StatusServiceUnavailable, `maintenance`, apperrors.ErrCodeServer},
		{"gateway timeout", http.StatusGatewayTimeout, ``, apperrors.ErrCodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			o := newTestOrchestrator(t, clock.NewMock(), func(c *Config) { c.Retry.MaxRetries = 0 })
			h := o.Get(srv.URL+"/api/v3/order", nil, RequestConfig{NoDedup: true}, tt.name, task.PriorityHigh)
			o.ProcessNext(context.Background())
			rejectedWith(t, h, tt.code)
		})
	}
}

func TestOrchestrator_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	o := newTestOrchestrator(t, clock.NewMock(), func(c *Config) { c.Retry.MaxRetries = 0 })
	h := o.Get(url+"/ping", nil, RequestConfig{}, "ping", task.PriorityLow)
	o.ProcessNext(context.Background())
	rejectedWith(t, h, apperrors.ErrCodeNetwork)
}

func TestClassifyResponse(t *testing.T) {
	err := classifyResponse(http.StatusBadRequest, []byte(`{"code":-2015,"msg":"Invalid API-key"}`))
	if err.Code != apperrors.ErrCodeAuthentication {
		t.Fatalf("expected AUTHENTICATION_ERROR, got %s", err.Code)
	}
	if got := err.Details["exchange_code"]; got != -2015 {
		t.Errorf("expected exchange_code detail -2015, got %v", got)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("expected the APIError cause to be preserved, got %v", err.Cause)
	}
}
