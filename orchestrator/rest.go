package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"

	apperrors "github.com/kbukum/tradeguard/errors"
	"github.com/kbukum/tradeguard/logger"
	"github.com/kbukum/tradeguard/observability"
	"github.com/kbukum/tradeguard/task"
	"github.com/kbukum/tradeguard/validation"
)

// maxResponseBody bounds how much of a response body is read.
const maxResponseBody = 10 << 20

// RequestConfig carries per-request options for the verb helpers.
type RequestConfig struct {
	// Headers are merged over the configured default headers.
	Headers map[string]string
	// Query parameters are added to the URL. For GET and DELETE a map
	// payload is sent as query parameters too.
	Query map[string]string
	// Type classifies the task for market-condition boosting.
	Type string
	// Weight is the number of rate-limit tokens the call consumes.
	Weight int
	// NoDedup disables deduplication of identical pending requests.
	NoDedup bool
	// MaxRetries overrides the configured retry budget when non-nil.
	MaxRetries *int
}

// Response is the result of a successful verb-helper request.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("orchestrator: decode response: %w", err)
	}
	return nil
}

// APIError is an exchange error response. It carries both the HTTP status
// and the venue error code so the classifier can use whichever is known.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange error %d (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("exchange error (HTTP %d): %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status.
func (e *APIError) StatusCode() int { return e.Status }

// ExchangeCode returns the venue error code, or 0 when the body had none.
func (e *APIError) ExchangeCode() int { return e.Code }

// Get enqueues a GET request. The handle resolves to a *Response.
func (o *Orchestrator) Get(rawURL string, data any, cfg RequestConfig, description string, priority task.Priority) *task.Handle {
	return o.request(http.MethodGet, rawURL, data, cfg, description, priority, false)
}

// Post enqueues a POST request with data as the JSON body.
func (o *Orchestrator) Post(rawURL string, data any, cfg RequestConfig, description string, priority task.Priority) *task.Handle {
	return o.request(http.MethodPost, rawURL, data, cfg, description, priority, false)
}

// Put enqueues a PUT request with data as the JSON body.
func (o *Orchestrator) Put(rawURL string, data any, cfg RequestConfig, description string, priority task.Priority) *task.Handle {
	return o.request(http.MethodPut, rawURL, data, cfg, description, priority, false)
}

// Delete enqueues a DELETE request.
func (o *Orchestrator) Delete(rawURL string, data any, cfg RequestConfig, description string, priority task.Priority) *task.Handle {
	return o.request(http.MethodDelete, rawURL, data, cfg, description, priority, false)
}

// AuthGet is Get signed by the configured signer when the request is sent.
func (o *Orchestrator) AuthGet(rawURL string, data any, cfg RequestConfig, description string, priority task.Priority) *task.Handle {
	return o.request(http.MethodGet, rawURL, data, cfg, description, priority, true)
}

// AuthPost is Post signed by the configured signer when the request is sent.
func (o *Orchestrator) AuthPost(rawURL string, data any, cfg RequestConfig, description string, priority task.Priority) *task.Handle {
	return o.request(http.MethodPost, rawURL, data, cfg, description, priority, true)
}

// AuthPut is Put signed by the configured signer when the request is sent.
func (o *Orchestrator) AuthPut(rawURL string, data any, cfg RequestConfig, description string, priority task.Priority) *task.Handle {
	return o.request(http.MethodPut, rawURL, data, cfg, description, priority, true)
}

// AuthDelete is Delete signed by the configured signer when the request is sent.
func (o *Orchestrator) AuthDelete(rawURL string, data any, cfg RequestConfig, description string, priority task.Priority) *task.Handle {
	return o.request(http.MethodDelete, rawURL, data, cfg, description, priority, true)
}

func (o *Orchestrator) request(method, rawURL string, data any, cfg RequestConfig, description string, priority task.Priority, signed bool) *task.Handle {
	target := o.resolveURL(rawURL)
	v := validation.New().
		Required("url", rawURL).
		AbsoluteURL("url", target).
		Custom(!signed || o.signer != nil, "signer", "authenticated requests need a signer")
	if appErr := v.Validate(); appErr != nil {
		return o.rejected(description, priority, appErr)
	}

	u, err := url.Parse(target)
	if err != nil {
		return o.rejected(description, priority, apperrors.InvalidInput("url", err.Error()))
	}
	query := queryParams(method, data, cfg.Query)

	exec := func(ctx context.Context) (any, error) {
		req, err := o.buildRequest(ctx, method, u, data, query, cfg)
		if err != nil {
			return nil, err
		}
		if signed {
			if err := o.signer.Sign(req); err != nil {
				return nil, apperrors.Authentication("signing failed").WithCause(err)
			}
		}
		return o.send(ctx, req)
	}

	return o.Enqueue(exec, description, priority, task.Options{
		Endpoint:   u.Path,
		Method:     method,
		Params:     signatureParams(method, data, query),
		Type:       cfg.Type,
		Weight:     cfg.Weight,
		NoDedup:    cfg.NoDedup,
		MaxRetries: cfg.MaxRetries,
	})
}

// rejected returns an already-rejected handle for a request that never
// reached the queue.
func (o *Orchestrator) rejected(description string, priority task.Priority, err *apperrors.AppError) *task.Handle {
	h := task.New(nil, description, priority, task.Options{}, o.clock.Now()).Handle()
	h.Reject(err)
	o.metrics.RecordReject(context.Background(), string(err.Code))
	o.log.Warn("request rejected", logger.Fields("description", description, logger.FieldError, err.Error()))
	return h
}

func (o *Orchestrator) resolveURL(rawURL string) string {
	if o.config.BaseURL == "" || strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	return strings.TrimRight(o.config.BaseURL, "/") + "/" + strings.TrimLeft(rawURL, "/")
}

// buildRequest is called at execution time so that headers and signatures
// reflect the moment the request leaves, not when it was queued.
func (o *Orchestrator) buildRequest(ctx context.Context, method string, u *url.URL, data any, query map[string]string, cfg RequestConfig) (*http.Request, error) {
	target := *u
	q := target.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	target.RawQuery = q.Encode()

	var body io.Reader
	if hasBody(method) && data != nil {
		switch d := data.(type) {
		case []byte:
			body = bytes.NewReader(d)
		case string:
			body = strings.NewReader(d)
		default:
			raw, err := json.Marshal(d)
			if err != nil {
				return nil, apperrors.InvalidInput("data", err.Error())
			}
			body = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, apperrors.InvalidInput("request", err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range o.config.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// send performs the call and classifies a failure once, here.
func (o *Orchestrator) send(ctx context.Context, req *http.Request) (*Response, error) {
	ctx, span := o.tracer.Start(ctx, observability.SpanHTTPRequest, trace.WithAttributes(
		attribute.String(observability.AttrMethod, req.Method),
		attribute.String(observability.AttrEndpoint, req.URL.Path),
	))
	resp, err := o.client.Do(req.WithContext(ctx))
	if err != nil {
		classified := apperrors.Classify(err)
		observability.EndSpan(span, classified)
		return nil, classified
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int(observability.AttrStatusCode, resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		classified := apperrors.Network(fmt.Errorf("read response body: %w", err))
		observability.EndSpan(span, classified)
		return nil, classified
	}

	if resp.StatusCode >= http.StatusBadRequest {
		classified := classifyResponse(resp.StatusCode, body)
		observability.EndSpan(span, classified)
		return nil, classified
	}
	observability.EndSpan(span, nil)
	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// classifyResponse prefers the venue error code in a JSON body over the
// bare HTTP status.
func classifyResponse(status int, body []byte) *apperrors.AppError {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == 0 {
		return apperrors.FromHTTPStatus(status, body)
	}
	return apperrors.Classify(apiErr)
}

// queryParams merges the explicit query with a map payload of a method
// that sends no body.
func queryParams(method string, data any, query map[string]string) map[string]string {
	out := make(map[string]string, len(query))
	for k, v := range query {
		out[k] = v
	}
	if hasBody(method) {
		return out
	}
	switch m := data.(type) {
	case map[string]any:
		for k, v := range m {
			out[k] = fmt.Sprint(v)
		}
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// signatureParams identifies a request for deduplication: its query plus,
// for methods with a body, the body itself.
func signatureParams(method string, data any, query map[string]string) map[string]any {
	params := make(map[string]any, len(query)+1)
	for k, v := range query {
		params[k] = v
	}
	if !hasBody(method) || data == nil {
		return params
	}
	switch d := data.(type) {
	case map[string]any:
		for k, v := range d {
			params["body."+k] = v
		}
	case []byte:
		params["body"] = string(d)
	case string:
		params["body"] = d
	default:
		if raw, err := json.Marshal(d); err == nil {
			params["body"] = string(raw)
		}
	}
	return params
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// newHTTPClient returns a client whose transport negotiates HTTP/2.
func newHTTPClient(timeout time.Duration, log *logger.Logger) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if err := http2.ConfigureTransport(transport); err != nil {
		// The clone may already carry the h2 upgrade.
		log.Debug("http2 transport not configured", logger.Fields(logger.FieldError, err.Error()))
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}
