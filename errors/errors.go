package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is the unified gateway error type.
type AppError struct {
	// Code is the classified error kind.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the orchestrator may retry the operation.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the upstream status code, or the recommended one for gateway errors.
	HTTPStatus int `json:"http_status,omitempty"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is matches another *AppError by code, so sentinel comparisons work:
//
//	errors.Is(err, errors.New(errors.ErrCodeCircuitOpen, "", 0))
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// CodeOf returns the error kind carried by err, or ErrCodeUnknown when err
// was never classified. It never inspects the error text.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// IsRetryable reports whether err is a classified, retryable failure.
func IsRetryable(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Retryable
}

// --- Executor failure constructors ---

// RateLimited creates an error for an upstream throttle response.
func RateLimited(message string) *AppError {
	if message == "" {
		message = "Exchange rate limit exceeded."
	}
	return &AppError{
		Code: ErrCodeRateLimit, Message: message,
		HTTPStatus: http.StatusTooManyRequests, Retryable: false,
	}
}

// Timeout creates an error for a request that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: "The request took too long.",
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// Network creates an error for a transport-level failure.
func Network(cause error) *AppError {
	return &AppError{
		Code: ErrCodeNetwork, Message: "Unable to reach the exchange.",
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true, Cause: cause,
	}
}

// Authentication creates an error for rejected credentials.
func Authentication(reason string) *AppError {
	if reason == "" {
		reason = "Authentication rejected by the exchange."
	}
	return &AppError{
		Code: ErrCodeAuthentication, Message: reason,
		HTTPStatus: http.StatusUnauthorized, Retryable: false,
	}
}

// Server creates an error for an exchange-side failure.
func Server(status int, cause error) *AppError {
	if status == 0 {
		status = http.StatusBadGateway
	}
	return &AppError{
		Code: ErrCodeServer, Message: fmt.Sprintf("The exchange failed with HTTP %d.", status),
		HTTPStatus: status, Retryable: true, Cause: cause,
	}
}

// Unknown wraps an unclassifiable failure.
func Unknown(cause error) *AppError {
	msg := "An unexpected error occurred."
	if cause != nil {
		msg = cause.Error()
	}
	return &AppError{
		Code: ErrCodeUnknown, Message: msg,
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// --- Orchestration constructors ---

// QueueFull creates an error for a task rejected or evicted by backpressure.
func QueueFull(reason string) *AppError {
	return &AppError{
		Code: ErrCodeQueueFull, Message: reason,
		HTTPStatus: http.StatusServiceUnavailable, Retryable: false,
	}
}

// CircuitOpen creates an error for a call rejected by an open breaker.
func CircuitOpen(name string) *AppError {
	return &AppError{
		Code: ErrCodeCircuitOpen, Message: fmt.Sprintf("Circuit %s is open.", name),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: false,
		Details: map[string]any{"circuit": name},
	}
}

// TokenWaitTimeout creates an error for a request that could not be admitted in time.
func TokenWaitTimeout(requested float64, waited string) *AppError {
	return &AppError{
		Code: ErrCodeTokenWaitTimeout, Message: "Timed out waiting for rate-limit tokens.",
		HTTPStatus: http.StatusTooManyRequests, Retryable: false,
		Details: map[string]any{"requested": requested, "waited": waited},
	}
}

// Cancelled creates an error for a task removed before execution.
func Cancelled(reason string) *AppError {
	if reason == "" {
		reason = "Task cancelled."
	}
	return &AppError{
		Code: ErrCodeCancelled, Message: reason,
		HTTPStatus: 499, Retryable: false,
	}
}

// InvalidInput creates an error for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// Validation creates an error for configuration or request validation failures.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}
