package errors

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// StatusCoder is implemented by executor errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// ExchangeCoder is implemented by executor errors that carry a venue-specific
// numeric error code (e.g. -1003 for "too many requests").
type ExchangeCoder interface {
	ExchangeCode() int
}

// Exchange error codes with a fixed meaning across the supported venues.
var exchangeCodes = map[int]ErrorCode{
	-1003: ErrCodeRateLimit,      // too many requests
	-1015: ErrCodeRateLimit,      // too many new orders
	-1007: ErrCodeTimeout,        // backend timeout, status unknown
	-1001: ErrCodeServer,         // internal disconnect
	-1000: ErrCodeUnknown,        // unknown
	-1021: ErrCodeAuthentication, // timestamp outside recvWindow
	-1022: ErrCodeAuthentication, // invalid signature
	-2014: ErrCodeAuthentication, // bad API key format
	-2015: ErrCodeAuthentication, // invalid key, IP or permissions
}

// messageHints is only consulted for errors that carry no structured signal.
var messageHints = []struct {
	code     ErrorCode
	keywords []string
}{
	{ErrCodeRateLimit, []string{"rate limit", "too many requests", "429", "throttl"}},
	{ErrCodeTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrCodeAuthentication, []string{"unauthorized", "forbidden", "signature", "api key", "api-key"}},
	{ErrCodeNetwork, []string{"connection refused", "connection reset", "no such host", "network", "broken pipe", "eof"}},
	{ErrCodeServer, []string{"internal server error", "bad gateway", "service unavailable", "502", "503"}},
}

// Classify maps an executor failure onto the taxonomy. It is called exactly
// once, at the point the failure is observed; an *AppError passes through
// unchanged so repeated calls are harmless.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return Timeout("request").WithCause(err)
	case stderrors.Is(err, context.Canceled):
		return Cancelled("request context cancelled").WithCause(err)
	}

	var ec ExchangeCoder
	if stderrors.As(err, &ec) {
		if code, ok := exchangeCodes[ec.ExchangeCode()]; ok {
			return fromCode(code, 0, err).WithDetail("exchange_code", ec.ExchangeCode())
		}
	}

	var sc StatusCoder
	if stderrors.As(err, &sc) {
		if classified := FromHTTPStatus(sc.StatusCode(), nil); classified != nil {
			return classified.WithCause(err)
		}
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout("request").WithCause(err)
		}
		return Network(err)
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return Network(err)
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range messageHints {
		for _, kw := range hint.keywords {
			if strings.Contains(msg, kw) {
				return fromCode(hint.code, 0, err)
			}
		}
	}
	return Unknown(err)
}

// FromHTTPStatus classifies an upstream HTTP status. It returns nil for
// non-error statuses.
func FromHTTPStatus(status int, body []byte) *AppError {
	if status < http.StatusBadRequest {
		return nil
	}

	var e *AppError
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		// 418 is the auto-ban some venues send after ignoring 429s.
		e = RateLimited("")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = Authentication("")
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e = Timeout("request")
	case status >= http.StatusInternalServerError:
		e = Server(status, nil)
	default:
		e = Unknown(nil)
		e.Message = http.StatusText(status)
	}
	e.HTTPStatus = status
	if len(body) > 0 {
		e.WithDetail("body", truncate(string(body), 512))
	}
	return e
}

func fromCode(code ErrorCode, status int, cause error) *AppError {
	var e *AppError
	switch code {
	case ErrCodeRateLimit:
		e = RateLimited("")
	case ErrCodeTimeout:
		e = Timeout("request")
	case ErrCodeNetwork:
		e = Network(nil)
	case ErrCodeAuthentication:
		e = Authentication("")
	case ErrCodeServer:
		e = Server(status, nil)
	default:
		e = Unknown(nil)
	}
	if cause != nil {
		e.Cause = cause
		if code == ErrCodeUnknown {
			e.Message = cause.Error()
		}
	}
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
