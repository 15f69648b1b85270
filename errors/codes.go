package errors

// ErrorCode represents a machine-readable error kind.
type ErrorCode string

// Executor failure kinds. These are assigned once, where the executor's
// failure is first observed.
const (
	// ErrCodeRateLimit indicates the exchange throttled the client.
	ErrCodeRateLimit ErrorCode = "RATE_LIMIT"
	// ErrCodeTimeout indicates the request did not complete in time.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeNetwork indicates a transport-level failure (DNS, refused, reset).
	ErrCodeNetwork ErrorCode = "NETWORK_ERROR"
	// ErrCodeAuthentication indicates rejected credentials or signature.
	ErrCodeAuthentication ErrorCode = "AUTHENTICATION_ERROR"
	// ErrCodeServer indicates a 5xx-class failure on the exchange side.
	ErrCodeServer ErrorCode = "SERVER_ERROR"
	// ErrCodeUnknown is the catch-all kind.
	ErrCodeUnknown ErrorCode = "UNKNOWN_ERROR"
)

// Orchestration kinds. They fail fast and are never retried internally.
const (
	// ErrCodeQueueFull indicates the task was rejected or evicted by backpressure.
	ErrCodeQueueFull ErrorCode = "QUEUE_FULL"
	// ErrCodeCircuitOpen indicates the breaker rejected the call.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// ErrCodeTokenWaitTimeout indicates admission control did not grant tokens in time.
	ErrCodeTokenWaitTimeout ErrorCode = "TOKEN_WAIT_TIMEOUT"
	// ErrCodeCancelled indicates the task was removed before it ran.
	ErrCodeCancelled ErrorCode = "CANCELLED"
	// ErrCodeInvalidInput indicates a malformed request or configuration.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

var transientCodes = map[ErrorCode]bool{
	ErrCodeTimeout: true,
	ErrCodeNetwork: true,
	ErrCodeServer:  true,
}

var orchestrationCodes = map[ErrorCode]bool{
	ErrCodeQueueFull:        true,
	ErrCodeCircuitOpen:      true,
	ErrCodeTokenWaitTimeout: true,
	ErrCodeCancelled:        true,
	ErrCodeInvalidInput:     true,
}

// IsRetryableCode returns true if the orchestrator may retry a failure of this kind.
// RATE_LIMIT is deliberately excluded: it throttles the bucket and opens the breaker instead.
func IsRetryableCode(code ErrorCode) bool {
	return transientCodes[code]
}

// IsOrchestrationCode reports whether the code originates in the gateway itself
// rather than in the downstream call.
func IsOrchestrationCode(code ErrorCode) bool {
	return orchestrationCodes[code]
}

// AllExecutorCodes lists the executor failure kinds in a stable order.
func AllExecutorCodes() []ErrorCode {
	return []ErrorCode{
		ErrCodeRateLimit,
		ErrCodeTimeout,
		ErrCodeNetwork,
		ErrCodeAuthentication,
		ErrCodeServer,
		ErrCodeUnknown,
	}
}
