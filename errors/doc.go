// Package errors defines the gateway's error taxonomy.
//
// Executor failures are classified once, with Classify or FromHTTPStatus,
// into one of RATE_LIMIT, TIMEOUT, NETWORK_ERROR, AUTHENTICATION_ERROR,
// SERVER_ERROR or UNKNOWN_ERROR. The gateway itself produces QUEUE_FULL,
// CIRCUIT_OPEN, TOKEN_WAIT_TIMEOUT and CANCELLED. Downstream code reads the
// code with CodeOf and never re-inspects error text.
package errors
