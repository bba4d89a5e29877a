package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced by classification and response handling.
var (
	// ErrInvalidCommand is returned for command names outside the registry.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrMissingCredentials is returned when a private command or the
	// account channel is used without an API key and secret.
	ErrMissingCredentials = errors.New("api key and secret required")
	// ErrMissingParameter is returned when a required command parameter is absent.
	ErrMissingParameter = errors.New("missing required parameter")
	// ErrInvalidResponse is returned when the exchange sends a payload that
	// is not valid JSON. Malformed payloads are never retried.
	ErrInvalidResponse = errors.New("invalid json response")
	// ErrNotConnected is returned when the push feed socket is not connected.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrUnknownChannel is returned for channel names outside the feed registry.
	ErrUnknownChannel = errors.New("unknown channel")
)

// ExchangeError is a fatal business-level rejection from the exchange.
// The message is the exchange's error text, verbatim. Never retried.
type ExchangeError struct {
	Message string
}

// Error returns the exchange's error text unchanged.
func (e *ExchangeError) Error() string {
	return e.Message
}

// TransientError marks a failure the retry policy may re-attempt: gateway
// flakiness, network errors, and the exchange's known recoverable error
// messages. It never surfaces to a caller; the retry loop resolves it into
// success, an ExchangeError, or a RetryExhaustedError.
type TransientError struct {
	Reason string
	Cause  error
}

// Error formats the reason with the underlying cause, when present.
func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return e.Reason
}

// Unwrap returns the underlying cause.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError wraps a failure as retryable.
func NewTransientError(reason string, cause error) *TransientError {
	return &TransientError{Reason: reason, Cause: cause}
}

// RetryExhaustedError reports that transient failures persisted past the
// backoff budget. Problems holds every failure in attempt order.
type RetryExhaustedError struct {
	Problems []error
}

// Error summarizes the exhausted schedule and the final failure.
func (e *RetryExhaustedError) Error() string {
	if len(e.Problems) == 0 {
		return "retry delays exhausted"
	}
	return fmt.Sprintf("retry delays exhausted after %d attempts: %v",
		len(e.Problems), e.Problems[len(e.Problems)-1])
}

// Unwrap exposes the accumulated failures to errors.Is and errors.As.
func (e *RetryExhaustedError) Unwrap() []error {
	return e.Problems
}

// IsTransient reports whether the retry policy may re-attempt after err.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsExchangeRejection reports whether err is a fatal rejection from the
// exchange (as opposed to a local or transport failure).
func IsExchangeRejection(err error) bool {
	var e *ExchangeError
	return errors.As(err, &e)
}

// IsRetryExhausted reports whether err is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var e *RetryExhaustedError
	return errors.As(err, &e)
}

// The two recoverable exchange error messages; matching is case-insensitive
// substring, per the wire contract.
const (
	nonceMarker    = "nonce must be greater"
	tryAgainMarker = "please try again"
)

// IsNonceRejection reports whether the exchange error text says the nonce
// was not large enough.
func IsNonceRejection(message string) bool {
	return strings.Contains(strings.ToLower(message), nonceMarker)
}

// IsBusyRejection reports whether the exchange error text asks the client
// to try again.
func IsBusyRejection(message string) bool {
	return strings.Contains(strings.ToLower(message), tryAgainMarker)
}
