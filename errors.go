package datasvc

import (
	"errors"
	"fmt"
	"time"
)

// Error type constants classifying every failure the facade can surface.
const (
	// ErrorTypeUnknownFeature marks a feature with no registered endpoint.
	// Misconfiguration: fatal, never retried.
	ErrorTypeUnknownFeature = "UnknownFeature"

	// ErrorTypeTransport marks a network-level failure where no response
	// reached the server. Retryable.
	ErrorTypeTransport = "TransportFailure"

	// ErrorTypeServer marks a 5xx response. Retryable.
	ErrorTypeServer = "ServerError"

	// ErrorTypeRateLimited marks a 429 response. Retryable.
	ErrorTypeRateLimited = "RateLimited"

	// ErrorTypeClient marks a non-429 4xx response. Terminal.
	ErrorTypeClient = "ClientError"

	// ErrorTypeUnsupportedProtocol marks a call routed to the WebSocket
	// driver, which is retained only as a typed failure. Terminal.
	ErrorTypeUnsupportedProtocol = "UnsupportedProtocol"

	// ErrorTypeStreamTimeout marks an SSE collection ended by the
	// inactivity timeout. Reported to telemetry; callers still receive
	// the partial event sequence.
	ErrorTypeStreamTimeout = "StreamTimeout"

	// ErrorTypeCircuitOpen marks a call rejected by the opt-in circuit
	// breaker. Terminal.
	ErrorTypeCircuitOpen = "CircuitOpen"

	// ErrorTypeThrottled marks a call rejected by the opt-in local token
	// bucket. Terminal. Distinct from RateLimited, which is the server's
	// 429 answer.
	ErrorTypeThrottled = "Throttled"

	// ErrorTypeValidation marks invalid construction-time configuration.
	ErrorTypeValidation = "Validation"

	// ErrorTypeShutdown marks a call rejected or abandoned because the
	// service was closed. Terminal.
	ErrorTypeShutdown = "Shutdown"
)

// Error is the structured error surfaced by every facade method. It carries
// enough context (status, feature, attempt counts) for callers to render a
// meaningful message and for telemetry to classify the failure.
type Error struct {
	Type        string
	Feature     string
	Message     string
	Method      string
	URL         string
	StatusCode  int
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
	Cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Feature != "" {
		msg = fmt.Sprintf("%s [feature=%s]", msg, e.Feature)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types so errors.Is(err, &Error{Type: ...}) works.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		return e.Type == t.Type
	}
	return false
}

// IsTransient reports whether an error represents a transient failure that
// may succeed on retry: transport failures, 5xx responses and 429s.
// Everything else (other 4xx, unknown features, unsupported protocols) is
// terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) {
		switch de.Type {
		case ErrorTypeTransport, ErrorTypeServer, ErrorTypeRateLimited:
			return true
		}
	}
	return false
}

func classifyStatus(status int) string {
	switch {
	case status >= 500:
		return ErrorTypeServer
	case status == 429:
		return ErrorTypeRateLimited
	default:
		return ErrorTypeClient
	}
}
