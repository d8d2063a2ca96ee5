package resilientbridge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is matched by every *CircuitOpenError via errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// TransportError is a network or timeout failure. It is retried.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was an attempt deadline.
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	if errors.As(e.Err, &t) && t.Timeout() {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// StatusError is returned when a response status fails the validation
// predicate. The response is kept for inspection.
type StatusError struct {
	StatusCode int
	Response   *Response
}

func (e *StatusError) Error() string {
	if e.Response != nil && e.Response.Request != nil {
		return fmt.Sprintf("request %s %s failed with status %d", e.Response.Request.Method, e.Response.Request.URL, e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// CircuitOpenError is returned without contacting the remote target while the
// breaker is open, or while a half-open probe is already in flight.
type CircuitOpenError struct {
	State       CircuitState
	NextAttempt time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.NextAttempt.IsZero() {
		return fmt.Sprintf("circuit breaker is %s", e.State)
	}
	return fmt.Sprintf("circuit breaker is %s until %s", e.State, e.NextAttempt.Format(time.RFC3339Nano))
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// ValidationError reports a request rejected before dispatch, for example a
// GraphQL query exceeding its shape limits. It is never retried.
type ValidationError struct {
	Field  string
	Limit  int
	Actual int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %d exceeds maximum %d", e.Field, e.Actual, e.Limit)
}

// BatchError fails every key of one batch dispatch.
type BatchError struct {
	Size int
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch of %d keys failed: %v", e.Size, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// RetryError is the terminal failure of a retried call. It unwraps to the last
// attempt's error.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }
