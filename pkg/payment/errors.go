package payment

import (
	"errors"
	"fmt"
	"strings"
)

// Submission and reconciliation errors.
// Submission errors are returned synchronously to the caller; polling errors
// are absorbed by the session and only surface as advisory observations.
var (
	// ErrInvalidRequest is returned when a payment request fails validation
	// (amount <= 0, bad precision, malformed currency). Not retried.
	ErrInvalidRequest = errors.New("payment: invalid request")

	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with different logical parameters. A new attempt with a fresh key is required.
	ErrIdempotencyConflict = errors.New("payment: idempotency conflict")

	// ErrSubmissionUnavailable is returned when the payment service could not be
	// reached. Safe to retry with the same idempotency key.
	ErrSubmissionUnavailable = errors.New("payment: submission unavailable")

	// ErrNotFound is returned when the payment service does not know a payment identifier
	ErrNotFound = errors.New("payment: not found")

	// ErrTransientPollFailure wraps any failed poll or match call. Retried on the next tick.
	ErrTransientPollFailure = errors.New("payment: transient poll failure")

	// ErrReconciliationTimeout is the advisory raised when a session exhausts its
	// poll-attempt budget without reaching a terminal state
	ErrReconciliationTimeout = errors.New("payment: reconciliation timeout")

	// ErrPollingDegraded is the advisory raised after too many consecutive transient failures
	ErrPollingDegraded = errors.New("payment: polling degraded")

	// ErrTimeout is returned when a single remote call exceeds its deadline
	ErrTimeout = errors.New("payment: call timeout")

	// ErrCircuitOpen is returned when the circuit breaker rejects a call
	ErrCircuitOpen = errors.New("payment: circuit breaker open")
)

// IsInvalidRequest reports whether err is a caller-side validation failure.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// IsIdempotencyConflict reports whether err is an idempotency key conflict.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyConflict)
}

// IsUnavailable reports whether err means the submission may be retried with the same key.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrSubmissionUnavailable)
}

// IsNotFound reports whether err indicates an unknown payment identifier.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err should be retried on the next poll tick.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientPollFailure) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrCircuitOpen)
}

// IsTimeout reports whether err is a per-call timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCircuitOpen reports whether err was produced by an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// ClassifyError returns a short label for err, used as a metrics label and in
// advisory observations so raw transport errors never leave the process.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, ErrSubmissionUnavailable):
		return "unavailable"
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case containsAny(msg, "connection", "connect", "dial", "eof"):
			return "connection"
		case containsAny(msg, "marshal", "unmarshal", "decode", "encode", "json"):
			return "serialization"
		case containsAny(msg, "deadline", "timeout"):
			return "timeout"
		default:
			return "other"
		}
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// WrapError adds the remote service and operation to err.
func WrapError(err error, service string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w", service, operation, err)
}
