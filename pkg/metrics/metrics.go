package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting reconciliation metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory, etc.).
type MetricsCollector interface {
	// Submission path. outcome is "success" or a payment.ClassifyError label.
	RecordSubmission(outcome string, duration time.Duration)

	// Remote reads. target is the service name, operation is "get_status" or "list_payouts".
	RecordCall(target, operation string, success bool, duration time.Duration)

	// Session state machine
	RecordTransition(from, to string)
	RecordAdvisory(kind string)
	RecordActiveSessions(count int)

	// Circuit breaker
	RecordCircuitState(target string, state CircuitState)

	// Snapshot writer
	RecordQueueDepth(depth int)
	RecordWriteDropped()
	RecordAsyncWrite(success bool, duration time.Duration)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordSubmission(outcome string, duration time.Duration)                  {}
func (NoOpCollector) RecordCall(target, operation string, success bool, duration time.Duration) {}
func (NoOpCollector) RecordTransition(from, to string)                                         {}
func (NoOpCollector) RecordAdvisory(kind string)                                               {}
func (NoOpCollector) RecordActiveSessions(count int)                                           {}
func (NoOpCollector) RecordCircuitState(target string, state CircuitState)                     {}
func (NoOpCollector) RecordQueueDepth(depth int)                                               {}
func (NoOpCollector) RecordWriteDropped()                                                      {}
func (NoOpCollector) RecordAsyncWrite(success bool, duration time.Duration)                    {}
