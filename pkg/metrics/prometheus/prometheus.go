package prometheus

import (
	"time"

	"payflow/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Submission
	submissions       *prometheus.CounterVec
	submissionLatency prometheus.Histogram

	// Remote reads
	calls        *prometheus.CounterVec
	callFailures *prometheus.CounterVec
	callLatency  *prometheus.HistogramVec

	// Sessions
	transitions    *prometheus.CounterVec
	advisories     *prometheus.CounterVec
	activeSessions prometheus.Gauge

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Snapshot writer
	queueDepth    prometheus.Gauge
	droppedWrites prometheus.Counter
	asyncWrites   *prometheus.CounterVec
	asyncLatency  prometheus.Histogram
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Total number of payment submissions by outcome",
			},
			[]string{"outcome"},
		),
		submissionLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submission_duration_seconds",
				Help:      "Payment submission latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Total number of poll and match calls per target and operation",
			},
			[]string{"target", "operation"},
		),
		callFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_call_failures_total",
				Help:      "Total number of transient poll and match failures",
			},
			[]string{"target", "operation"},
		),
		callLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Poll and match call latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"target", "operation"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_transitions_total",
				Help:      "Combined status transitions",
			},
			[]string{"from", "to"},
		),
		advisories: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "advisories_total",
				Help:      "Advisory observations raised by sessions",
			},
			[]string{"kind"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of reconciliation sessions still polling",
			},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens per target",
			},
			[]string{"target"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state per target (0=closed, 1=open, 2=half-open)",
			},
			[]string{"target"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_queue_depth",
				Help:      "Current snapshot writer queue depth",
			},
		),
		droppedWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_dropped_writes_total",
				Help:      "Total number of dropped snapshot writes",
			},
		),
		asyncWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_writes_total",
				Help:      "Total number of snapshot writes",
			},
			[]string{"status"},
		),
		asyncLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "snapshot_write_duration_seconds",
				Help:      "Snapshot write latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.submissions,
		pc.submissionLatency,
		pc.calls,
		pc.callFailures,
		pc.callLatency,
		pc.transitions,
		pc.advisories,
		pc.activeSessions,
		pc.circuitOpens,
		pc.circuitState,
		pc.queueDepth,
		pc.droppedWrites,
		pc.asyncWrites,
		pc.asyncLatency,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordSubmission records a submission outcome.
func (pc *PrometheusCollector) RecordSubmission(outcome string, duration time.Duration) {
	pc.submissions.WithLabelValues(outcome).Inc()
	pc.submissionLatency.Observe(duration.Seconds())
}

// RecordCall records a poll or match call.
func (pc *PrometheusCollector) RecordCall(target, operation string, success bool, duration time.Duration) {
	pc.calls.WithLabelValues(target, operation).Inc()
	if !success {
		pc.callFailures.WithLabelValues(target, operation).Inc()
	}
	pc.callLatency.WithLabelValues(target, operation).Observe(duration.Seconds())
}

// RecordTransition records a combined status transition.
func (pc *PrometheusCollector) RecordTransition(from, to string) {
	pc.transitions.WithLabelValues(from, to).Inc()
}

// RecordAdvisory records an advisory observation.
func (pc *PrometheusCollector) RecordAdvisory(kind string) {
	pc.advisories.WithLabelValues(kind).Inc()
}

// RecordActiveSessions records the number of live sessions.
func (pc *PrometheusCollector) RecordActiveSessions(count int) {
	pc.activeSessions.Set(float64(count))
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(target string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(target).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(target).Inc()
	}
}

// RecordQueueDepth records the current snapshot writer queue depth.
func (pc *PrometheusCollector) RecordQueueDepth(depth int) {
	pc.queueDepth.Set(float64(depth))
}

// RecordWriteDropped records a dropped snapshot write.
func (pc *PrometheusCollector) RecordWriteDropped() {
	pc.droppedWrites.Inc()
}

// RecordAsyncWrite records a snapshot write.
func (pc *PrometheusCollector) RecordAsyncWrite(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.asyncWrites.WithLabelValues(status).Inc()
	pc.asyncLatency.Observe(duration.Seconds())
}
