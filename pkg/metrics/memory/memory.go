package memory

import (
	"sync"
	"time"

	"payflow/pkg/metrics"
)

// MemoryCollector implements MetricsCollector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	// Per-target remote call metrics
	targets map[string]*TargetMetrics

	submissions map[string]int64
	transitions map[string]int64
	advisories  map[string]int64

	activeSessions int
	queueDepth     int
	droppedWrites  int64
	asyncWrites    int64
	asyncErrors    int64
}

// TargetMetrics holds metrics for a single remote service.
type TargetMetrics struct {
	Calls    map[string]int64
	Failures map[string]int64

	CircuitState metrics.CircuitState
	CircuitOpens int64

	Latencies []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		targets:     make(map[string]*TargetMetrics),
		submissions: make(map[string]int64),
		transitions: make(map[string]int64),
		advisories:  make(map[string]int64),
	}
}

// target returns the TargetMetrics for name, creating it if needed. Caller holds mu.
func (mc *MemoryCollector) target(name string) *TargetMetrics {
	tm, ok := mc.targets[name]
	if !ok {
		tm = &TargetMetrics{
			Calls:    make(map[string]int64),
			Failures: make(map[string]int64),
		}
		mc.targets[name] = tm
	}
	return tm
}

// RecordSubmission records a submission outcome.
func (mc *MemoryCollector) RecordSubmission(outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.submissions[outcome]++
}

// RecordCall records a remote read.
func (mc *MemoryCollector) RecordCall(target, operation string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	tm := mc.target(target)
	tm.Calls[operation]++
	if !success {
		tm.Failures[operation]++
	}
	tm.Latencies = append(tm.Latencies, duration)
}

// RecordTransition records a combined-status transition, keyed "FROM->TO".
func (mc *MemoryCollector) RecordTransition(from, to string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.transitions[from+"->"+to]++
}

// RecordAdvisory records an advisory observation.
func (mc *MemoryCollector) RecordAdvisory(kind string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.advisories[kind]++
}

// RecordActiveSessions records the number of live sessions.
func (mc *MemoryCollector) RecordActiveSessions(count int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.activeSessions = count
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(target string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	tm := mc.target(target)
	oldState := tm.CircuitState
	tm.CircuitState = state

	// Count transitions to open
	if oldState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		tm.CircuitOpens++
	}
}

// RecordQueueDepth records the current snapshot writer queue depth.
func (mc *MemoryCollector) RecordQueueDepth(depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.queueDepth = depth
}

// RecordWriteDropped records a dropped snapshot write.
func (mc *MemoryCollector) RecordWriteDropped() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.droppedWrites++
}

// RecordAsyncWrite records a snapshot write.
func (mc *MemoryCollector) RecordAsyncWrite(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.asyncWrites++
	if !success {
		mc.asyncErrors++
	}
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	Targets        map[string]TargetMetrics
	Submissions    map[string]int64
	Transitions    map[string]int64
	Advisories     map[string]int64
	ActiveSessions int
	QueueDepth     int
	DroppedWrites  int64
	AsyncWrites    int64
	AsyncErrors    int64
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := Snapshot{
		Targets:        make(map[string]TargetMetrics, len(mc.targets)),
		Submissions:    copyCounts(mc.submissions),
		Transitions:    copyCounts(mc.transitions),
		Advisories:     copyCounts(mc.advisories),
		ActiveSessions: mc.activeSessions,
		QueueDepth:     mc.queueDepth,
		DroppedWrites:  mc.droppedWrites,
		AsyncWrites:    mc.asyncWrites,
		AsyncErrors:    mc.asyncErrors,
	}

	for name, tm := range mc.targets {
		snapshot.Targets[name] = TargetMetrics{
			Calls:        copyCounts(tm.Calls),
			Failures:     copyCounts(tm.Failures),
			CircuitState: tm.CircuitState,
			CircuitOpens: tm.CircuitOpens,
			Latencies:    append([]time.Duration(nil), tm.Latencies...),
		}
	}

	return snapshot
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.targets = make(map[string]*TargetMetrics)
	mc.submissions = make(map[string]int64)
	mc.transitions = make(map[string]int64)
	mc.advisories = make(map[string]int64)
	mc.activeSessions = 0
	mc.queueDepth = 0
	mc.droppedWrites = 0
	mc.asyncWrites = 0
	mc.asyncErrors = 0
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
