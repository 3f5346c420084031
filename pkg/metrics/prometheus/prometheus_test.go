package prometheus

import (
	"testing"
	"time"

	"payflow/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusCollector_Register(t *testing.T) {
	pc := NewPrometheusCollector("payflow_test")
	registry := prometheus.NewRegistry()

	if err := pc.Register(registry); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Registering twice must fail on duplicate collectors
	if err := pc.Register(registry); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestPrometheusCollector_Gather(t *testing.T) {
	pc := NewPrometheusCollector("payflow_test")
	registry := prometheus.NewRegistry()
	if err := pc.Register(registry); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	pc.RecordSubmission("success", 10*time.Millisecond)
	pc.RecordCall("payments", "get_status", false, time.Millisecond)
	pc.RecordTransition("SUBMITTED", "AWAITING_PAYOUT")
	pc.RecordAdvisory("reconciliation_timeout")
	pc.RecordActiveSessions(2)
	pc.RecordCircuitState("payouts", metrics.CircuitOpen)
	pc.RecordQueueDepth(4)
	pc.RecordWriteDropped()
	pc.RecordAsyncWrite(true, time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := make(map[string]bool)
	for _, f := range families {
		found[f.GetName()] = true
	}

	for _, name := range []string{
		"payflow_test_submissions_total",
		"payflow_test_remote_call_failures_total",
		"payflow_test_status_transitions_total",
		"payflow_test_advisories_total",
		"payflow_test_active_sessions",
		"payflow_test_circuit_opens_total",
		"payflow_test_snapshot_dropped_writes_total",
	} {
		if !found[name] {
			t.Errorf("Expected metric family %s to be gathered", name)
		}
	}
}
