package memory

import (
	"testing"
	"time"

	"payflow/pkg/metrics"
)

func TestMemoryCollector_Calls(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordCall("payments", "get_status", true, time.Millisecond)
	mc.RecordCall("payments", "get_status", false, time.Millisecond)
	mc.RecordCall("payouts", "list_payouts", true, time.Millisecond)

	snap := mc.Snapshot()
	if got := snap.Targets["payments"].Calls["get_status"]; got != 2 {
		t.Errorf("Expected 2 get_status calls, got %d", got)
	}
	if got := snap.Targets["payments"].Failures["get_status"]; got != 1 {
		t.Errorf("Expected 1 get_status failure, got %d", got)
	}
	if got := snap.Targets["payouts"].Calls["list_payouts"]; got != 1 {
		t.Errorf("Expected 1 list_payouts call, got %d", got)
	}
}

func TestMemoryCollector_CircuitOpens(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordCircuitState("payouts", metrics.CircuitOpen)
	mc.RecordCircuitState("payouts", metrics.CircuitOpen)
	mc.RecordCircuitState("payouts", metrics.CircuitHalfOpen)
	mc.RecordCircuitState("payouts", metrics.CircuitOpen)

	snap := mc.Snapshot()
	if got := snap.Targets["payouts"].CircuitOpens; got != 2 {
		t.Errorf("Expected 2 circuit opens, got %d", got)
	}
}

func TestMemoryCollector_SessionMetrics(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordTransition("SUBMITTED", "AWAITING_PAYOUT")
	mc.RecordAdvisory("polling_degraded")
	mc.RecordActiveSessions(3)
	mc.RecordSubmission("success", time.Millisecond)
	mc.RecordWriteDropped()
	mc.RecordAsyncWrite(false, time.Millisecond)

	snap := mc.Snapshot()
	if snap.Transitions["SUBMITTED->AWAITING_PAYOUT"] != 1 {
		t.Errorf("Expected transition to be recorded, got %v", snap.Transitions)
	}
	if snap.Advisories["polling_degraded"] != 1 {
		t.Errorf("Expected advisory to be recorded, got %v", snap.Advisories)
	}
	if snap.ActiveSessions != 3 || snap.Submissions["success"] != 1 {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
	if snap.DroppedWrites != 1 || snap.AsyncErrors != 1 {
		t.Errorf("Unexpected writer metrics: %+v", snap)
	}

	mc.Reset()
	if len(mc.Snapshot().Transitions) != 0 {
		t.Error("Expected Reset to clear transitions")
	}
}
