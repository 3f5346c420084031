package resilience

import (
	"testing"
	"time"
)

func TestDefaultResilientConfig(t *testing.T) {
	config := DefaultResilientConfig()

	if config.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", config.Timeout)
	}

	if config.CircuitBreakerConfig.MaxRequests != 3 {
		t.Errorf("Expected MaxRequests 3, got %d", config.CircuitBreakerConfig.MaxRequests)
	}

	if config.CircuitBreakerConfig.Timeout != 15*time.Second {
		t.Errorf("Expected CB timeout 15s, got %v", config.CircuitBreakerConfig.Timeout)
	}

	trip := config.CircuitBreakerConfig.ReadyToTrip
	if trip == nil {
		t.Fatal("Expected ReadyToTrip function to be set")
	}

	tests := []struct {
		name   string
		counts Counts
		want   bool
	}{
		{"few consecutive failures", Counts{Requests: 9, TotalFailures: 9, ConsecutiveFailures: 9}, false},
		{"ten consecutive failures", Counts{Requests: 10, TotalFailures: 10, ConsecutiveFailures: 10}, true},
		{"low volume high ratio", Counts{Requests: 10, TotalFailures: 8, ConsecutiveFailures: 2}, false},
		{"high volume half failing", Counts{Requests: 20, TotalFailures: 10, ConsecutiveFailures: 1}, true},
		{"high volume mostly healthy", Counts{Requests: 40, TotalFailures: 5, ConsecutiveFailures: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trip(tt.counts); got != tt.want {
				t.Errorf("ReadyToTrip(%+v) = %v, want %v", tt.counts, got, tt.want)
			}
		})
	}
}

func TestResilientConfig_WithTimeout(t *testing.T) {
	config := DefaultResilientConfig()
	newConfig := config.WithTimeout(2 * time.Second)

	if newConfig.Timeout != 2*time.Second {
		t.Errorf("Expected timeout 2s, got %v", newConfig.Timeout)
	}

	// Verify original is unchanged
	if config.Timeout != 5*time.Second {
		t.Errorf("Original config changed: got %v", config.Timeout)
	}
}

func TestResilientConfig_WithCircuitBreakerTimeout(t *testing.T) {
	config := DefaultResilientConfig()
	newConfig := config.WithCircuitBreakerTimeout(20 * time.Second)

	if newConfig.CircuitBreakerConfig.Timeout != 20*time.Second {
		t.Errorf("Expected CB timeout 20s, got %v", newConfig.CircuitBreakerConfig.Timeout)
	}

	if config.CircuitBreakerConfig.Timeout != 15*time.Second {
		t.Errorf("Original config changed: got %v", config.CircuitBreakerConfig.Timeout)
	}
}

func TestResilientConfig_WithReadyToTrip(t *testing.T) {
	config := DefaultResilientConfig().WithReadyToTrip(func(counts Counts) bool {
		return counts.ConsecutiveFailures >= 1
	})

	if !config.CircuitBreakerConfig.ReadyToTrip(Counts{ConsecutiveFailures: 1}) {
		t.Error("Custom ReadyToTrip not applied")
	}
}
