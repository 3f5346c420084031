package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"payflow/pkg/config"
	"payflow/pkg/payment"
	"payflow/pkg/reconcile"
	"payflow/pkg/sandbox"
	"payflow/pkg/store/memory"

	"github.com/shopspring/decimal"
)

type upstreams struct {
	payments *httptest.Server
	payouts  *httptest.Server
}

func newUpstreams(t *testing.T) upstreams {
	t.Helper()
	sb := sandbox.New(sandbox.DefaultConfig())
	u := upstreams{
		payments: httptest.NewServer(sb.PaymentHandler()),
		payouts:  httptest.NewServer(sb.PayoutHandler()),
	}
	t.Cleanup(u.payments.Close)
	t.Cleanup(u.payouts.Close)
	return u
}

func testConfig(t *testing.T, u upstreams) config.Config {
	cfg := config.Default()
	cfg.Upstream.PaymentURL = u.payments.URL
	cfg.Upstream.PayoutURL = u.payouts.URL
	cfg.Upstream.Timeout = time.Second
	cfg.Reconcile = cfg.Reconcile.
		WithPollInterval(20 * time.Millisecond).
		WithCallTimeout(10 * time.Millisecond)
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Logging.Level = "error"
	cfg.Logging.OutputPaths = []string{"stderr"}
	return cfg
}

func TestNewApp_SettlesAndPersists(t *testing.T) {
	u := newUpstreams(t)
	cfg := testConfig(t, u)

	var transitions []reconcile.CombinedStatus
	a, err := newApp(context.Background(), cfg, func(o reconcile.Observation) {
		if o.Kind == reconcile.ObservationTransition {
			transitions = append(transitions, o.To)
		}
	})
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.Close()

	if _, ok := a.store.(*memory.MemoryStore); !ok {
		t.Fatalf("Expected memory store, got %T", a.store)
	}

	session, _, err := a.tracker.SubmitRequest(context.Background(), payment.Request{
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("Session did not stop, status %s", session.Status())
	}
	if session.Status() != reconcile.StatusSettled {
		t.Fatalf("Expected SETTLED, got %s", session.Status())
	}

	// Close waits for the follower, so the observer slice is complete.
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(transitions) == 0 || transitions[len(transitions)-1] != reconcile.StatusSettled {
		t.Errorf("Expected transitions ending in SETTLED, got %v", transitions)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestOpenStore_Unreachable(t *testing.T) {
	_, err := openStore(config.StoreConfig{Backend: config.StoreRedis, RedisAddr: "127.0.0.1:1"})
	if err == nil {
		t.Error("Expected error for unreachable redis")
	}
}

func writeConfig(t *testing.T, u upstreams) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payflow.yaml")
	body := `
upstream:
  payment_url: ` + u.payments.URL + `
  payout_url: ` + u.payouts.URL + `
reconcile:
  poll_interval: 20ms
  call_timeout: 10ms
logging:
  level: error
  output_paths: [stderr]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// execute runs a fresh command tree under its own context.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestSubmitCommand(t *testing.T) {
	u := newUpstreams(t)
	path := writeConfig(t, u)

	out, err := execute(t, "submit", "100.00", "USD", "--config", path)
	if err != nil {
		t.Fatalf("submit failed: %v\n%s", err, out)
	}

	dec := json.NewDecoder(strings.NewReader(out))
	sawTransition := false
	for dec.More() {
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			t.Fatalf("Bad output: %v\n%s", err, out)
		}
		if _, ok := raw["sessionId"]; ok {
			if raw["status"] != string(reconcile.StatusSettled) {
				t.Errorf("Expected final status SETTLED, got %v", raw["status"])
			}
			continue
		}
		if raw["kind"] == string(reconcile.ObservationTransition) {
			sawTransition = true
		}
	}
	if !sawTransition {
		t.Errorf("Expected transition lines in output:\n%s", out)
	}
}

func TestSubmitCommand_FailedPayment(t *testing.T) {
	u := newUpstreams(t)
	path := writeConfig(t, u)

	_, err := execute(t, "submit", "50.13", "USD", "--config", path)
	if err == nil || !strings.Contains(err.Error(), string(reconcile.StatusPaymentFailed)) {
		t.Errorf("Expected PAYMENT_FAILED error, got %v", err)
	}
}

func TestSubmitCommand_Repeated(t *testing.T) {
	u := newUpstreams(t)
	path := writeConfig(t, u)

	for i := 0; i < 3; i++ {
		out, err := execute(t, "submit", "100.00", "USD", "--config", path)
		if err != nil {
			t.Fatalf("run %d: submit failed: %v\n%s", i, err, out)
		}
		if !strings.Contains(out, string(reconcile.StatusSettled)) {
			t.Errorf("run %d: expected SETTLED in output:\n%s", i, out)
		}
	}
	if _, err := execute(t, "submit", "50.13", "USD", "--config", path); err == nil ||
		!strings.Contains(err.Error(), string(reconcile.StatusPaymentFailed)) {
		t.Errorf("Expected PAYMENT_FAILED after earlier runs, got %v", err)
	}
}

func TestSubmitCommand_BadArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad amount", []string{"submit", "ten", "USD"}},
		{"bad key", []string{"submit", "10.00", "USD", "--key", " padded"}},
		{"missing currency", []string{"submit", "10.00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestPrintObservation(t *testing.T) {
	var buf bytes.Buffer
	emit := printObservation(&buf)

	emit(reconcile.Observation{
		Kind: reconcile.ObservationTransition, From: reconcile.StatusSubmitted,
		To: reconcile.StatusAwaitingPayout, Attempt: 1,
	})
	emit(reconcile.Observation{
		Kind: reconcile.ObservationPollFailure, From: reconcile.StatusAwaitingPayout,
		To: reconcile.StatusAwaitingPayout, Attempt: 2,
		Err: payment.ErrTransientPollFailure, Reason: "unavailable",
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %q", buf.String())
	}

	var first, second observationLine
	json.Unmarshal([]byte(lines[0]), &first)
	json.Unmarshal([]byte(lines[1]), &second)
	if first.From != reconcile.StatusSubmitted || first.To != reconcile.StatusAwaitingPayout {
		t.Errorf("Unexpected transition line %+v", first)
	}
	if second.From != "" || second.Reason != "unavailable" || second.Error == "" {
		t.Errorf("Unexpected failure line %+v", second)
	}
}
