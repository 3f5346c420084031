package sandbox

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"payflow/pkg/payment"
	"payflow/pkg/wire"

	"github.com/shopspring/decimal"
)

func post(t *testing.T, h http.Handler, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, wire.PaymentsPath, bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set(wire.IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSubmit_Idempotent(t *testing.T) {
	sb := New(DefaultConfig())
	h := sb.PaymentHandler()
	body := `{"amount": 100.00, "currency": "USD", "customerId": "cust_123"}`

	first := post(t, h, "k1", body)
	if first.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", first.Code, first.Body)
	}
	var a wire.SubmitResponse
	if err := json.NewDecoder(first.Body).Decode(&a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.PaymentID == "" || a.Status != "processing" {
		t.Errorf("Unexpected response: %+v", a)
	}

	replay := post(t, h, "k1", body)
	if replay.Code != http.StatusOK {
		t.Fatalf("Expected 200 on replay, got %d", replay.Code)
	}
	var b wire.SubmitResponse
	json.NewDecoder(replay.Body).Decode(&b)
	if b.PaymentID != a.PaymentID {
		t.Errorf("Replay returned %s, want %s", b.PaymentID, a.PaymentID)
	}

	conflict := post(t, h, "k1", `{"amount": 99.00, "currency": "USD", "customerId": "cust_123"}`)
	if conflict.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", conflict.Code)
	}
}

func TestSubmit_Rejections(t *testing.T) {
	h := New(DefaultConfig()).PaymentHandler()

	tests := []struct {
		name string
		key  string
		body string
	}{
		{"missing key", "", `{"amount": 1, "currency": "USD"}`},
		{"bad json", "k", `{"amount":`},
		{"zero amount", "k", `{"amount": 0, "currency": "USD"}`},
		{"bad currency", "k", `{"amount": 1, "currency": "dollars"}`},
		{"too precise", "k", `{"amount": 1.001, "currency": "USD"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := post(t, h, tt.key, tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestLifecycle_SucceededPaymentGetsPayout(t *testing.T) {
	sb := New(DefaultConfig())
	payments, payouts := sb.PaymentHandler(), sb.PayoutHandler()

	post(t, payments, "k1", `{"amount": 100.00, "currency": "USD"}`)

	// No payout before the payment succeeds.
	var feed []wire.Payout
	json.NewDecoder(get(t, payouts, wire.PayoutsPath).Body).Decode(&feed)
	if len(feed) != 0 {
		t.Fatalf("Expected empty feed, got %+v", feed)
	}

	var p wire.Payment
	json.NewDecoder(get(t, payments, wire.PaymentsPath+"/pay_1").Body).Decode(&p)
	if p.Status != "processing" {
		t.Errorf("Expected processing after one read, got %s", p.Status)
	}
	json.NewDecoder(get(t, payments, wire.PaymentsPath+"/pay_1").Body).Decode(&p)
	if p.Status != "succeeded" {
		t.Fatalf("Expected succeeded after two reads, got %s", p.Status)
	}

	statuses := []string{}
	for i := 0; i < 3; i++ {
		feed = nil
		json.NewDecoder(get(t, payouts, wire.PayoutsPath).Body).Decode(&feed)
		if len(feed) != 1 {
			t.Fatalf("Expected one payout, got %+v", feed)
		}
		statuses = append(statuses, feed[0].Status)
	}
	if statuses[0] != "pending" || statuses[2] != "processed" {
		t.Errorf("Unexpected payout progression %v", statuses)
	}

	po, err := feed[0].Payout()
	if err != nil {
		t.Fatalf("decode payout: %v", err)
	}
	if po.PaymentID != "pay_1" || po.Currency != "INR" || !po.Amount.Equal(decimal.RequireFromString("8325")) {
		t.Errorf("Unexpected payout %+v", po)
	}
}

func TestLifecycle_FailingCents(t *testing.T) {
	sb := New(DefaultConfig())
	payments, payouts := sb.PaymentHandler(), sb.PayoutHandler()

	post(t, payments, "k1", `{"amount": 50.13, "currency": "USD"}`)
	get(t, payments, wire.PaymentsPath+"/pay_1")

	var p wire.Payment
	json.NewDecoder(get(t, payments, wire.PaymentsPath+"/pay_1").Body).Decode(&p)
	if p.Status != string(payment.StatusFailed) {
		t.Fatalf("Expected failed, got %s", p.Status)
	}

	var feed []wire.Payout
	json.NewDecoder(get(t, payouts, wire.PayoutsPath).Body).Decode(&feed)
	if len(feed) != 0 {
		t.Errorf("Failed payment must not be paid out, got %+v", feed)
	}
}

func TestInjectFailuresAndNotFound(t *testing.T) {
	sb := New(DefaultConfig())
	payouts := sb.PayoutHandler()

	sb.InjectFailures(RoutePayouts, 1)
	if rec := get(t, payouts, wire.PayoutsPath); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
	if rec := get(t, payouts, wire.PayoutsPath); rec.Code != http.StatusOK {
		t.Errorf("Expected recovery, got %d", rec.Code)
	}

	if rec := get(t, sb.PaymentHandler(), wire.PaymentsPath+"/pay_404"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
