package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payflow/pkg/dashboard"
	"payflow/pkg/payment"
	"payflow/pkg/payment/mock"
	"payflow/pkg/reconcile"
	memstore "payflow/pkg/store/memory"
	"payflow/pkg/tracker"
	"payflow/pkg/wire"
	"payflow/pkg/writer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type testEnv struct {
	server  *Server
	tracker *tracker.Tracker
	svc     *mock.PaymentService
	feed    *mock.PayoutFeed
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	svc := &mock.PaymentService{
		SubmitFunc: func(ctx context.Context, req payment.Request) (*payment.Record, error) {
			switch req.Currency {
			case "XXX":
				return nil, payment.ErrSubmissionUnavailable
			case "ERR":
				return nil, payment.WrapError(errors.New(`connection: Post "http://10.0.0.7:3001/api/payments": `+
					`dial tcp 10.0.0.7:3001: connect: connection refused`), "payments", "submit")
			}
			return &payment.Record{
				ID:        "pay_" + req.IdempotencyKey[:8],
				Amount:    req.Amount,
				Currency:  req.Currency,
				Status:    payment.StatusProcessing,
				CreatedAt: time.Now(),
			}, nil
		},
		ListPaymentsFunc: func(ctx context.Context) ([]payment.Record, error) {
			return []payment.Record{{ID: "pay_1", Amount: decimal.RequireFromString("100"), Currency: "USD", Status: payment.StatusSucceeded}}, nil
		},
	}
	feed := &mock.PayoutFeed{}

	st := memstore.NewMemoryStore(memstore.MemoryStoreConfig{})
	w := writer.NewSnapshotWriter(st, writer.SnapshotWriterConfig{})
	tr, err := tracker.New(svc, feed, st, w, tracker.Config{
		Reconcile: reconcile.DefaultConfig().WithPollInterval(50 * time.Millisecond).WithCallTimeout(20 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("tracker.New failed: %v", err)
	}
	t.Cleanup(func() {
		tr.Close()
		w.Close()
		st.Close()
	})

	reg := prometheus.NewRegistry()
	server, err := NewServer(tr, DefaultServerConfig(), Options{
		Dashboard:  dashboard.NewBuilder(svc, feed),
		Registerer: reg,
		Gatherer:   reg,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return &testEnv{server: server, tracker: tr, svc: svc, feed: feed}
}

func (e *testEnv) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set(wire.IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	json.NewDecoder(w.Body).Decode(&response)
	if response["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", response["status"])
	}
}

func TestServer_Status(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/status", "", "")
	var response map[string]interface{}
	json.NewDecoder(w.Body).Decode(&response)

	if response["status"] != "running" {
		t.Errorf("Expected status running, got %v", response["status"])
	}
	if response["activeSessions"] != float64(0) {
		t.Errorf("Expected 0 active sessions, got %v", response["activeSessions"])
	}
}

func TestServer_SubmitAndInspect(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/payments", "",
		`{"amount": 100.00, "currency": "USD", "customerId": "cust_123"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body)
	}

	var resp SubmitResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IdempotencyKey == "" || w.Header().Get(wire.IdempotencyKeyHeader) != resp.IdempotencyKey {
		t.Errorf("Expected the generated key in body and header, got %q", resp.IdempotencyKey)
	}
	if resp.Session.SessionID == "" || resp.Session.PaymentID == "" {
		t.Fatalf("Unexpected session %+v", resp.Session)
	}
	if loc := w.Header().Get("Location"); loc != "/api/v1/sessions/"+resp.Session.SessionID {
		t.Errorf("Unexpected Location %q", loc)
	}

	get := env.do(t, http.MethodGet, "/api/v1/sessions/"+resp.Session.SessionID, "", "")
	if get.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", get.Code)
	}
	var snap reconcile.Snapshot
	json.NewDecoder(get.Body).Decode(&snap)
	if snap.PaymentID != resp.Session.PaymentID || !snap.Active {
		t.Errorf("Unexpected snapshot %+v", snap)
	}

	list := env.do(t, http.MethodGet, "/api/v1/sessions", "", "")
	var snaps []reconcile.Snapshot
	json.NewDecoder(list.Body).Decode(&snaps)
	if len(snaps) != 1 {
		t.Errorf("Expected 1 session, got %d", len(snaps))
	}

	del := env.do(t, http.MethodDelete, "/api/v1/sessions/"+resp.Session.SessionID, "", "")
	if del.Code != http.StatusOK {
		t.Fatalf("Expected 200 on cancel, got %d", del.Code)
	}
	json.NewDecoder(del.Body).Decode(&snap)
	if !snap.Cancelled || snap.Active {
		t.Errorf("Expected cancelled snapshot, got %+v", snap)
	}
}

func TestServer_SubmitWithClientKeyIsIdempotent(t *testing.T) {
	env := setupTestServer(t)
	key := "3f1c2a9e-7d4b-4c1a-9f0e-2b8d6c5a4e31"
	body := `{"amount": 25.00, "currency": "USD"}`

	first := env.do(t, http.MethodPost, "/api/v1/payments", key, body)
	second := env.do(t, http.MethodPost, "/api/v1/payments", key, body)
	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 twice, got %d and %d", first.Code, second.Code)
	}

	var a, b SubmitResponse
	json.NewDecoder(first.Body).Decode(&a)
	json.NewDecoder(second.Body).Decode(&b)
	if a.IdempotencyKey != key || a.Session.SessionID != b.Session.SessionID {
		t.Errorf("Retry should reuse the session: %+v vs %+v", a.Session, b.Session)
	}

	conflict := env.do(t, http.MethodPost, "/api/v1/payments", key, `{"amount": 26.00, "currency": "USD"}`)
	if conflict.Code != http.StatusConflict {
		t.Errorf("Expected 409 for a reused key, got %d", conflict.Code)
	}
}

func TestServer_SubmitErrors(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		key  string
		body string
		want int
	}{
		{"bad json", "", `{"amount":`, http.StatusBadRequest},
		{"zero amount", "", `{"amount": 0, "currency": "USD"}`, http.StatusBadRequest},
		{"bad currency", "", `{"amount": 1, "currency": "usd"}`, http.StatusBadRequest},
		{"bad key", " padded-key", `{"amount": 1, "currency": "USD"}`, http.StatusBadRequest},
		{"upstream down", "", `{"amount": 1, "currency": "XXX"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/payments", tt.key, tt.body)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body)
			}
			var e wire.Error
			if json.NewDecoder(w.Body).Decode(&e); e.Error == "" {
				t.Error("Expected an error message")
			}
		})
	}
	if env.tracker.Active() != 0 {
		t.Errorf("Failed submissions must not start sessions, got %d", env.tracker.Active())
	}
}

func TestServer_TransportErrorsStayInternal(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/payments", "", `{"amount": 1, "currency": "ERR"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d: %s", w.Code, w.Body)
	}

	var e wire.Error
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("Bad error body: %v", err)
	}
	for _, leak := range []string{"dial", "10.0.0.7", "http://", "connection refused", "payments submit"} {
		if strings.Contains(e.Error, leak) {
			t.Errorf("Error body %q exposes %q", e.Error, leak)
		}
	}
	if e.Error != "payment service unavailable" {
		t.Errorf("Unexpected error message %q", e.Error)
	}
}

func TestServer_UnknownSession(t *testing.T) {
	env := setupTestServer(t)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		if w := env.do(t, method, "/api/v1/sessions/nope", "", ""); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", method, w.Code)
		}
	}
	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPut, "/api/v1/sessions/nope", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/payments", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/dashboard", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v2/sessions", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := env.do(t, tt.method, tt.path, "", "")
		if w.Code != tt.want {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.want, w.Code)
			continue
		}
		var e wire.Error
		if json.NewDecoder(w.Body).Decode(&e); e.Error == "" {
			t.Errorf("%s %s: expected a JSON error body", tt.method, tt.path)
		}
	}
}

func TestServer_Dashboard(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/dashboard", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var summary dashboard.Summary
	json.NewDecoder(w.Body).Decode(&summary)
	if summary.PaymentCount != 1 || !summary.PaymentTotals["USD"].Equal(decimal.RequireFromString("100")) {
		t.Errorf("Unexpected summary %+v", summary)
	}

	env.feed.ListPayoutsFunc = func(ctx context.Context) ([]payment.Payout, error) {
		return nil, errors.New("down")
	}
	if w := env.do(t, http.MethodGet, "/api/v1/dashboard", "", ""); w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 when an upstream fails, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodGet, "/health", "", "")

	w := env.do(t, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `payflow_api_http_requests_total{endpoint="/health",method="GET",status="200"} 1`) {
		t.Errorf("Expected request counter for /health, got:\n%s", w.Body)
	}
}

func TestServer_MetricsNamespace(t *testing.T) {
	env := setupTestServer(t)

	reg := prometheus.NewRegistry()
	server, err := NewServer(env.tracker, DefaultServerConfig(), Options{
		Registerer: reg,
		Gatherer:   reg,
		Namespace:  "acme",
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		if path == "/metrics" {
			body := w.Body.String()
			if !strings.Contains(body, `acme_api_http_requests_total{endpoint="/health",method="GET",status="200"} 1`) {
				t.Errorf("Expected acme-prefixed request counter, got:\n%s", body)
			}
			if strings.Contains(body, "payflow_api_http_requests_total") {
				t.Error("Configured namespace ignored")
			}
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{payment.ErrInvalidRequest, http.StatusBadRequest},
		{payment.ErrIdempotencyConflict, http.StatusConflict},
		{payment.ErrSubmissionUnavailable, http.StatusServiceUnavailable},
		{tracker.ErrSessionNotFound, http.StatusNotFound},
		{tracker.ErrClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
