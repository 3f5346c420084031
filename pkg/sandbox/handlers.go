package sandbox

import (
	"encoding/json"
	"errors"
	"net/http"

	"payflow/pkg/idempotency"
	"payflow/pkg/payment"
	"payflow/pkg/wire"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// PaymentHandler serves the simulated payment service.
func (s *Sandbox) PaymentHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Post(wire.PaymentsPath, s.handleSubmit)
	r.Get(wire.PaymentsPath, s.handleList)
	r.Get(wire.PaymentsPath+"/{id}", s.handleStatus)
	return r
}

// PayoutHandler serves the simulated payout service.
func (s *Sandbox) PayoutHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get(wire.PayoutsPath, s.handlePayouts)
	return r
}

// --- helpers ---

func (s *Sandbox) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode error", zap.Error(err))
	}
}

func (s *Sandbox) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, wire.Error{Error: msg})
}

// injected reports whether this request must fail with 503.
func (s *Sandbox) injected(w http.ResponseWriter, route string) bool {
	s.mu.Lock()
	failed := s.fail(route)
	s.mu.Unlock()
	if failed {
		s.writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	}
	return failed
}

// --- handlers ---

func (s *Sandbox) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteSubmit) {
		return
	}

	key := r.Header.Get(wire.IdempotencyKeyHeader)
	if err := idempotency.ValidateKey(key); err != nil {
		s.writeError(w, http.StatusBadRequest, "a valid Idempotency-Key header is required")
		return
	}

	var body wire.SubmitRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req, err := body.Request(key)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, created, err := s.submit(req)
	if errors.Is(err, payment.ErrIdempotencyConflict) {
		s.writeError(w, http.StatusConflict, "idempotency key already used with different parameters")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, wire.NewSubmitResponse(rec))
}

func (s *Sandbox) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteStatus) {
		return
	}

	rec, ok := s.status(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	s.writeJSON(w, http.StatusOK, wire.NewPayment(rec))
}

func (s *Sandbox) handleList(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteList) {
		return
	}

	records := s.list()
	out := make([]wire.Payment, 0, len(records))
	for _, rec := range records {
		out = append(out, wire.NewPayment(rec))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Sandbox) handlePayouts(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RoutePayouts) {
		return
	}

	payouts := s.feed()
	out := make([]wire.Payout, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, wire.NewPayout(p))
	}
	s.writeJSON(w, http.StatusOK, out)
}
