package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"payflow/pkg/idempotency"
	"payflow/pkg/payment"
	"payflow/pkg/reconcile"
	"payflow/pkg/tracker"
	"payflow/pkg/wire"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SubmitResponse is returned by POST /api/v1/payments.
type SubmitResponse struct {
	IdempotencyKey string             `json:"idempotencyKey"`
	Session        reconcile.Snapshot `json:"session"`
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

// handleHealth returns a simple health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// handleStatus returns process status information.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "running",
		"timestamp":      time.Now().Unix(),
		"uptime":         time.Since(s.started).Round(time.Second).String(),
		"activeSessions": s.sessions.Active(),
	})
}

// handleSubmit submits a payment and starts reconciling it. A client
// retrying after a lost response sends the same Idempotency-Key header.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body wire.SubmitRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := body.Request("")
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		// Local validation only; safe to echo.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var attempt *idempotency.Attempt
	if key := r.Header.Get(wire.IdempotencyKeyHeader); key != "" {
		attempt, err = idempotency.ResumeAttempt(key, req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		attempt = idempotency.NewAttempt(req)
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	session, err := s.sessions.Submit(ctx, attempt)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	w.Header().Set(wire.IdempotencyKeyHeader, attempt.Key())
	w.Header().Set("Location", "/api/v1/sessions/"+session.ID())
	writeJSON(w, http.StatusAccepted, SubmitResponse{
		IdempotencyKey: attempt.Key(),
		Session:        session.Snapshot(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	list, err := s.sessions.List(ctx)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if list == nil {
		list = []reconcile.Snapshot{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	snap, err := s.sessions.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	snap, err := s.sessions.Cancel(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.dashboard == nil {
		writeError(w, http.StatusNotFound, "dashboard not configured")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	summary, err := s.dashboard.Build(ctx)
	if err != nil {
		s.logger.Warn("dashboard unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream services unavailable")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case payment.IsInvalidRequest(err):
		return http.StatusBadRequest
	case payment.IsIdempotencyConflict(err):
		return http.StatusConflict
	case errors.Is(err, tracker.ErrSessionNotFound):
		return http.StatusNotFound
	case payment.IsUnavailable(err), errors.Is(err, tracker.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// failureMessages are the only error texts a client sees for failures past
// local validation. The wrapped error stays in the log.
var failureMessages = map[int]string{
	http.StatusBadRequest:          "payment rejected as invalid",
	http.StatusConflict:            "idempotency key already used for a different payment",
	http.StatusNotFound:            "session not found",
	http.StatusServiceUnavailable:  "payment service unavailable",
	http.StatusGatewayTimeout:      "payment service timed out",
	http.StatusInternalServerError: "internal error",
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.Int("status", status),
			zap.String("error_type", payment.ClassifyError(err)),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, failureMessages[status])
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.Error{Error: msg})
}
