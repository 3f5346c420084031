// Package wire holds the JSON shapes exchanged with the payment and payout
// services. Amounts travel as JSON numbers.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"payflow/pkg/payment"

	"github.com/shopspring/decimal"
)

// IdempotencyKeyHeader carries the idempotency key of a submission.
const IdempotencyKeyHeader = "Idempotency-Key"

// Service paths.
const (
	PaymentsPath = "/api/payments"
	PayoutsPath  = "/api/payouts"
)

// SubmitRequest is the body of POST /api/payments.
type SubmitRequest struct {
	Amount     json.Number `json:"amount"`
	Currency   string      `json:"currency"`
	CustomerID string      `json:"customerId,omitempty"`
}

// SubmitResponse is returned by POST /api/payments.
type SubmitResponse struct {
	PaymentID string      `json:"paymentId"`
	Status    string      `json:"status"`
	Amount    json.Number `json:"amount,omitempty"`
	Currency  string      `json:"currency,omitempty"`
	CreatedAt *time.Time  `json:"createdAt,omitempty"`
}

// Payment is returned by GET /api/payments and GET /api/payments/{id}.
type Payment struct {
	ID        string      `json:"id"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Payout is an element of GET /api/payouts.
type Payout struct {
	ID        string      `json:"id"`
	PaymentID string      `json:"paymentId"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Error string `json:"error"`
}

// Number encodes an amount.
func Number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// ParseAmount decodes an amount. An absent amount is zero.
func ParseAmount(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode amount %q: %w", n, err)
	}
	return d, nil
}

// NewSubmitRequest builds the body for req.
func NewSubmitRequest(req payment.Request) SubmitRequest {
	return SubmitRequest{
		Amount:     Number(req.Amount),
		Currency:   req.Currency,
		CustomerID: req.CustomerID,
	}
}

// Request converts the body back to a payment request.
func (s SubmitRequest) Request(key string) (payment.Request, error) {
	amount, err := ParseAmount(s.Amount)
	if err != nil {
		return payment.Request{}, fmt.Errorf("%w: %v", payment.ErrInvalidRequest, err)
	}
	return payment.Request{
		Amount:         amount,
		Currency:       s.Currency,
		CustomerID:     s.CustomerID,
		IdempotencyKey: key,
	}, nil
}

// NewSubmitResponse builds the response for a created or replayed payment.
func NewSubmitResponse(rec payment.Record) SubmitResponse {
	created := rec.CreatedAt
	return SubmitResponse{
		PaymentID: rec.ID,
		Status:    string(rec.Status),
		Amount:    Number(rec.Amount),
		Currency:  rec.Currency,
		CreatedAt: &created,
	}
}

// Record converts the response. Fields the service omitted are taken from req.
func (s SubmitResponse) Record(req payment.Request) (payment.Record, error) {
	rec := payment.Record{
		ID:       s.PaymentID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   payment.Status(s.Status),
	}
	if s.Amount != "" {
		amount, err := ParseAmount(s.Amount)
		if err != nil {
			return payment.Record{}, err
		}
		rec.Amount = amount
	}
	if s.Currency != "" {
		rec.Currency = s.Currency
	}
	if s.CreatedAt != nil {
		rec.CreatedAt = *s.CreatedAt
	}
	return rec, nil
}

// NewPayment encodes a payment record.
func NewPayment(rec payment.Record) Payment {
	return Payment{
		ID:        rec.ID,
		Amount:    Number(rec.Amount),
		Currency:  rec.Currency,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
	}
}

// Record decodes a payment record.
func (p Payment) Record() (payment.Record, error) {
	amount, err := ParseAmount(p.Amount)
	if err != nil {
		return payment.Record{}, err
	}
	return payment.Record{
		ID:        p.ID,
		Amount:    amount,
		Currency:  p.Currency,
		Status:    payment.Status(p.Status),
		CreatedAt: p.CreatedAt,
	}, nil
}

// NewPayout encodes a payout record.
func NewPayout(p payment.Payout) Payout {
	return Payout{
		ID:        p.ID,
		PaymentID: p.PaymentID,
		Amount:    Number(p.Amount),
		Currency:  p.Currency,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
	}
}

// Payout decodes a payout record.
func (p Payout) Payout() (payment.Payout, error) {
	amount, err := ParseAmount(p.Amount)
	if err != nil {
		return payment.Payout{}, err
	}
	return payment.Payout{
		ID:        p.ID,
		PaymentID: p.PaymentID,
		Amount:    amount,
		Currency:  p.Currency,
		Status:    payment.PayoutStatus(p.Status),
		CreatedAt: p.CreatedAt,
	}, nil
}
