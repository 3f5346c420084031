package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus is the payout service's view of a payout.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutProcessed PayoutStatus = "processed"
	PayoutSucceeded PayoutStatus = "succeeded"
	PayoutFailed    PayoutStatus = "failed"
)

// Settled reports whether money has moved for this payout.
func (s PayoutStatus) Settled() bool {
	return s == PayoutProcessed || s == PayoutSucceeded
}

// Rank orders payout statuses; pending is the only non-final status.
func (s PayoutStatus) Rank() int {
	switch s {
	case PayoutPending:
		return 0
	case PayoutProcessed, PayoutSucceeded, PayoutFailed:
		return 1
	default:
		return -1
	}
}

// Payout is a record from the payout feed. PaymentID references the payment
// that funded it; the reference is not enforced by this client.
type Payout struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    PayoutStatus    `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}
