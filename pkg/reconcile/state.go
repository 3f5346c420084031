package reconcile

import (
	"payflow/pkg/payment"
)

// CombinedStatus is the session's join of the payment and payout states.
type CombinedStatus string

const (
	StatusSubmitted      CombinedStatus = "SUBMITTED"
	StatusAwaitingPayout CombinedStatus = "AWAITING_PAYOUT"
	StatusPayoutPending  CombinedStatus = "PAYOUT_PENDING"
	StatusSettled        CombinedStatus = "SETTLED"
	StatusPaymentFailed  CombinedStatus = "PAYMENT_FAILED"
	StatusPayoutFailed   CombinedStatus = "PAYOUT_FAILED"
)

// IsTerminal reports whether polling stops in this status.
func (s CombinedStatus) IsTerminal() bool {
	switch s {
	case StatusSettled, StatusPaymentFailed, StatusPayoutFailed:
		return true
	}
	return false
}

// Rank orders statuses along the transition graph. Every transition strictly
// increases the rank.
func (s CombinedStatus) Rank() int {
	switch s {
	case StatusSubmitted:
		return 0
	case StatusAwaitingPayout:
		return 1
	case StatusPayoutPending:
		return 2
	case StatusSettled, StatusPaymentFailed, StatusPayoutFailed:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known combined status.
func (s CombinedStatus) Valid() bool {
	return s.Rank() >= 0
}

// payoutPhase reports whether the payout feed is consulted in status s.
func (s CombinedStatus) payoutPhase() bool {
	return s == StatusAwaitingPayout || s == StatusPayoutPending
}

// nextOnPayment applies a payment status read to the combined status.
// Only SUBMITTED reacts: once the payment has succeeded the payout side
// decides the outcome, so a late "failed" never moves the session.
func nextOnPayment(current CombinedStatus, status payment.Status) CombinedStatus {
	if current != StatusSubmitted {
		return current
	}
	switch status {
	case payment.StatusSucceeded:
		return StatusAwaitingPayout
	case payment.StatusFailed:
		return StatusPaymentFailed
	default:
		return current
	}
}

// nextOnPayout applies a matcher result (nil when nothing matched) to the
// combined status.
func nextOnPayout(current CombinedStatus, p *payment.Payout) CombinedStatus {
	if !current.payoutPhase() || p == nil {
		return current
	}
	switch {
	case p.Status.Settled():
		return StatusSettled
	case p.Status == payment.PayoutFailed:
		return StatusPayoutFailed
	case p.Status == payment.PayoutPending:
		return StatusPayoutPending
	default:
		return current
	}
}
