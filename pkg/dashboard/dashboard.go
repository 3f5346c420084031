// Package dashboard summarises the upstream payment and payout lists.
package dashboard

import (
	"context"
	"sort"
	"time"

	"payflow/pkg/payment"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Entry kinds in the merged transaction list.
const (
	KindPayment = "payment"
	KindPayout  = "payout"
)

// Transaction is one row of the merged list.
type Transaction struct {
	Kind      string          `json:"kind"`
	ID        string          `json:"id"`
	PaymentID string          `json:"paymentId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Summary is the dashboard view. Totals are keyed by currency and include
// every record regardless of status.
type Summary struct {
	PaymentTotals map[string]decimal.Decimal `json:"paymentTotals"`
	PayoutTotals  map[string]decimal.Decimal `json:"payoutTotals"`
	PaymentCount  int                        `json:"paymentCount"`
	PayoutCount   int                        `json:"payoutCount"`
	Transactions  []Transaction              `json:"transactions"`
	GeneratedAt   time.Time                  `json:"generatedAt"`
}

// Builder reads both upstream lists.
type Builder struct {
	payments payment.Service
	payouts  payment.PayoutFeed
}

// NewBuilder creates a Builder.
func NewBuilder(payments payment.Service, payouts payment.PayoutFeed) *Builder {
	return &Builder{payments: payments, payouts: payouts}
}

// Build fetches both lists concurrently. Either failure fails the summary.
func (b *Builder) Build(ctx context.Context) (*Summary, error) {
	var (
		payments []payment.Record
		payouts  []payment.Payout
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		payments, err = b.payments.ListPayments(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		payouts, err = b.payouts.ListPayouts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Summarize(payments, payouts, time.Now()), nil
}

// Summarize builds a Summary from already fetched lists.
func Summarize(payments []payment.Record, payouts []payment.Payout, now time.Time) *Summary {
	s := &Summary{
		PaymentTotals: make(map[string]decimal.Decimal),
		PayoutTotals:  make(map[string]decimal.Decimal),
		PaymentCount:  len(payments),
		PayoutCount:   len(payouts),
		Transactions:  make([]Transaction, 0, len(payments)+len(payouts)),
		GeneratedAt:   now,
	}

	for _, p := range payments {
		s.PaymentTotals[p.Currency] = s.PaymentTotals[p.Currency].Add(p.Amount)
		s.Transactions = append(s.Transactions, Transaction{
			Kind:      KindPayment,
			ID:        p.ID,
			Amount:    p.Amount,
			Currency:  p.Currency,
			Status:    string(p.Status),
			CreatedAt: p.CreatedAt,
		})
	}
	for _, p := range payouts {
		s.PayoutTotals[p.Currency] = s.PayoutTotals[p.Currency].Add(p.Amount)
		s.Transactions = append(s.Transactions, Transaction{
			Kind:      KindPayout,
			ID:        p.ID,
			PaymentID: p.PaymentID,
			Amount:    p.Amount,
			Currency:  p.Currency,
			Status:    string(p.Status),
			CreatedAt: p.CreatedAt,
		})
	}

	sort.SliceStable(s.Transactions, func(i, j int) bool {
		return s.Transactions[i].CreatedAt.After(s.Transactions[j].CreatedAt)
	})
	return s
}
