package reconcile

import (
	"context"
	"time"

	"payflow/pkg/metrics"
	"payflow/pkg/payment"
)

// Matcher finds the payout funded by a payment in the unfiltered payout feed.
type Matcher struct {
	feed    payment.PayoutFeed
	timeout time.Duration
	metrics metrics.MetricsCollector
}

// NewMatcher creates a matcher that bounds each feed read by timeout (0 = no bound).
func NewMatcher(feed payment.PayoutFeed, timeout time.Duration, collector metrics.MetricsCollector) *Matcher {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Matcher{feed: feed, timeout: timeout, metrics: collector}
}

// Match reads the feed and returns the authoritative payout for paymentID,
// or nil if the feed holds none.
func (m *Matcher) Match(ctx context.Context, paymentID string) (*payment.Payout, error) {
	callCtx, cancel := withCallTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	payouts, err := m.feed.ListPayouts(callCtx)
	m.metrics.RecordCall(m.feed.Name(), "list_payouts", err == nil, time.Since(start))

	if err != nil {
		return nil, transient(ctx, callCtx, err)
	}
	return SelectPayout(payouts, paymentID), nil
}

// SelectPayout filters payouts by payment identifier. When a payout was
// retried upstream the most recently created record wins; on equal creation
// times the one earlier in the feed is kept.
func SelectPayout(payouts []payment.Payout, paymentID string) *payment.Payout {
	if paymentID == "" {
		return nil
	}

	var best *payment.Payout
	for i := range payouts {
		p := &payouts[i]
		if p.PaymentID != paymentID {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}
