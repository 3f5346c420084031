package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"payflow/pkg/payment"
	"payflow/pkg/wire"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
)

// PayoutClient implements payment.PayoutFeed over the payout service HTTP API.
type PayoutClient struct {
	name string
	http *resty.Client
}

// NewPayoutClient creates a client for the payout service.
func NewPayoutClient(config ClientConfig) *PayoutClient {
	if config.Name == "" {
		config.Name = "payouts"
	}
	return &PayoutClient{name: config.Name, http: newHTTPClient(config)}
}

// ListPayouts reads the whole, unfiltered payout feed.
func (c *PayoutClient) ListPayouts(ctx context.Context) ([]payment.Payout, error) {
	var (
		out    []wire.Payout
		apiErr wire.Error
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get(wire.PayoutsPath)
	if err != nil {
		return nil, payment.WrapError(transportError(ctx, err), c.name, "list_payouts")
	}
	if resp.IsError() {
		return nil, payment.WrapError(statusError(resp), c.name, "list_payouts")
	}

	payouts := make([]payment.Payout, 0, len(out))
	for _, p := range out {
		po, err := p.Payout()
		if err != nil {
			return nil, payment.WrapError(err, c.name, "list_payouts")
		}
		payouts = append(payouts, po)
	}
	return payouts, nil
}

// Name returns the configured service name.
func (c *PayoutClient) Name() string {
	return c.name
}

// CoalescingPayoutFeed shares one in-flight feed read between all concurrent
// callers. Sessions read the same unfiltered feed, so N sessions polling at
// once cost one request instead of N.
//
// The shared read runs detached from any single caller's context and is
// bounded by its own timeout; each caller still returns as soon as its own
// context is done. Returned slices are shared: callers must not modify them.
type CoalescingPayoutFeed struct {
	feed    payment.PayoutFeed
	timeout time.Duration
	group   singleflight.Group

	calls  int64
	shared int64
}

// NewCoalescingPayoutFeed wraps feed. timeout bounds each shared read (default 5s).
func NewCoalescingPayoutFeed(feed payment.PayoutFeed, timeout time.Duration) *CoalescingPayoutFeed {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CoalescingPayoutFeed{feed: feed, timeout: timeout}
}

// ListPayouts implements payment.PayoutFeed.
func (c *CoalescingPayoutFeed) ListPayouts(ctx context.Context) ([]payment.Payout, error) {
	atomic.AddInt64(&c.calls, 1)

	ch := c.group.DoChan("payouts", func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.feed.ListPayouts(readCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			atomic.AddInt64(&c.shared, 1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		payouts, _ := res.Val.([]payment.Payout)
		return payouts, nil
	}
}

// Name returns the name of the wrapped feed.
func (c *CoalescingPayoutFeed) Name() string {
	return c.feed.Name()
}

// Stats returns the number of calls and how many of them shared a read.
func (c *CoalescingPayoutFeed) Stats() (calls, shared int64) {
	return atomic.LoadInt64(&c.calls), atomic.LoadInt64(&c.shared)
}
