package mock

import (
	"context"
	"sync/atomic"

	"payflow/pkg/payment"
)

// PaymentService is a mock implementation of payment.Service for testing.
// It allows injecting custom behavior for each method and tracks call counts.
type PaymentService struct {
	// Function hooks - set these to customize behavior
	SubmitFunc       func(ctx context.Context, req payment.Request) (*payment.Record, error)
	GetStatusFunc    func(ctx context.Context, id string) (*payment.Record, error)
	ListPaymentsFunc func(ctx context.Context) ([]payment.Record, error)
	NameFunc         func() string

	// Call tracking (must use atomic operations for race-free access)
	submitCalls    int64
	getStatusCalls int64
	listCalls      int64
}

// Submit implements payment.Service.Submit with optional custom behavior.
func (m *PaymentService) Submit(ctx context.Context, req payment.Request) (*payment.Record, error) {
	atomic.AddInt64(&m.submitCalls, 1)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return &payment.Record{ID: "pay_mock", Amount: req.Amount, Currency: req.Currency, Status: payment.StatusProcessing}, nil
}

// GetStatus implements payment.Service.GetStatus with optional custom behavior.
func (m *PaymentService) GetStatus(ctx context.Context, id string) (*payment.Record, error) {
	atomic.AddInt64(&m.getStatusCalls, 1)
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, id)
	}
	return &payment.Record{ID: id, Status: payment.StatusProcessing}, nil
}

// ListPayments implements payment.Service.ListPayments with optional custom behavior.
func (m *PaymentService) ListPayments(ctx context.Context) ([]payment.Record, error) {
	atomic.AddInt64(&m.listCalls, 1)
	if m.ListPaymentsFunc != nil {
		return m.ListPaymentsFunc(ctx)
	}
	return nil, nil
}

// Name implements payment.Service.Name with optional custom behavior.
func (m *PaymentService) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock-payments"
}

// SubmitCalls returns the number of Submit calls (thread-safe).
func (m *PaymentService) SubmitCalls() int {
	return int(atomic.LoadInt64(&m.submitCalls))
}

// GetStatusCalls returns the number of GetStatus calls (thread-safe).
func (m *PaymentService) GetStatusCalls() int {
	return int(atomic.LoadInt64(&m.getStatusCalls))
}

// ListPaymentsCalls returns the number of ListPayments calls (thread-safe).
func (m *PaymentService) ListPaymentsCalls() int {
	return int(atomic.LoadInt64(&m.listCalls))
}

// PayoutFeed is a mock implementation of payment.PayoutFeed.
type PayoutFeed struct {
	ListPayoutsFunc func(ctx context.Context) ([]payment.Payout, error)
	NameFunc        func() string

	listCalls int64
}

// ListPayouts implements payment.PayoutFeed.ListPayouts with optional custom behavior.
func (m *PayoutFeed) ListPayouts(ctx context.Context) ([]payment.Payout, error) {
	atomic.AddInt64(&m.listCalls, 1)
	if m.ListPayoutsFunc != nil {
		return m.ListPayoutsFunc(ctx)
	}
	return nil, nil
}

// Name implements payment.PayoutFeed.Name with optional custom behavior.
func (m *PayoutFeed) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock-payouts"
}

// ListPayoutsCalls returns the number of ListPayouts calls (thread-safe).
func (m *PayoutFeed) ListPayoutsCalls() int {
	return int(atomic.LoadInt64(&m.listCalls))
}
