package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payflow/pkg/metrics"
	"payflow/pkg/payment"
)

// Poller reads the current payment record by identifier.
type Poller struct {
	svc     payment.Service
	timeout time.Duration
	metrics metrics.MetricsCollector
}

// NewPoller creates a poller that bounds each read by timeout (0 = no bound).
func NewPoller(svc payment.Service, timeout time.Duration, collector metrics.MetricsCollector) *Poller {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Poller{svc: svc, timeout: timeout, metrics: collector}
}

// Poll returns the latest record for id. Every failure other than the caller's
// own cancellation is returned wrapped in payment.ErrTransientPollFailure.
func (p *Poller) Poll(ctx context.Context, id string) (*payment.Record, error) {
	callCtx, cancel := withCallTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	rec, err := p.svc.GetStatus(callCtx, id)
	if err == nil && rec == nil {
		err = fmt.Errorf("%w: empty response", payment.ErrNotFound)
	}
	if err == nil && rec.ID != "" && rec.ID != id {
		err = fmt.Errorf("response for %q while polling %q", rec.ID, id)
	}
	p.metrics.RecordCall(p.svc.Name(), "get_status", err == nil, time.Since(start))

	if err != nil {
		return nil, transient(ctx, callCtx, err)
	}
	return rec, nil
}

// withCallTimeout derives the per-call context.
func withCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// transient classifies a failed call. Cancellation of the parent context is
// returned as is so the session can stop; a per-call deadline becomes
// payment.ErrTimeout.
func transient(parent, call context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) && !payment.IsTimeout(err) {
		err = fmt.Errorf("%w: %v", payment.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", payment.ErrTransientPollFailure, err)
}
