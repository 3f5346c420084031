package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payflow/pkg/logging"
	"payflow/pkg/metrics"
	"payflow/pkg/payment"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// breaker holds the circuit breaker and timeout shared by one wrapped service.
type breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

func newBreaker(name string, config ResilientConfig, metricsCollector metrics.MetricsCollector) *breaker {
	logger := logging.Global().Named("resilience").Named(name)

	b := &breaker{
		name:    name,
		timeout: config.Timeout,
		metrics: metricsCollector,
		logger:  logger,
	}

	logger.Info("resilient service initialized",
		zap.String("service", name),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		// Caller errors and caller cancellation say nothing about the health of the service.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, payment.ErrInvalidRequest) ||
				errors.Is(err, payment.ErrIdempotencyConflict) ||
				errors.Is(err, payment.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			b.metrics.RecordCircuitState(name, state)
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// execute runs fn under the timeout and the circuit breaker and translates
// their failures into payment.ErrTimeout and payment.ErrCircuitOpen.
func execute[T any](ctx context.Context, b *breaker, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == nil {
		return result.(T), nil
	}

	duration := time.Since(start)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Warn("circuit breaker open - request rejected",
			zap.String("operation", operation),
		)
		return zero, payment.WrapError(payment.ErrCircuitOpen, b.name, operation)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.logger.Warn("operation timeout",
			zap.String("operation", operation),
			zap.Duration("timeout", b.timeout),
			zap.Duration("elapsed", duration),
		)
		return zero, payment.WrapError(fmt.Errorf("%w: %v", payment.ErrTimeout, err), b.name, operation)
	}

	if !errors.Is(err, context.Canceled) {
		b.logger.Debug("operation failed",
			zap.String("operation", operation),
			zap.Duration("duration", duration),
			zap.String("error_type", payment.ClassifyError(err)),
			zap.Error(err),
		)
	}
	return zero, err
}

// PaymentService wraps a payment.Service with timeout and circuit breaker protection.
type PaymentService struct {
	svc payment.Service
	b   *breaker
}

// NewPaymentService wraps svc with the default no-op metrics collector.
func NewPaymentService(svc payment.Service, config ResilientConfig) *PaymentService {
	return NewPaymentServiceWithMetrics(svc, config, metrics.NoOpCollector{})
}

// NewPaymentServiceWithMetrics wraps svc and reports breaker state to metricsCollector.
func NewPaymentServiceWithMetrics(svc payment.Service, config ResilientConfig, metricsCollector metrics.MetricsCollector) *PaymentService {
	return &PaymentService{svc: svc, b: newBreaker(svc.Name(), config, metricsCollector)}
}

// Submit sends the request through the breaker. Timeouts and open circuits
// are reported as ErrSubmissionUnavailable so the caller knows the same key
// may be retried.
func (p *PaymentService) Submit(ctx context.Context, req payment.Request) (*payment.Record, error) {
	rec, err := execute(ctx, p.b, "submit", func(ctx context.Context) (*payment.Record, error) {
		return p.svc.Submit(ctx, req)
	})
	if err != nil && (payment.IsTimeout(err) || payment.IsCircuitOpen(err)) {
		return nil, fmt.Errorf("%w: %w", payment.ErrSubmissionUnavailable, err)
	}
	return rec, err
}

// GetStatus reads a payment through the breaker.
func (p *PaymentService) GetStatus(ctx context.Context, id string) (*payment.Record, error) {
	return execute(ctx, p.b, "get_status", func(ctx context.Context) (*payment.Record, error) {
		return p.svc.GetStatus(ctx, id)
	})
}

// ListPayments reads all payments through the breaker.
func (p *PaymentService) ListPayments(ctx context.Context) ([]payment.Record, error) {
	return execute(ctx, p.b, "list_payments", func(ctx context.Context) ([]payment.Record, error) {
		return p.svc.ListPayments(ctx)
	})
}

// Name returns the name of the wrapped service.
func (p *PaymentService) Name() string {
	return p.svc.Name()
}

// State returns the current circuit breaker state.
func (p *PaymentService) State() gobreaker.State {
	return p.b.cb.State()
}

// PayoutFeed wraps a payment.PayoutFeed with timeout and circuit breaker protection.
type PayoutFeed struct {
	feed payment.PayoutFeed
	b    *breaker
}

// NewPayoutFeed wraps feed with the default no-op metrics collector.
func NewPayoutFeed(feed payment.PayoutFeed, config ResilientConfig) *PayoutFeed {
	return NewPayoutFeedWithMetrics(feed, config, metrics.NoOpCollector{})
}

// NewPayoutFeedWithMetrics wraps feed and reports breaker state to metricsCollector.
func NewPayoutFeedWithMetrics(feed payment.PayoutFeed, config ResilientConfig, metricsCollector metrics.MetricsCollector) *PayoutFeed {
	return &PayoutFeed{feed: feed, b: newBreaker(feed.Name(), config, metricsCollector)}
}

// ListPayouts reads the payout feed through the breaker.
func (p *PayoutFeed) ListPayouts(ctx context.Context) ([]payment.Payout, error) {
	return execute(ctx, p.b, "list_payouts", func(ctx context.Context) ([]payment.Payout, error) {
		return p.feed.ListPayouts(ctx)
	})
}

// Name returns the name of the wrapped feed.
func (p *PayoutFeed) Name() string {
	return p.feed.Name()
}

// State returns the current circuit breaker state.
func (p *PayoutFeed) State() gobreaker.State {
	return p.b.cb.State()
}
