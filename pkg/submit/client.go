// Package submit sends payment requests to the payment service, once per call.
//
// Retries are the caller's decision: retrying the same logical attempt means
// calling Submit again with the same idempotency.Attempt.
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payflow/pkg/idempotency"
	"payflow/pkg/logging"
	"payflow/pkg/metrics"
	"payflow/pkg/payment"

	"go.uber.org/zap"
)

// Client validates requests, binds idempotency keys in a journal and submits
// payments.
type Client struct {
	svc     payment.Service
	journal idempotency.Journal
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewClient creates a submission client. A nil journal uses an in-memory one.
func NewClient(svc payment.Service, journal idempotency.Journal) *Client {
	return NewClientWithMetrics(svc, journal, metrics.NoOpCollector{})
}

// NewClientWithMetrics creates a submission client that records outcomes to collector.
func NewClientWithMetrics(svc payment.Service, journal idempotency.Journal, collector metrics.MetricsCollector) *Client {
	if journal == nil {
		journal = idempotency.NewMemoryJournal()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Client{
		svc:     svc,
		journal: journal,
		metrics: collector,
		logger:  logging.Global().Named("submit"),
	}
}

// Submit sends the attempt's request. It returns an error wrapping one of
// payment.ErrInvalidRequest, payment.ErrIdempotencyConflict or
// payment.ErrSubmissionUnavailable.
func (c *Client) Submit(ctx context.Context, attempt *idempotency.Attempt) (*payment.Record, error) {
	start := time.Now()
	rec, err := c.submit(ctx, attempt)

	outcome := "success"
	if err != nil {
		outcome = payment.ClassifyError(err)
	}
	c.metrics.RecordSubmission(outcome, time.Since(start))

	return rec, err
}

// SubmitRequest submits req under its own idempotency key, or under a fresh
// one if it has none.
func (c *Client) SubmitRequest(ctx context.Context, req payment.Request) (*payment.Record, string, error) {
	attempt := idempotency.NewAttempt(req)
	if req.IdempotencyKey != "" {
		var err error
		attempt, err = idempotency.ResumeAttempt(req.IdempotencyKey, req)
		if err != nil {
			c.metrics.RecordSubmission(payment.ClassifyError(err), 0)
			return nil, req.IdempotencyKey, err
		}
	}
	rec, err := c.Submit(ctx, attempt)
	return rec, attempt.Key(), err
}

func (c *Client) submit(ctx context.Context, attempt *idempotency.Attempt) (*payment.Record, error) {
	req := attempt.Request()
	log := c.logger.With(logging.IdempotencyKey(req.IdempotencyKey))

	if err := idempotency.ValidateKey(req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		log.Debug("rejected invalid request", zap.Error(err))
		return nil, err
	}

	if err := c.journal.Reserve(ctx, req.IdempotencyKey, req.Fingerprint()); err != nil {
		if payment.IsIdempotencyConflict(err) {
			log.Warn("idempotency key reused for a different request")
			return nil, err
		}
		return nil, fmt.Errorf("%w: journal: %v", payment.ErrSubmissionUnavailable, err)
	}

	rec, err := c.svc.Submit(ctx, req)
	if err != nil {
		switch {
		case payment.IsInvalidRequest(err), payment.IsIdempotencyConflict(err), payment.IsUnavailable(err):
		default:
			err = fmt.Errorf("%w: %w", payment.ErrSubmissionUnavailable, err)
		}
		log.Info("submission failed",
			zap.String("error_type", payment.ClassifyError(err)),
			zap.Error(err),
		)
		return nil, err
	}
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("%w: response without payment identifier", payment.ErrSubmissionUnavailable)
	}
	if !rec.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", payment.ErrSubmissionUnavailable, rec.Status)
	}

	c.remember(ctx, log, req.IdempotencyKey, rec.ID)

	log.Info("payment submitted", logging.PaymentID(rec.ID), logging.Status(string(rec.Status)))
	return rec, nil
}

// remember stores the assigned identifier. A journal failure here does not
// fail the submission: the payment exists and a retry with the same key is
// deduplicated by the service.
func (c *Client) remember(ctx context.Context, log *logging.Logger, key, paymentID string) {
	if prev, err := c.journal.Lookup(ctx, key); err == nil && prev.PaymentID != "" && prev.PaymentID != paymentID {
		log.Error("service returned a different payment for a replayed key",
			logging.PaymentID(paymentID),
			zap.String("previous_payment_id", prev.PaymentID),
		)
	}
	if err := c.journal.Complete(ctx, key, paymentID); err != nil && !errors.Is(err, idempotency.ErrEntryNotFound) {
		log.Warn("failed to record payment in journal", logging.PaymentID(paymentID), zap.Error(err))
	}
}

// Lookup returns the payment identifier previously assigned for key.
func (c *Client) Lookup(ctx context.Context, key string) (string, error) {
	entry, err := c.journal.Lookup(ctx, key)
	if err != nil {
		return "", err
	}
	if entry.PaymentID == "" {
		return "", idempotency.ErrEntryNotFound
	}
	return entry.PaymentID, nil
}
