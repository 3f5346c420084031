package gateway

import (
	"context"
	"fmt"
	"net/http"

	"payflow/pkg/payment"
	"payflow/pkg/wire"

	"github.com/go-resty/resty/v2"
)

// PaymentClient implements payment.Service over the payment service HTTP API.
type PaymentClient struct {
	name string
	http *resty.Client
}

// NewPaymentClient creates a client for the payment service.
func NewPaymentClient(config ClientConfig) *PaymentClient {
	if config.Name == "" {
		config.Name = "payments"
	}
	return &PaymentClient{name: config.Name, http: newHTTPClient(config)}
}

// Submit posts req with its idempotency key. 5xx and 429 responses are
// reported as payment.ErrSubmissionUnavailable.
func (c *PaymentClient) Submit(ctx context.Context, req payment.Request) (*payment.Record, error) {
	var (
		out    wire.SubmitResponse
		apiErr wire.Error
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(wire.IdempotencyKeyHeader, req.IdempotencyKey).
		SetBody(wire.NewSubmitRequest(req)).
		SetResult(&out).
		SetError(&apiErr).
		Post(wire.PaymentsPath)
	if err != nil {
		return nil, payment.WrapError(transportError(ctx, err), c.name, "submit")
	}
	if resp.IsError() {
		err := statusError(resp)
		if code := resp.StatusCode(); code >= http.StatusInternalServerError || code == http.StatusTooManyRequests {
			err = fmt.Errorf("%w: %v", payment.ErrSubmissionUnavailable, err)
		}
		return nil, payment.WrapError(err, c.name, "submit")
	}

	rec, err := out.Record(req)
	if err != nil {
		return nil, payment.WrapError(err, c.name, "submit")
	}
	return &rec, nil
}

// GetStatus reads one payment.
func (c *PaymentClient) GetStatus(ctx context.Context, id string) (*payment.Record, error) {
	var (
		out    wire.Payment
		apiErr wire.Error
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&apiErr).
		Get(wire.PaymentsPath + "/{id}")
	if err != nil {
		return nil, payment.WrapError(transportError(ctx, err), c.name, "get_status")
	}
	if resp.IsError() {
		return nil, payment.WrapError(statusError(resp), c.name, "get_status")
	}

	rec, err := out.Record()
	if err != nil {
		return nil, payment.WrapError(err, c.name, "get_status")
	}
	return &rec, nil
}

// ListPayments reads every payment the service knows.
func (c *PaymentClient) ListPayments(ctx context.Context) ([]payment.Record, error) {
	var (
		out    []wire.Payment
		apiErr wire.Error
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get(wire.PaymentsPath)
	if err != nil {
		return nil, payment.WrapError(transportError(ctx, err), c.name, "list_payments")
	}
	if resp.IsError() {
		return nil, payment.WrapError(statusError(resp), c.name, "list_payments")
	}

	records := make([]payment.Record, 0, len(out))
	for _, p := range out {
		rec, err := p.Record()
		if err != nil {
			return nil, payment.WrapError(err, c.name, "list_payments")
		}
		records = append(records, rec)
	}
	return records, nil
}

// Name returns the configured service name.
func (c *PaymentClient) Name() string {
	return c.name
}
