// Package gateway talks to the payment and payout services over HTTP.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"payflow/pkg/payment"
	"payflow/pkg/wire"

	"github.com/go-resty/resty/v2"
)

// ClientConfig configures an HTTP client for one remote service.
type ClientConfig struct {
	// Name identifies the service in logs, metrics and errors.
	Name string `yaml:"name"`

	// BaseURL is the service root, e.g. http://localhost:3001.
	BaseURL string `yaml:"base_url"`

	// Timeout is the transport-level bound for a single request.
	Timeout time.Duration `yaml:"timeout"`

	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent"`
}

func newHTTPClient(config ClientConfig) *resty.Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "payflow"
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(config.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", config.UserAgent).
		SetRetryCount(0)
}

// statusError maps a non-2xx response onto the payment error taxonomy.
func statusError(resp *resty.Response) error {
	msg := strings.TrimSpace(resp.Status())
	if body, ok := resp.Error().(*wire.Error); ok && body != nil && body.Error != "" {
		msg = body.Error
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", payment.ErrInvalidRequest, msg)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", payment.ErrNotFound, msg)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", payment.ErrIdempotencyConflict, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", code, msg)
	}
}

// transportError wraps a failed round trip, keeping context errors visible.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("connection: %w", err)
}
