package payment

import "context"

// Service is the payment service collaborator.
// Implementations must honour the idempotency contract: the same key with the
// same logical parameters returns the same Record, the same key with different
// parameters returns ErrIdempotencyConflict.
type Service interface {
	// Submit sends req once. Returns ErrInvalidRequest, ErrIdempotencyConflict
	// or ErrSubmissionUnavailable on failure.
	Submit(ctx context.Context, req Request) (*Record, error)

	// GetStatus returns the latest record for id, or ErrNotFound.
	GetStatus(ctx context.Context, id string) (*Record, error)

	// ListPayments returns every payment known to the service.
	ListPayments(ctx context.Context) ([]Record, error)

	// Name identifies the service in logs and metrics.
	Name() string
}

// PayoutFeed is the payout service collaborator. It only offers a bulk,
// unfiltered read; matching by payment identifier happens client-side.
type PayoutFeed interface {
	ListPayouts(ctx context.Context) ([]Payout, error)

	// Name identifies the feed in logs and metrics.
	Name() string
}
