// Package idempotency generates idempotency keys and remembers which logical
// payment each key was used for.
package idempotency

import (
	"fmt"
	"strings"
	"unicode"

	"payflow/pkg/payment"

	"github.com/google/uuid"
)

// MaxKeyLength is the longest key accepted by ValidateKey.
const MaxKeyLength = 255

// NewKey returns a fresh random key in canonical UUID text form.
func NewKey() string {
	return uuid.NewString()
}

// ValidateKey checks a caller-supplied key.
//
// Rules:
// - Non-empty string
// - At most MaxKeyLength bytes
// - No control characters
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: idempotency key is required", payment.ErrInvalidRequest)
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: idempotency key too long (max %d characters)", payment.ErrInvalidRequest, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: idempotency key contains control character", payment.ErrInvalidRequest)
		}
	}

	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: idempotency key has leading or trailing whitespace", payment.ErrInvalidRequest)
	}

	return nil
}

// Attempt binds one idempotency key to one logical payment. Every network
// retry of the same user action goes through the same Attempt and therefore
// reuses its key; a new user action needs a new Attempt.
type Attempt struct {
	key string
	req payment.Request
}

// NewAttempt starts a new logical attempt for req with a fresh key.
// Any key already set on req is replaced.
func NewAttempt(req payment.Request) *Attempt {
	req.IdempotencyKey = NewKey()
	return &Attempt{key: req.IdempotencyKey, req: req}
}

// ResumeAttempt continues an attempt whose key was issued earlier, for example
// by a client retrying an HTTP call after a timeout.
func ResumeAttempt(key string, req payment.Request) (*Attempt, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	req.IdempotencyKey = key
	return &Attempt{key: key, req: req}, nil
}

// Key returns the attempt's idempotency key.
func (a *Attempt) Key() string {
	return a.key
}

// Request returns the request to send, carrying the attempt's key.
func (a *Attempt) Request() payment.Request {
	return a.req
}
