package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment service's view of a payment.
type Status string

const (
	StatusCreated    Status = "created"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known payment statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// IsFinal reports whether the payment service will not advance s any further.
func (s Status) IsFinal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Rank orders statuses along the payment lifecycle. A cached record is only
// replaced by a response of equal or higher rank.
func (s Status) Rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusProcessing:
		return 1
	case StatusSucceeded, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Request is a single logical payment attempt. Immutable once sent.
type Request struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	CustomerID     string          `json:"customerId,omitempty"`
	IdempotencyKey string          `json:"-"`
}

// Validate checks the amount and currency. The idempotency key is checked
// separately by the idempotency package.
func (r Request) Validate() error {
	if err := ValidateCurrency(r.Currency); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidRequest)
	}
	exp := MinorUnits(r.Currency)
	if !r.Amount.Equal(r.Amount.Round(exp)) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places for %s",
			ErrInvalidRequest, r.Amount.String(), exp, r.Currency)
	}
	return nil
}

// Fingerprint is a stable digest of the logical parameters of the request.
// Two requests with the same fingerprint are the same logical payment.
func (r Request) Fingerprint() string {
	exp := MinorUnits(r.Currency)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", r.Amount.StringFixed(exp), r.Currency, r.CustomerID)
	return hex.EncodeToString(h.Sum(nil))
}

// Record is the client's read-only snapshot of a payment owned by the payment service.
type Record struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ValidateCurrency accepts three upper-case ASCII letters.
func ValidateCurrency(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: currency %q must be a 3-letter ISO 4217 code", ErrInvalidRequest, code)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return fmt.Errorf("%w: currency %q must be upper-case letters", ErrInvalidRequest, code)
		}
	}
	return nil
}

// minorUnits lists the currencies whose minor unit is not 1/100.
var minorUnits = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0,
	"XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// MinorUnits returns the number of decimal places of currency's minor unit.
func MinorUnits(currency string) int32 {
	if exp, ok := minorUnits[currency]; ok {
		return exp
	}
	return 2
}
