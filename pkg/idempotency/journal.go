package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"payflow/pkg/payment"
)

// ErrEntryNotFound is returned by Lookup for keys the journal has never seen.
var ErrEntryNotFound = errors.New("idempotency: entry not found")

// Entry records what a key was used for.
type Entry struct {
	Key         string
	Fingerprint string
	PaymentID   string
	CreatedAt   time.Time
}

// Journal remembers key → request fingerprint → payment identifier so a key
// is never silently reused for a different logical payment, and so sessions
// can be resumed by key after a restart.
type Journal interface {
	// Reserve binds key to fingerprint. It returns nil if the key is new or
	// already bound to the same fingerprint, and an error wrapping
	// payment.ErrIdempotencyConflict otherwise.
	Reserve(ctx context.Context, key, fingerprint string) error

	// Complete stores the payment identifier the service assigned for key.
	Complete(ctx context.Context, key, paymentID string) error

	// Lookup returns the entry for key or ErrEntryNotFound.
	Lookup(ctx context.Context, key string) (*Entry, error)

	Close() error
}

// MemoryJournal is a process-local Journal.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]*Entry)}
}

func (j *MemoryJournal) Reserve(ctx context.Context, key, fingerprint string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e, ok := j.entries[key]; ok {
		if e.Fingerprint != fingerprint {
			return fmt.Errorf("%w: key already used for a different request", payment.ErrIdempotencyConflict)
		}
		return nil
	}
	j.entries[key] = &Entry{Key: key, Fingerprint: fingerprint, CreatedAt: time.Now()}
	return nil
}

func (j *MemoryJournal) Complete(ctx context.Context, key, paymentID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.entries[key]
	if !ok {
		return ErrEntryNotFound
	}
	e.PaymentID = paymentID
	return nil
}

func (j *MemoryJournal) Lookup(ctx context.Context, key string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.entries[key]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (j *MemoryJournal) Close() error { return nil }
