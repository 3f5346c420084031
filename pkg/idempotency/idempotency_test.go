package idempotency

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"payflow/pkg/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func testRequest(amount string) payment.Request {
	return payment.Request{
		Amount:     decimal.RequireFromString(amount),
		Currency:   "USD",
		CustomerID: "cust_123",
	}
}

func TestNewKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key := NewKey()
		if seen[key] {
			t.Fatalf("Duplicate key generated: %s", key)
		}
		seen[key] = true

		parsed, err := uuid.Parse(key)
		if err != nil {
			t.Fatalf("Key %q is not a UUID: %v", key, err)
		}
		if parsed.Version() != 4 {
			t.Errorf("Expected version 4 UUID, got %d", parsed.Version())
		}
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"uuid", NewKey(), false},
		{"opaque token", "order-42-attempt-1", false},
		{"empty", "", true},
		{"too long", strings.Repeat("k", MaxKeyLength+1), true},
		{"control character", "key\nwith\nnewlines", true},
		{"padded", " key ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !payment.IsInvalidRequest(err) {
				t.Errorf("Expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestAttempt_ReusesKeyAcrossRetries(t *testing.T) {
	req := testRequest("100.00")
	req.IdempotencyKey = "stale"

	attempt := NewAttempt(req)
	first := attempt.Request()
	second := attempt.Request()

	if first.IdempotencyKey == "stale" {
		t.Error("NewAttempt must replace any key already on the request")
	}
	if first.IdempotencyKey != second.IdempotencyKey || first.IdempotencyKey != attempt.Key() {
		t.Error("Retries of one attempt must carry the same key")
	}

	other := NewAttempt(req)
	if other.Key() == attempt.Key() {
		t.Error("A new attempt must get a fresh key")
	}
}

func TestResumeAttempt(t *testing.T) {
	attempt, err := ResumeAttempt("client-key-1", testRequest("5"))
	if err != nil {
		t.Fatalf("ResumeAttempt failed: %v", err)
	}
	if attempt.Request().IdempotencyKey != "client-key-1" {
		t.Errorf("Expected resumed key, got %q", attempt.Request().IdempotencyKey)
	}

	if _, err := ResumeAttempt("", testRequest("5")); err == nil {
		t.Error("Expected empty key to be rejected")
	}
}

func testJournal(t *testing.T, j Journal) {
	ctx := context.Background()
	a := testRequest("100.00")
	b := testRequest("250.00")

	if err := j.Reserve(ctx, "k1", a.Fingerprint()); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	// Same logical request: retry allowed
	if err := j.Reserve(ctx, "k1", a.Fingerprint()); err != nil {
		t.Fatalf("Reserve retry failed: %v", err)
	}
	// Different request with the same key: conflict
	err := j.Reserve(ctx, "k1", b.Fingerprint())
	if !payment.IsIdempotencyConflict(err) {
		t.Fatalf("Expected ErrIdempotencyConflict, got %v", err)
	}

	if err := j.Complete(ctx, "k1", "pay_1"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	entry, err := j.Lookup(ctx, "k1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry.PaymentID != "pay_1" || entry.Fingerprint != a.Fingerprint() {
		t.Errorf("Unexpected entry: %+v", entry)
	}

	if _, err := j.Lookup(ctx, "missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Expected ErrEntryNotFound, got %v", err)
	}
	if err := j.Complete(ctx, "missing", "pay_x"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Expected ErrEntryNotFound from Complete, got %v", err)
	}
}

func TestMemoryJournal(t *testing.T) {
	testJournal(t, NewMemoryJournal())
}

func TestSQLiteJournal(t *testing.T) {
	j, err := OpenSQLiteJournal(context.Background(), SQLiteJournalConfig{
		Path: filepath.Join(t.TempDir(), "journal.db"),
	})
	if err != nil {
		t.Fatalf("OpenSQLiteJournal failed: %v", err)
	}
	defer j.Close()

	testJournal(t, j)

	lookups, filtered := j.FilterStats()
	if lookups != 2 {
		t.Errorf("Expected 2 lookups, got %d", lookups)
	}
	if filtered < 1 {
		t.Errorf("Expected the bloom filter to answer the missing-key lookup, got %d", filtered)
	}
}

func TestSQLiteJournal_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	req := testRequest("42.00")

	j, err := OpenSQLiteJournal(ctx, SQLiteJournalConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLiteJournal failed: %v", err)
	}
	if err := j.Reserve(ctx, "k-reopen", req.Fingerprint()); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := j.Complete(ctx, "k-reopen", "pay_9"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	j.Close()

	j, err = OpenSQLiteJournal(ctx, SQLiteJournalConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer j.Close()

	entry, err := j.Lookup(ctx, "k-reopen")
	if err != nil {
		t.Fatalf("Lookup after reopen failed: %v", err)
	}
	if entry.PaymentID != "pay_9" {
		t.Errorf("Expected pay_9, got %q", entry.PaymentID)
	}

	err = j.Reserve(ctx, "k-reopen", testRequest("43.00").Fingerprint())
	if !payment.IsIdempotencyConflict(err) {
		t.Errorf("Expected conflict after reopen, got %v", err)
	}
}
