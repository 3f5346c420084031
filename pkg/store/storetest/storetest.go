// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"payflow/pkg/payment"
	"payflow/pkg/reconcile"
	"payflow/pkg/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewSnapshot returns an active AWAITING_PAYOUT snapshot with a unique session ID.
func NewSnapshot(started time.Time) reconcile.Snapshot {
	id := uuid.NewString()
	paymentID := "pay_" + id[:8]
	return reconcile.Snapshot{
		SessionID: id,
		PaymentID: paymentID,
		Status:    reconcile.StatusAwaitingPayout,
		Attempts:  1,
		Active:    true,
		Payment: &payment.Record{
			ID:        paymentID,
			Amount:    decimal.RequireFromString("100.00"),
			Currency:  "USD",
			Status:    payment.StatusSucceeded,
			CreatedAt: started,
		},
		StartedAt: started,
		UpdatedAt: started,
	}
}

// Run exercises s. Each subtest uses fresh session IDs so the store does not
// need to be empty.
func Run(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := s.Load(ctx, "missing-"+uuid.NewString())
		if !store.IsNotFound(err) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveLoad", func(t *testing.T) {
		snap := NewSnapshot(base)
		if err := s.Save(ctx, snap); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		got, err := s.Load(ctx, snap.SessionID)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if got.PaymentID != snap.PaymentID || got.Status != snap.Status || !got.Active {
			t.Errorf("Loaded %+v, want %+v", got, snap)
		}
		if got.Payment == nil || !got.Payment.Amount.Equal(snap.Payment.Amount) {
			t.Errorf("Payment not round-tripped: %+v", got.Payment)
		}
	})

	t.Run("NewerReplacesOlder", func(t *testing.T) {
		snap := NewSnapshot(base)
		s.Save(ctx, snap)

		newer := snap
		newer.Status = reconcile.StatusSettled
		newer.Active = false
		newer.Attempts = 3
		newer.UpdatedAt = base.Add(time.Second)
		if err := s.Save(ctx, newer); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		got, _ := s.Load(ctx, snap.SessionID)
		if got == nil || got.Status != reconcile.StatusSettled || got.Attempts != 3 {
			t.Errorf("Expected settled snapshot, got %+v", got)
		}
	})

	t.Run("OlderIgnored", func(t *testing.T) {
		snap := NewSnapshot(base)
		snap.Status = reconcile.StatusPayoutPending
		snap.Attempts = 4
		snap.UpdatedAt = base.Add(2 * time.Second)
		s.Save(ctx, snap)

		stale := snap
		stale.Status = reconcile.StatusAwaitingPayout
		stale.Attempts = 2
		stale.UpdatedAt = base.Add(time.Second)
		if err := s.Save(ctx, stale); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		got, _ := s.Load(ctx, snap.SessionID)
		if got == nil || got.Status != reconcile.StatusPayoutPending || got.Attempts != 4 {
			t.Errorf("Stale write replaced newer snapshot: %+v", got)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		var ids []string
		for i := 0; i < 3; i++ {
			snap := NewSnapshot(base.Add(time.Duration(i) * time.Hour))
			ids = append(ids, snap.SessionID)
			if err := s.Save(ctx, snap); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
		}

		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		pos := map[string]int{}
		for i, snap := range list {
			pos[snap.SessionID] = i
		}
		for i, id := range ids {
			if _, ok := pos[id]; !ok {
				t.Fatalf("Session %d missing from list", i)
			}
		}
		if !(pos[ids[2]] < pos[ids[1]] && pos[ids[1]] < pos[ids[0]]) {
			t.Errorf("Expected newest first, got positions %v", []int{pos[ids[0]], pos[ids[1]], pos[ids[2]]})
		}
	})

	t.Run("Delete", func(t *testing.T) {
		snap := NewSnapshot(base)
		s.Save(ctx, snap)
		if err := s.Delete(ctx, snap.SessionID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Load(ctx, snap.SessionID); !store.IsNotFound(err) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		// Deleting twice is not an error.
		if err := s.Delete(ctx, snap.SessionID); err != nil {
			t.Errorf("Second delete failed: %v", err)
		}
	})

	t.Run("Name", func(t *testing.T) {
		if s.Name() == "" {
			t.Error("Expected a store name")
		}
	})
}

