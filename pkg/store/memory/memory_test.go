package memory

import (
	"context"
	"testing"
	"time"

	"payflow/pkg/store/storetest"
)

func TestMemoryStore_Behaviour(t *testing.T) {
	s := NewMemoryStore(MemoryStoreConfig{})
	defer s.Close()

	storetest.Run(t, s)
}

func TestMemoryStore_RemoveExpired(t *testing.T) {
	s := NewMemoryStore(MemoryStoreConfig{RetainStopped: time.Minute, CleanupInterval: time.Hour})
	defer s.Close()
	ctx := context.Background()
	now := time.Now()

	active := storetest.NewSnapshot(now.Add(-time.Hour))
	stopped := storetest.NewSnapshot(now.Add(-time.Hour))
	stopped.Active = false
	recent := storetest.NewSnapshot(now)
	recent.Active = false

	s.Save(ctx, active)
	s.Save(ctx, stopped)
	s.Save(ctx, recent)

	s.removeExpired(now)

	if s.Len() != 2 {
		t.Fatalf("Expected 2 snapshots after cleanup, got %d", s.Len())
	}
	if _, err := s.Load(ctx, stopped.SessionID); err == nil {
		t.Error("Expected expired stopped session to be removed")
	}
	if _, err := s.Load(ctx, active.SessionID); err != nil {
		t.Errorf("Active session must survive cleanup: %v", err)
	}
}

func TestMemoryStore_CleanupLoop(t *testing.T) {
	s := NewMemoryStore(MemoryStoreConfig{RetainStopped: time.Millisecond, CleanupInterval: 5 * time.Millisecond})
	defer s.Close()

	snap := storetest.NewSnapshot(time.Now().Add(-time.Second))
	snap.Active = false
	s.Save(context.Background(), snap)

	deadline := time.Now().Add(time.Second)
	for s.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Len() != 0 {
		t.Errorf("Expected cleanup goroutine to drop the session, %d left", s.Len())
	}
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	s := NewMemoryStore(MemoryStoreConfig{Name: "mem"})
	if s.Name() != "mem" {
		t.Errorf("Expected name 'mem', got %q", s.Name())
	}
	s.Close()
	s.Close()
}
