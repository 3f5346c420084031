package memory

import (
	"context"
	"sync"
	"time"

	"payflow/pkg/reconcile"
	"payflow/pkg/store"
)

// MemoryStore keeps snapshots in process memory. Snapshots of stopped
// sessions are dropped RetainStopped after their last update.
type MemoryStore struct {
	// data stores the snapshots by session ID
	data map[string]reconcile.Snapshot

	// mu protects concurrent access to data
	mu sync.RWMutex

	config MemoryStoreConfig

	// cleanupTicker controls the background cleanup interval
	cleanupTicker *time.Ticker

	// stopCleanup is used to signal cleanup goroutine to stop
	stopCleanup chan struct{}

	// wg waits for cleanup goroutine to finish
	wg sync.WaitGroup

	closeOnce sync.Once
}

// MemoryStoreConfig holds configuration for the memory store.
type MemoryStoreConfig struct {
	// Name is the store identifier
	Name string

	// RetainStopped is how long snapshots of stopped sessions are kept (0 = 24h)
	RetainStopped time.Duration

	// CleanupInterval is how often to check for expired snapshots
	CleanupInterval time.Duration
}

// NewMemoryStore creates a memory store and starts its cleanup goroutine.
func NewMemoryStore(config MemoryStoreConfig) *MemoryStore {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.RetainStopped == 0 {
		config.RetainStopped = 24 * time.Hour
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	s := &MemoryStore{
		data:          make(map[string]reconcile.Snapshot),
		config:        config,
		stopCleanup:   make(chan struct{}),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
	}

	s.wg.Add(1)
	go s.cleanup()

	return s
}

// Save implements store.Store.
func (s *MemoryStore) Save(ctx context.Context, snap reconcile.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.data[snap.SessionID]; ok && cur.UpdatedAt.After(snap.UpdatedAt) {
		return nil
	}
	s.data[snap.SessionID] = snap
	return nil
}

// Load implements store.Store.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*reconcile.Snapshot, error) {
	s.mu.RLock()
	snap, ok := s.data[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, store.ErrNotFound
	}
	return &snap, nil
}

// List implements store.Store. Snapshots are ordered newest first.
func (s *MemoryStore) List(ctx context.Context) ([]reconcile.Snapshot, error) {
	s.mu.RLock()
	out := make([]reconcile.Snapshot, 0, len(s.data))
	for _, snap := range s.data {
		out = append(out, snap)
	}
	s.mu.RUnlock()

	store.SortNewestFirst(out)
	return out, nil
}

// Delete implements store.Store.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// Name implements store.Store.
func (s *MemoryStore) Name() string {
	return s.config.Name
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		s.wg.Wait()
	})
	return nil
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// cleanup runs in background and removes expired snapshots periodically.
func (s *MemoryStore) cleanup() {
	defer s.wg.Done()
	defer s.cleanupTicker.Stop()

	for {
		select {
		case <-s.cleanupTicker.C:
			s.removeExpired(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

// removeExpired drops stopped sessions whose last update is older than the retention.
func (s *MemoryStore) removeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, snap := range s.data {
		if !snap.Active && now.Sub(snap.UpdatedAt) > s.config.RetainStopped {
			delete(s.data, id)
		}
	}
}
