package redis

import (
	"context"
	"testing"
	"time"

	"payflow/pkg/store/storetest"

	"github.com/google/uuid"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	config := DefaultRedisStoreConfig()
	config.Name = "TestRedis"
	// Unique prefix so parallel runs do not see each other's index.
	config.KeyPrefix = "test:payflow:" + uuid.NewString()[:8] + ":"
	config.DialTimeout = 2 * time.Second

	r, err := NewRedisStore(config)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestNewRedisStore_NoAddress(t *testing.T) {
	_, err := NewRedisStore(RedisStoreConfig{})
	if err == nil {
		t.Fatal("Expected error without addresses")
	}
}

func TestRedisStore_Behaviour(t *testing.T) {
	r := setupTestRedis(t)
	storetest.Run(t, r)
}

func TestRedisStore_StoppedSessionsExpire(t *testing.T) {
	r := setupTestRedis(t)
	r.config.RetainStopped = time.Second
	ctx := context.Background()

	snap := storetest.NewSnapshot(time.Now())
	snap.Active = false
	if err := r.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	ttl, err := r.client.Do(ctx, r.client.B().Ttl().Key(r.key(snap.SessionID)).Build()).AsInt64()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > 1 {
		t.Errorf("Expected a 1s expiry, got %d", ttl)
	}
}

func TestRedisStore_ListPrunesExpired(t *testing.T) {
	r := setupTestRedis(t)
	ctx := context.Background()

	snap := storetest.NewSnapshot(time.Now())
	r.Save(ctx, snap)
	// Simulate expiry of the snapshot key while the index entry remains.
	r.client.Do(ctx, r.client.B().Del().Key(r.key(snap.SessionID)).Build())

	list, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, s := range list {
		if s.SessionID == snap.SessionID {
			t.Error("Expired session still listed")
		}
	}

	isMember, _ := r.client.Do(ctx, r.client.B().Sismember().Key(r.indexKey()).Member(snap.SessionID).Build()).AsBool()
	if isMember {
		t.Error("Expected index entry to be pruned")
	}
}
