package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payflow/pkg/reconcile"
	"payflow/pkg/store"

	"github.com/redis/rueidis"
)

// RedisStore keeps snapshots as JSON strings under KeyPrefix+sessionID and
// indexes session IDs in a set so List does not need KEYS.
type RedisStore struct {
	client rueidis.Client
	name   string
	config RedisStoreConfig
}

// RedisStoreConfig configures the Redis connection.
type RedisStoreConfig struct {
	Name string
	// Addr is the Redis server address for single node/sentinel mode.
	// For cluster mode, use ClusterAddrs instead.
	Addr string
	// ClusterAddrs is a list of Redis cluster node addresses.
	// If set, cluster mode is enabled automatically.
	ClusterAddrs []string
	Username     string
	Password     string
	// DB is the Redis database number (0-15).
	// Note: In cluster mode, only DB 0 is supported.
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// RetainStopped is the expiry applied to snapshots of stopped sessions (0 = keep).
	RetainStopped time.Duration
}

// DefaultRedisStoreConfig returns a config for a local single-node server.
func DefaultRedisStoreConfig() RedisStoreConfig {
	return RedisStoreConfig{
		Name:          "redis",
		Addr:          "localhost:6379",
		KeyPrefix:     "payflow:session:",
		DialTimeout:   5 * time.Second,
		WriteTimeout:  3 * time.Second,
		RetainStopped: 24 * time.Hour,
	}
}

// saveScript writes the snapshot only if it is not older than the stored one.
// KEYS[1] snapshot key, KEYS[2] index set; ARGV[1] json, ARGV[2] updated-at
// unix nanos, ARGV[3] session id, ARGV[4] expiry seconds (0 = none).
var saveScript = rueidis.NewLuaScript(`
local cur = redis.call('HGET', KEYS[1], 'updated')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'updated', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[4])
else
  redis.call('PERSIST', KEYS[1])
end
return 1
`)

// NewRedisStore connects and pings the server.
func NewRedisStore(config RedisStoreConfig) (*RedisStore, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "payflow:session:"
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}

	var initAddress []string
	if len(config.ClusterAddrs) > 0 {
		initAddress = config.ClusterAddrs
	} else if config.Addr != "" {
		initAddress = []string{config.Addr}
	} else {
		return nil, fmt.Errorf("redis: no addresses configured (set Addr or ClusterAddrs)")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &RedisStore{client: client, name: config.Name, config: config}, nil
}

func (r *RedisStore) key(sessionID string) string {
	return r.config.KeyPrefix + sessionID
}

func (r *RedisStore) indexKey() string {
	return r.config.KeyPrefix + "index"
}

// Save implements store.Store.
func (r *RedisStore) Save(ctx context.Context, snap reconcile.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis save: failed to marshal: %w", err)
	}

	var expiry int64
	if !snap.Active && r.config.RetainStopped > 0 {
		expiry = int64(r.config.RetainStopped / time.Second)
	}

	resp := saveScript.Exec(ctx, r.client,
		[]string{r.key(snap.SessionID), r.indexKey()},
		[]string{
			string(data),
			fmt.Sprint(snap.UpdatedAt.UnixNano()),
			snap.SessionID,
			fmt.Sprint(expiry),
		},
	)
	if err := resp.Error(); err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

// Load implements store.Store.
func (r *RedisStore) Load(ctx context.Context, sessionID string) (*reconcile.Snapshot, error) {
	resp := r.client.Do(ctx, r.client.B().Hget().Key(r.key(sessionID)).Field("data").Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis load: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("redis load: failed to read response: %w", err)
	}

	var snap reconcile.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("redis load: failed to unmarshal: %w", err)
	}
	return &snap, nil
}

// List implements store.Store. Index entries whose snapshot expired are pruned.
func (r *RedisStore) List(ctx context.Context) ([]reconcile.Snapshot, error) {
	ids, err := r.client.Do(ctx, r.client.B().Smembers().Key(r.indexKey()).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	if len(ids) == 0 {
		return []reconcile.Snapshot{}, nil
	}

	cmds := make(rueidis.Commands, len(ids))
	for i, id := range ids {
		cmds[i] = r.client.B().Hget().Key(r.key(id)).Field("data").Build()
	}

	var (
		out   = make([]reconcile.Snapshot, 0, len(ids))
		stale []string
		errs  []error
	)
	for i, resp := range r.client.DoMulti(ctx, cmds...) {
		data, err := resp.AsBytes()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				stale = append(stale, ids[i])
				continue
			}
			errs = append(errs, fmt.Errorf("session %s: %w", ids[i], err))
			continue
		}
		var snap reconcile.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			errs = append(errs, fmt.Errorf("session %s: failed to unmarshal: %w", ids[i], err))
			continue
		}
		out = append(out, snap)
	}

	if len(stale) > 0 {
		r.client.Do(ctx, r.client.B().Srem().Key(r.indexKey()).Member(stale...).Build())
	}

	store.SortNewestFirst(out)
	if len(errs) > 0 {
		return out, errors.Join(errs...)
	}
	return out, nil
}

// Delete implements store.Store.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	results := r.client.DoMulti(ctx,
		r.client.B().Del().Key(r.key(sessionID)).Build(),
		r.client.B().Srem().Key(r.indexKey()).Member(sessionID).Build(),
	)
	for _, resp := range results {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("redis delete: %w", err)
		}
	}
	return nil
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Name implements store.Store.
func (r *RedisStore) Name() string {
	return r.name
}

// Close implements store.Store.
func (r *RedisStore) Close() error {
	r.client.Close()
	return nil
}
