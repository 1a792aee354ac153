package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSnapshotStore implements SnapshotStore using Redis. Snapshots live
// under a hash-keyed value plus a sorted-set index scored by epoch, so
// Latest is a single ZREVRANGE. Entries never expire; the trail is the
// point.
type RedisSnapshotStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSnapshotStore creates a new store backed by Redis.
func NewRedisSnapshotStore(addr string, password string, db int) *RedisSnapshotStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password, // no password set
		DB:       db,       // use default DB
	})
	return &RedisSnapshotStore{client: rdb, prefix: "axio:snapshot:"}
}

func (s *RedisSnapshotStore) key(stateHash string) string {
	return s.prefix + stateHash
}

func (s *RedisSnapshotStore) indexKey() string {
	return s.prefix + "by_epoch"
}

func (s *RedisSnapshotStore) Put(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("journal: encode snapshot: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(snap.StateHash), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(snap.Epoch), Member: snap.StateHash})
		return nil
	})
	if err != nil {
		return fmt.Errorf("journal: store snapshot: %w", err)
	}
	return nil
}

func (s *RedisSnapshotStore) Get(ctx context.Context, stateHash string) (Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(stateHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("journal: fetch snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("journal: decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *RedisSnapshotStore) Latest(ctx context.Context) (Snapshot, error) {
	hashes, err := s.client.ZRevRange(ctx, s.indexKey(), 0, 0).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("journal: query snapshot index: %w", err)
	}
	if len(hashes) == 0 {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return s.Get(ctx, hashes[0])
}

// Close releases the underlying client.
func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}
