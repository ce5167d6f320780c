package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache with a short-TTL JSON blob
// per pool. It only coalesces fetches within a cycle; correctness never
// depends on a hit.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache with the given coalescing TTL.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func snapshotKey(pool common.Address) string {
	return "snapshot:" + pool.Hex()
}

// Get returns the cached snapshot for pool, or domain.ErrNotFound on a miss.
func (sc *SnapshotCache) Get(ctx context.Context, pool common.Address) (*domain.PoolSnapshot, error) {
	raw, err := sc.rdb.Get(ctx, snapshotKey(pool)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get snapshot %s: %w", pool.Hex(), err)
	}

	var snap domain.PoolSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("redis: decode snapshot %s: %w", pool.Hex(), err)
	}
	return &snap, nil
}

// Set stores snap under its pool address for the cache's TTL.
func (sc *SnapshotCache) Set(ctx context.Context, snap *domain.PoolSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot %s: %w", snap.Pool.Hex(), err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey(snap.Pool), raw, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Pool.Hex(), err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
