package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceCache stores externally-fed spot prices keyed by ticker. Backed by
// redis; written by the websocket feed, read by the "feed" price source.
type PriceCache interface {
	SetPrice(ctx context.Context, ticker string, price *big.Int, ts time.Time) error
	// GetPrice returns ErrNotFound when no price is cached for the ticker.
	GetPrice(ctx context.Context, ticker string) (*big.Int, time.Time, error)
}

// SnapshotCache coalesces snapshot fetches over a short TTL so interleaved
// engines within a cycle share one ledger query. It provides no correctness
// guarantee beyond that TTL.
type SnapshotCache interface {
	Get(ctx context.Context, pool common.Address) (*PoolSnapshot, error)
	Set(ctx context.Context, snap *PoolSnapshot) error
}

// LockManager provides distributed locks. The keeper takes a per-signer
// lock at startup so two processes never share an account nonce.
type LockManager interface {
	// Acquire returns an unlock func, or ErrLockHeld when another party
	// holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
