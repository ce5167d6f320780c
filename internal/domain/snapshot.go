package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolSnapshot is a point-in-time view of one pool as reported by the
// ledger query service. Snapshots are eventually consistent and are
// re-fetched every cycle; decision engines never mutate them.
type PoolSnapshot struct {
	Pool      common.Address
	Loans     []Loan
	Auctions  []Auction
	Buckets   []Bucket
	LUP       *big.Int // lowest utilized price, WAD
	HPB       *big.Int // highest price bucket, WAD
	FetchedAt time.Time
}

// HighestBucketPrice returns the HPB if the indexer reported it, otherwise
// the highest price among buckets with a non-zero deposit.
func (s *PoolSnapshot) HighestBucketPrice() *big.Int {
	if s.HPB != nil && s.HPB.Sign() > 0 {
		return s.HPB
	}
	var best *big.Int
	for _, b := range s.Buckets {
		if b.Price == nil || b.Deposit == nil || b.Deposit.Sign() == 0 {
			continue
		}
		if best == nil || b.Price.Cmp(best) > 0 {
			best = b.Price
		}
	}
	return best
}

// SnapshotSource supplies pool snapshots. The subgraph client implements it
// directly; a coalescing cache layer may wrap it so interleaved engines
// within one cycle share a single fetch.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, pool common.Address) (*PoolSnapshot, error)
}
