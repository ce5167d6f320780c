package subgraph

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// CoalescingSource wraps a SnapshotSource with a short-TTL cache so that
// interleaved engines inside one cycle share a single ledger query. It
// provides no freshness guarantee beyond the cache's TTL; every cycle still
// re-fetches.
type CoalescingSource struct {
	inner  domain.SnapshotSource
	cache  domain.SnapshotCache
	logger *slog.Logger
}

// NewCoalescingSource wraps inner with cache.
func NewCoalescingSource(inner domain.SnapshotSource, cache domain.SnapshotCache, logger *slog.Logger) *CoalescingSource {
	return &CoalescingSource{
		inner:  inner,
		cache:  cache,
		logger: logger.With(slog.String("component", "snapshot_coalesce")),
	}
}

// FetchSnapshot returns the cached snapshot when one is live, otherwise
// fetches from the inner source and populates the cache. Cache failures
// degrade to a direct fetch; they never fail the read.
func (s *CoalescingSource) FetchSnapshot(ctx context.Context, pool common.Address) (*domain.PoolSnapshot, error) {
	snap, err := s.cache.Get(ctx, pool)
	if err == nil && snap != nil {
		return snap, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "snapshot cache read failed",
			slog.String("pool", pool.Hex()),
			slog.String("error", err.Error()),
		)
	}

	snap, err = s.inner.FetchSnapshot(ctx, pool)
	if err != nil {
		return nil, err
	}

	if cerr := s.cache.Set(ctx, snap); cerr != nil {
		s.logger.WarnContext(ctx, "snapshot cache write failed",
			slog.String("pool", pool.Hex()),
			slog.String("error", cerr.Error()),
		)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotSource = (*CoalescingSource)(nil)
