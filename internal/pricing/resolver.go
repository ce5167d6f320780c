// Package pricing implements the tiered price resolution chain: external
// market sources tried in configured order with fallback, fixed constants,
// pool-internal reference prices, optional inversion, and pair ratios.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// MarketSource fetches a WAD-scaled USD price for a ticker from an external
// market data provider.
type MarketSource interface {
	Name() string
	FetchPrice(ctx context.Context, ticker string) (*big.Int, error)
}

// Context carries the per-pool state pool-reference sources resolve
// against.
type Context struct {
	Snapshot *domain.PoolSnapshot
}

// Resolver resolves PriceSpecs against the configured sources.
type Resolver struct {
	coingecko  MarketSource
	coinbase   MarketSource
	feed       domain.PriceCache
	feedMaxAge time.Duration
	logger     *slog.Logger
}

// NewResolver creates a Resolver. feed may be nil when no websocket feed is
// configured; specs naming the feed source then fail that rung and fall
// through.
func NewResolver(coingecko, coinbase MarketSource, feed domain.PriceCache, feedMaxAge time.Duration, logger *slog.Logger) *Resolver {
	if feedMaxAge <= 0 {
		feedMaxAge = 30 * time.Second
	}
	return &Resolver{
		coingecko:  coingecko,
		coinbase:   coinbase,
		feed:       feed,
		feedMaxAge: feedMaxAge,
		logger:     logger.With(slog.String("component", "price_resolver")),
	}
}

// Resolve tries the price sources strictly in configured order, logging
// and swallowing remote failures, and returns the first success. With
// Invert set the result is replaced by its WAD reciprocal. It returns
// domain.ErrPriceUnavailable only when every configured source fails.
func (r *Resolver) Resolve(ctx context.Context, spec domain.PriceSpec, pctx Context) (*big.Int, error) {
	if len(spec.Sources) == 0 {
		return nil, fmt.Errorf("pricing: empty spec: %w", domain.ErrPriceUnavailable)
	}

	var failures []string
	for _, src := range spec.Sources {
		price, err := r.resolveSource(ctx, src, pctx)
		if err != nil {
			r.logger.WarnContext(ctx, "price source failed",
				slog.String("kind", string(src.Kind)),
				slog.String("ticker", src.Ticker),
				slog.String("error", err.Error()),
			)
			failures = append(failures, fmt.Sprintf("%s: %v", src.Kind, err))
			continue
		}
		if price == nil || price.Sign() <= 0 {
			failures = append(failures, fmt.Sprintf("%s: non-positive price", src.Kind))
			continue
		}
		if spec.Invert {
			price = domain.Reciprocal(price)
		}
		return price, nil
	}

	return nil, fmt.Errorf("pricing: all sources failed (%s): %w",
		strings.Join(failures, "; "), domain.ErrPriceUnavailable)
}

// ResolvePair resolves the collateral and quote specs independently and
// returns collateral ÷ quote in WAD, the pair price used for two-token
// pools.
func (r *Resolver) ResolvePair(ctx context.Context, spec domain.PairPriceSpec, pctx Context) (*big.Int, error) {
	collateral, err := r.Resolve(ctx, spec.Collateral, pctx)
	if err != nil {
		return nil, fmt.Errorf("pricing: collateral leg: %w", err)
	}
	quote, err := r.Resolve(ctx, spec.Quote, pctx)
	if err != nil {
		return nil, fmt.Errorf("pricing: quote leg: %w", err)
	}
	return domain.WadDiv(collateral, quote), nil
}

func (r *Resolver) resolveSource(ctx context.Context, src domain.PriceSource, pctx Context) (*big.Int, error) {
	switch src.Kind {
	case domain.PriceCoinGecko:
		if r.coingecko == nil {
			return nil, fmt.Errorf("coingecko source not configured")
		}
		return r.coingecko.FetchPrice(ctx, src.Ticker)

	case domain.PriceCoinbase:
		if r.coinbase == nil {
			return nil, fmt.Errorf("coinbase source not configured")
		}
		return r.coinbase.FetchPrice(ctx, src.Ticker)

	case domain.PriceFeed:
		if r.feed == nil {
			return nil, fmt.Errorf("price feed not configured")
		}
		price, ts, err := r.feed.GetPrice(ctx, src.Ticker)
		if err != nil {
			return nil, err
		}
		if age := time.Since(ts); age > r.feedMaxAge {
			return nil, fmt.Errorf("feed price for %s stale by %s", src.Ticker, age)
		}
		return price, nil

	case domain.PriceFixed:
		if src.Fixed == nil {
			return nil, fmt.Errorf("fixed source with no value")
		}
		return new(big.Int).Set(src.Fixed), nil

	case domain.PricePoolLUP:
		if pctx.Snapshot == nil || pctx.Snapshot.LUP == nil {
			return nil, fmt.Errorf("no snapshot for pool lup")
		}
		return new(big.Int).Set(pctx.Snapshot.LUP), nil

	case domain.PricePoolHPB:
		if pctx.Snapshot == nil {
			return nil, fmt.Errorf("no snapshot for pool hpb")
		}
		hpb := pctx.Snapshot.HighestBucketPrice()
		if hpb == nil {
			return nil, fmt.Errorf("snapshot has no priced buckets")
		}
		return new(big.Int).Set(hpb), nil

	default:
		return nil, fmt.Errorf("unknown price kind %q", src.Kind)
	}
}
