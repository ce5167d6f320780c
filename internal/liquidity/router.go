// Package liquidity provides a uniform façade over heterogeneous liquidity
// sources: an aggregator API and several AMM router variants. Adapters form
// a closed, tagged set; the active adapter for a pool is a
// configuration-time tag, never runtime type inspection.
package liquidity

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// Adapter is the capability contract every liquidity-source variant
// implements.
type Adapter interface {
	Source() domain.LiquiditySource

	// PoolExists discovers whether a pool for the pair exists, and which
	// variant, honoring the hint when one is supplied.
	PoolExists(ctx context.Context, tokenA, tokenB common.Address, hint domain.PoolVariant) (domain.PoolInfo, error)

	// GetQuote returns the expected output amount for the swap, or
	// domain.ErrNoLiquidity.
	GetQuote(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address, hint domain.PoolVariant) (domain.Quote, error)

	// BuildSwap constructs an opaque swap instruction from a quote with
	// the given minimum output and absolute deadline.
	BuildSwap(ctx context.Context, q domain.Quote, minOut *big.Int, deadline time.Time) (domain.SwapInstruction, error)
}

// Router dispatches to the configured adapter per call and applies the
// slippage and deadline policy. Instructions are built fresh per call and
// never reused across confirmation attempts.
type Router struct {
	adapters        map[domain.LiquiditySource]Adapter
	deadlineHorizon time.Duration
	logger          *slog.Logger
}

// NewRouter creates a Router over the given adapters. deadlineHorizon is
// the fixed horizon added to the current time for every instruction's
// absolute deadline.
func NewRouter(adapters []Adapter, deadlineHorizon time.Duration, logger *slog.Logger) *Router {
	if deadlineHorizon <= 0 {
		deadlineHorizon = 2 * time.Minute
	}
	m := make(map[domain.LiquiditySource]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Source()] = a
	}
	return &Router{
		adapters:        m,
		deadlineHorizon: deadlineHorizon,
		logger:          logger.With(slog.String("component", "liquidity_router")),
	}
}

func (r *Router) adapter(src domain.LiquiditySource) (Adapter, error) {
	a, ok := r.adapters[src]
	if !ok {
		return nil, fmt.Errorf("liquidity: no adapter for source %q", src)
	}
	return a, nil
}

// PoolExists dispatches pool discovery to the tagged adapter.
func (r *Router) PoolExists(ctx context.Context, src domain.LiquiditySource, tokenA, tokenB common.Address, hint domain.PoolVariant) (domain.PoolInfo, error) {
	a, err := r.adapter(src)
	if err != nil {
		return domain.PoolInfo{}, err
	}
	return a.PoolExists(ctx, tokenA, tokenB, hint)
}

// GetQuote dispatches quoting to the tagged adapter.
func (r *Router) GetQuote(ctx context.Context, src domain.LiquiditySource, amountIn *big.Int, tokenIn, tokenOut common.Address, hint domain.PoolVariant) (domain.Quote, error) {
	a, err := r.adapter(src)
	if err != nil {
		return domain.Quote{}, err
	}
	q, err := a.GetQuote(ctx, amountIn, tokenIn, tokenOut, hint)
	if err != nil {
		return domain.Quote{}, err
	}
	r.logger.DebugContext(ctx, "quote",
		slog.String("source", string(src)),
		slog.String("token_in", tokenIn.Hex()),
		slog.String("token_out", tokenOut.Hex()),
		slog.String("amount_in", amountIn.String()),
		slog.String("amount_out", q.AmountOut.String()),
	)
	return q, nil
}

// BuildSwap constructs a swap instruction for q with
// minOut = quoteOut × (10000 − slippageBps) / 10000 and an absolute
// deadline of now plus the router's fixed horizon.
func (r *Router) BuildSwap(ctx context.Context, q domain.Quote, slippageBps int64) (domain.SwapInstruction, error) {
	a, err := r.adapter(q.Source)
	if err != nil {
		return domain.SwapInstruction{}, err
	}
	minOut := domain.MinOutWithSlippage(q.AmountOut, slippageBps)
	deadline := time.Now().Add(r.deadlineHorizon)
	return a.BuildSwap(ctx, q, minOut, deadline)
}
