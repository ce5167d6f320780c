package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/poolkeeper/internal/config"
	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// AuctionPool is the pool-contract surface the take engine drives.
type AuctionPool interface {
	Address() common.Address
	Take(ctx context.Context, borrower common.Address, maxAmount *big.Int, callee common.Address, data []byte) (*types.Receipt, error)
	BucketTake(ctx context.Context, borrower common.Address, depositTake bool, index *big.Int) (*types.Receipt, error)
	Settle(ctx context.Context, borrower common.Address, maxDepth *big.Int) (*types.Receipt, error)
	AuctionStatus(ctx context.Context, borrower common.Address) (collateral, debt, price *big.Int, settled bool, err error)
}

// SwapPlanner quotes and builds the external-liquidity leg of a take. The
// liquidity router implements it.
type SwapPlanner interface {
	GetQuote(ctx context.Context, src domain.LiquiditySource, amountIn *big.Int, tokenIn, tokenOut common.Address, hint domain.PoolVariant) (domain.Quote, error)
	BuildSwap(ctx context.Context, q domain.Quote, slippageBps int64) (domain.SwapInstruction, error)
}

// TakeEngine evaluates open auctions for external takes and arb-takes, and
// drives the settlement state machine for auctions that have run out of
// collateral.
type TakeEngine struct {
	cfg    *config.PoolConfig
	pool   AuctionPool
	router SwapPlanner
	owner  common.Address
	logger *slog.Logger

	now func() time.Time
}

// NewTakeEngine creates a TakeEngine for one pool. owner is the keeper's
// signing address, used by the settlement incentive check.
func NewTakeEngine(cfg *config.PoolConfig, pool AuctionPool, router SwapPlanner, owner common.Address, logger *slog.Logger) *TakeEngine {
	return &TakeEngine{
		cfg:    cfg,
		pool:   pool,
		router: router,
		owner:  owner,
		logger: logger.With(
			slog.String("component", "take_engine"),
			slog.String("pool", cfg.Name),
		),
		now: time.Now,
	}
}

// EvaluateAuctions walks the snapshot's open auctions once. Per auction it
// reads the live on-chain status (remaining amounts, current decayed price,
// settled flag), then attempts every eligible action. External-take and
// arb-take eligibility are independent; both may be attempted in the same
// cycle, and whichever transaction lands second is expected to revert
// harmlessly.
func (e *TakeEngine) EvaluateAuctions(ctx context.Context, snap *domain.PoolSnapshot, marketPrice *big.Int) []Outcome {
	if !e.cfg.Take.Enabled && !e.cfg.Settlement.Enabled {
		return nil
	}

	var outcomes []Outcome
	for _, auction := range snap.Auctions {
		if err := ctx.Err(); err != nil {
			break
		}
		if auction.Settled {
			continue
		}
		outcomes = append(outcomes, e.evaluateOne(ctx, snap, auction, marketPrice)...)
	}
	return outcomes
}

func (e *TakeEngine) evaluateOne(ctx context.Context, snap *domain.PoolSnapshot, auction domain.Auction, marketPrice *big.Int) []Outcome {
	collateral, debt, price, settled, err := e.pool.AuctionStatus(ctx, auction.Borrower)
	if err != nil {
		e.logger.WarnContext(ctx, "auction status read failed",
			slog.String("borrower", auction.Borrower.Hex()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if settled {
		return nil
	}

	if collateral.Sign() > 0 {
		return e.tryTakes(ctx, snap, auction, collateral, price, marketPrice)
	}
	if debt.Sign() > 0 && e.cfg.Settlement.Enabled {
		return e.settle(ctx, auction)
	}
	return nil
}

// tryTakes attempts the external take and the arb-take for an auction with
// collateral remaining. A race loss shows up as a reverted transaction and
// is logged at info level, not treated as a failure.
func (e *TakeEngine) tryTakes(ctx context.Context, snap *domain.PoolSnapshot, auction domain.Auction, collateral, price, marketPrice *big.Int) []Outcome {
	if !e.cfg.Take.Enabled {
		return nil
	}

	var outcomes []Outcome
	tookExternally := false

	if e.externalTakeEligible(price, marketPrice) {
		out := e.executeExternalTake(ctx, auction, collateral)
		tookExternally = out.Err == nil
		outcomes = append(outcomes, out)
	}

	if e.arbTakeEligible(snap, price) {
		out := e.executeArbTake(ctx, snap, auction)
		if out.Err != nil && tookExternally && errors.Is(out.Err, domain.ErrReverted) {
			// Lost the race against our own external take; the auction
			// state already moved.
			e.logger.InfoContext(ctx, "arb-take reverted after external take landed",
				slog.String("borrower", auction.Borrower.Hex()))
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// externalTakeEligible: the auction price has decayed to at or below the
// market price scaled by the take factor.
func (e *TakeEngine) externalTakeEligible(price, marketPrice *big.Int) bool {
	if e.cfg.Take.TakeFactorBps <= 0 || marketPrice == nil {
		return false
	}
	return price.Cmp(domain.PctOf(marketPrice, e.cfg.Take.TakeFactorBps)) <= 0
}

// arbTakeEligible: the auction price has decayed to at or below the highest
// bucket price scaled by the HPB factor. Needs no market price.
func (e *TakeEngine) arbTakeEligible(snap *domain.PoolSnapshot, price *big.Int) bool {
	if e.cfg.Take.HpbFactorBps <= 0 {
		return false
	}
	hpb := snap.HighestBucketPrice()
	if hpb == nil {
		return false
	}
	return price.Cmp(domain.PctOf(hpb, e.cfg.Take.HpbFactorBps)) <= 0
}

// executeExternalTake plans the atomic collateral-to-quote swap and submits
// the take. NoLiquidity skips the pool pair for this cycle.
func (e *TakeEngine) executeExternalTake(ctx context.Context, auction domain.Auction, collateral *big.Int) Outcome {
	out := Outcome{Kind: domain.ActionTake, Borrower: auction.Borrower}

	src := domain.LiquiditySource(e.cfg.Take.LiquiditySource)
	amountIn := domain.FromWadRoundDown(collateral, e.cfg.Collateral.Decimals)
	quote, err := e.router.GetQuote(ctx, src, amountIn, e.cfg.CollateralAddress(), e.cfg.QuoteAddress(), e.cfg.VariantHint())
	if err != nil {
		if errors.Is(err, domain.ErrNoLiquidity) || errors.Is(err, domain.ErrPoolNotFound) {
			e.logger.WarnContext(ctx, "no external liquidity for pair this cycle",
				slog.String("borrower", auction.Borrower.Hex()),
				slog.String("source", string(src)),
			)
		}
		out.Err = err
		return out
	}

	instr, err := e.router.BuildSwap(ctx, quote, e.cfg.Take.SlippageBps)
	if err != nil {
		out.Err = err
		return out
	}

	out.Detail = map[string]any{
		"source":    string(src),
		"amount_in": amountIn.String(),
		"min_out":   instr.MinOut.String(),
	}
	out.Receipt, out.Err = e.pool.Take(ctx, auction.Borrower, collateral, instr.To, instr.Calldata)
	return out
}

// executeArbTake closes part of the auction against the pool's highest
// priced bucket with deposit.
func (e *TakeEngine) executeArbTake(ctx context.Context, snap *domain.PoolSnapshot, auction domain.Auction) Outcome {
	out := Outcome{Kind: domain.ActionArbTake, Borrower: auction.Borrower}

	bucket, ok := highestDepositBucket(snap)
	if !ok {
		out.Err = errors.New("engine: no bucket with deposit for arb-take")
		return out
	}

	out.Detail = map[string]any{
		"bucket_index": bucket.Index,
		"bucket_price": bucket.Price.String(),
	}
	out.Receipt, out.Err = e.pool.BucketTake(ctx, auction.Borrower, true, new(big.Int).SetUint64(bucket.Index))
	return out
}

// settle drives the settlement state machine for one auction: up to
// maxIterations settle calls of maxBucketDepth buckets each, stopping the
// moment the protocol reports the auction settled. An exhausted budget
// leaves the auction pending for a later cycle.
func (e *TakeEngine) settle(ctx context.Context, auction domain.Auction) []Outcome {
	if age := auction.Age(e.now()); age < e.cfg.Settlement.MinAuctionAge.Duration {
		e.logger.DebugContext(ctx, "auction below settlement age",
			slog.String("borrower", auction.Borrower.Hex()),
			slog.Duration("age", age),
		)
		return nil
	}

	if !e.cfg.Settlement.SkipIncentiveCheck {
		if auction.Kicker != e.owner || auction.BondClaimable == nil || auction.BondClaimable.Sign() == 0 {
			e.logger.DebugContext(ctx, "skipping settlement without bond incentive",
				slog.String("borrower", auction.Borrower.Hex()),
				slog.String("kicker", auction.Kicker.Hex()),
			)
			return nil
		}
	}

	maxDepth := big.NewInt(e.cfg.Settlement.MaxBucketDepth)
	var outcomes []Outcome
	for i := 0; i < e.cfg.Settlement.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			break
		}

		out := Outcome{
			Kind:     domain.ActionSettle,
			Borrower: auction.Borrower,
			Detail:   map[string]any{"iteration": i + 1},
		}
		out.Receipt, out.Err = e.pool.Settle(ctx, auction.Borrower, maxDepth)
		outcomes = append(outcomes, out)
		if out.Err != nil {
			e.logger.WarnContext(ctx, "settle call failed",
				slog.String("borrower", auction.Borrower.Hex()),
				slog.String("error", out.Err.Error()),
			)
			break
		}

		_, debt, _, settled, err := e.pool.AuctionStatus(ctx, auction.Borrower)
		if err != nil {
			e.logger.WarnContext(ctx, "post-settle status read failed",
				slog.String("borrower", auction.Borrower.Hex()),
				slog.String("error", err.Error()),
			)
			break
		}
		if settled || debt.Sign() == 0 {
			e.logger.InfoContext(ctx, "auction settled",
				slog.String("borrower", auction.Borrower.Hex()),
				slog.Int("iterations", i+1),
			)
			break
		}
	}
	return outcomes
}

func highestDepositBucket(snap *domain.PoolSnapshot) (domain.Bucket, bool) {
	var best domain.Bucket
	found := false
	for _, b := range snap.Buckets {
		if b.Deposit == nil || b.Deposit.Sign() == 0 || b.Price == nil {
			continue
		}
		if !found || b.Price.Cmp(best.Price) > 0 {
			best = b
			found = true
		}
	}
	return best, found
}
