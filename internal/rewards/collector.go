// Package rewards claims released kick bonds after auctions resolve and
// optionally converts them into a configured target token through the
// liquidity router.
package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/poolkeeper/internal/config"
	"github.com/alanyoungcy/poolkeeper/internal/domain"
	"github.com/alanyoungcy/poolkeeper/internal/engine"
)

// BondPool is the pool-contract surface bond collection drives.
type BondPool interface {
	Address() common.Address
	KickerBond(ctx context.Context) (claimable, locked *big.Int, err error)
	WithdrawBonds(ctx context.Context, maxAmount *big.Int) (*types.Receipt, error)
}

// TxSender broadcasts an opaque swap instruction.
type TxSender interface {
	Send(ctx context.Context, label string, to common.Address, value *big.Int, data []byte) (*types.Receipt, error)
}

// Collector claims each cycle's released bonds for one pool. It implements
// engine.BondCollector.
type Collector struct {
	cfg    *config.PoolConfig
	pool   BondPool
	tokens engine.TokenApprover
	router engine.SwapPlanner
	sender TxSender
	logger *slog.Logger
}

// NewCollector creates a Collector for one pool. router and sender are only
// needed for the swap action and may be nil for hold.
func NewCollector(cfg *config.PoolConfig, pool BondPool, tokens engine.TokenApprover, router engine.SwapPlanner, sender TxSender, logger *slog.Logger) *Collector {
	return &Collector{
		cfg:    cfg,
		pool:   pool,
		tokens: tokens,
		router: router,
		sender: sender,
		logger: logger.With(
			slog.String("component", "reward_collector"),
			slog.String("pool", cfg.Name),
		),
	}
}

var _ engine.BondCollector = (*Collector)(nil)

// Collect withdraws the keeper's claimable bond balance, then applies the
// configured reward action. A zero claimable balance is a no-op cycle.
func (c *Collector) Collect(ctx context.Context, snap *domain.PoolSnapshot) ([]engine.Outcome, error) {
	if !c.cfg.Reward.CollectBonds {
		return nil, nil
	}

	claimable, locked, err := c.pool.KickerBond(ctx)
	if err != nil {
		return nil, fmt.Errorf("rewards: read kicker bond: %w", err)
	}
	if claimable.Sign() == 0 {
		if locked.Sign() > 0 {
			c.logger.DebugContext(ctx, "bond still locked in open auctions",
				slog.String("locked", locked.String()))
		}
		return nil, nil
	}

	c.logger.InfoContext(ctx, "withdrawing released bonds",
		slog.String("claimable", claimable.String()))

	out := engine.Outcome{
		Kind:   domain.ActionReward,
		Detail: map[string]any{"claimable": claimable.String(), "action": string(c.cfg.RewardActionOrDefault())},
	}
	out.Receipt, out.Err = c.pool.WithdrawBonds(ctx, claimable)
	outcomes := []engine.Outcome{out}
	if out.Err != nil {
		return outcomes, nil
	}

	if c.cfg.RewardActionOrDefault() == domain.RewardSwap {
		if swapOut, ok := c.swapClaimed(ctx, claimable); ok {
			outcomes = append(outcomes, swapOut)
		}
	}
	return outcomes, nil
}

// swapClaimed routes the freshly claimed quote tokens into the target token.
// The router allowance is granted immediately before the swap and reset to
// zero afterwards.
func (c *Collector) swapClaimed(ctx context.Context, claimedWad *big.Int) (engine.Outcome, bool) {
	out := engine.Outcome{Kind: domain.ActionReward}

	if c.router == nil || c.sender == nil {
		c.logger.WarnContext(ctx, "swap action configured without a liquidity router")
		return out, false
	}

	src := domain.LiquiditySource(c.cfg.Take.LiquiditySource)
	target := common.HexToAddress(c.cfg.Reward.TargetToken)
	amountIn := domain.FromWadRoundDown(claimedWad, c.cfg.Quote.Decimals)
	if amountIn.Sign() == 0 {
		return out, false
	}

	quote, err := c.router.GetQuote(ctx, src, amountIn, c.cfg.QuoteAddress(), target, c.cfg.VariantHint())
	if err != nil {
		c.logger.WarnContext(ctx, "reward swap quote failed", slog.String("error", err.Error()))
		out.Err = err
		return out, true
	}
	instr, err := c.router.BuildSwap(ctx, quote, c.cfg.Take.SlippageBps)
	if err != nil {
		out.Err = err
		return out, true
	}

	if _, err := c.tokens.Approve(ctx, c.cfg.QuoteAddress(), instr.To, amountIn); err != nil {
		out.Err = fmt.Errorf("rewards: approve swap spender: %w", domain.ErrApprovalFailed)
		return out, true
	}

	out.Detail = map[string]any{
		"swap_source": string(src),
		"amount_in":   amountIn.String(),
		"min_out":     instr.MinOut.String(),
		"target":      target.Hex(),
	}
	out.Receipt, out.Err = c.sender.Send(ctx, "reward swap", instr.To, instr.Value, instr.Calldata)

	if _, err := c.tokens.Approve(ctx, c.cfg.QuoteAddress(), instr.To, new(big.Int)); err != nil {
		c.logger.WarnContext(ctx, "reward swap allowance reset failed", slog.String("error", err.Error()))
	}
	return out, true
}
