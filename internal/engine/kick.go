// Package engine holds the keeper's decision engines: candidate scanning
// and kick execution, take and arb-take evaluation, and the settlement
// state machine. Engines compute decisions synchronously from immutable
// snapshots; every resulting write goes through the transaction sequencer
// owned by the clients they call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/poolkeeper/internal/config"
	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// KickPool is the pool-contract surface the kick engine drives.
type KickPool interface {
	Address() common.Address
	Kick(ctx context.Context, borrower common.Address, npLimitIndex *big.Int) (*types.Receipt, error)
}

// TokenApprover manages the quote-token allowance backing kick bonds.
type TokenApprover interface {
	BalanceOf(ctx context.Context, token common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Receipt, error)
}

// Outcome is the result of one attempted on-chain action, consumed by the
// cycle runner for recording and notification.
type Outcome struct {
	Kind     domain.ActionKind
	Borrower common.Address
	Receipt  *types.Receipt
	Err      error
	Detail   map[string]any
}

// Status classifies the outcome for the action history.
func (o Outcome) Status(dryRun bool) domain.ActionStatus {
	switch {
	case o.Err == nil && dryRun:
		return domain.StatusDryRun
	case o.Err == nil:
		return domain.StatusConfirmed
	case errors.Is(o.Err, domain.ErrReverted):
		return domain.StatusReverted
	default:
		return domain.StatusFailed
	}
}

// noNPLimit disables the on-chain neutral-price movement guard. Candidates
// are recomputed from a fresh snapshot every cycle, so a moved price is
// caught at the next scan rather than by the contract.
var noNPLimit = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// KickEngine scans loan snapshots for kickable borrowers and executes kicks.
type KickEngine struct {
	cfg    *config.PoolConfig
	pool   KickPool
	tokens TokenApprover
	logger *slog.Logger
}

// NewKickEngine creates a KickEngine for one pool.
func NewKickEngine(cfg *config.PoolConfig, pool KickPool, tokens TokenApprover, logger *slog.Logger) *KickEngine {
	return &KickEngine{
		cfg:    cfg,
		pool:   pool,
		tokens: tokens,
		logger: logger.With(
			slog.String("component", "kick_engine"),
			slog.String("pool", cfg.Name),
		),
	}
}

// CandidateIter walks one cycle's kick candidates. Iterators are finite,
// recomputed per cycle from the latest snapshot, and never persisted.
type CandidateIter struct {
	candidates []domain.KickCandidate
	pos        int
}

// Next returns the next candidate, or false when the iterator is drained.
func (it *CandidateIter) Next() (domain.KickCandidate, bool) {
	if it.pos >= len(it.candidates) {
		return domain.KickCandidate{}, false
	}
	c := it.candidates[it.pos]
	it.pos++
	return c, true
}

// Len returns the total number of candidates in the iterator.
func (it *CandidateIter) Len() int {
	return len(it.candidates)
}

// Scan filters and ranks the snapshot's loans into kick candidates. A loan
// survives only if its threshold price is at or above the pool's LUP, its
// debt meets the configured minimum, and its neutral price scaled by the
// price factor is at or above the resolved market price. Survivors are
// ordered by descending liquidation bond; each candidate carries the sum of
// bonds ranked after it for allowance sizing.
func (e *KickEngine) Scan(snap *domain.PoolSnapshot, marketPrice *big.Int) *CandidateIter {
	minDebt := e.cfg.MinDebtWad()

	var loans []domain.Loan
	for _, loan := range snap.Loans {
		if loan.ThresholdPrice == nil || snap.LUP == nil || loan.ThresholdPrice.Cmp(snap.LUP) < 0 {
			e.logger.Debug("candidate filtered: threshold price below lup",
				slog.String("borrower", loan.Borrower.Hex()))
			continue
		}
		if loan.Debt == nil || loan.Debt.Cmp(minDebt) < 0 {
			e.logger.Debug("candidate filtered: debt below minimum",
				slog.String("borrower", loan.Borrower.Hex()))
			continue
		}
		if loan.NeutralPrice == nil ||
			domain.PctOf(loan.NeutralPrice, e.cfg.Kick.PriceFactorBps).Cmp(marketPrice) < 0 {
			e.logger.Debug("candidate filtered: not provably profitable",
				slog.String("borrower", loan.Borrower.Hex()))
			continue
		}
		if loan.LiquidationBond == nil {
			e.logger.Debug("candidate filtered: no liquidation bond indexed",
				slog.String("borrower", loan.Borrower.Hex()))
			continue
		}
		loans = append(loans, loan)
	}

	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].LiquidationBond.Cmp(loans[j].LiquidationBond) > 0
	})

	candidates := make([]domain.KickCandidate, len(loans))
	remaining := new(big.Int)
	for i := len(loans) - 1; i >= 0; i-- {
		candidates[i] = domain.KickCandidate{
			Pool:                   snap.Pool,
			Loan:                   loans[i],
			EstimatedRemainingBond: new(big.Int).Set(remaining),
		}
		remaining.Add(remaining, loans[i].LiquidationBond)
	}
	return &CandidateIter{candidates: candidates}
}

// Execute secures the bond allowance and submits the kick for one candidate.
// An allowance or balance failure skips the candidate without consuming a
// nonce; the kick transaction itself is never broadcast in that case. The
// returned bool reports whether an approval was granted.
func (e *KickEngine) Execute(ctx context.Context, cand domain.KickCandidate) (*types.Receipt, bool, error) {
	approved, err := e.ensureAllowance(ctx, cand)
	if err != nil {
		return nil, approved, fmt.Errorf("engine: kick %s: %w", cand.Loan.Borrower.Hex(), err)
	}

	receipt, err := e.pool.Kick(ctx, cand.Loan.Borrower, noNPLimit)
	if err != nil {
		return receipt, approved, fmt.Errorf("engine: kick %s: %w", cand.Loan.Borrower.Hex(), err)
	}
	return receipt, approved, nil
}

// ensureAllowance grants the pool a quote-token allowance of
// min(bond + estimatedRemainingBond, balance) plus the configured margin,
// covering the current kick and an anticipated run of subsequent kicks with
// a single approval.
func (e *KickEngine) ensureAllowance(ctx context.Context, cand domain.KickCandidate) (bool, error) {
	quote := e.cfg.QuoteAddress()
	decimals := e.cfg.Quote.Decimals

	balance, err := e.tokens.BalanceOf(ctx, quote)
	if err != nil {
		return false, fmt.Errorf("read balance: %w", err)
	}
	balanceWad, err := domain.ToWad(balance, decimals)
	if err != nil {
		return false, fmt.Errorf("scale balance: %w", err)
	}
	if balanceWad.Cmp(cand.Loan.LiquidationBond) < 0 {
		return false, fmt.Errorf("bond %s exceeds balance %s: %w",
			cand.Loan.LiquidationBond, balanceWad, domain.ErrInsufficientFunds)
	}

	needWad := new(big.Int).Add(cand.Loan.LiquidationBond, cand.EstimatedRemainingBond)
	targetWad := domain.PctOf(domain.MinBig(needWad, balanceWad), 10_000+e.cfg.Kick.AllowanceMarginBps)
	target := domain.FromWadRoundDown(targetWad, decimals)

	current, err := e.tokens.Allowance(ctx, quote, e.pool.Address())
	if err != nil {
		return false, fmt.Errorf("read allowance: %w", err)
	}
	if current.Cmp(target) >= 0 {
		return false, nil
	}

	e.logger.InfoContext(ctx, "granting bond allowance",
		slog.String("token", quote.Hex()),
		slog.String("amount", target.String()),
	)
	if _, err := e.tokens.Approve(ctx, quote, e.pool.Address(), target); err != nil {
		return false, fmt.Errorf("approve: %w", domain.ErrApprovalFailed)
	}
	return true, nil
}

// ResetAllowance returns the pool's quote-token allowance to zero, bounding
// the window in which on-chain approval state is non-zero. Called once per
// batch that granted an approval.
func (e *KickEngine) ResetAllowance(ctx context.Context) error {
	if _, err := e.tokens.Approve(ctx, e.cfg.QuoteAddress(), e.pool.Address(), new(big.Int)); err != nil {
		return fmt.Errorf("engine: reset allowance: %w", err)
	}
	return nil
}

// RunKicks executes one cycle's kick batch: scan, execute each candidate,
// and reset the allowance afterwards when one was granted. marketPrice must
// be resolved by the caller; a nil price means pricing failed and no kick
// decision can be made this cycle.
func (e *KickEngine) RunKicks(ctx context.Context, snap *domain.PoolSnapshot, marketPrice *big.Int) []Outcome {
	if !e.cfg.Kick.Enabled {
		return nil
	}
	if marketPrice == nil {
		e.logger.WarnContext(ctx, "skipping kicks: market price unavailable")
		return nil
	}

	iter := e.Scan(snap, marketPrice)
	if iter.Len() == 0 {
		return nil
	}
	e.logger.InfoContext(ctx, "kick candidates found", slog.Int("count", iter.Len()))

	var outcomes []Outcome
	granted := false
	for {
		cand, ok := iter.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}
		receipt, approved, err := e.Execute(ctx, cand)
		granted = granted || approved
		if err != nil {
			e.logger.WarnContext(ctx, "kick skipped",
				slog.String("borrower", cand.Loan.Borrower.Hex()),
				slog.String("error", err.Error()),
			)
		}
		outcomes = append(outcomes, Outcome{
			Kind:     domain.ActionKick,
			Borrower: cand.Loan.Borrower,
			Receipt:  receipt,
			Err:      err,
			Detail: map[string]any{
				"bond": cand.Loan.LiquidationBond.String(),
				"debt": cand.Loan.Debt.String(),
			},
		})
	}

	if granted {
		if err := e.ResetAllowance(ctx); err != nil {
			e.logger.ErrorContext(ctx, "allowance reset failed", slog.String("error", err.Error()))
		}
	}
	return outcomes
}
