package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolkeeper/internal/config"
	"github.com/alanyoungcy/poolkeeper/internal/domain"
	"github.com/alanyoungcy/poolkeeper/internal/pricing"
)

// PairResolver resolves a pool pair's market price. The pricing resolver
// implements it.
type PairResolver interface {
	ResolvePair(ctx context.Context, spec domain.PairPriceSpec, pctx pricing.Context) (*big.Int, error)
}

// BondCollector claims and converts released kick bonds after settlement.
type BondCollector interface {
	Collect(ctx context.Context, snap *domain.PoolSnapshot) ([]Outcome, error)
}

// Notifier pushes operator notifications. The notify package implements it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// LUPReader reads the pool's live lowest utilized price, backfilling
// snapshots the indexer has not caught up on.
type LUPReader interface {
	LUP(ctx context.Context) (*big.Int, error)
}

// PoolRunner bundles one pool's engines with its snapshot source and price
// configuration.
type PoolRunner struct {
	Cfg       *config.PoolConfig
	Snapshots domain.SnapshotSource
	Resolver  PairResolver
	Kick      *KickEngine
	Take      *TakeEngine
	Rewards   BondCollector // optional
	State     LUPReader     // optional
}

// Runner drives the keeper's scan/decide/execute cycles across all
// configured pools. Pools are evaluated concurrently; write ordering is
// still total because every broadcast funnels through the shared sequencer.
type Runner struct {
	pools    []*PoolRunner
	interval time.Duration
	dryRun   bool
	lock     domain.LockManager // optional
	store    domain.ActionStore // optional
	notifier Notifier           // optional
	logger   *slog.Logger
}

// NewRunner creates a Runner. lock, store, and notifier may be nil when the
// corresponding backing service is not configured.
func NewRunner(pools []*PoolRunner, interval time.Duration, dryRun bool, lock domain.LockManager, store domain.ActionStore, notifier Notifier, logger *slog.Logger) *Runner {
	return &Runner{
		pools:    pools,
		interval: interval,
		dryRun:   dryRun,
		lock:     lock,
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "cycle_runner")),
	}
}

// cycleLockKey is the distributed lock guarding against two keeper
// processes sharing one signer account.
const cycleLockKey = "poolkeeper:cycle"

// Run executes cycles at the configured interval until ctx is cancelled.
// The first cycle starts immediately.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.RunOnce(ctx); err != nil {
		r.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				r.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce executes a single cycle across every pool and returns once all
// pools finish. A held lock skips the cycle rather than failing the
// process.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.lock != nil {
		unlock, err := r.lock.Acquire(ctx, cycleLockKey, 2*r.interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				r.logger.WarnContext(ctx, "cycle lock held elsewhere, skipping cycle")
				return nil
			}
			return fmt.Errorf("engine: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	cycleID := uuid.NewString()
	start := time.Now()
	r.logger.InfoContext(ctx, "cycle started",
		slog.String("cycle_id", cycleID),
		slog.Int("pools", len(r.pools)),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, pool := range r.pools {
		g.Go(func() error {
			r.runPool(gctx, cycleID, pool)
			return gctx.Err()
		})
	}
	err := g.Wait()

	r.logger.InfoContext(ctx, "cycle finished",
		slog.String("cycle_id", cycleID),
		slog.Duration("elapsed", time.Since(start)),
	)
	return err
}

// runPool executes one pool's scan/decide/execute sequence. Errors are pool
// scoped: a failed snapshot or price leaves the other pools untouched.
func (r *Runner) runPool(ctx context.Context, cycleID string, pool *PoolRunner) {
	logger := r.logger.With(
		slog.String("cycle_id", cycleID),
		slog.String("pool", pool.Cfg.Name),
	)

	snap, err := pool.Snapshots.FetchSnapshot(ctx, pool.Cfg.PoolAddress())
	if err != nil {
		logger.ErrorContext(ctx, "snapshot fetch failed", slog.String("error", err.Error()))
		return
	}

	// An indexer lagging the chain can deliver a snapshot without an LUP,
	// which would filter every kick candidate. Backfill from the contract.
	if snap.LUP == nil && pool.State != nil {
		lup, err := pool.State.LUP(ctx)
		if err != nil {
			logger.WarnContext(ctx, "live lup read failed", slog.String("error", err.Error()))
		} else {
			snap.LUP = lup
		}
	}

	// A pricing failure aborts only the pricing-dependent decisions for
	// this pool this cycle; arb-takes and settlement still proceed.
	marketPrice, err := pool.Resolver.ResolvePair(ctx, pool.Cfg.PairSpec(), pricing.Context{Snapshot: snap})
	if err != nil {
		logger.WarnContext(ctx, "market price unavailable this cycle", slog.String("error", err.Error()))
		marketPrice = nil
	}

	var outcomes []Outcome
	if pool.Kick != nil {
		outcomes = append(outcomes, pool.Kick.RunKicks(ctx, snap, marketPrice)...)
	}
	if pool.Take != nil {
		outcomes = append(outcomes, pool.Take.EvaluateAuctions(ctx, snap, marketPrice)...)
	}
	if pool.Rewards != nil {
		rewardOutcomes, err := pool.Rewards.Collect(ctx, snap)
		if err != nil {
			logger.WarnContext(ctx, "reward collection failed", slog.String("error", err.Error()))
		}
		outcomes = append(outcomes, rewardOutcomes...)
	}

	for _, out := range outcomes {
		r.recordOutcome(ctx, logger, cycleID, pool.Cfg, out)
	}
}

// recordOutcome persists one action row and pushes the matching
// notification. Recording failures are logged, never escalated; history is
// an observability concern, not a correctness one.
func (r *Runner) recordOutcome(ctx context.Context, logger *slog.Logger, cycleID string, cfg *config.PoolConfig, out Outcome) {
	status := out.Status(r.dryRun)

	txHash := ""
	if out.Receipt != nil {
		txHash = out.Receipt.TxHash.Hex()
	}

	if r.store != nil {
		action := domain.LiquidationAction{
			CycleID:   cycleID,
			Kind:      out.Kind,
			Status:    status,
			Pool:      cfg.Address,
			Borrower:  out.Borrower.Hex(),
			TxHash:    txHash,
			Detail:    out.Detail,
			CreatedAt: time.Now().UTC(),
		}
		if err := r.store.Record(ctx, action); err != nil {
			logger.WarnContext(ctx, "action record failed", slog.String("error", err.Error()))
		}
	}

	if r.notifier != nil {
		title := fmt.Sprintf("%s %s on %s", out.Kind, status, cfg.Name)
		msg := fmt.Sprintf("borrower %s", out.Borrower.Hex())
		if txHash != "" {
			msg += fmt.Sprintf("\ntx %s", txHash)
		}
		if out.Err != nil {
			msg += fmt.Sprintf("\nerror: %v", out.Err)
		}
		if err := r.notifier.Notify(ctx, string(out.Kind), title, msg); err != nil {
			logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
		}
	}
}
