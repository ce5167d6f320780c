package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxBuilder constructs an unsigned transaction for the nonce the sequencer
// assigns. Builders must be pure in the nonce: the sequencer may call the
// builder a second time with a different nonce after a resync.
type TxBuilder func(ctx context.Context, nonce uint64) (*types.Transaction, error)

// Broadcaster is the subset of the chain client the sequencer depends on.
type Broadcaster interface {
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	Broadcast(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// TxSigner signs the transactions the sequencer broadcasts.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Sequencer owns write ordering for one signer. Decision engines may run
// concurrently, but every broadcast for the signer passes through Submit,
// which assigns nonces from a cached counter under a single critical
// section: nonces form a contiguous increasing sequence with no gaps and no
// repeats, and broadcast order is exactly Submit order. Confirmation waits
// happen outside the critical section, so confirmation order is
// unconstrained.
//
// There is no ambient global nonce state; one Sequencer instance is held by
// the process context and passed by reference to every engine.
type Sequencer struct {
	client Broadcaster
	signer TxSigner
	dryRun bool
	logger *slog.Logger

	mu     sync.Mutex
	primed bool
	next   uint64
}

// NewSequencer creates a Sequencer for the given signer. With dryRun set,
// Submit logs the would-be operation and returns immediately without
// touching the nonce queue.
func NewSequencer(client Broadcaster, signer TxSigner, dryRun bool, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		client: client,
		signer: signer,
		dryRun: dryRun,
		logger: logger.With(slog.String("component", "sequencer")),
	}
}

// Signer returns the address the sequencer broadcasts for.
func (s *Sequencer) Signer() common.Address {
	return s.signer.Address()
}

// DryRun reports whether broadcasts are suppressed.
func (s *Sequencer) DryRun() bool {
	return s.dryRun
}

// Submit assigns the next nonce, builds, signs, and broadcasts the
// transaction, then waits for its receipt. The first call fetches the
// authoritative pending nonce once and caches it. A broadcast failure
// attributable to a nonce mismatch discards the cache, re-fetches from the
// chain, and retries the same logical operation exactly once; no other
// failure class is retried, and a failed broadcast never consumes a nonce.
func (s *Sequencer) Submit(ctx context.Context, label string, build TxBuilder) (*types.Receipt, error) {
	if s.dryRun {
		s.logger.InfoContext(ctx, "dry run: skipping broadcast",
			slog.String("op", label),
			slog.String("signer", s.signer.Address().Hex()),
		)
		return nil, nil
	}

	s.mu.Lock()
	if !s.primed {
		n, err := s.client.PendingNonce(ctx, s.signer.Address())
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("sequencer: prime nonce: %w", err)
		}
		s.next = n
		s.primed = true
		s.logger.DebugContext(ctx, "nonce cache primed", slog.Uint64("nonce", n))
	}

	nonce := s.next
	signed, err := s.signAndBroadcast(ctx, nonce, build)
	if err != nil && isNonceMismatch(err) {
		s.logger.WarnContext(ctx, "nonce mismatch, resyncing from chain",
			slog.String("op", label),
			slog.Uint64("stale_nonce", nonce),
			slog.String("error", err.Error()),
		)
		n, ferr := s.client.PendingNonce(ctx, s.signer.Address())
		if ferr != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("sequencer: resync nonce: %w", ferr)
		}
		s.next = n
		nonce = n
		signed, err = s.signAndBroadcast(ctx, nonce, build)
	}
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("sequencer: %s: %w", label, err)
	}

	s.next = nonce + 1
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "transaction broadcast",
		slog.String("op", label),
		slog.Uint64("nonce", nonce),
		slog.String("tx", signed.Hash().Hex()),
	)

	receipt, err := s.client.WaitMined(ctx, signed.Hash())
	if err != nil {
		return receipt, fmt.Errorf("sequencer: %s: %w", label, err)
	}
	return receipt, nil
}

func (s *Sequencer) signAndBroadcast(ctx context.Context, nonce uint64, build TxBuilder) (*types.Transaction, error) {
	tx, err := build(ctx, nonce)
	if err != nil {
		return nil, fmt.Errorf("build tx: %w", err)
	}
	signed, err := s.signer.SignTx(tx)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.client.Broadcast(ctx, signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// isNonceMismatch classifies node errors that indicate the cached nonce has
// diverged from the chain. Only these trigger the single resync-and-retry.
func isNonceMismatch(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "invalid nonce")
}
