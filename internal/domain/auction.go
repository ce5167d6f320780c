package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Auction is a point-in-time view of a liquidation auction. Created by a
// kick, shrunk by takes and arb-takes, terminated by settlement or by the
// remaining amounts reaching zero.
type Auction struct {
	Borrower common.Address

	// Kicker is the address that started the auction and posted the bond.
	Kicker common.Address

	CollateralRemaining *big.Int // WAD
	DebtRemaining       *big.Int // WAD
	NeutralPrice        *big.Int // WAD

	KickTime time.Time
	Settled  bool

	// BondClaimable is the kicker's refundable bond plus accrued reward,
	// zero until the auction resolves in the kicker's favour.
	BondClaimable *big.Int // WAD
}

// Age returns the elapsed time since the auction was kicked.
func (a Auction) Age(now time.Time) time.Duration {
	return now.Sub(a.KickTime)
}

// NeedsSettlement reports whether the auction has exhausted its collateral
// while debt is still outstanding, which is the precondition for the
// settlement flow (the age gate is applied by the engine).
func (a Auction) NeedsSettlement() bool {
	return !a.Settled &&
		a.CollateralRemaining != nil && a.CollateralRemaining.Sign() == 0 &&
		a.DebtRemaining != nil && a.DebtRemaining.Sign() > 0
}

// Bucket is a pool-internal liquidity bucket, the counterparty of an
// arb-take.
type Bucket struct {
	Index   uint64
	Price   *big.Int // WAD
	Deposit *big.Int // WAD quote token available at this price
}
