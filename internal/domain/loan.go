package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Loan is a point-in-time view of a single borrower's position in a pool.
// All monetary fields are WAD-scaled.
type Loan struct {
	Borrower common.Address

	// ThresholdPrice is the collateral price below which the loan becomes
	// undercollateralized and therefore kickable.
	ThresholdPrice *big.Int

	// LiquidationBond is the quote-token bond a kicker must post to start
	// an auction against this loan.
	LiquidationBond *big.Int

	// NeutralPrice is the auction reference price; kicks above it earn the
	// kicker a bond reward, kicks below it a penalty.
	NeutralPrice *big.Int

	// Debt is the borrower's total outstanding debt in quote token.
	Debt *big.Int
}

// KickCandidate is a loan that passed every kick filter, together with the
// bond-sizing context needed to execute the kick.
type KickCandidate struct {
	Pool common.Address
	Loan Loan

	// EstimatedRemainingBond is the sum of liquidation bonds of every
	// candidate ranked after this one. A single allowance sized from it
	// covers an anticipated run of subsequent kicks, so the batch does not
	// pay one approval transaction per kick.
	EstimatedRemainingBond *big.Int
}
