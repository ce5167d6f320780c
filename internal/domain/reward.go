package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RewardAction is what the collector does with a claimed reward balance.
type RewardAction string

const (
	// RewardHold leaves claimed tokens in the keeper wallet.
	RewardHold RewardAction = "hold"
	// RewardSwap routes claimed tokens into the configured target token
	// through the liquidity router.
	RewardSwap RewardAction = "swap"
)

// RewardEntry is an accumulated claimable balance for one token.
type RewardEntry struct {
	Token             common.Address
	AccumulatedAmount *big.Int // native decimals
	ConfiguredAction  RewardAction
}
