package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LiquiditySource is the closed set of liquidity-source variants. Selection
// is a configuration-time tag; there is no runtime type inspection.
type LiquiditySource string

const (
	SourceOneInch   LiquiditySource = "oneinch"
	SourceUniswapV3 LiquiditySource = "uniswapv3"
	SourceSolidly   LiquiditySource = "solidly"
)

// Valid reports whether s names a known liquidity source.
func (s LiquiditySource) Valid() bool {
	switch s {
	case SourceOneInch, SourceUniswapV3, SourceSolidly:
		return true
	}
	return false
}

// PoolVariant disambiguates AMM pool flavours for routers that host both.
type PoolVariant string

const (
	VariantNone     PoolVariant = ""
	VariantStable   PoolVariant = "stable"
	VariantVolatile PoolVariant = "volatile"
)

// PoolInfo is the result of pool discovery for a token pair.
type PoolInfo struct {
	Exists  bool
	Variant PoolVariant
	Address common.Address
}

// Quote is an ephemeral swap quote. Produced per router call, consumed at
// most once, never persisted.
type Quote struct {
	Source    LiquiditySource
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int // native decimals of TokenIn
	AmountOut *big.Int // native decimals of TokenOut
	Variant   PoolVariant
	Route     []common.Address
}

// SwapInstruction is an opaque, ready-to-broadcast swap call. Instructions
// carry an absolute deadline and are never reused across confirmation
// attempts.
type SwapInstruction struct {
	Source   LiquiditySource
	To       common.Address
	Calldata []byte
	Value    *big.Int
	MinOut   *big.Int
	Deadline time.Time
}

// MinOutWithSlippage applies a basis-point slippage tolerance to a quoted
// output: quoteOut × (10000 − slippageBps) / 10000.
func MinOutWithSlippage(quoteOut *big.Int, slippageBps int64) *big.Int {
	return PctOf(quoteOut, 10_000-slippageBps)
}
