package domain

import "math/big"

// PriceKind enumerates the recognized price-source kinds.
type PriceKind string

const (
	// PriceCoinGecko is the primary external market source.
	PriceCoinGecko PriceKind = "coingecko"
	// PriceCoinbase is the fallback external market source.
	PriceCoinbase PriceKind = "coinbase"
	// PriceFeed reads the websocket-fed price cache.
	PriceFeed PriceKind = "feed"
	// PriceFixed is a constant configured price.
	PriceFixed PriceKind = "fixed"
	// PricePoolLUP and PricePoolHPB are pool-internal reference prices
	// taken from the current snapshot.
	PricePoolLUP PriceKind = "pool_lup"
	PricePoolHPB PriceKind = "pool_hpb"
)

// PriceSource is one rung of a resolution chain.
type PriceSource struct {
	Kind PriceKind

	// Ticker identifies the asset on external market sources, e.g.
	// "ethereum" for CoinGecko or "ETH-USD" for Coinbase.
	Ticker string

	// Fixed is the constant value for PriceFixed, WAD-scaled.
	Fixed *big.Int
}

// PriceSpec describes how to resolve one price. Sources are tried strictly
// in order; the first success wins. With Invert set the result is replaced
// by its WAD reciprocal.
type PriceSpec struct {
	Sources []PriceSource
	Invert  bool
}

// PairPriceSpec resolves a collateral price and a quote price independently
// and prices the pair as collateral ÷ quote.
type PairPriceSpec struct {
	Collateral PriceSpec
	Quote      PriceSpec
}
