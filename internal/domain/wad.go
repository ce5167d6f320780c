// Package domain defines the core types shared by every keeper component:
// WAD fixed-point arithmetic, loan and auction snapshots, liquidity quotes,
// price specifications, and the store/cache interfaces their consumers
// depend on.
package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// WadDecimals is the common internal precision every monetary value is
// scaled to, independent of each token's native on-chain decimal count.
const WadDecimals = 18

// Wad is 10^18, the unit of the internal fixed-point representation.
var Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)

var bpsDenominator = big.NewInt(10_000)

// ToWad converts an amount in a token's native decimal representation to
// WAD. Tokens with more than 18 decimals are rejected by the protocol, so
// the conversion is always a pure scale-up and therefore exact.
func ToWad(native *big.Int, decimals uint8) (*big.Int, error) {
	if decimals > WadDecimals {
		return nil, fmt.Errorf("domain: token decimals %d exceed wad precision", decimals)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(WadDecimals-decimals)), nil)
	return new(big.Int).Mul(native, scale), nil
}

// FromWad converts a WAD amount back to a token's native decimal
// representation. The conversion must be loss-free: if the WAD value has
// fractional digits below the token's precision, ErrPrecisionLoss is
// returned rather than silently truncating.
func FromWad(wad *big.Int, decimals uint8) (*big.Int, error) {
	if decimals > WadDecimals {
		return nil, fmt.Errorf("domain: token decimals %d exceed wad precision", decimals)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(WadDecimals-decimals)), nil)
	quo, rem := new(big.Int).QuoRem(wad, scale, new(big.Int))
	if rem.Sign() != 0 {
		return nil, fmt.Errorf("domain: %v at %d decimals: %w", wad, decimals, ErrPrecisionLoss)
	}
	return quo, nil
}

// FromWadRoundDown converts a WAD amount to native decimals, discarding any
// sub-precision remainder. Used where the protocol itself rounds down
// (e.g. sizing swap inputs), never at the exact scaling boundary.
func FromWadRoundDown(wad *big.Int, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(WadDecimals-decimals)), nil)
	return new(big.Int).Quo(wad, scale)
}

// WadMul returns a×b scaled back to WAD, truncating toward zero.
func WadMul(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Quo(p, Wad)
}

// WadDiv returns a÷b in WAD precision, truncating toward zero. Panics on
// division by zero, mirroring big.Int semantics.
func WadDiv(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, Wad)
	return p.Quo(p, b)
}

// Reciprocal returns 1/a in WAD precision (Wad²/a).
func Reciprocal(a *big.Int) *big.Int {
	p := new(big.Int).Mul(Wad, Wad)
	return p.Quo(p, a)
}

// PctOf returns amount scaled by bps basis points (bps=10000 is identity).
func PctOf(amount *big.Int, bps int64) *big.Int {
	p := new(big.Int).Mul(amount, big.NewInt(bps))
	return p.Quo(p, bpsDenominator)
}

// ParseWad parses a decimal string such as "1843.52" into a WAD-scaled
// big.Int without a float round trip. Digits beyond 18 fractional places
// are truncated.
func ParseWad(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("domain: empty decimal")
	}

	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > WadDecimals {
		fracPart = fracPart[:WadDecimals]
	}
	fracPart += strings.Repeat("0", WadDecimals-len(fracPart))

	n, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, fmt.Errorf("domain: malformed decimal %q", s)
	}
	if neg {
		n.Neg(n)
	}
	return n, nil
}

// MinBig returns the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
