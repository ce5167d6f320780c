package domain

import (
	"errors"
	"math/big"
	"testing"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Wad)
}

func TestToWad_ScalesExactly(t *testing.T) {
	tests := []struct {
		native   int64
		decimals uint8
		want     *big.Int
	}{
		{1, 18, big.NewInt(1)},
		{1_000_000, 6, wad(1)},           // 1 USDC
		{2_500_000, 6, wad25tenths()},    // 2.5 USDC
		{1_00000000, 8, wad(1)},          // 1 WBTC
		{1, 0, wad(1)},
	}

	for _, tt := range tests {
		got, err := ToWad(big.NewInt(tt.native), tt.decimals)
		if err != nil {
			t.Fatalf("ToWad(%d, %d) error: %v", tt.native, tt.decimals, err)
		}
		if got.Cmp(tt.want) != 0 {
			t.Fatalf("ToWad(%d, %d) = %v, want %v", tt.native, tt.decimals, got, tt.want)
		}
	}
}

func wad25tenths() *big.Int {
	half := new(big.Int).Quo(Wad, big.NewInt(2))
	return new(big.Int).Add(wad(2), half)
}

func TestToWad_RejectsOversizedDecimals(t *testing.T) {
	if _, err := ToWad(big.NewInt(1), 19); err == nil {
		t.Fatal("ToWad with 19 decimals: expected error, got nil")
	}
}

func TestFromWad_RoundTripsExactly(t *testing.T) {
	for _, decimals := range []uint8{0, 6, 8, 18} {
		native := big.NewInt(123_456)
		w, err := ToWad(native, decimals)
		if err != nil {
			t.Fatalf("ToWad: %v", err)
		}
		back, err := FromWad(w, decimals)
		if err != nil {
			t.Fatalf("FromWad(%d decimals): %v", decimals, err)
		}
		if back.Cmp(native) != 0 {
			t.Fatalf("round trip at %d decimals = %v, want %v", decimals, back, native)
		}
	}
}

func TestFromWad_DetectsPrecisionLoss(t *testing.T) {
	// 1.0000001 in WAD cannot be represented with 6 decimals.
	w := new(big.Int).Add(wad(1), big.NewInt(100_000_000_000))
	_, err := FromWad(w, 6)
	if !errors.Is(err, ErrPrecisionLoss) {
		t.Fatalf("FromWad = %v, want ErrPrecisionLoss", err)
	}

	// The round-down variant accepts the same value.
	got := FromWadRoundDown(w, 6)
	if got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("FromWadRoundDown = %v, want 1000000", got)
	}
}

func TestWadMulDiv(t *testing.T) {
	a := wad(6)
	b := new(big.Int).Quo(wad(1), big.NewInt(2)) // 0.5

	if got := WadMul(a, b); got.Cmp(wad(3)) != 0 {
		t.Fatalf("WadMul(6, 0.5) = %v, want 3", got)
	}
	if got := WadDiv(a, wad(4)); got.Cmp(new(big.Int).Add(wad(1), b)) != 0 {
		t.Fatalf("WadDiv(6, 4) = %v, want 1.5", got)
	}
	if got := Reciprocal(wad(4)); got.Cmp(new(big.Int).Quo(Wad, big.NewInt(4))) != 0 {
		t.Fatalf("Reciprocal(4) = %v, want 0.25", got)
	}
}

func TestPctOf(t *testing.T) {
	tests := []struct {
		amount int64
		bps    int64
		want   int64
	}{
		{10_000, 10_000, 10_000}, // identity
		{10_000, 9_900, 9_900},   // -1%
		{10_000, 10_100, 10_100}, // +1%
		{3, 5_000, 1},            // truncates toward zero
	}
	for _, tt := range tests {
		got := PctOf(big.NewInt(tt.amount), tt.bps)
		if got.Int64() != tt.want {
			t.Fatalf("PctOf(%d, %d) = %v, want %d", tt.amount, tt.bps, got, tt.want)
		}
	}
}

func TestParseWad(t *testing.T) {
	tests := []struct {
		in   string
		want *big.Int
	}{
		{"1", wad(1)},
		{"1843.52", new(big.Int).Add(wad(1843), new(big.Int).Mul(big.NewInt(52), new(big.Int).Quo(Wad, big.NewInt(100))))},
		{"0.000000000000000001", big.NewInt(1)},
		{".5", new(big.Int).Quo(Wad, big.NewInt(2))},
		{"-2", new(big.Int).Neg(wad(2))},
	}
	for _, tt := range tests {
		got, err := ParseWad(tt.in)
		if err != nil {
			t.Fatalf("ParseWad(%q): %v", tt.in, err)
		}
		if got.Cmp(tt.want) != 0 {
			t.Fatalf("ParseWad(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseWad("not a number"); err == nil {
		t.Fatal("expected error for malformed input")
	}
}

func TestMinOutWithSlippage(t *testing.T) {
	got := MinOutWithSlippage(big.NewInt(10_000), 50)
	if got.Int64() != 9_950 {
		t.Fatalf("MinOutWithSlippage(10000, 50) = %v, want 9950", got)
	}
}
