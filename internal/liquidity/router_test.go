package liquidity

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

type fakeProber struct {
	stable   common.Address
	volatile common.Address
}

func (f *fakeProber) PairFor(ctx context.Context, a, b common.Address, stable bool) (common.Address, error) {
	if stable {
		return f.stable, nil
	}
	return f.volatile, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	tokenA = common.HexToAddress("0xaaaa")
	tokenB = common.HexToAddress("0xbbbb")
)

func TestSolidly_TieBreakPrefersVolatile(t *testing.T) {
	stablePair := common.HexToAddress("0x5555")
	volatilePair := common.HexToAddress("0x7777")
	s := NewSolidly(nil, common.Address{}, common.Address{}, &fakeProber{
		stable:   stablePair,
		volatile: volatilePair,
	})

	// Both variants exist, no hint: the adapter commits to the variant it
	// probes first (volatile), deterministically across calls.
	for i := 0; i < 5; i++ {
		info, err := s.PoolExists(context.Background(), tokenA, tokenB, domain.VariantNone)
		if err != nil {
			t.Fatalf("PoolExists: %v", err)
		}
		if !info.Exists {
			t.Fatal("PoolExists = false, want true")
		}
		if info.Variant != domain.VariantVolatile {
			t.Fatalf("variant = %q, want volatile", info.Variant)
		}
		if info.Address != volatilePair {
			t.Fatalf("address = %s, want %s", info.Address.Hex(), volatilePair.Hex())
		}
	}
}

func TestSolidly_HintSelectsVariant(t *testing.T) {
	stablePair := common.HexToAddress("0x5555")
	s := NewSolidly(nil, common.Address{}, common.Address{}, &fakeProber{
		stable:   stablePair,
		volatile: common.HexToAddress("0x7777"),
	})

	info, err := s.PoolExists(context.Background(), tokenA, tokenB, domain.VariantStable)
	if err != nil {
		t.Fatalf("PoolExists: %v", err)
	}
	if info.Variant != domain.VariantStable || info.Address != stablePair {
		t.Fatalf("info = %+v, want stable pair %s", info, stablePair.Hex())
	}
}

func TestSolidly_FallsBackToStable(t *testing.T) {
	stablePair := common.HexToAddress("0x5555")
	s := NewSolidly(nil, common.Address{}, common.Address{}, &fakeProber{
		stable: stablePair,
		// no volatile pair deployed
	})

	info, err := s.PoolExists(context.Background(), tokenA, tokenB, domain.VariantNone)
	if err != nil {
		t.Fatalf("PoolExists: %v", err)
	}
	if info.Variant != domain.VariantStable {
		t.Fatalf("variant = %q, want stable when only stable exists", info.Variant)
	}
}

func TestSolidly_NoPair(t *testing.T) {
	s := NewSolidly(nil, common.Address{}, common.Address{}, &fakeProber{})

	info, err := s.PoolExists(context.Background(), tokenA, tokenB, domain.VariantNone)
	if err != nil {
		t.Fatalf("PoolExists: %v", err)
	}
	if info.Exists {
		t.Fatal("PoolExists = true, want false")
	}
}

// recordingAdapter captures the minOut and deadline the router passes down.
type recordingAdapter struct {
	src      domain.LiquiditySource
	minOut   *big.Int
	deadline time.Time
}

func (r *recordingAdapter) Source() domain.LiquiditySource { return r.src }

func (r *recordingAdapter) PoolExists(ctx context.Context, a, b common.Address, hint domain.PoolVariant) (domain.PoolInfo, error) {
	return domain.PoolInfo{Exists: true}, nil
}

func (r *recordingAdapter) GetQuote(ctx context.Context, amountIn *big.Int, in, out common.Address, hint domain.PoolVariant) (domain.Quote, error) {
	return domain.Quote{Source: r.src, AmountIn: amountIn, AmountOut: big.NewInt(10_000)}, nil
}

func (r *recordingAdapter) BuildSwap(ctx context.Context, q domain.Quote, minOut *big.Int, deadline time.Time) (domain.SwapInstruction, error) {
	r.minOut = minOut
	r.deadline = deadline
	return domain.SwapInstruction{Source: r.src, MinOut: minOut, Deadline: deadline}, nil
}

func TestRouter_BuildSwapAppliesSlippageAndDeadline(t *testing.T) {
	ad := &recordingAdapter{src: domain.SourceSolidly}
	router := NewRouter([]Adapter{ad}, 90*time.Second, testLogger())

	q, err := router.GetQuote(context.Background(), domain.SourceSolidly, big.NewInt(1), tokenA, tokenB, domain.VariantNone)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}

	before := time.Now()
	inst, err := router.BuildSwap(context.Background(), q, 50)
	if err != nil {
		t.Fatalf("BuildSwap: %v", err)
	}

	if ad.minOut.Int64() != 9_950 {
		t.Fatalf("minOut = %v, want 9950 (10000 at 50 bps)", ad.minOut)
	}
	wantEarliest := before.Add(90 * time.Second)
	if inst.Deadline.Before(wantEarliest.Add(-time.Second)) || inst.Deadline.After(wantEarliest.Add(5*time.Second)) {
		t.Fatalf("deadline = %v, want ~%v", inst.Deadline, wantEarliest)
	}
}

func TestRouter_UnknownSource(t *testing.T) {
	router := NewRouter(nil, time.Minute, testLogger())
	if _, err := router.GetQuote(context.Background(), domain.SourceOneInch, big.NewInt(1), tokenA, tokenB, domain.VariantNone); err == nil {
		t.Fatal("expected error for unregistered source")
	}
}
