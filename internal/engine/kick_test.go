package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/poolkeeper/internal/config"
	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), domain.Wad)
}

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

type fakeKickPool struct {
	addr    common.Address
	kicked  []common.Address
	failErr error
}

func (f *fakeKickPool) Address() common.Address { return f.addr }

func (f *fakeKickPool) Kick(ctx context.Context, borrower common.Address, npLimitIndex *big.Int) (*types.Receipt, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.kicked = append(f.kicked, borrower)
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

type fakeTokens struct {
	balance   *big.Int // native decimals
	allowance *big.Int

	approvals  []*big.Int
	approveErr error
	balanceErr error
}

func (f *fakeTokens) BalanceOf(ctx context.Context, token common.Address) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeTokens) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeTokens) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	f.approvals = append(f.approvals, new(big.Int).Set(amount))
	f.allowance = new(big.Int).Set(amount)
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func kickPoolConfig() *config.PoolConfig {
	return &config.PoolConfig{
		Name:       "TEST-POOL",
		Address:    addr(0xAA).Hex(),
		Collateral: config.TokenConfig{Address: addr(0xC0).Hex(), Decimals: 18},
		Quote:      config.TokenConfig{Address: addr(0xD0).Hex(), Decimals: 18},
		Kick: config.KickConfig{
			Enabled:        true,
			MinDebt:        "50",
			PriceFactorBps: 9_000,
		},
	}
}

func loan(b byte, debt, tp, np, bond int64) domain.Loan {
	return domain.Loan{
		Borrower:        addr(b),
		Debt:            wad(debt),
		ThresholdPrice:  wad(tp),
		NeutralPrice:    wad(np),
		LiquidationBond: wad(bond),
	}
}

func TestScan_KickabilityFilters(t *testing.T) {
	tests := []struct {
		name string
		loan domain.Loan
		want bool
	}{
		// debt=100 >= 50, tp=110 >= lup=100, np*0.9 = 108 >= price=100.
		{"profitable undercollateralized loan", loan(1, 100, 110, 120, 10), true},
		{"threshold price below lup", loan(2, 100, 90, 120, 10), false},
		{"debt below minimum", loan(3, 40, 110, 120, 10), false},
		// np*0.9 = 99 < price=100.
		{"neutral price not profitable", loan(4, 100, 110, 110, 10), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewKickEngine(kickPoolConfig(), &fakeKickPool{addr: addr(0xAA)}, &fakeTokens{}, testLogger())
			snap := &domain.PoolSnapshot{
				Pool:  addr(0xAA),
				LUP:   wad(100),
				Loans: []domain.Loan{tt.loan},
			}
			iter := e.Scan(snap, wad(100))
			if got := iter.Len() == 1; got != tt.want {
				t.Fatalf("candidate yielded = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScan_OrdersByDescendingBondWithSuffixSums(t *testing.T) {
	e := NewKickEngine(kickPoolConfig(), &fakeKickPool{addr: addr(0xAA)}, &fakeTokens{}, testLogger())
	snap := &domain.PoolSnapshot{
		Pool: addr(0xAA),
		LUP:  wad(100),
		Loans: []domain.Loan{
			loan(1, 100, 110, 120, 5),
			loan(2, 100, 110, 120, 20),
			loan(3, 100, 110, 120, 10),
		},
	}

	iter := e.Scan(snap, wad(100))
	if iter.Len() != 3 {
		t.Fatalf("candidates = %d, want 3", iter.Len())
	}

	wantBonds := []int64{20, 10, 5}
	wantRemaining := []int64{15, 5, 0}
	for i := 0; ; i++ {
		cand, ok := iter.Next()
		if !ok {
			break
		}
		if cand.Loan.LiquidationBond.Cmp(wad(wantBonds[i])) != 0 {
			t.Fatalf("candidate %d bond = %v, want %v", i, cand.Loan.LiquidationBond, wad(wantBonds[i]))
		}
		if cand.EstimatedRemainingBond.Cmp(wad(wantRemaining[i])) != 0 {
			t.Fatalf("candidate %d remaining bond = %v, want %v", i, cand.EstimatedRemainingBond, wad(wantRemaining[i]))
		}
	}
}

func TestScan_IteratorDrainsAndRebuilds(t *testing.T) {
	e := NewKickEngine(kickPoolConfig(), &fakeKickPool{addr: addr(0xAA)}, &fakeTokens{}, testLogger())
	snap := &domain.PoolSnapshot{
		Pool: addr(0xAA),
		LUP:  wad(100),
		Loans: []domain.Loan{
			loan(1, 100, 110, 120, 5),
			loan(2, 100, 110, 120, 20),
		},
	}

	iter := e.Scan(snap, wad(100))
	for i := 0; i < iter.Len(); i++ {
		if _, ok := iter.Next(); !ok {
			t.Fatalf("iterator drained early at %d", i)
		}
	}
	if _, ok := iter.Next(); ok {
		t.Fatalf("drained iterator yielded a candidate")
	}
	if _, ok := iter.Next(); ok {
		t.Fatalf("drained iterator yielded a candidate on repeat Next")
	}

	// A new scan of the same snapshot starts from the full candidate set.
	fresh := e.Scan(snap, wad(100))
	if fresh.Len() != 2 {
		t.Fatalf("rescan candidates = %d, want 2", fresh.Len())
	}
	if _, ok := fresh.Next(); !ok {
		t.Fatalf("fresh iterator yielded nothing")
	}
}

func TestRunKicks_SizesAllowanceAndResets(t *testing.T) {
	cfg := kickPoolConfig()
	cfg.Kick.AllowanceMarginBps = 100 // +1%
	pool := &fakeKickPool{addr: addr(0xAA)}
	tokens := &fakeTokens{balance: wad(1_000), allowance: new(big.Int)}
	e := NewKickEngine(cfg, pool, tokens, testLogger())

	snap := &domain.PoolSnapshot{
		Pool: addr(0xAA),
		LUP:  wad(100),
		Loans: []domain.Loan{
			loan(1, 100, 110, 120, 20),
			loan(2, 100, 110, 120, 10),
		},
	}

	outcomes := e.RunKicks(context.Background(), snap, wad(100))
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	if len(pool.kicked) != 2 {
		t.Fatalf("kicks broadcast = %d, want 2", len(pool.kicked))
	}

	// First approval covers bond(20) + remaining(10) = 30, plus 1% margin.
	if len(tokens.approvals) < 2 {
		t.Fatalf("approvals = %d, want at least grant and reset", len(tokens.approvals))
	}
	wantFirst := domain.PctOf(wad(30), 10_100)
	if tokens.approvals[0].Cmp(wantFirst) != 0 {
		t.Fatalf("first allowance = %v, want %v", tokens.approvals[0], wantFirst)
	}

	// The batch ends with the allowance reset to zero.
	last := tokens.approvals[len(tokens.approvals)-1]
	if last.Sign() != 0 {
		t.Fatalf("final approval = %v, want 0", last)
	}
}

func TestRunKicks_AllowanceCappedByBalance(t *testing.T) {
	cfg := kickPoolConfig()
	pool := &fakeKickPool{addr: addr(0xAA)}
	// Balance of 25 covers the first bond (20) but not bond+remaining (30).
	tokens := &fakeTokens{balance: wad(25), allowance: new(big.Int)}
	e := NewKickEngine(cfg, pool, tokens, testLogger())

	snap := &domain.PoolSnapshot{
		Pool: addr(0xAA),
		LUP:  wad(100),
		Loans: []domain.Loan{
			loan(1, 100, 110, 120, 20),
			loan(2, 100, 110, 120, 10),
		},
	}

	e.RunKicks(context.Background(), snap, wad(100))
	if len(tokens.approvals) == 0 {
		t.Fatal("expected an approval")
	}
	if tokens.approvals[0].Cmp(wad(25)) != 0 {
		t.Fatalf("allowance = %v, want balance-capped 25", tokens.approvals[0])
	}
}

func TestRunKicks_InsufficientBalanceSkipsWithoutKick(t *testing.T) {
	cfg := kickPoolConfig()
	pool := &fakeKickPool{addr: addr(0xAA)}
	tokens := &fakeTokens{balance: wad(5), allowance: new(big.Int)} // below bond 20
	e := NewKickEngine(cfg, pool, tokens, testLogger())

	snap := &domain.PoolSnapshot{
		Pool:  addr(0xAA),
		LUP:   wad(100),
		Loans: []domain.Loan{loan(1, 100, 110, 120, 20)},
	}

	outcomes := e.RunKicks(context.Background(), snap, wad(100))
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	if !errors.Is(outcomes[0].Err, domain.ErrInsufficientFunds) {
		t.Fatalf("outcome error = %v, want ErrInsufficientFunds", outcomes[0].Err)
	}
	if len(pool.kicked) != 0 {
		t.Fatalf("kicks broadcast = %d, want 0", len(pool.kicked))
	}
}

func TestRunKicks_ApprovalFailureSkipsKick(t *testing.T) {
	cfg := kickPoolConfig()
	pool := &fakeKickPool{addr: addr(0xAA)}
	tokens := &fakeTokens{
		balance:    wad(1_000),
		allowance:  new(big.Int),
		approveErr: errors.New("rpc: connection refused"),
	}
	e := NewKickEngine(cfg, pool, tokens, testLogger())

	snap := &domain.PoolSnapshot{
		Pool:  addr(0xAA),
		LUP:   wad(100),
		Loans: []domain.Loan{loan(1, 100, 110, 120, 20)},
	}

	outcomes := e.RunKicks(context.Background(), snap, wad(100))
	if len(outcomes) != 1 || !errors.Is(outcomes[0].Err, domain.ErrApprovalFailed) {
		t.Fatalf("outcomes = %+v, want single ErrApprovalFailed", outcomes)
	}
	if len(pool.kicked) != 0 {
		t.Fatalf("kicks broadcast = %d, want 0", len(pool.kicked))
	}
}

func TestRunKicks_NilMarketPriceSkipsPool(t *testing.T) {
	pool := &fakeKickPool{addr: addr(0xAA)}
	e := NewKickEngine(kickPoolConfig(), pool, &fakeTokens{}, testLogger())

	snap := &domain.PoolSnapshot{
		Pool:  addr(0xAA),
		LUP:   wad(100),
		Loans: []domain.Loan{loan(1, 100, 110, 120, 20)},
	}

	if outcomes := e.RunKicks(context.Background(), snap, nil); outcomes != nil {
		t.Fatalf("outcomes = %+v, want nil without a market price", outcomes)
	}
	if len(pool.kicked) != 0 {
		t.Fatalf("kicks broadcast = %d, want 0", len(pool.kicked))
	}
}
