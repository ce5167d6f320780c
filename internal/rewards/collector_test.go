package rewards

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/poolkeeper/internal/config"
	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), domain.Wad)
}

type fakeBondPool struct {
	claimable *big.Int
	locked    *big.Int
	withdrawn []*big.Int
}

func (f *fakeBondPool) Address() common.Address {
	return common.BytesToAddress([]byte{0xAA})
}

func (f *fakeBondPool) KickerBond(ctx context.Context) (*big.Int, *big.Int, error) {
	return new(big.Int).Set(f.claimable), new(big.Int).Set(f.locked), nil
}

func (f *fakeBondPool) WithdrawBonds(ctx context.Context, maxAmount *big.Int) (*types.Receipt, error) {
	f.withdrawn = append(f.withdrawn, new(big.Int).Set(maxAmount))
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

type fakeApprover struct {
	approvals []*big.Int
}

func (f *fakeApprover) BalanceOf(ctx context.Context, token common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (f *fakeApprover) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (f *fakeApprover) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	f.approvals = append(f.approvals, new(big.Int).Set(amount))
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

type fakePlanner struct{}

func (fakePlanner) GetQuote(ctx context.Context, src domain.LiquiditySource, amountIn *big.Int, tokenIn, tokenOut common.Address, hint domain.PoolVariant) (domain.Quote, error) {
	return domain.Quote{Source: src, AmountIn: amountIn, AmountOut: new(big.Int).Set(amountIn)}, nil
}

func (fakePlanner) BuildSwap(ctx context.Context, q domain.Quote, slippageBps int64) (domain.SwapInstruction, error) {
	return domain.SwapInstruction{
		Source:   q.Source,
		To:       common.BytesToAddress([]byte{0xEE}),
		Calldata: []byte{0x01},
		MinOut:   domain.MinOutWithSlippage(q.AmountOut, slippageBps),
		Deadline: time.Now().Add(time.Minute),
	}, nil
}

type fakeSender struct {
	sends int
}

func (f *fakeSender) Send(ctx context.Context, label string, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	f.sends++
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rewardConfig(action string) *config.PoolConfig {
	return &config.PoolConfig{
		Name:       "TEST-POOL",
		Quote:      config.TokenConfig{Address: common.BytesToAddress([]byte{0xD0}).Hex(), Decimals: 18},
		Collateral: config.TokenConfig{Address: common.BytesToAddress([]byte{0xC0}).Hex(), Decimals: 18},
		Take: config.TakeConfig{
			LiquiditySource: string(domain.SourceUniswapV3),
			SlippageBps:     50,
		},
		Reward: config.RewardConfig{
			CollectBonds: true,
			Action:       action,
			TargetToken:  common.BytesToAddress([]byte{0xF0}).Hex(),
		},
	}
}

func TestCollect_NothingClaimable(t *testing.T) {
	pool := &fakeBondPool{claimable: new(big.Int), locked: wad(5)}
	c := NewCollector(rewardConfig("hold"), pool, &fakeApprover{}, nil, nil, testLogger())

	outcomes, err := c.Collect(context.Background(), &domain.PoolSnapshot{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(outcomes) != 0 || len(pool.withdrawn) != 0 {
		t.Fatalf("outcomes = %d, withdrawn = %d, want 0 each", len(outcomes), len(pool.withdrawn))
	}
}

func TestCollect_HoldWithdrawsOnly(t *testing.T) {
	pool := &fakeBondPool{claimable: wad(7), locked: new(big.Int)}
	sender := &fakeSender{}
	c := NewCollector(rewardConfig("hold"), pool, &fakeApprover{}, fakePlanner{}, sender, testLogger())

	outcomes, err := c.Collect(context.Background(), &domain.PoolSnapshot{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	if len(pool.withdrawn) != 1 || pool.withdrawn[0].Cmp(wad(7)) != 0 {
		t.Fatalf("withdrawn = %v, want [7 wad]", pool.withdrawn)
	}
	if sender.sends != 0 {
		t.Fatalf("swap sends = %d, want 0 for hold action", sender.sends)
	}
}

func TestCollect_SwapRoutesAndResetsAllowance(t *testing.T) {
	pool := &fakeBondPool{claimable: wad(7), locked: new(big.Int)}
	approver := &fakeApprover{}
	sender := &fakeSender{}
	c := NewCollector(rewardConfig("swap"), pool, approver, fakePlanner{}, sender, testLogger())

	outcomes, err := c.Collect(context.Background(), &domain.PoolSnapshot{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want withdraw + swap", len(outcomes))
	}
	if sender.sends != 1 {
		t.Fatalf("swap sends = %d, want 1", sender.sends)
	}
	if len(approver.approvals) != 2 {
		t.Fatalf("approvals = %d, want grant and reset", len(approver.approvals))
	}
	if approver.approvals[0].Cmp(wad(7)) != 0 {
		t.Fatalf("grant = %v, want claimed amount", approver.approvals[0])
	}
	if approver.approvals[1].Sign() != 0 {
		t.Fatalf("final approval = %v, want 0", approver.approvals[1])
	}
}
