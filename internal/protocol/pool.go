// Package protocol wraps the lending-pool contract surface the keeper
// drives: kicks, takes, bucket (arb) takes, settlement, and bond
// withdrawal, plus the handful of reads used when the indexer lags.
package protocol

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/poolkeeper/internal/chain"
)

const poolABIJSON = `[
	{"name":"kick","type":"function","stateMutability":"nonpayable","inputs":[{"name":"borrower","type":"address"},{"name":"npLimitIndex","type":"uint256"}],"outputs":[]},
	{"name":"take","type":"function","stateMutability":"nonpayable","inputs":[{"name":"borrower","type":"address"},{"name":"maxAmount","type":"uint256"},{"name":"callee","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]},
	{"name":"bucketTake","type":"function","stateMutability":"nonpayable","inputs":[{"name":"borrower","type":"address"},{"name":"depositTake","type":"bool"},{"name":"index","type":"uint256"}],"outputs":[]},
	{"name":"settle","type":"function","stateMutability":"nonpayable","inputs":[{"name":"borrower","type":"address"},{"name":"maxDepth","type":"uint256"}],"outputs":[]},
	{"name":"withdrawBonds","type":"function","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"maxAmount","type":"uint256"}],"outputs":[]},
	{"name":"lup","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"kickerInfo","type":"function","stateMutability":"view","inputs":[{"name":"kicker","type":"address"}],"outputs":[{"name":"claimable","type":"uint256"},{"name":"locked","type":"uint256"}]},
	{"name":"auctionInfo","type":"function","stateMutability":"view","inputs":[{"name":"borrower","type":"address"}],"outputs":[{"name":"collateral","type":"uint256"},{"name":"debt","type":"uint256"},{"name":"price","type":"uint256"},{"name":"settled","type":"bool"}]}
]`

var poolABI abi.ABI

func init() {
	var err error
	poolABI, err = abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		panic(fmt.Sprintf("protocol: parse pool abi: %v", err))
	}
}

// PoolClient drives one pool contract. All writes flow through the bound
// sequencer; reads go straight to the node.
type PoolClient struct {
	client *chain.Client
	seq    *chain.Sequencer
	owner  common.Address
	pool   common.Address
}

// NewPoolClient creates a PoolClient for the pool contract at addr, sending
// writes from owner through seq.
func NewPoolClient(client *chain.Client, seq *chain.Sequencer, owner, addr common.Address) *PoolClient {
	return &PoolClient{client: client, seq: seq, owner: owner, pool: addr}
}

// Address returns the pool contract address.
func (p *PoolClient) Address() common.Address {
	return p.pool
}

// Kick starts a liquidation auction against borrower. npLimitIndex guards
// against neutral-price movement between decision and inclusion.
func (p *PoolClient) Kick(ctx context.Context, borrower common.Address, npLimitIndex *big.Int) (*types.Receipt, error) {
	return p.submit(ctx, fmt.Sprintf("kick %s", borrower.Hex()), "kick", borrower, npLimitIndex)
}

// Take buys up to maxAmount of auction collateral at the current auction
// price, optionally invoking callee with data for atomic external swaps.
func (p *PoolClient) Take(ctx context.Context, borrower common.Address, maxAmount *big.Int, callee common.Address, data []byte) (*types.Receipt, error) {
	return p.submit(ctx, fmt.Sprintf("take %s", borrower.Hex()), "take", borrower, maxAmount, callee, data)
}

// BucketTake closes part of the auction against the pool's own bucket at
// index instead of external liquidity.
func (p *PoolClient) BucketTake(ctx context.Context, borrower common.Address, depositTake bool, index *big.Int) (*types.Receipt, error) {
	return p.submit(ctx, fmt.Sprintf("bucketTake %s", borrower.Hex()), "bucketTake", borrower, depositTake, index)
}

// Settle processes up to maxDepth buckets of residual bad debt for the
// borrower's ended auction.
func (p *PoolClient) Settle(ctx context.Context, borrower common.Address, maxDepth *big.Int) (*types.Receipt, error) {
	return p.submit(ctx, fmt.Sprintf("settle %s", borrower.Hex()), "settle", borrower, maxDepth)
}

// WithdrawBonds claims up to maxAmount of the keeper's released kick bonds.
func (p *PoolClient) WithdrawBonds(ctx context.Context, maxAmount *big.Int) (*types.Receipt, error) {
	return p.submit(ctx, "withdrawBonds", "withdrawBonds", p.owner, maxAmount)
}

// LUP reads the pool's lowest utilized price, WAD-scaled.
func (p *PoolClient) LUP(ctx context.Context) (*big.Int, error) {
	out, err := p.call(ctx, "lup")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// KickerBond returns the keeper's claimable and locked bond amounts.
func (p *PoolClient) KickerBond(ctx context.Context) (claimable, locked *big.Int, err error) {
	out, err := p.call(ctx, "kickerInfo", p.owner)
	if err != nil {
		return nil, nil, err
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

// AuctionStatus reads the live auction state for borrower: remaining
// amounts, the current time-decayed auction price, and whether the auction
// has settled. Used where the indexed snapshot may lag the chain.
func (p *PoolClient) AuctionStatus(ctx context.Context, borrower common.Address) (collateral, debt, price *big.Int, settled bool, err error) {
	out, err := p.call(ctx, "auctionInfo", borrower)
	if err != nil {
		return nil, nil, nil, false, err
	}
	return out[0].(*big.Int), out[1].(*big.Int), out[2].(*big.Int), out[3].(bool), nil
}

func (p *PoolClient) submit(ctx context.Context, label, method string, args ...any) (*types.Receipt, error) {
	data, err := poolABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("protocol: pack %s: %w", method, err)
	}
	receipt, err := p.seq.Submit(ctx, label, func(ctx context.Context, nonce uint64) (*types.Transaction, error) {
		return p.client.BuildDynamicTx(ctx, p.owner, nonce, p.pool, nil, data)
	})
	if err != nil {
		return receipt, fmt.Errorf("protocol: %s: %w", label, err)
	}
	return receipt, nil
}

func (p *PoolClient) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := poolABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("protocol: pack %s: %w", method, err)
	}
	raw, err := p.client.Call(ctx, p.pool, data)
	if err != nil {
		return nil, fmt.Errorf("protocol: call %s: %w", method, err)
	}
	out, err := poolABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("protocol: unpack %s: %w", method, err)
	}
	return out, nil
}
