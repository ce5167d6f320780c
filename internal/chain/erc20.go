package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const erc20ABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chain: parse erc20 abi: %v", err))
	}
}

// TokenClient provides ERC-20 reads and approval writes. Approvals are the
// only on-chain shared state the keeper mutates outside the pool contracts;
// callers grant them immediately before a batch and reset them to zero
// afterwards to bound standing risk.
type TokenClient struct {
	client *Client
	seq    *Sequencer
	owner  common.Address
}

// NewTokenClient creates a TokenClient reading balances/allowances for
// owner and sending approvals through seq.
func NewTokenClient(client *Client, seq *Sequencer, owner common.Address) *TokenClient {
	return &TokenClient{client: client, seq: seq, owner: owner}
}

// BalanceOf returns the owner's balance of token in native decimals.
func (t *TokenClient) BalanceOf(ctx context.Context, token common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", t.owner)
	if err != nil {
		return nil, fmt.Errorf("erc20: pack balanceOf: %w", err)
	}
	out, err := t.client.Call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("erc20: balanceOf %s: %w", token.Hex(), err)
	}
	return new(big.Int).SetBytes(out), nil
}

// Allowance returns the amount spender may currently transfer from the
// owner, in native decimals.
func (t *TokenClient) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", t.owner, spender)
	if err != nil {
		return nil, fmt.Errorf("erc20: pack allowance: %w", err)
	}
	out, err := t.client.Call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("erc20: allowance %s: %w", token.Hex(), err)
	}
	return new(big.Int).SetBytes(out), nil
}

// Decimals returns the token's native decimal count.
func (t *TokenClient) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("erc20: pack decimals: %w", err)
	}
	out, err := t.client.Call(ctx, token, data)
	if err != nil {
		return 0, fmt.Errorf("erc20: decimals %s: %w", token.Hex(), err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("erc20: decimals %s: empty result", token.Hex())
	}
	return uint8(new(big.Int).SetBytes(out).Uint64()), nil
}

// Approve grants spender an allowance of amount through the sequencer. Use
// a zero amount to reset a previously granted allowance.
func (t *TokenClient) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("erc20: pack approve: %w", err)
	}

	label := fmt.Sprintf("approve %s for %s", token.Hex(), spender.Hex())
	receipt, err := t.seq.Submit(ctx, label, func(ctx context.Context, nonce uint64) (*types.Transaction, error) {
		return t.client.BuildDynamicTx(ctx, t.owner, nonce, token, nil, data)
	})
	if err != nil {
		return nil, fmt.Errorf("erc20: approve: %w", err)
	}
	return receipt, nil
}
