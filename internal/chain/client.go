// Package chain wraps the Ethereum JSON-RPC client with the primitives the
// keeper needs: EIP-1559 transaction construction, bounded confirmation
// waits, ERC-20 reads/writes, and the per-signer nonce sequencer that every
// write path flows through.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// receiptPollInterval is how often WaitMined polls for a receipt.
const receiptPollInterval = 2 * time.Second

// ClientConfig holds connection parameters for the chain client.
type ClientConfig struct {
	// RPCURL is the JSON-RPC endpoint of the node.
	RPCURL string

	// ConfirmTimeout bounds every confirmation wait. Expiry is surfaced as
	// domain.ErrConfirmTimeout, never treated as success.
	ConfirmTimeout time.Duration

	// GasLimitMargin is the percentage (in bps over 10000) applied on top
	// of the node's gas estimate.
	GasLimitMarginBps int64
}

// Client wraps an ethclient.Client together with the chain ID and the
// confirmation policy.
type Client struct {
	eth            *ethclient.Client
	chainID        *big.Int
	confirmTimeout time.Duration
	gasMarginBps   int64
}

// Dial connects to the node, fetches the chain ID, and returns a Client.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}

	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	margin := cfg.GasLimitMarginBps
	if margin <= 0 {
		margin = 2_000 // +20%
	}

	return &Client{
		eth:            eth,
		chainID:        chainID,
		confirmTimeout: timeout,
		gasMarginBps:   margin,
	}, nil
}

// ChainID returns the connected chain's ID.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close tears down the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// PendingNonce returns the authoritative next nonce for addr, including
// transactions in the node's pending pool.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce for %s: %w", addr.Hex(), err)
	}
	return nonce, nil
}

// Call executes a read-only contract call against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// BuildDynamicTx constructs an unsigned EIP-1559 transaction for the given
// nonce: gas is estimated with the configured margin, fee cap and tip come
// from the node's suggestions.
func (c *Client) BuildDynamicTx(ctx context.Context, from common.Address, nonce uint64, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("chain: estimate gas: %w", err)
	}
	gas = uint64(domain.PctOf(new(big.Int).SetUint64(gas), 10_000+c.gasMarginBps).Int64())

	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest tip: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: latest header: %w", err)
	}
	// feeCap = 2*baseFee + tip, the usual replaceable-for-two-blocks bound.
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		tip,
	)

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gas,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
	}), nil
}

// Broadcast submits a signed transaction to the node.
func (c *Client) Broadcast(ctx context.Context, tx *types.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("chain: broadcast %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

// WaitMined polls for the receipt of hash until it appears or the
// confirmation timeout expires. A receipt with a failed status is returned
// together with domain.ErrReverted so callers can still inspect it.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("chain: tx %s: %w", hash.Hex(), domain.ErrReverted)
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("chain: tx %s: %w", hash.Hex(), domain.ErrConfirmTimeout)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
