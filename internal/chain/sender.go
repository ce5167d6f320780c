package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Sender broadcasts prebuilt contract calls through the sequencer. Used for
// opaque calldata such as router swap instructions, where no ABI binding
// exists on our side.
type Sender struct {
	client *Client
	seq    *Sequencer
	owner  common.Address
}

// NewSender creates a Sender broadcasting from owner through seq.
func NewSender(client *Client, seq *Sequencer, owner common.Address) *Sender {
	return &Sender{client: client, seq: seq, owner: owner}
}

// Send submits a call to the contract at to with the given value and
// calldata and waits for its receipt.
func (s *Sender) Send(ctx context.Context, label string, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	receipt, err := s.seq.Submit(ctx, label, func(ctx context.Context, nonce uint64) (*types.Transaction, error) {
		return s.client.BuildDynamicTx(ctx, s.owner, nonce, to, value, data)
	})
	if err != nil {
		return receipt, fmt.Errorf("chain: %s: %w", label, err)
	}
	return receipt, nil
}
