package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs raw transactions with a secp256k1 key for one chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	ethSigner  types.Signer
}

// NewSigner creates a Signer from a hex-encoded private key (with or
// without 0x prefix) and the target chain ID.
func NewSigner(privateKeyHex string, chainID *big.Int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("chain/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		ethSigner:  types.LatestSignerForChainID(chainID),
	}, nil
}

// NewEphemeralSigner creates a Signer with a freshly generated key. Used in
// dry-run mode when no wallet is configured; nothing signed with it is ever
// broadcast.
func NewEphemeralSigner(chainID *big.Int) (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("chain/signer: generate ephemeral key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		ethSigner:  types.LatestSignerForChainID(chainID),
	}, nil
}

// Address returns the Ethereum address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx signs tx with the signer's key.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.ethSigner, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("chain/signer: sign tx: %w", err)
	}
	return signed, nil
}
