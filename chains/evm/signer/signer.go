// Package signer implements the EVM signing capability behind an interface
// so key material can be swapped for an HSM-backed implementation.
package signer

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Signer signs transactions for one broadcasting account.
type Signer interface {
	// SignTx signs the given transaction for the specified chain ID.
	//
	// Parameters:
	// - transaction: the transaction to be signed.
	// - chainID: the chain ID for the transaction.
	//
	// Returns:
	// - *ethtypes.Transaction: the signed transaction.
	// - error: an error if the signing process fails.
	SignTx(transaction *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)

	// Address returns the signer's account address.
	Address() common.Address
}

type signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a signer from the given private key.
//
// Parameters:
// - privateKey: the ECDSA private key used for signing.
//
// Returns:
// - Signer: a new signer instance.
// - error: an error if the public key cannot be derived.
func NewSigner(privateKey *ecdsa.PrivateKey) (Signer, error) {
	pubKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("cannot assign public key to ECDSA")
	}

	return &signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*pubKeyECDSA),
	}, nil
}

// Address returns the signer's account address.
func (s *signer) Address() common.Address {
	return s.address
}

// SignTx signs the given transaction for the specified chain ID.
func (s *signer) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(s.privateKey, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create keyed transactor")
	}

	signedTx, err := auth.Signer(s.address, tx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	return signedTx, nil
}
