package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
)

// GasPriceData represents the gas price data for EIP-1559 transactions.
type GasPriceData struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// estimateGas estimates the gas required for a contract call.
//
// Parameters:
// - ctx: the context for managing the request.
// - to: the contract address.
// - value: the native amount sent with the call.
// - data: the packed call data.
//
// Returns:
// - uint64: the estimated gas amount.
// - error: an error if the client or signer is missing or estimation fails.
func (e *evm) estimateGas(ctx context.Context, to common.Address, value *big.Int, data []byte) (uint64, error) {
	client := e.getClient()
	if client == nil {
		return 0, commonerrors.ErrClientNotInitialized
	}
	if e.signer == nil {
		return 0, errors.New("signer not configured")
	}

	msg := ethereum.CallMsg{
		From:  e.signer.Address(),
		To:    &to,
		Value: value,
		Data:  data,
	}

	return client.EstimateGas(ctx, msg)
}

// getEIP1559GasPrice retrieves fee-cap and tip-cap suggestions for dynamic
// fee transactions.
func (e *evm) getEIP1559GasPrice(ctx context.Context) (*GasPriceData, error) {
	client := e.getClient()
	if client == nil {
		return nil, commonerrors.ErrClientNotInitialized
	}

	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get gas tip cap")
	}

	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain head")
	}
	if head.BaseFee == nil {
		return nil, errors.New("chain head has no base fee, EIP-1559 not supported")
	}

	// Fee cap covers twice the base fee plus the tip so the transaction
	// survives moderate base-fee growth while pending.
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		tipCap,
	)

	return &GasPriceData{
		MaxFeePerGas:         feeCap,
		MaxPriorityFeePerGas: tipCap,
	}, nil
}
