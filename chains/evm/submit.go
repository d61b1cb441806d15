package evm

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
	"github.com/hashlock-labs/htlc-relay/common/types"
)

// zeroAddress marks a native-token swap in the contract's token parameter.
var zeroAddress = common.Address{}

// Submit signs, broadcasts, and waits for confirmation of one HTLC action.
// All submissions from the signing account are serialized behind submitMutex:
// the pending nonce is read fresh under the lock, so transactions cannot race
// each other into rejection or mis-ordering.
//
// Parameters:
// - ctx: the context bounding broadcast and confirmation wait.
// - req: the lock, claim, or refund request.
//
// Returns:
// - *types.TxResult: the confirmed transaction hash and block.
// - error: ErrInsufficientFunds for balance failures, ErrSubmissionFailed
//   wrapped with detail otherwise.
func (e *evm) Submit(ctx context.Context, req *types.TxRequest) (*types.TxResult, error) {
	e.submitMutex.Lock()
	defer e.submitMutex.Unlock()

	client := e.getClient()
	if client == nil {
		return nil, commonerrors.ErrClientNotInitialized
	}
	if e.signer == nil {
		return nil, errors.New("signer not configured")
	}

	data, value, err := e.packAction(req)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	nonce, err := client.PendingNonceAt(callCtx, e.signer.Address())
	cancel()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get nonce")
	}

	tx, err := e.prepareTransaction(ctx, nonce, value, data)
	if err != nil {
		return nil, classifySubmissionError(err)
	}

	signedTx, err := e.signer.SignTx(tx, big.NewInt(0).SetUint64(e.config.ChainID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	callCtx, cancel = context.WithTimeout(ctx, rpcTimeout)
	err = client.SendTransaction(callCtx, signedTx)
	cancel()
	if err != nil {
		return nil, classifySubmissionError(err)
	}

	e.logger.WithFields(logrus.Fields{
		"chain":  e.config.Name,
		"action": req.Action,
		"txHash": signedTx.Hash().Hex(),
		"nonce":  nonce,
	}).Info("Transaction broadcast")

	receipt, err := e.waitConfirmation(ctx, signedTx.Hash())
	if err != nil {
		return nil, err
	}

	result := &types.TxResult{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	if req.Action == types.ActionLock {
		result.SwapID = swapIDFromReceipt(receipt, e.contractAddress)
	}
	return result, nil
}

// swapIDFromReceipt extracts the native swap identifier from the confirmed
// lock's SwapInitiated log. The identifier must be known as soon as the lock
// confirms: the opposite chain can reveal the secret before the watcher echo
// of this lock is processed, and the claim it triggers needs the swap ID.
func swapIDFromReceipt(receipt *ethtypes.Receipt, contract common.Address) string {
	for _, logEntry := range receipt.Logs {
		if logEntry.Address != contract {
			continue
		}
		if len(logEntry.Topics) < 2 || logEntry.Topics[0] != swapInitiatedTopic {
			continue
		}
		return logEntry.Topics[1].Hex()
	}
	return ""
}

// packAction packs the contract call data and the native value to attach.
func (e *evm) packAction(req *types.TxRequest) ([]byte, *big.Int, error) {
	switch req.Action {
	case types.ActionLock:
		if req.Amount == nil {
			return nil, nil, errors.New("lock request missing amount")
		}

		data, err := e.contractABI.Pack(
			"initiateSwap",
			common.HexToAddress(req.Participant),
			zeroAddress,
			req.Amount,
			req.Hashlock,
			big.NewInt(req.Timelock),
			req.CounterpartyRecipient,
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to pack initiateSwap")
		}

		// The lock carries the amount plus the configured safety deposit.
		value := new(big.Int).Add(req.Amount, e.safetyDeposit)
		return data, value, nil

	case types.ActionClaim:
		data, err := e.contractABI.Pack("completeSwap", swapIDToBytes32(req.SwapID), req.Secret)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to pack completeSwap")
		}
		return data, big.NewInt(0), nil

	case types.ActionRefund:
		data, err := e.contractABI.Pack("refundSwap", swapIDToBytes32(req.SwapID))
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to pack refundSwap")
		}
		return data, big.NewInt(0), nil

	default:
		return nil, nil, errors.Errorf("unsupported action %s", req.Action)
	}
}

// prepareTransaction builds a legacy or dynamic-fee transaction with the
// estimated gas plus a 10% margin.
func (e *evm) prepareTransaction(ctx context.Context, nonce uint64, value *big.Int, data []byte) (*ethtypes.Transaction, error) {
	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	estimatedGas, err := e.estimateGas(callCtx, e.contractAddress, value, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to estimate gas")
	}
	gasLimit := uint64(float64(estimatedGas) * 1.1)

	client := e.getClient()
	if client == nil {
		return nil, commonerrors.ErrClientNotInitialized
	}

	if e.config.TxType == TxTypeEIP1559 {
		gasPriceData, err := e.getEIP1559GasPrice(callCtx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get EIP-1559 gas price")
		}

		return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			ChainID:   big.NewInt(0).SetUint64(e.config.ChainID),
			Nonce:     nonce,
			GasFeeCap: gasPriceData.MaxFeePerGas,
			GasTipCap: gasPriceData.MaxPriorityFeePerGas,
			Gas:       gasLimit,
			To:        &e.contractAddress,
			Value:     value,
			Data:      data,
		}), nil
	}

	gasPrice, err := client.SuggestGasPrice(callCtx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get gas price")
	}

	// 50% headroom over the suggestion so the relay's counter-transactions
	// do not stall behind fee spikes.
	gasPrice = new(big.Int).Mul(gasPrice, big.NewInt(150))
	gasPrice = new(big.Int).Div(gasPrice, big.NewInt(100))

	return ethtypes.NewTransaction(nonce, e.contractAddress, value, gasLimit, gasPrice, data), nil
}

// swapIDToBytes32 decodes the hex-encoded bytes32 swap identifier.
func swapIDToBytes32(swapID string) [32]byte {
	return common.HexToHash(swapID)
}

// classifySubmissionError maps node errors onto the relay's taxonomy so the
// coordinator can pick the right retry schedule.
func classifySubmissionError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "insufficient balance") {
		return errors.Wrap(commonerrors.ErrInsufficientFunds, err.Error())
	}
	return errors.Wrap(commonerrors.ErrSubmissionFailed, err.Error())
}
