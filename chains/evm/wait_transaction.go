package evm

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
)

const (
	// receiptPollInterval is how often the pending receipt is checked.
	receiptPollInterval = 3 * time.Second
	// confirmationTimeout bounds the whole confirmation wait.
	confirmationTimeout = 5 * time.Minute
)

// waitConfirmation polls for the transaction receipt and then waits until
// the configured number of blocks has built on top of it. A reverted
// transaction is a submission failure, not a transient error.
//
// Parameters:
// - ctx: the context bounding the wait.
// - txHash: the broadcast transaction hash.
//
// Returns:
// - *ethtypes.Receipt: the confirmed receipt.
// - error: ErrSubmissionFailed on revert, a wrapped error on timeout.
func (e *evm) waitConfirmation(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	client := e.getClient()
	if client == nil {
		return nil, commonerrors.ErrClientNotInitialized
	}

	waitCtx, cancel := context.WithTimeout(ctx, confirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	var receipt *ethtypes.Receipt
	for receipt == nil {
		select {
		case <-waitCtx.Done():
			return nil, errors.Wrap(waitCtx.Err(), "timed out waiting for transaction receipt")
		case <-ticker.C:
		}

		callCtx, cancelCall := context.WithTimeout(waitCtx, rpcTimeout)
		r, err := client.TransactionReceipt(callCtx, txHash)
		cancelCall()
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				continue
			}
			e.logger.WithField("chain", e.config.Name).WithError(err).Warn("Receipt lookup failed")
			continue
		}
		receipt = r
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, errors.Wrapf(commonerrors.ErrSubmissionFailed, "transaction %s reverted", txHash.Hex())
	}

	confirmedAt := receipt.BlockNumber.Uint64() + e.config.WaitNBlocks
	for {
		callCtx, cancelCall := context.WithTimeout(waitCtx, rpcTimeout)
		head, err := client.BlockNumber(callCtx)
		cancelCall()
		if err == nil && head >= confirmedAt {
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, errors.Wrap(waitCtx.Err(), "timed out waiting for confirmations")
		case <-ticker.C:
		}
	}
}
