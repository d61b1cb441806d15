package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/hashlock-labs/htlc-relay/common/types"
)

// normalizeLog converts a raw contract log into the coordinator's normalized
// event shape. The swap ID is the bytes32 identifier hex-encoded; INITIATED
// events carry hashlock, amount, and timelock, COMPLETED events carry the
// revealed secret.
func (e *evm) normalizeLog(log ethtypes.Log) (types.ChainEvent, error) {
	if len(log.Topics) == 0 {
		return types.ChainEvent{}, errors.New("log has no topics")
	}

	event := types.ChainEvent{
		Chain:       e.config.Role,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.Index,
		HasLogIndex: true,
	}

	switch log.Topics[0] {
	case swapInitiatedTopic:
		if len(log.Topics) < 4 {
			return types.ChainEvent{}, errors.New("malformed SwapInitiated topics")
		}

		values, err := e.contractABI.Events["SwapInitiated"].Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return types.ChainEvent{}, errors.Wrap(err, "failed to unpack SwapInitiated data")
		}
		if len(values) != 5 {
			return types.ChainEvent{}, errors.Errorf("unexpected SwapInitiated field count %d", len(values))
		}

		amount, ok := values[1].(*big.Int)
		if !ok {
			return types.ChainEvent{}, errors.New("SwapInitiated amount is not uint256")
		}
		hashlock, ok := values[2].([32]byte)
		if !ok {
			return types.ChainEvent{}, errors.New("SwapInitiated hashlock is not bytes32")
		}
		timelock, ok := values[3].(*big.Int)
		if !ok {
			return types.ChainEvent{}, errors.New("SwapInitiated timelock is not uint256")
		}
		recipient, ok := values[4].(string)
		if !ok {
			return types.ChainEvent{}, errors.New("SwapInitiated counterpartyRecipient is not string")
		}

		event.Kind = types.EventSwapInitiated
		event.SwapID = log.Topics[1].Hex()
		event.Participant = common.BytesToAddress(log.Topics[3].Bytes()).Hex()
		event.Amount = amount
		event.Hashlock = hashlock
		event.Timelock = timelock.Int64()
		event.CounterpartyRecipient = recipient

	case swapCompletedTopic:
		if len(log.Topics) < 2 {
			return types.ChainEvent{}, errors.New("malformed SwapCompleted topics")
		}

		values, err := e.contractABI.Events["SwapCompleted"].Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return types.ChainEvent{}, errors.Wrap(err, "failed to unpack SwapCompleted data")
		}
		if len(values) != 1 {
			return types.ChainEvent{}, errors.Errorf("unexpected SwapCompleted field count %d", len(values))
		}

		secret, ok := values[0].([32]byte)
		if !ok {
			return types.ChainEvent{}, errors.New("SwapCompleted secret is not bytes32")
		}

		event.Kind = types.EventSwapCompleted
		event.SwapID = log.Topics[1].Hex()
		event.Secret = secret
		event.HasSecret = true

	case swapRefundedTopic:
		if len(log.Topics) < 2 {
			return types.ChainEvent{}, errors.New("malformed SwapRefunded topics")
		}

		event.Kind = types.EventSwapRefunded
		event.SwapID = log.Topics[1].Hex()

	default:
		return types.ChainEvent{}, errors.Errorf("unrecognized event topic %s", log.Topics[0].Hex())
	}

	return event, nil
}
