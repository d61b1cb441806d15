package evm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
)

func TestSwapIDFromReceipt(t *testing.T) {
	t.Parallel()

	contract := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	swapID := common.HexToHash("0x4444444444444444444444444444444444444444444444444444444444444444")

	receipt := &ethtypes.Receipt{
		Logs: []*ethtypes.Log{
			// A log from an unrelated contract in the same transaction.
			{
				Address: common.HexToAddress("0x00000000000000000000000000000000000000dd"),
				Topics:  []common.Hash{swapInitiatedTopic, common.HexToHash("0x9999")},
			},
			// A different event on the swap contract.
			{
				Address: contract,
				Topics:  []common.Hash{swapCompletedTopic, common.HexToHash("0x9999")},
			},
			{
				Address: contract,
				Topics: []common.Hash{
					swapInitiatedTopic,
					swapID,
					common.BytesToHash(common.HexToAddress("0x00000000000000000000000000000000000000aa").Bytes()),
					common.BytesToHash(common.HexToAddress("0x00000000000000000000000000000000000000bb").Bytes()),
				},
			},
		},
	}

	assert.Equal(t, swapID.Hex(), swapIDFromReceipt(receipt, contract))
}

func TestSwapIDFromReceiptNoMatchingLog(t *testing.T) {
	t.Parallel()

	contract := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	assert.Empty(t, swapIDFromReceipt(&ethtypes.Receipt{}, contract))

	assert.Empty(t, swapIDFromReceipt(&ethtypes.Receipt{
		Logs: []*ethtypes.Log{
			{
				Address: contract,
				Topics:  []common.Hash{swapInitiatedTopic},
			},
		},
	}, contract), "a log without the indexed swap ID carries nothing usable")
}
