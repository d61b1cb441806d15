package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashlock-labs/htlc-relay/common/types"
)

func testChain(t *testing.T) *evm {
	t.Helper()

	contractABI, err := parseABI()
	require.NoError(t, err)

	return &evm{
		config:      &types.ChainConfig{Name: "sepolia", Role: types.ChainSource},
		contractABI: contractABI,
	}
}

func TestNormalizeLogSwapInitiated(t *testing.T) {
	t.Parallel()

	e := testChain(t)

	var hashlock [32]byte
	hashlock[0] = 0xaa
	amount := big.NewInt(1_000_000_000_000_000_000)
	timelock := big.NewInt(1_900_000_000)
	participant := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	swapID := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")

	data, err := e.contractABI.Events["SwapInitiated"].Inputs.NonIndexed().Pack(
		common.Address{}, amount, hashlock, timelock, "juno1recipient",
	)
	require.NoError(t, err)

	log := ethtypes.Log{
		Topics: []common.Hash{
			swapInitiatedTopic,
			swapID,
			common.BytesToHash(common.HexToAddress("0x00000000000000000000000000000000000000bb").Bytes()),
			common.BytesToHash(participant.Bytes()),
		},
		Data:        data,
		BlockNumber: 123,
		TxHash:      common.HexToHash("0xdead"),
		Index:       4,
	}

	event, err := e.normalizeLog(log)
	require.NoError(t, err)

	assert.Equal(t, types.ChainSource, event.Chain)
	assert.Equal(t, types.EventSwapInitiated, event.Kind)
	assert.Equal(t, swapID.Hex(), event.SwapID)
	assert.Equal(t, hashlock, event.Hashlock)
	assert.Equal(t, amount, event.Amount)
	assert.Equal(t, timelock.Int64(), event.Timelock)
	assert.Equal(t, participant.Hex(), event.Participant)
	assert.Equal(t, "juno1recipient", event.CounterpartyRecipient)
	assert.Equal(t, uint64(123), event.BlockNumber)
	assert.True(t, event.HasLogIndex)
	assert.Equal(t, uint(4), event.LogIndex)
	assert.False(t, event.HasSecret)
}

func TestNormalizeLogSwapCompleted(t *testing.T) {
	t.Parallel()

	e := testChain(t)

	var secret [32]byte
	copy(secret[:], []byte("the thirty-two byte swap secret!"))
	swapID := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")

	data, err := e.contractABI.Events["SwapCompleted"].Inputs.NonIndexed().Pack(secret)
	require.NoError(t, err)

	event, err := e.normalizeLog(ethtypes.Log{
		Topics: []common.Hash{swapCompletedTopic, swapID},
		Data:   data,
	})
	require.NoError(t, err)

	assert.Equal(t, types.EventSwapCompleted, event.Kind)
	assert.Equal(t, swapID.Hex(), event.SwapID)
	assert.Equal(t, secret, event.Secret)
	assert.True(t, event.HasSecret)
}

func TestNormalizeLogSwapRefunded(t *testing.T) {
	t.Parallel()

	e := testChain(t)
	swapID := common.HexToHash("0x3333333333333333333333333333333333333333333333333333333333333333")

	event, err := e.normalizeLog(ethtypes.Log{
		Topics: []common.Hash{swapRefundedTopic, swapID},
	})
	require.NoError(t, err)

	assert.Equal(t, types.EventSwapRefunded, event.Kind)
	assert.Equal(t, swapID.Hex(), event.SwapID)
}

func TestNormalizeLogRejectsMalformed(t *testing.T) {
	t.Parallel()

	e := testChain(t)

	_, err := e.normalizeLog(ethtypes.Log{})
	assert.Error(t, err)

	_, err = e.normalizeLog(ethtypes.Log{
		Topics: []common.Hash{common.HexToHash("0x9999")},
	})
	assert.Error(t, err, "unknown topic must be rejected")

	_, err = e.normalizeLog(ethtypes.Log{
		Topics: []common.Hash{swapInitiatedTopic},
	})
	assert.Error(t, err, "missing indexed topics must be rejected")
}
