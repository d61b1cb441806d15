package cosmos

import (
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashlock-labs/htlc-relay/common/types"
)

const testContract = "juno1contractaddr"

func testChain() *cosmos {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return &cosmos{
		config: &types.ChainConfig{
			Name:            "juno-local",
			Role:            types.ChainTarget,
			ContractAddress: testContract,
			Denom:           "ujuno",
		},
		logger: logger,
	}
}

func wasmEvent(attrs map[string]string) ABCIEvent {
	event := ABCIEvent{Type: "wasm"}
	for k, v := range attrs {
		event.Attributes = append(event.Attributes, struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}{Key: k, Value: v})
	}
	return event
}

func TestNormalizeWasmEventInitiate(t *testing.T) {
	t.Parallel()

	c := testChain()
	hashlockHex := "aa00000000000000000000000000000000000000000000000000000000000000"

	event, ok, err := c.normalizeWasmEvent(wasmEvent(map[string]string{
		"_contract_address":      testContract,
		"action":                 "initiate_swap",
		"swap_id":                "7",
		"hashlock":               hashlockHex,
		"amount":                 "1000000ujuno",
		"timelock":               "1900000000",
		"participant":            "juno1participant",
		"counterparty_recipient": "0xEthereumRecipient",
	}), "ABCDEF", 42)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, types.ChainTarget, event.Chain)
	assert.Equal(t, types.EventSwapInitiated, event.Kind)
	assert.Equal(t, "7", event.SwapID)
	assert.Equal(t, byte(0xaa), event.Hashlock[0])
	assert.Equal(t, big.NewInt(1_000_000), event.Amount)
	assert.Equal(t, int64(1_900_000_000), event.Timelock)
	assert.Equal(t, "juno1participant", event.Participant)
	assert.Equal(t, "0xEthereumRecipient", event.CounterpartyRecipient)
	assert.Equal(t, "ABCDEF", event.TxHash)
	assert.Equal(t, uint64(42), event.BlockNumber)
	assert.False(t, event.HasLogIndex)
}

func TestNormalizeWasmEventComplete(t *testing.T) {
	t.Parallel()

	c := testChain()

	var secret [32]byte
	copy(secret[:], []byte("the thirty-two byte swap secret!"))

	event, ok, err := c.normalizeWasmEvent(wasmEvent(map[string]string{
		"_contract_address": testContract,
		"action":            "complete_swap",
		"swap_id":           "7",
		"secret":            hex.EncodeToString(secret[:]),
	}), "ABCDEF", 43)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, types.EventSwapCompleted, event.Kind)
	assert.Equal(t, secret, event.Secret)
	assert.True(t, event.HasSecret)
}

func TestNormalizeWasmEventRefund(t *testing.T) {
	t.Parallel()

	c := testChain()

	event, ok, err := c.normalizeWasmEvent(wasmEvent(map[string]string{
		"_contract_address": testContract,
		"action":            "refund_swap",
		"swap_id":           "7",
	}), "ABCDEF", 44)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.EventSwapRefunded, event.Kind)
}

func TestNormalizeWasmEventIgnoresOtherContracts(t *testing.T) {
	t.Parallel()

	c := testChain()

	_, ok, err := c.normalizeWasmEvent(wasmEvent(map[string]string{
		"_contract_address": "juno1someoneelse",
		"action":            "initiate_swap",
		"swap_id":           "9",
	}), "ABCDEF", 45)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.normalizeWasmEvent(ABCIEvent{Type: "transfer"}, "ABCDEF", 45)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.normalizeWasmEvent(wasmEvent(map[string]string{
		"_contract_address": testContract,
		"action":            "update_config",
	}), "ABCDEF", 45)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNormalizeWasmEventBadAttributes(t *testing.T) {
	t.Parallel()

	c := testChain()

	_, _, err := c.normalizeWasmEvent(wasmEvent(map[string]string{
		"_contract_address": testContract,
		"action":            "initiate_swap",
		"swap_id":           "7",
		"hashlock":          "nothex",
		"amount":            "100",
		"timelock":          "1900000000",
	}), "ABCDEF", 46)
	assert.Error(t, err)

	_, _, err = c.normalizeWasmEvent(wasmEvent(map[string]string{
		"_contract_address": testContract,
		"action":            "complete_swap",
		"secret":            "aabb",
	}), "ABCDEF", 46)
	assert.Error(t, err, "short secret must be rejected")
}

func TestAttrStringBase64Fallback(t *testing.T) {
	t.Parallel()

	// Older nodes base64-encode attribute keys and values in block results.
	encoded := base64.StdEncoding.EncodeToString([]byte("initiate_swap"))
	assert.Equal(t, "initiate_swap", attrString(encoded))

	// Plain values pass through untouched.
	assert.Equal(t, "initiate_swap", attrString("initiate_swap"))
	assert.Equal(t, "_contract_address", attrString("_contract_address"))
	assert.Equal(t, "juno1participant", attrString("juno1participant"))
	assert.Equal(t, "1900000000", attrString("1900000000"))

	// 64-char hex is valid base64 but decodes to binary garbage; it must be
	// kept as-is.
	hexValue := "aa00000000000000000000000000000000000000000000000000000000000000"
	assert.Equal(t, hexValue, attrString(hexValue))
}

func TestParseAmountAttr(t *testing.T) {
	t.Parallel()

	amount, err := parseAmountAttr("1000000")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000), amount)

	amount, err = parseAmountAttr("2500ujuno")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2_500), amount)

	_, err = parseAmountAttr("")
	assert.Error(t, err)

	_, err = parseAmountAttr("ujuno")
	assert.Error(t, err)
}
