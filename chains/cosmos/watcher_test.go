package cosmos

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashlock-labs/htlc-relay/common/types"
)

// stubNode serves the minimal Tendermint RPC surface the watcher touches.
type stubNode struct {
	height       uint64
	txsByHeight  map[uint64][]string // base64 raw tx bytes
	failResults  atomic.Bool         // force /block_results to fail
	resultEvents map[uint64][]ABCIEvent
}

func (n *stubNode) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"result":{"sync_info":{"latest_block_height":"%d"}}}`, n.height)
	})

	mux.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) {
		height := r.URL.Query().Get("height")
		var h uint64
		fmt.Sscanf(height, "%d", &h)

		txs := ""
		for i, tx := range n.txsByHeight[h] {
			if i > 0 {
				txs += ","
			}
			txs += fmt.Sprintf("%q", tx)
		}
		fmt.Fprintf(w, `{"result":{"block":{"data":{"txs":[%s]}}}}`, txs)
	})

	mux.HandleFunc("/block_results", func(w http.ResponseWriter, r *http.Request) {
		if n.failResults.Load() {
			http.Error(w, "node is catching up", http.StatusInternalServerError)
			return
		}

		height := r.URL.Query().Get("height")
		var h uint64
		fmt.Sscanf(height, "%d", &h)

		results := ""
		for i := range n.txsByHeight[h] {
			if i > 0 {
				results += ","
			}
			events := ""
			for j, ev := range n.resultEvents[h] {
				if j > 0 {
					events += ","
				}
				attrs := ""
				for k, attr := range ev.Attributes {
					if k > 0 {
						attrs += ","
					}
					attrs += fmt.Sprintf(`{"key":%q,"value":%q}`, attr.Key, attr.Value)
				}
				events += fmt.Sprintf(`{"type":%q,"attributes":[%s]}`, ev.Type, attrs)
			}
			results += fmt.Sprintf(`{"code":0,"log":"","events":[%s]}`, events)
		}
		fmt.Fprintf(w, `{"result":{"txs_results":[%s]}}`, results)
	})

	return mux
}

func newTestWatcher(t *testing.T, node *stubNode, eventChan chan types.ChainEvent) (*pollWatcher, func()) {
	t.Helper()

	server := httptest.NewServer(node.handler())

	chain := testChain()
	chain.client = NewRPCClient(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	watcher := &pollWatcher{
		ctx:       ctx,
		cancel:    cancel,
		chain:     chain,
		logger:    chain.logger,
		eventChan: eventChan,
	}

	return watcher, func() {
		cancel()
		server.Close()
	}
}

func TestPollOnceScansRangeAndForwardsEvents(t *testing.T) {
	t.Parallel()

	node := &stubNode{
		height: 13,
		txsByHeight: map[uint64][]string{
			11: {base64.StdEncoding.EncodeToString([]byte("tx-a"))},
		},
		resultEvents: map[uint64][]ABCIEvent{
			11: {wasmEvent(map[string]string{
				"_contract_address":      testContract,
				"action":                 "initiate_swap",
				"swap_id":                "5",
				"hashlock":               "aa00000000000000000000000000000000000000000000000000000000000000",
				"amount":                 "1000000",
				"timelock":               "1900000000",
				"participant":            "juno1participant",
				"counterparty_recipient": "0xrecipient",
			})},
		},
	}

	eventChan := make(chan types.ChainEvent, 16)
	watcher, cleanup := newTestWatcher(t, node, eventChan)
	defer cleanup()

	watcher.setLastPolledHeight(10)
	require.NoError(t, watcher.pollOnce())

	assert.Equal(t, uint64(13), watcher.getLastPolledHeight())

	require.Len(t, eventChan, 1)
	event := <-eventChan
	assert.Equal(t, types.EventSwapInitiated, event.Kind)
	assert.Equal(t, "5", event.SwapID)
	assert.Equal(t, uint64(11), event.BlockNumber)
	assert.NotEmpty(t, event.TxHash)
}

func TestPollOnceWatermarkNotAdvancedOnScanFailure(t *testing.T) {
	t.Parallel()

	node := &stubNode{
		height: 13,
		txsByHeight: map[uint64][]string{
			12: {base64.StdEncoding.EncodeToString([]byte("tx-b"))},
		},
		resultEvents: map[uint64][]ABCIEvent{},
	}
	node.failResults.Store(true)

	eventChan := make(chan types.ChainEvent, 16)
	watcher, cleanup := newTestWatcher(t, node, eventChan)
	defer cleanup()

	watcher.setLastPolledHeight(10)
	require.Error(t, watcher.pollOnce())

	// A scan failure anywhere in the range must leave the watermark exactly
	// where it was, not partially advanced past the heights that succeeded.
	assert.Equal(t, uint64(10), watcher.getLastPolledHeight())

	// Once the node recovers, the same range is retried and the watermark
	// catches up.
	node.failResults.Store(false)
	require.NoError(t, watcher.pollOnce())
	assert.Equal(t, uint64(13), watcher.getLastPolledHeight())
}

func TestPollOnceNoNewBlocks(t *testing.T) {
	t.Parallel()

	node := &stubNode{height: 10, txsByHeight: map[uint64][]string{}, resultEvents: map[uint64][]ABCIEvent{}}

	eventChan := make(chan types.ChainEvent, 1)
	watcher, cleanup := newTestWatcher(t, node, eventChan)
	defer cleanup()

	watcher.setLastPolledHeight(10)
	require.NoError(t, watcher.pollOnce())
	assert.Equal(t, uint64(10), watcher.getLastPolledHeight())
	assert.Empty(t, eventChan)
}
