// Package cosmos implements the CosmWasm side of the relay: a poll-based
// watcher that scans blocks for contract events, and a submitter that
// executes contract messages through an external signing capability.
//
// The chain is spoken over the Tendermint/CometBFT JSON-RPC HTTP interface
// (/status, /block, /block_results, /broadcast_tx_sync, /tx); no push
// mechanism is assumed available.
package cosmos

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// rpcTimeout bounds individual RPC calls.
const rpcTimeout = 30 * time.Second

// RPCClient is a minimal Tendermint JSON-RPC HTTP client covering the
// endpoints the relay needs.
type RPCClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRPCClient creates a client for the given RPC base URL.
func NewRPCClient(baseURL string) *RPCClient {
	return &RPCClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: rpcTimeout,
		},
	}
}

// rpcResponse is the JSON-RPC envelope for all endpoints.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    string `json:"data"`
	} `json:"error"`
}

// get performs one GET request against the RPC endpoint and decodes the
// result into out.
func (c *RPCClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build RPC request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "RPC request %s failed", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read RPC response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("RPC request %s returned status %d: %s", path, resp.StatusCode, truncate(body))
	}

	var envelope rpcResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errors.Wrapf(err, "failed to decode RPC response for %s", path)
	}
	if envelope.Error != nil {
		return errors.Errorf("RPC error for %s: %s %s", path, envelope.Error.Message, envelope.Error.Data)
	}

	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return errors.Wrapf(err, "failed to decode RPC result for %s", path)
	}
	return nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// LatestHeight returns the chain's current block height.
func (c *RPCClient) LatestHeight(ctx context.Context) (uint64, error) {
	var result struct {
		SyncInfo struct {
			LatestBlockHeight string `json:"latest_block_height"`
		} `json:"sync_info"`
	}

	if err := c.get(ctx, "/status", nil, &result); err != nil {
		return 0, err
	}

	height, err := strconv.ParseUint(result.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse latest block height")
	}
	return height, nil
}

// BlockTxHashes returns the hex-encoded hashes of all transactions in the
// block, in block order. The hash is SHA-256 over the raw transaction bytes,
// matching the identifier the /tx endpoint expects.
func (c *RPCClient) BlockTxHashes(ctx context.Context, height uint64) ([]string, error) {
	var result struct {
		Block struct {
			Data struct {
				Txs []string `json:"txs"`
			} `json:"data"`
		} `json:"block"`
	}

	params := url.Values{}
	params.Set("height", strconv.FormatUint(height, 10))
	if err := c.get(ctx, "/block", params, &result); err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(result.Block.Data.Txs))
	for i, encoded := range result.Block.Data.Txs {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode tx %d in block %d", i, height)
		}
		sum := sha256.Sum256(raw)
		hashes = append(hashes, strings.ToUpper(hex.EncodeToString(sum[:])))
	}
	return hashes, nil
}

// ABCIEvent is one event emitted by a transaction.
type ABCIEvent struct {
	Type       string `json:"type"`
	Attributes []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"attributes"`
}

// TxResultData is the execution result of one transaction in a block.
type TxResultData struct {
	Code   int         `json:"code"`
	Log    string      `json:"log"`
	Events []ABCIEvent `json:"events"`
}

// BlockResults returns per-transaction execution results for the block, in
// the same order as BlockTxHashes.
func (c *RPCClient) BlockResults(ctx context.Context, height uint64) ([]TxResultData, error) {
	var result struct {
		TxsResults []TxResultData `json:"txs_results"`
	}

	params := url.Values{}
	params.Set("height", strconv.FormatUint(height, 10))
	if err := c.get(ctx, "/block_results", params, &result); err != nil {
		return nil, err
	}
	return result.TxsResults, nil
}

// BroadcastTxSync submits signed transaction bytes and returns the tx hash.
// A non-zero check-tx code is a submission failure.
func (c *RPCClient) BroadcastTxSync(ctx context.Context, txBytes []byte) (string, error) {
	var result struct {
		Code int    `json:"code"`
		Log  string `json:"log"`
		Hash string `json:"hash"`
	}

	params := url.Values{}
	params.Set("tx", "0x"+hex.EncodeToString(txBytes))
	if err := c.get(ctx, "/broadcast_tx_sync", params, &result); err != nil {
		return "", err
	}

	if result.Code != 0 {
		return "", errors.Errorf("broadcast rejected with code %d: %s", result.Code, result.Log)
	}
	return strings.ToUpper(result.Hash), nil
}

// TxLookup is the committed transaction returned by the /tx endpoint.
type TxLookup struct {
	Hash     string       `json:"hash"`
	Height   string       `json:"height"`
	TxResult TxResultData `json:"tx_result"`
}

// HeightUint returns the inclusion height as an integer.
func (t *TxLookup) HeightUint() uint64 {
	height, err := strconv.ParseUint(t.Height, 10, 64)
	if err != nil {
		return 0
	}
	return height
}

// Tx looks up a committed transaction by its hex hash. It returns nil
// without error while the transaction is still pending.
func (c *RPCClient) Tx(ctx context.Context, hashHex string) (*TxLookup, error) {
	var result TxLookup

	params := url.Values{}
	params.Set("hash", "0x"+strings.TrimPrefix(hashHex, "0x"))

	err := c.get(ctx, "/tx", params, &result)
	if err != nil {
		// The endpoint reports a not-yet-committed hash as an RPC error.
		if strings.Contains(err.Error(), "not found") {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

// Coin is an amount of a single denomination.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

func (c Coin) String() string {
	return fmt.Sprintf("%s%s", c.Amount, c.Denom)
}
