package cosmos

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Signer is the opaque signing capability for the CosmWasm chain: given a
// contract execute message it produces signed, broadcastable transaction
// bytes. Key management (mnemonic, HSM, remote KMS) lives behind this
// interface and is out of the relay's scope.
type Signer interface {
	// Address returns the broadcasting account's bech32 address.
	Address() string

	// SignExecute builds and signs a MsgExecuteContract transaction.
	//
	// Parameters:
	// - ctx: the context for the signing call.
	// - contract: the bech32 contract address.
	// - msg: the JSON execute message.
	// - funds: coins attached to the execution.
	// - memo: the transaction memo.
	//
	// Returns:
	// - []byte: the signed transaction bytes, ready for broadcast.
	// - error: an error if signing fails.
	SignExecute(ctx context.Context, contract string, msg json.RawMessage, funds []Coin, memo string) ([]byte, error)
}

// RemoteSigner implements Signer against a local signing sidecar over HTTP.
// The sidecar holds the mnemonic and account state and answers
// POST /sign/execute with the signed transaction bytes.
type RemoteSigner struct {
	baseURL    string
	address    string
	httpClient *http.Client
}

// NewRemoteSigner creates a signer client for the given sidecar URL and
// broadcasting account address.
func NewRemoteSigner(baseURL, address string) *RemoteSigner {
	return &RemoteSigner{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		address: address,
		httpClient: &http.Client{
			Timeout: rpcTimeout,
		},
	}
}

// Address returns the broadcasting account's bech32 address.
func (s *RemoteSigner) Address() string {
	return s.address
}

// SignExecute requests a signed MsgExecuteContract transaction from the
// sidecar.
func (s *RemoteSigner) SignExecute(ctx context.Context, contract string, msg json.RawMessage, funds []Coin, memo string) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Sender   string          `json:"sender"`
		Contract string          `json:"contract"`
		Msg      json.RawMessage `json:"msg"`
		Funds    []Coin          `json:"funds"`
		Memo     string          `json:"memo"`
	}{
		Sender:   s.address,
		Contract: contract,
		Msg:      msg,
		Funds:    funds,
		Memo:     memo,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode signing request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sign/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build signing request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "signing request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read signing response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("signer returned status %d: %s", resp.StatusCode, truncate(body))
	}

	var result struct {
		TxBytes string `json:"tx_bytes"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode signing response")
	}

	txBytes, err := base64.StdEncoding.DecodeString(result.TxBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode signed transaction bytes")
	}
	return txBytes, nil
}

// Balance queries the sidecar for the account's spendable balance in the
// given denomination.
func (s *RemoteSigner) Balance(ctx context.Context, address, denom string) (*big.Int, error) {
	endpoint := s.baseURL + "/balance?address=" + url.QueryEscape(address) + "&denom=" + url.QueryEscape(denom)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build balance request")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "balance request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read balance response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("signer returned status %d: %s", resp.StatusCode, truncate(body))
	}

	var result Coin
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode balance response")
	}

	amount, ok := new(big.Int).SetString(result.Amount, 10)
	if !ok {
		return nil, errors.Errorf("bad balance amount %q", result.Amount)
	}
	return amount, nil
}
