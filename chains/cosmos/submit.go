package cosmos

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
	"github.com/hashlock-labs/htlc-relay/common/types"
)

const (
	// commitPollInterval defines how often a broadcast transaction is
	// polled for inclusion.
	commitPollInterval = 2 * time.Second
	// commitTimeout bounds the wait for inclusion of a broadcast
	// transaction.
	commitTimeout = 3 * time.Minute
)

// Submit executes a contract message for the requested action and waits for
// the transaction to be committed.
//
// Parameters:
// - ctx: the context for the submission.
// - req: the transaction request describing the action.
//
// Returns:
// - *types.TxResult: the committed transaction hash, height, and native swap ID.
// - error: an error if signing, broadcast, or execution fails.
func (c *cosmos) Submit(ctx context.Context, req *types.TxRequest) (*types.TxResult, error) {
	if c.signer == nil {
		return nil, errors.Wrap(commonerrors.ErrClientNotInitialized, "no signer configured")
	}

	// One in-flight transaction at a time: the broadcasting account's
	// sequence number must increase monotonically.
	c.submitMutex.Lock()
	defer c.submitMutex.Unlock()

	msg, funds, err := c.buildExecuteMsg(req)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"chain":  c.config.Name,
		"action": req.Action,
		"swapId": req.SwapID,
	}).Info("Submitting contract execution")

	txBytes, err := c.signer.SignExecute(ctx, c.config.ContractAddress, msg, funds, "")
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	txHash, err := c.client.BroadcastTxSync(ctx, txBytes)
	if err != nil {
		return nil, classifyBroadcastError(err)
	}

	c.logger.WithFields(logrus.Fields{
		"chain":  c.config.Name,
		"action": req.Action,
		"txHash": txHash,
	}).Info("Transaction broadcast, awaiting commit")

	lookup, err := c.waitCommit(ctx, txHash)
	if err != nil {
		return nil, err
	}

	result := &types.TxResult{
		TxHash:      txHash,
		BlockNumber: lookup.HeightUint(),
	}

	// Lock executions mint the native swap identifier; pull it from the
	// emitted event so the caller can correlate later events.
	if req.Action == types.ActionLock {
		result.SwapID = findSwapIDAttr(lookup.TxResult.Events, c.config.ContractAddress)
	} else {
		result.SwapID = req.SwapID
	}

	c.logger.WithFields(logrus.Fields{
		"chain":  c.config.Name,
		"action": req.Action,
		"txHash": txHash,
		"height": result.BlockNumber,
		"swapId": result.SwapID,
	}).Info("Transaction committed")

	return result, nil
}

// buildExecuteMsg constructs the contract execute message and attached
// funds for the request.
func (c *cosmos) buildExecuteMsg(req *types.TxRequest) (json.RawMessage, []Coin, error) {
	switch req.Action {
	case types.ActionLock:
		if req.Amount == nil {
			return nil, nil, errors.New("lock request missing amount")
		}

		inner := struct {
			Participant           string `json:"participant"`
			Hashlock              string `json:"hashlock"`
			Timelock              int64  `json:"timelock"`
			CounterpartyRecipient string `json:"counterparty_recipient"`
		}{
			Participant:           req.Participant,
			Hashlock:              hex.EncodeToString(req.Hashlock[:]),
			Timelock:              req.Timelock,
			CounterpartyRecipient: req.CounterpartyRecipient,
		}

		msg, err := json.Marshal(map[string]interface{}{actionInitiateSwap: inner})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to encode initiate message")
		}

		// The safety deposit rides on top of the locked value and is
		// returned to whoever settles the swap.
		total := new(big.Int).Add(req.Amount, c.safetyDeposit)
		funds := []Coin{{
			Denom:  c.config.Denom,
			Amount: total.String(),
		}}
		return msg, funds, nil

	case types.ActionClaim:
		inner := struct {
			SwapID string `json:"swap_id"`
			Secret string `json:"secret"`
		}{
			SwapID: req.SwapID,
			Secret: hex.EncodeToString(req.Secret[:]),
		}

		msg, err := json.Marshal(map[string]interface{}{actionCompleteSwap: inner})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to encode complete message")
		}
		return msg, nil, nil

	case types.ActionRefund:
		inner := struct {
			SwapID string `json:"swap_id"`
		}{
			SwapID: req.SwapID,
		}

		msg, err := json.Marshal(map[string]interface{}{actionRefundSwap: inner})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to encode refund message")
		}
		return msg, nil, nil

	default:
		return nil, nil, errors.Errorf("unknown action %q", req.Action)
	}
}

// waitCommit polls the /tx endpoint until the transaction is committed and
// verifies it executed successfully.
func (c *cosmos) waitCommit(ctx context.Context, txHash string) (*TxLookup, error) {
	deadline := time.Now().Add(commitTimeout)
	ticker := time.NewTicker(commitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return nil, errors.Wrapf(commonerrors.ErrSubmissionFailed, "transaction %s not committed within %s", txHash, commitTimeout)
		}

		lookup, err := c.client.Tx(ctx, txHash)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"chain":  c.config.Name,
				"txHash": txHash,
			}).WithError(err).Warn("Transaction lookup failed, retrying")
			continue
		}
		if lookup == nil {
			continue
		}

		if lookup.TxResult.Code != 0 {
			return nil, errors.Wrapf(commonerrors.ErrSubmissionFailed,
				"transaction %s failed with code %d: %s", txHash, lookup.TxResult.Code, lookup.TxResult.Log)
		}
		return lookup, nil
	}
}

// findSwapIDAttr extracts the swap_id attribute from the contract's wasm
// event in a committed transaction.
func findSwapIDAttr(events []ABCIEvent, contract string) string {
	for _, event := range events {
		if event.Type != "wasm" {
			continue
		}

		attrs := make(map[string]string, len(event.Attributes))
		for _, attr := range event.Attributes {
			attrs[attrString(attr.Key)] = attrString(attr.Value)
		}

		if attrs["_contract_address"] != contract {
			continue
		}
		if id := attrs["swap_id"]; id != "" {
			return id
		}
	}
	return ""
}

// classifyBroadcastError maps broadcast failures onto the submission error
// taxonomy.
func classifyBroadcastError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
		return errors.Wrap(commonerrors.ErrInsufficientFunds, err.Error())
	}
	return errors.Wrap(commonerrors.ErrSubmissionFailed, err.Error())
}
