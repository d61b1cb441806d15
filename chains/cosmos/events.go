package cosmos

import (
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/pkg/errors"

	"github.com/hashlock-labs/htlc-relay/common/types"
)

const (
	actionInitiateSwap = "initiate_swap"
	actionCompleteSwap = "complete_swap"
	actionRefundSwap   = "refund_swap"
)

// normalizeWasmEvent maps a wasm ABCI event emitted by the configured
// contract into a ChainEvent. The second return value is false when the
// event belongs to another contract or is not a swap action.
func (c *cosmos) normalizeWasmEvent(abciEvent ABCIEvent, txHash string, height uint64) (types.ChainEvent, bool, error) {
	if abciEvent.Type != "wasm" {
		return types.ChainEvent{}, false, nil
	}

	attrs := make(map[string]string, len(abciEvent.Attributes))
	for _, attr := range abciEvent.Attributes {
		attrs[attrString(attr.Key)] = attrString(attr.Value)
	}

	if attrs["_contract_address"] != c.config.ContractAddress {
		return types.ChainEvent{}, false, nil
	}

	action := attrs["action"]
	event := types.ChainEvent{
		Chain:       c.config.Role,
		SwapID:      attrs["swap_id"],
		TxHash:      txHash,
		BlockNumber: height,
	}

	switch action {
	case actionInitiateSwap:
		event.Kind = types.EventSwapInitiated

		hashlock, err := parseHex32(attrs["hashlock"])
		if err != nil {
			return types.ChainEvent{}, false, errors.Wrap(err, "bad hashlock attribute")
		}
		event.Hashlock = hashlock

		amount, err := parseAmountAttr(attrs["amount"])
		if err != nil {
			return types.ChainEvent{}, false, errors.Wrap(err, "bad amount attribute")
		}
		event.Amount = amount

		timelock, err := strconv.ParseInt(attrs["timelock"], 10, 64)
		if err != nil {
			return types.ChainEvent{}, false, errors.Wrap(err, "bad timelock attribute")
		}
		event.Timelock = timelock

		event.Participant = attrs["participant"]
		event.CounterpartyRecipient = attrs["counterparty_recipient"]
		if event.CounterpartyRecipient == "" {
			event.CounterpartyRecipient = attrs["ethereum_recipient"]
		}

	case actionCompleteSwap:
		event.Kind = types.EventSwapCompleted

		secret, err := parseHex32(attrs["secret"])
		if err != nil {
			return types.ChainEvent{}, false, errors.Wrap(err, "bad secret attribute")
		}
		event.Secret = secret
		event.HasSecret = true

	case actionRefundSwap:
		event.Kind = types.EventSwapRefunded

	default:
		return types.ChainEvent{}, false, nil
	}

	if event.SwapID == "" {
		return types.ChainEvent{}, false, errors.New("missing swap_id attribute")
	}

	return event, true, nil
}

// attrString returns the attribute string as emitted. Nodes running
// CometBFT 0.34 base64-encode event attributes in block results; newer
// versions return plain strings. A value that round-trips through base64
// into printable ASCII is treated as encoded.
func attrString(s string) string {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	if !printableASCII(decoded) {
		return s
	}
	// Plain attribute names like "action" are also valid base64; only
	// treat the value as encoded when the original is not printable as-is
	// or decoding produced a recognizable attribute form.
	if isLikelyAttribute(s) {
		return s
	}
	return string(decoded)
}

func printableASCII(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// isLikelyAttribute reports whether s already looks like a plain attribute
// key or value: lowercase identifiers, bech32 addresses, decimal numbers,
// and hex strings all contain characters outside the base64 alphabet or
// fail strict decode, but short all-alphanumeric strings are ambiguous.
// Underscores and separators settle it.
func isLikelyAttribute(s string) bool {
	for _, c := range s {
		switch {
		case c == '_' || c == '-' || c == '.' || c == ',':
			return true
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '+', c == '/', c == '=':
		default:
			return true
		}
	}
	return false
}

// parseHex32 decodes a 64-character hex string into a 32-byte array.
func parseHex32(s string) ([32]byte, error) {
	var out [32]byte

	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, errors.Wrap(err, "not hex")
	}
	if len(raw) != 32 {
		return out, errors.Errorf("expected 32 bytes, got %d", len(raw))
	}

	copy(out[:], raw)
	return out, nil
}

// parseAmountAttr parses an amount attribute. Contracts emit either a bare
// integer ("1000000") or a coin string ("1000000ujuno"); only the leading
// numeric part is the amount.
func parseAmountAttr(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty amount")
	}

	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return nil, errors.Errorf("no numeric prefix in %q", s)
	}

	amount, ok := new(big.Int).SetString(s[:end], 10)
	if !ok {
		return nil, errors.Errorf("bad amount %q", s)
	}
	return amount, nil
}
