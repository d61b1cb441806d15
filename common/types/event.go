package types

import (
	"fmt"
	"math/big"
)

// EventKind is the normalized swap lifecycle event type.
type EventKind string

const (
	// EventSwapInitiated is emitted when funds are locked behind a hashlock.
	EventSwapInitiated EventKind = "SWAP_INITIATED"
	// EventSwapCompleted is emitted when a swap is claimed, revealing the secret.
	EventSwapCompleted EventKind = "SWAP_COMPLETED"
	// EventSwapRefunded is emitted when an expired swap is refunded.
	EventSwapRefunded EventKind = "SWAP_REFUNDED"
)

// ChainEvent is the normalized representation of an on-chain swap occurrence.
// Watchers on both chains emit this shape; the coordinator never sees raw
// logs or transaction attributes.
//
// Fields:
// - Chain: the role of the chain the event was observed on.
// - Kind: the lifecycle event type.
// - SwapID: the chain-native swap identifier.
// - Hashlock: the 32-byte commitment (set on INITIATED, and on COMPLETED when known).
// - Secret: the 32-byte preimage (set on COMPLETED).
// - HasSecret: whether Secret carries a value.
// - Participant: the chain-native address of the swap participant.
// - CounterpartyRecipient: the recipient address on the opposite chain.
// - Amount: the locked amount in the chain's smallest denomination.
// - Timelock: the absolute UNIX timestamp after which refund becomes valid.
// - BlockNumber: the block height the event was included in.
// - TxHash: the transaction hash that produced the event.
// - LogIndex: the log index within the block (EVM only).
// - HasLogIndex: whether LogIndex is meaningful for this chain.
type ChainEvent struct {
	Chain                 ChainRole
	Kind                  EventKind
	SwapID                string
	Hashlock              [32]byte
	Secret                [32]byte
	HasSecret             bool
	Participant           string
	CounterpartyRecipient string
	Amount                *big.Int
	Timelock              int64
	BlockNumber           uint64
	TxHash                string
	LogIndex              uint
	HasLogIndex           bool
}

// Key returns the globally unique identifier for the physical event:
// chain, transaction hash, and log index where the chain has one.
// Duplicate deliveries of the same event produce the same key.
func (e *ChainEvent) Key() string {
	if e.HasLogIndex {
		return fmt.Sprintf("%s|%s|%d", e.Chain, e.TxHash, e.LogIndex)
	}
	return fmt.Sprintf("%s|%s", e.Chain, e.TxHash)
}

// HashlockHex returns the hashlock as a 0x-prefixed hex string for logging.
func (e *ChainEvent) HashlockHex() string {
	return fmt.Sprintf("0x%x", e.Hashlock)
}
