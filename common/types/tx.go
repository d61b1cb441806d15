package types

import (
	"math/big"
)

// TxAction is the kind of HTLC transaction a submitter can broadcast.
type TxAction string

const (
	// ActionLock locks funds behind a hashlock on the submitter's chain.
	ActionLock TxAction = "LOCK"
	// ActionClaim claims locked funds by revealing the preimage.
	ActionClaim TxAction = "CLAIM"
	// ActionRefund refunds an expired lock back to its initiator.
	ActionRefund TxAction = "REFUND"
)

// TxRequest describes one transaction the coordinator wants broadcast.
//
// Fields:
// - Action: lock, claim, or refund.
// - SwapID: the chain-native swap identifier (claim and refund).
// - Hashlock: the 32-byte commitment (lock).
// - Secret: the 32-byte preimage (claim).
// - Participant: the address allowed to claim the lock.
// - CounterpartyRecipient: the recipient address on the opposite chain,
//   recorded in the lock for auditability.
// - Amount: the amount to lock in the chain's smallest denomination.
// - Timelock: the absolute UNIX timestamp for the lock's refund deadline.
type TxRequest struct {
	Action                TxAction
	SwapID                string
	Hashlock              [32]byte
	Secret                [32]byte
	Participant           string
	CounterpartyRecipient string
	Amount                *big.Int
	Timelock              int64
}

// TxResult is the confirmed outcome of a submitted transaction.
type TxResult struct {
	TxHash      string
	BlockNumber uint64
	// SwapID is the chain-native identifier assigned to a lock, when the
	// chain reports it synchronously (Cosmos execute responses do; EVM swap
	// IDs arrive through the SwapInitiated event instead).
	SwapID string
}
