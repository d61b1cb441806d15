package types

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"
)

// SwapState is the coordinator's view of where a cross-chain swap stands.
type SwapState string

const (
	// StateAwaitingSourceLock is the initial state before any leg is locked.
	StateAwaitingSourceLock SwapState = "AWAITING_SOURCE_LOCK"
	// StateSourceLocked means the source leg is locked and the responding
	// target lock has been requested.
	StateSourceLocked SwapState = "SOURCE_LOCKED"
	// StateTargetLocked means both legs are locked (or the swap originated
	// on the target chain and the responding source lock has been requested).
	StateTargetLocked SwapState = "TARGET_LOCKED"
	// StateSecretRevealed means a COMPLETED event exposed the preimage and a
	// claim on the opposite chain is in flight.
	StateSecretRevealed SwapState = "SECRET_REVEALED"
	// StateSourceClaimed means the source leg claim confirmed; with the
	// target leg already claimed by the counterparty the swap settled.
	StateSourceClaimed SwapState = "SOURCE_CLAIMED"
	// StateTargetClaimed means the target leg claim confirmed.
	StateTargetClaimed SwapState = "TARGET_CLAIMED"
	// StateExpiredRefunded means the swap timed out and outstanding legs
	// were refunded.
	StateExpiredRefunded SwapState = "EXPIRED_REFUNDED"
	// StateFailed means the swap hit an unrecoverable error and requires
	// operator intervention.
	StateFailed SwapState = "FAILED"
)

// IsTerminal reports whether no further transitions are expected.
func (s SwapState) IsTerminal() bool {
	switch s {
	case StateSourceClaimed, StateTargetClaimed, StateExpiredRefunded, StateFailed:
		return true
	default:
		return false
	}
}

// SwapRecord is the coordinator's record of one cross-chain swap. The
// hashlock is the primary key: both chains derive their own native swap IDs,
// and the commitment is the only value shared by construction.
//
// The submission guard fields implement idempotency: before submitting any
// transaction the coordinator checks the corresponding guard, so duplicate
// event delivery that slipped past the deduplicator never causes a double
// submission.
type SwapRecord struct {
	Hashlock     [32]byte
	SourceSwapID string
	TargetSwapID string
	State        SwapState

	// OriginChain is the chain the swap was first observed on.
	OriginChain ChainRole

	SourceAmount   *big.Int
	TargetAmount   *big.Int
	SourceTimelock int64
	TargetTimelock int64

	Participant           string
	CounterpartyRecipient string

	Secret    [32]byte
	HasSecret bool

	// SecretChain is the chain whose COMPLETED event revealed the secret;
	// the claim is submitted on the other chain.
	SecretChain ChainRole

	SourceClaimed  bool
	TargetClaimed  bool
	SourceRefunded bool
	TargetRefunded bool

	SourceLockSubmitted bool
	TargetLockSubmitted bool
	ClaimSubmitted      bool
	RefundSubmitted     bool

	// FailReason records why a swap moved to FAILED.
	FailReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HashlockHex returns the hashlock as a 0x-prefixed hex string.
func (r *SwapRecord) HashlockHex() string {
	return fmt.Sprintf("0x%x", r.Hashlock)
}

// Settled reports whether both legs were claimed.
func (r *SwapRecord) Settled() bool {
	return r.SourceClaimed && r.TargetClaimed
}

// SwapIDFor returns the chain-native swap identifier for the given role.
func (r *SwapRecord) SwapIDFor(role ChainRole) string {
	if role == ChainSource {
		return r.SourceSwapID
	}
	return r.TargetSwapID
}

// TimelockFor returns the absolute timelock for the given leg.
func (r *SwapRecord) TimelockFor(role ChainRole) int64 {
	if role == ChainSource {
		return r.SourceTimelock
	}
	return r.TargetTimelock
}

// VerifySecret reports whether sha256(secret) matches the record's hashlock.
// Both contracts commit to SHA-256 of the 32-byte preimage.
func VerifySecret(hashlock, secret [32]byte) bool {
	return sha256.Sum256(secret[:]) == hashlock
}
