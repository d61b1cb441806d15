// Package errors defines the sentinel error values shared across the relay.
// Callers classify failures with errors.Is against these values; transport
// and call-site context is attached with errors.Wrap.
package errors

import "github.com/pkg/errors"

var (
	// ErrInvalidSecret means a revealed preimage does not hash to the swap's
	// hashlock. This is a protocol violation: the swap is failed and never
	// retried.
	ErrInvalidSecret = errors.New("secret does not match hashlock")

	// ErrTimelockUnsafe means a swap's timelocks violate the safety-buffer
	// ordering or the configured duration bounds.
	ErrTimelockUnsafe = errors.New("timelock violates safety constraints")

	// ErrSwapNotFound means an event references a hashlock with no record.
	ErrSwapNotFound = errors.New("swap not found in registry")

	// ErrSubmissionFailed means a transaction broadcast or confirmation
	// failed after bounded retries.
	ErrSubmissionFailed = errors.New("transaction submission failed")

	// ErrInsufficientFunds means the broadcasting account cannot cover the
	// requested amount plus fees. Held and retried on a longer interval.
	ErrInsufficientFunds = errors.New("insufficient funds for submission")

	// ErrClientNotInitialized means a chain client is missing or closed.
	ErrClientNotInitialized = errors.New("client not initialized")

	// ErrInvalidConfig means the relay configuration failed validation.
	ErrInvalidConfig = errors.New("invalid relay configuration")

	// ErrDatabaseConnect means the durable swap store is unreachable.
	ErrDatabaseConnect = errors.New("failed to connect to database")

	// ErrShuttingDown means the coordinator refused new work because
	// shutdown was requested.
	ErrShuttingDown = errors.New("relay is shutting down")
)
