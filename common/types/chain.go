package types

import (
	"context"
	"math/big"
	"time"
)

// ChainRole identifies which leg of a cross-chain swap a chain plays.
// The coordinator is symmetric: a swap may originate on either side.
type ChainRole string

const (
	// ChainSource is the EVM chain the relayer treats as the source leg.
	ChainSource ChainRole = "source"
	// ChainTarget is the CosmWasm chain the relayer treats as the target leg.
	ChainTarget ChainRole = "target"
)

// Other returns the opposite chain role.
func (r ChainRole) Other() ChainRole {
	if r == ChainSource {
		return ChainTarget
	}
	return ChainSource
}

// ChainConfig holds the configuration for a specific chain implementation.
//
// Fields:
// - Name: the human-readable name of the chain.
// - Type: the chain implementation type ("evm" or "cosmos").
// - Role: which swap leg the chain plays.
// - ChainID: the chain identifier (numeric for EVM, e.g. 11155111).
// - RpcUrl: the URL for the chain's RPC endpoint.
// - ContractAddress: the HTLC contract address on this chain.
// - StartBlock: the block height to start watching from (0 means current).
// - TxType: the transaction type for EVM chains (0 legacy, 2 EIP-1559).
// - WaitNBlocks: the number of blocks to wait for transaction confirmation.
// - PrivateKey: hex private key for the EVM signing account.
// - SignerURL: base URL of the signing sidecar for Cosmos chains.
// - SignerAddress: the broadcasting account address on this chain.
// - Denom: the native denomination for Cosmos chains (e.g. "ujuno").
// - AddressPrefix: the bech32 prefix for Cosmos chains (e.g. "juno").
// - GasPrice: the gas price string for Cosmos chains (e.g. "0.075").
// - SafetyDeposit: extra amount in smallest units added on top of every
//   responding lock, decimal string.
// - PollInterval: block poll cadence for chains without push delivery.
type ChainConfig struct {
	Name            string
	Type            string
	Role            ChainRole
	ChainID         uint64
	RpcUrl          string
	ContractAddress string
	StartBlock      uint64
	TxType          uint64
	WaitNBlocks     uint64
	PrivateKey      string
	SignerURL       string
	SignerAddress   string
	Denom           string
	AddressPrefix   string
	GasPrice        string
	SafetyDeposit   string
	PollInterval    time.Duration
}

// EventWatcher watches a chain for HTLC swap events and forwards normalized
// events to the provided channel. Implementations must preserve on-chain
// observation order within their own stream and tolerate duplicate delivery;
// deduplication happens centrally in the coordinator.
type EventWatcher interface {
	// Start begins watching and forwarding events. It returns once the
	// watcher goroutines are running; they stop when ctx is cancelled.
	Start(ctx context.Context, eventChan chan<- ChainEvent) error

	// Stop tears down subscriptions and polling tickers.
	Stop()

	// LastSeenBlock returns the watcher's block watermark. For the push
	// watcher this is operator visibility only; for the poll watcher it is
	// the scan cursor.
	LastSeenBlock() uint64
}

// TxSubmitter wraps signing, broadcast, and confirmation wait for one chain.
// Implementations must be safe for concurrent use across swaps but must
// serialize broadcasts from the same signing account.
type TxSubmitter interface {
	// Submit signs, broadcasts, and waits for confirmation of the requested
	// action. It returns the confirmed transaction reference or a typed error.
	Submit(ctx context.Context, req *TxRequest) (*TxResult, error)
}

// BalanceProvider reports the broadcasting account's spendable balance,
// used for startup checks and operational alerts.
type BalanceProvider interface {
	GetBalance(ctx context.Context) (*big.Int, error)
}

// Chain bundles the per-chain capabilities the coordinator depends on.
type Chain interface {
	EventWatcher
	TxSubmitter
	BalanceProvider
}
