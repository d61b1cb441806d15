// Package evm implements the EVM side of the relay: a push-based watcher
// over the HTLC contract's log events and a nonce-serialized transaction
// submitter for the responding leg.
package evm

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hashlock-labs/htlc-relay/chains/evm/signer"
	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
	"github.com/hashlock-labs/htlc-relay/common/types"
	"github.com/hashlock-labs/htlc-relay/connectionmonitor"
)

const (
	// TxTypeLegacy represents the legacy transaction type.
	TxTypeLegacy = 0
	// TxTypeEIP1559 represents the EIP-1559 transaction type.
	TxTypeEIP1559 = 2
	// rpcTimeout bounds individual RPC calls.
	rpcTimeout = 30 * time.Second
)

// evm is the EVM chain implementation.
type evm struct {
	config          *types.ChainConfig
	logger          *logrus.Logger
	contractAddress common.Address
	contractABI     abi.ABI
	safetyDeposit   *big.Int

	clientMutex sync.RWMutex
	client      *ethclient.Client

	signer signer.Signer

	// submitMutex serializes every submission from the signing account.
	// The chain requires strict nonce ordering: two concurrent broadcasts
	// from one account race on the pending nonce and get rejected or
	// mis-ordered, so submissions queue here.
	submitMutex sync.Mutex

	watcherMutex sync.Mutex
	watcher      *swapWatcher

	monitorMutex sync.Mutex
	monitor      connectionmonitor.ConnectionMonitor
}

// NewEvmChain creates the EVM chain implementation.
//
// Parameters:
// - ctx: the context for managing connection setup.
// - config: the chain configuration.
// - logger: the logger for logging events.
//
// Returns:
// - types.Chain: a new EVM chain instance.
// - error: an error if the client, signer, or monitor setup fails.
func NewEvmChain(ctx context.Context, config *types.ChainConfig, logger *logrus.Logger) (types.Chain, error) {
	client, err := ethclient.DialContext(ctx, config.RpcUrl)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create client")
	}

	contractABI, err := parseABI()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse contract ABI")
	}

	chain := &evm{
		config:          config,
		logger:          logger,
		contractAddress: common.HexToAddress(config.ContractAddress),
		contractABI:     contractABI,
		safetyDeposit:   big.NewInt(0),
		client:          client,
	}

	if config.SafetyDeposit != "" {
		deposit, ok := new(big.Int).SetString(config.SafetyDeposit, 10)
		if !ok {
			return nil, errors.Wrapf(commonerrors.ErrInvalidConfig, "bad safety deposit %q", config.SafetyDeposit)
		}
		chain.safetyDeposit = deposit
	}

	if config.PrivateKey != "" {
		privKey, err := crypto.HexToECDSA(config.PrivateKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse private key")
		}

		chainSigner, err := signer.NewSigner(privKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create signer")
		}
		chain.signer = chainSigner
	}

	if err := chain.initMonitor(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to init connection monitor")
	}

	return chain, nil
}

// Close stops the connection monitor, the watcher, and the client.
func (e *evm) Close() {
	e.monitorMutex.Lock()
	if e.monitor != nil {
		e.monitor.Stop()
	}
	e.monitorMutex.Unlock()

	e.watcherMutex.Lock()
	if e.watcher != nil {
		e.watcher.stop()
		e.watcher = nil
	}
	e.watcherMutex.Unlock()

	e.clientMutex.Lock()
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
	e.clientMutex.Unlock()
}

// GetBalance returns the signing account's native balance.
func (e *evm) GetBalance(ctx context.Context) (*big.Int, error) {
	e.clientMutex.RLock()
	client := e.client
	e.clientMutex.RUnlock()

	if client == nil {
		return nil, commonerrors.ErrClientNotInitialized
	}
	if e.signer == nil {
		return nil, errors.New("signer not configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	balance, err := client.BalanceAt(callCtx, e.signer.Address(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get balance")
	}
	return balance, nil
}

func (e *evm) getClient() *ethclient.Client {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()
	return e.client
}

// evmConnectionManager implements connectionmonitor.BlockchainClient.
type evmConnectionManager struct {
	chain *evm
}

func (e *evm) initMonitor(ctx context.Context) error {
	e.monitorMutex.Lock()
	defer e.monitorMutex.Unlock()

	manager := &evmConnectionManager{chain: e}
	e.monitor = connectionmonitor.NewConnectionMonitor(manager, e.logger, e.config.Name)
	return e.monitor.Start(ctx)
}

// CheckConnection checks liveness by fetching the current block number.
func (m *evmConnectionManager) CheckConnection(ctx context.Context) error {
	client := m.chain.getClient()
	if client == nil {
		return commonerrors.ErrClientNotInitialized
	}

	_, err := client.BlockNumber(ctx)
	return err
}

// Reconnect re-establishes the client and hands it to the running watcher.
func (m *evmConnectionManager) Reconnect(ctx context.Context) error {
	m.chain.clientMutex.Lock()
	if m.chain.client != nil {
		m.chain.client.Close()
	}

	client, err := ethclient.DialContext(ctx, m.chain.config.RpcUrl)
	if err != nil {
		m.chain.client = nil
		m.chain.clientMutex.Unlock()
		return err
	}
	m.chain.client = client
	m.chain.clientMutex.Unlock()

	m.chain.watcherMutex.Lock()
	if m.chain.watcher != nil {
		m.chain.watcher.updateClient(client)
	}
	m.chain.watcherMutex.Unlock()

	return nil
}
