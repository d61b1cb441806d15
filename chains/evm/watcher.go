package evm

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
	"github.com/hashlock-labs/htlc-relay/common/types"
)

const (
	// reconnectDelay is the pause between resubscription attempts.
	reconnectDelay = 5 * time.Second
	// maxReconnectAttempts bounds one reconnect burst before the long wait.
	maxReconnectAttempts = 3
	// reconnectRestTimeout is the long wait after a failed reconnect burst.
	reconnectRestTimeout = 5 * time.Minute
	// defaultPollInterval is the fallback cadence for HTTP polling mode.
	defaultPollInterval = 5 * time.Second
	// maxBlockRange caps how many blocks a single backfill query spans.
	maxBlockRange = uint64(1000)
)

// subscription wraps a live log subscription with its delivery channel.
type subscription struct {
	sub     ethereum.Subscription
	logChan chan ethtypes.Log
	sync.Mutex
}

// close safely tears down the subscription and channel.
func (s *subscription) close() {
	s.Lock()
	defer s.Unlock()

	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	if s.logChan != nil {
		close(s.logChan)
		s.logChan = nil
	}
}

// swapWatcher delivers normalized swap events from the HTLC contract.
// WebSocket endpoints get push subscriptions with historical backfill on
// reconnect; HTTP endpoints fall back to watermark-based polling.
type swapWatcher struct {
	ctx    context.Context
	cancel context.CancelFunc

	chain     *evm
	logger    *logrus.Logger
	eventChan chan<- types.ChainEvent

	clientMutex sync.RWMutex
	client      *ethclient.Client

	swapSub *subscription

	lastBlockMutex sync.RWMutex
	lastSeenBlock  uint64

	pollingTicker *time.Ticker
}

// Start launches the watcher. The delivery mode follows the RPC URL scheme.
func (e *evm) Start(ctx context.Context, eventChan chan<- types.ChainEvent) error {
	e.watcherMutex.Lock()
	defer e.watcherMutex.Unlock()

	client := e.getClient()
	if client == nil {
		return commonerrors.ErrClientNotInitialized
	}

	if e.watcher != nil {
		e.watcher.stop()
	}

	watcherCtx, cancel := context.WithCancel(ctx)
	watcher := &swapWatcher{
		ctx:       watcherCtx,
		cancel:    cancel,
		chain:     e,
		logger:    e.logger,
		eventChan: eventChan,
		client:    client,
		swapSub:   &subscription{},
	}

	if watcher.startBlock() == 0 {
		callCtx, cancelCall := context.WithTimeout(watcherCtx, rpcTimeout)
		current, err := client.BlockNumber(callCtx)
		cancelCall()
		if err != nil {
			cancel()
			return errors.Wrap(err, "failed to get current block number")
		}
		watcher.setLastSeenBlock(current)
	} else {
		// Watching resumes one block before the configured start so the
		// start block itself is included in the first backfill.
		watcher.setLastSeenBlock(watcher.startBlock() - 1)
	}

	var err error
	if isWebSocketURL(e.config.RpcUrl) {
		err = watcher.startSubscription()
	} else {
		err = watcher.startPolling()
	}
	if err != nil {
		watcher.stop()
		return err
	}

	e.watcher = watcher
	return nil
}

// Stop tears down the running watcher.
func (e *evm) Stop() {
	e.watcherMutex.Lock()
	defer e.watcherMutex.Unlock()

	if e.watcher != nil {
		e.watcher.stop()
		e.watcher = nil
	}
}

// LastSeenBlock returns the watcher's block watermark.
func (e *evm) LastSeenBlock() uint64 {
	e.watcherMutex.Lock()
	watcher := e.watcher
	e.watcherMutex.Unlock()

	if watcher == nil {
		return 0
	}
	return watcher.getLastSeenBlock()
}

func isWebSocketURL(rpcURL string) bool {
	return strings.HasPrefix(rpcURL, "wss://") || strings.HasPrefix(rpcURL, "ws://")
}

func (w *swapWatcher) startBlock() uint64 {
	return w.chain.config.StartBlock
}

func (w *swapWatcher) getLastSeenBlock() uint64 {
	w.lastBlockMutex.RLock()
	defer w.lastBlockMutex.RUnlock()
	return w.lastSeenBlock
}

func (w *swapWatcher) setLastSeenBlock(block uint64) {
	w.lastBlockMutex.Lock()
	if block > w.lastSeenBlock {
		w.lastSeenBlock = block
	}
	w.lastBlockMutex.Unlock()
}

func (w *swapWatcher) getClient() *ethclient.Client {
	w.clientMutex.RLock()
	defer w.clientMutex.RUnlock()
	return w.client
}

// updateClient swaps in a fresh client after a reconnect. The subscription
// error path picks it up and resubscribes.
func (w *swapWatcher) updateClient(client *ethclient.Client) {
	w.clientMutex.Lock()
	w.client = client
	w.clientMutex.Unlock()
}

func (w *swapWatcher) stop() {
	w.cancel()
	if w.swapSub != nil {
		w.swapSub.close()
	}
	if w.pollingTicker != nil {
		w.pollingTicker.Stop()
	}
}

// swapFilterQuery returns the log filter for the three lifecycle events.
func (w *swapWatcher) swapFilterQuery(fromBlock, toBlock uint64) ethereum.FilterQuery {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{w.chain.contractAddress},
		Topics:    [][]common.Hash{swapTopics},
	}
	if fromBlock > 0 {
		query.FromBlock = new(big.Int).SetUint64(fromBlock)
	}
	if toBlock > 0 {
		query.ToBlock = new(big.Int).SetUint64(toBlock)
	}
	return query
}

// startSubscription backfills from the watermark, subscribes, and starts the
// event loop.
func (w *swapWatcher) startSubscription() error {
	if err := w.backfill(); err != nil {
		w.logger.WithField("chain", w.chain.config.Name).WithError(err).Warn("Initial backfill failed, continuing with live subscription")
	}

	if err := w.setupSubscription(); err != nil {
		return errors.Wrap(err, "failed to setup swap subscription")
	}

	go w.handleEvents()
	return nil
}

// setupSubscription opens the live log subscription from the current head.
func (w *swapWatcher) setupSubscription() error {
	w.swapSub.Lock()
	defer w.swapSub.Unlock()

	if w.swapSub.sub != nil {
		w.swapSub.sub.Unsubscribe()
	}

	client := w.getClient()
	if client == nil {
		return commonerrors.ErrClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(w.ctx, rpcTimeout)
	defer cancel()

	logChan := make(chan ethtypes.Log)
	sub, err := client.SubscribeFilterLogs(ctx, w.swapFilterQuery(0, 0), logChan)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to swap events")
	}

	w.swapSub.sub = sub
	w.swapSub.logChan = logChan

	w.logger.WithFields(logrus.Fields{
		"chain":    w.chain.config.Name,
		"contract": w.chain.contractAddress.Hex(),
	}).Info("Swap event subscription established")

	return nil
}

// handleEvents consumes subscription deliveries and drives reconnects.
func (w *swapWatcher) handleEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case err := <-w.swapSub.sub.Err():
			if err == nil {
				return
			}
			w.logger.WithField("chain", w.chain.config.Name).WithError(err).Error("Swap subscription dropped")
			if err := w.reconnectSubscription(); err != nil {
				w.logger.WithField("chain", w.chain.config.Name).WithError(err).Error("Failed to reconnect swap subscription")
				return
			}

		case log, ok := <-w.swapSub.logChan:
			if !ok {
				return
			}
			w.forwardLog(log)
		}
	}
}

// reconnectSubscription re-establishes the subscription with bounded retry
// bursts. Events that landed while disconnected are recovered by a backfill
// from the lastSeenBlock watermark; this relies on the RPC endpoint serving
// historical logs from that block.
func (w *swapWatcher) reconnectSubscription() error {
	w.swapSub.close()

	restTicker := time.NewTicker(reconnectRestTimeout)
	defer restTicker.Stop()

	for {
		for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
			select {
			case <-w.ctx.Done():
				return errors.New("context cancelled during reconnection")
			default:
			}

			w.logger.WithFields(logrus.Fields{
				"chain":   w.chain.config.Name,
				"attempt": attempt,
			}).Info("Attempting to reconnect swap subscription")

			err := w.backfill()
			if err == nil {
				err = w.setupSubscription()
			}
			if err == nil {
				w.logger.WithField("chain", w.chain.config.Name).Info("Swap subscription reconnected")
				return nil
			}

			w.logger.WithField("chain", w.chain.config.Name).WithError(err).Error("Reconnect attempt failed")
			time.Sleep(reconnectDelay)
		}

		w.logger.WithField("chain", w.chain.config.Name).Warn("Max reconnect attempts reached, waiting before next burst")
		select {
		case <-w.ctx.Done():
			return errors.New("context cancelled during reconnection")
		case <-restTicker.C:
		}
	}
}

// startPolling begins watermark-based polling for HTTP-only endpoints.
func (w *swapWatcher) startPolling() error {
	interval := w.chain.config.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	w.pollingTicker = time.NewTicker(interval)

	w.logger.WithFields(logrus.Fields{
		"chain":    w.chain.config.Name,
		"interval": interval,
	}).Info("Start polling swap events")

	go func() {
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-w.pollingTicker.C:
				if err := w.backfill(); err != nil {
					w.logger.WithField("chain", w.chain.config.Name).WithError(err).Error("Error polling swap events")
				}
			}
		}
	}()

	return nil
}

// backfill scans (lastSeenBlock, head] in bounded ranges and forwards every
// swap log found. The watermark only advances after a range scans cleanly.
func (w *swapWatcher) backfill() error {
	client := w.getClient()
	if client == nil {
		return commonerrors.ErrClientNotInitialized
	}

	callCtx, cancel := context.WithTimeout(w.ctx, rpcTimeout)
	currentBlock, err := client.BlockNumber(callCtx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to get current block number")
	}

	for {
		fromBlock := w.getLastSeenBlock()
		if currentBlock <= fromBlock {
			return nil
		}

		toBlock := fromBlock + maxBlockRange
		if toBlock > currentBlock {
			toBlock = currentBlock
		}

		callCtx, cancel := context.WithTimeout(w.ctx, rpcTimeout)
		logs, err := client.FilterLogs(callCtx, w.swapFilterQuery(fromBlock+1, toBlock))
		cancel()
		if err != nil {
			return errors.Wrapf(err, "failed to filter logs in range %d-%d", fromBlock+1, toBlock)
		}

		for i := range logs {
			w.forwardLog(logs[i])
		}

		w.setLastSeenBlock(toBlock)
	}
}

// forwardLog normalizes one raw log and hands it to the coordinator.
// Deduplication happens centrally, not here: duplicate delivery after a
// reconnect backfill is expected and harmless.
func (w *swapWatcher) forwardLog(log ethtypes.Log) {
	if log.Removed {
		return
	}

	event, err := w.chain.normalizeLog(log)
	if err != nil {
		w.logger.WithFields(logrus.Fields{
			"chain":  w.chain.config.Name,
			"txHash": log.TxHash.Hex(),
			"block":  log.BlockNumber,
		}).WithError(err).Error("Failed to normalize swap log")
		return
	}

	w.setLastSeenBlock(log.BlockNumber)

	select {
	case <-w.ctx.Done():
	case w.eventChan <- event:
	}
}
