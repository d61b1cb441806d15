package cosmos

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hashlock-labs/htlc-relay/common/types"
)

// defaultPollInterval is the fallback tick cadence. There is a tradeoff
// between tick frequency and confirmation latency that operators tune
// through the poll_interval setting.
const defaultPollInterval = 10 * time.Second

// pollWatcher scans blocks for contract events on a fixed tick. The
// lastPolledHeight watermark advances only after an entire height range
// scans cleanly: a failure anywhere in the range leaves the watermark
// untouched so the next tick retries the same range and no event is
// silently lost.
type pollWatcher struct {
	ctx    context.Context
	cancel context.CancelFunc

	chain     *cosmos
	logger    *logrus.Logger
	eventChan chan<- types.ChainEvent

	heightMutex      sync.RWMutex
	lastPolledHeight uint64

	ticker *time.Ticker
}

// Start launches the poll loop.
func (c *cosmos) Start(ctx context.Context, eventChan chan<- types.ChainEvent) error {
	c.watcherMutex.Lock()
	defer c.watcherMutex.Unlock()

	if c.watcher != nil {
		c.watcher.stop()
	}

	watcherCtx, cancel := context.WithCancel(ctx)
	watcher := &pollWatcher{
		ctx:       watcherCtx,
		cancel:    cancel,
		chain:     c,
		logger:    c.logger,
		eventChan: eventChan,
	}

	if c.config.StartBlock > 0 {
		watcher.setLastPolledHeight(c.config.StartBlock - 1)
	} else {
		callCtx, cancelCall := context.WithTimeout(watcherCtx, rpcTimeout)
		height, err := c.client.LatestHeight(callCtx)
		cancelCall()
		if err != nil {
			cancel()
			return errors.Wrap(err, "failed to get current height")
		}
		watcher.setLastPolledHeight(height)
	}

	interval := c.config.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	watcher.ticker = time.NewTicker(interval)

	c.logger.WithFields(logrus.Fields{
		"chain":    c.config.Name,
		"interval": interval,
		"from":     watcher.getLastPolledHeight(),
	}).Info("Start polling swap events")

	go watcher.run()

	c.watcher = watcher
	return nil
}

// Stop tears down the poll loop.
func (c *cosmos) Stop() {
	c.watcherMutex.Lock()
	defer c.watcherMutex.Unlock()

	if c.watcher != nil {
		c.watcher.stop()
		c.watcher = nil
	}
}

// LastSeenBlock returns the poll watermark.
func (c *cosmos) LastSeenBlock() uint64 {
	c.watcherMutex.Lock()
	watcher := c.watcher
	c.watcherMutex.Unlock()

	if watcher == nil {
		return 0
	}
	return watcher.getLastPolledHeight()
}

func (w *pollWatcher) stop() {
	w.cancel()
	if w.ticker != nil {
		w.ticker.Stop()
	}
}

func (w *pollWatcher) getLastPolledHeight() uint64 {
	w.heightMutex.RLock()
	defer w.heightMutex.RUnlock()
	return w.lastPolledHeight
}

func (w *pollWatcher) setLastPolledHeight(height uint64) {
	w.heightMutex.Lock()
	w.lastPolledHeight = height
	w.heightMutex.Unlock()
}

func (w *pollWatcher) run() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.ticker.C:
			if err := w.pollOnce(); err != nil {
				w.logger.WithField("chain", w.chain.config.Name).WithError(err).Error("Error polling swap events")
			}
		}
	}
}

// pollOnce scans every height in (lastPolledHeight, current] and advances
// the watermark only after the whole range succeeded.
func (w *pollWatcher) pollOnce() error {
	callCtx, cancel := context.WithTimeout(w.ctx, rpcTimeout)
	currentHeight, err := w.chain.client.LatestHeight(callCtx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to get current height")
	}

	fromHeight := w.getLastPolledHeight()
	if currentHeight <= fromHeight {
		return nil
	}

	for height := fromHeight + 1; height <= currentHeight; height++ {
		if err := w.scanBlock(height); err != nil {
			return errors.Wrapf(err, "failed to scan block %d", height)
		}
	}

	w.setLastPolledHeight(currentHeight)
	return nil
}

// scanBlock inspects every transaction in the block for contract events.
// Failed transactions (non-zero code) emit no state changes and are
// skipped; a malformed event attribute set is logged and skipped rather
// than failing the block.
func (w *pollWatcher) scanBlock(height uint64) error {
	callCtx, cancel := context.WithTimeout(w.ctx, rpcTimeout)
	hashes, err := w.chain.client.BlockTxHashes(callCtx, height)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to fetch block")
	}

	if len(hashes) == 0 {
		return nil
	}

	callCtx, cancel = context.WithTimeout(w.ctx, rpcTimeout)
	results, err := w.chain.client.BlockResults(callCtx, height)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to fetch block results")
	}

	if len(results) != len(hashes) {
		return errors.Errorf("block %d has %d txs but %d results", height, len(hashes), len(results))
	}

	for i, result := range results {
		if result.Code != 0 {
			continue
		}

		for _, abciEvent := range result.Events {
			event, ok, err := w.chain.normalizeWasmEvent(abciEvent, hashes[i], height)
			if err != nil {
				w.logger.WithFields(logrus.Fields{
					"chain":  w.chain.config.Name,
					"txHash": hashes[i],
					"height": height,
				}).WithError(err).Error("Failed to normalize contract event")
				continue
			}
			if !ok {
				continue
			}

			select {
			case <-w.ctx.Done():
				return nil
			case w.eventChan <- event:
			}
		}
	}

	return nil
}
