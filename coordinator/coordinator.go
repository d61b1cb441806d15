// Package coordinator drives the cross-chain swap state machine. It is the
// single consumer of the merged event stream from both chain watchers:
// events pass the deduplication gate, mutate the swap registry under its
// per-hashlock locks, and trigger counter-transactions on the opposite
// chain with bounded retries.
package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
	"github.com/hashlock-labs/htlc-relay/common/types"
	"github.com/hashlock-labs/htlc-relay/dedup"
	"github.com/hashlock-labs/htlc-relay/rate"
	"github.com/hashlock-labs/htlc-relay/retry"
	"github.com/hashlock-labs/htlc-relay/swapstore"
)

// eventBufferSize bounds the merged inbound channel. Watchers block when the
// coordinator falls behind rather than dropping events.
const eventBufferSize = 256

// errAlreadyHandled aborts a registry mutation whose action another delivery
// of the same logical event already performed.
var errAlreadyHandled = errors.New("already handled")

// Params wires the coordinator's collaborators and policy knobs.
//
// Fields:
// - Logger: the logger for all coordination logging.
// - Registry: the swap registry; the coordinator is its only writer.
// - Dedup: the process-wide event deduplicator.
// - Chains: one chain implementation per role.
// - SourceToTargetRate, TargetToSourceRate: conversion functions for the
//   responding lock amount.
// - SourceAsset, TargetAsset: asset tags passed to the rate functions.
// - SafetyBuffer: margin by which the responding leg must expire before the
//   initiating leg.
// - MinTimelock, MaxTimelock: accepted bounds on the responding leg's
//   remaining duration at creation time.
// - SubmitPolicy: retry policy for transaction submissions.
// - FundsPolicy: slower retry policy applied when the account cannot cover a
//   submission.
type Params struct {
	Logger   *logrus.Logger
	Registry *swapstore.Registry
	Dedup    *dedup.Deduplicator
	Chains   map[types.ChainRole]types.Chain

	SourceToTargetRate rate.Func
	TargetToSourceRate rate.Func
	SourceAsset        string
	TargetAsset        string

	SafetyBuffer time.Duration
	MinTimelock  time.Duration
	MaxTimelock  time.Duration

	SubmitPolicy retry.Policy
	FundsPolicy  retry.Policy
}

// Coordinator consumes normalized chain events and coordinates both swap
// legs. All event processing happens on one goroutine; per-swap ordering is
// additionally protected by the registry's per-hashlock locks so the timeout
// monitor cannot interleave with event handling for the same swap.
type Coordinator struct {
	logger   *logrus.Logger
	registry *swapstore.Registry
	dedup    *dedup.Deduplicator
	chains   map[types.ChainRole]types.Chain

	sourceToTargetRate rate.Func
	targetToSourceRate rate.Func
	sourceAsset        string
	targetAsset        string

	safetyBuffer time.Duration
	minTimelock  time.Duration
	maxTimelock  time.Duration

	submitPolicy retry.Policy
	fundsPolicy  retry.Policy

	eventChan chan types.ChainEvent

	runMutex  sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	processedEvents atomic.Uint64
	droppedEvents   atomic.Uint64
}

// New creates a coordinator from its parameters.
func New(params Params) (*Coordinator, error) {
	if params.Logger == nil || params.Registry == nil || params.Dedup == nil {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "missing coordinator collaborator")
	}
	if params.Chains[types.ChainSource] == nil || params.Chains[types.ChainTarget] == nil {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "both chains must be configured")
	}
	if params.SourceToTargetRate == nil || params.TargetToSourceRate == nil {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "rate functions must be configured")
	}
	if params.SafetyBuffer <= 0 {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "safety buffer must be positive")
	}

	submitPolicy := params.SubmitPolicy
	if submitPolicy.MaxAttempts == 0 {
		submitPolicy = retry.DefaultPolicy
	}
	fundsPolicy := params.FundsPolicy
	if fundsPolicy.MaxAttempts == 0 {
		fundsPolicy = retry.Policy{
			MaxAttempts:  3,
			InitialDelay: 30 * time.Second,
			MaxDelay:     5 * time.Minute,
		}
	}

	return &Coordinator{
		logger:             params.Logger,
		registry:           params.Registry,
		dedup:              params.Dedup,
		chains:             params.Chains,
		sourceToTargetRate: params.SourceToTargetRate,
		targetToSourceRate: params.TargetToSourceRate,
		sourceAsset:        params.SourceAsset,
		targetAsset:        params.TargetAsset,
		safetyBuffer:       params.SafetyBuffer,
		minTimelock:        params.MinTimelock,
		maxTimelock:        params.MaxTimelock,
		submitPolicy:       submitPolicy,
		fundsPolicy:        fundsPolicy,
		eventChan:          make(chan types.ChainEvent, eventBufferSize),
	}, nil
}

// Start launches both chain watchers and the event-processing loop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()

	if c.isRunning {
		return errors.New("coordinator is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)

	for role, chain := range c.chains {
		if err := chain.Start(runCtx, c.eventChan); err != nil {
			cancel()
			c.stopChains()
			return errors.Wrapf(err, "failed to start %s watcher", role)
		}
	}

	c.cancel = cancel
	c.isRunning = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(runCtx)
	}()

	c.logger.Info("Coordinator started")
	return nil
}

// Stop tears down the watchers and waits for the event loop to drain. No new
// transactions are submitted after Stop returns; broadcasts already in flight
// are left alone.
func (c *Coordinator) Stop() {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()

	if !c.isRunning {
		return
	}

	c.stopChains()
	c.cancel()
	c.wg.Wait()
	c.isRunning = false

	c.logger.Info("Coordinator stopped")
}

func (c *Coordinator) stopChains() {
	for _, chain := range c.chains {
		chain.Stop()
	}
}

// run is the single consumer of the merged event channel: the serialization
// point for all swap mutations.
func (c *Coordinator) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.eventChan:
			c.processEvent(ctx, event)
		}
	}
}

// processEvent gates one event through deduplication and dispatches it. An
// error affecting one swap never aborts processing of others.
func (c *Coordinator) processEvent(ctx context.Context, event types.ChainEvent) {
	if !c.dedup.MarkSeen(event.Key()) {
		c.droppedEvents.Add(1)
		c.logger.WithFields(logrus.Fields{
			"chain": event.Chain,
			"kind":  event.Kind,
			"key":   event.Key(),
		}).Debug("Dropped duplicate event")
		return
	}
	c.processedEvents.Add(1)

	c.logger.WithFields(logrus.Fields{
		"chain":  event.Chain,
		"kind":   event.Kind,
		"swapId": event.SwapID,
		"txHash": event.TxHash,
		"block":  event.BlockNumber,
	}).Info("Processing chain event")

	var err error
	switch event.Kind {
	case types.EventSwapInitiated:
		err = c.handleInitiated(ctx, event)
	case types.EventSwapCompleted:
		err = c.handleCompleted(ctx, event)
	case types.EventSwapRefunded:
		err = c.handleRefunded(event)
	default:
		err = errors.Errorf("unknown event kind %q", event.Kind)
	}

	if err != nil && !errors.Is(err, errAlreadyHandled) {
		c.logger.WithFields(logrus.Fields{
			"chain":  event.Chain,
			"kind":   event.Kind,
			"swapId": event.SwapID,
		}).WithError(err).Error("Failed to process chain event")
	}
}

// handleInitiated reacts to a lock observed on either chain. The first
// observation of a hashlock creates the swap record and submits the
// responding lock on the opposite chain; a later observation for a known
// hashlock is the echo of the responding lock and completes the locked pair.
func (c *Coordinator) handleInitiated(ctx context.Context, event types.ChainEvent) error {
	record, created := c.registry.GetOrCreate(event.Hashlock, func(r *types.SwapRecord) {
		r.OriginChain = event.Chain
		r.Participant = event.Participant
		r.CounterpartyRecipient = event.CounterpartyRecipient
		c.applyLeg(r, event)
		if event.Chain == types.ChainSource {
			r.State = types.StateSourceLocked
		} else {
			r.State = types.StateTargetLocked
		}
	})

	if !created {
		return c.recordLockEcho(event)
	}

	logger := c.logger.WithFields(logrus.Fields{
		"hashlock": record.HashlockHex(),
		"origin":   record.OriginChain,
		"swapId":   event.SwapID,
		"amount":   event.Amount.String(),
		"timelock": event.Timelock,
	})
	logger.Info("New swap observed, preparing responding lock")

	respondingChain := event.Chain.Other()
	respondingTimelock := event.Timelock - int64(c.safetyBuffer.Seconds())

	if err := c.validateTimelock(event.Timelock, respondingTimelock); err != nil {
		c.failSwap(event.Hashlock, err.Error())
		return err
	}

	respondingAmount, err := c.convertAmount(event.Chain, event.Amount)
	if err != nil {
		c.failSwap(event.Hashlock, err.Error())
		return errors.Wrap(err, "failed to convert responding amount")
	}

	// Claim the submission guard before going to the network; a duplicate
	// INITIATED that slipped past the deduplicator finds it set and stops.
	_, err = c.registry.Update(event.Hashlock, func(r *types.SwapRecord) error {
		if r.State.IsTerminal() {
			return errAlreadyHandled
		}
		guard := &r.TargetLockSubmitted
		if respondingChain == types.ChainSource {
			guard = &r.SourceLockSubmitted
		}
		if *guard {
			return errAlreadyHandled
		}
		*guard = true

		if respondingChain == types.ChainSource {
			r.SourceAmount = respondingAmount
			r.SourceTimelock = respondingTimelock
		} else {
			r.TargetAmount = respondingAmount
			r.TargetTimelock = respondingTimelock
		}
		return nil
	})
	if err != nil {
		return err
	}

	result, err := c.submitWithRetry(ctx, respondingChain, &types.TxRequest{
		Action:                types.ActionLock,
		Hashlock:              event.Hashlock,
		Participant:           event.CounterpartyRecipient,
		CounterpartyRecipient: event.Participant,
		Amount:                respondingAmount,
		Timelock:              respondingTimelock,
	}, "responding lock")
	if err != nil {
		return c.handleSubmissionFailure(event.Hashlock, respondingChain, "lock", err)
	}

	updated, err := c.registry.Update(event.Hashlock, func(r *types.SwapRecord) error {
		if respondingChain == types.ChainSource {
			r.SourceSwapID = result.SwapID
		} else {
			r.TargetSwapID = result.SwapID
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"chain":  respondingChain,
		"txHash": result.TxHash,
		"state":  updated.State,
	}).Info("Responding lock submitted")
	return nil
}

// recordLockEcho handles an INITIATED event for an already-known hashlock:
// the on-chain echo of the coordinator's own responding lock, or a
// counterpart-initiated lock racing the coordinator's. Either way both legs
// are locked once it arrives.
func (c *Coordinator) recordLockEcho(event types.ChainEvent) error {
	updated, err := c.registry.Update(event.Hashlock, func(r *types.SwapRecord) error {
		if r.State.IsTerminal() {
			return errAlreadyHandled
		}
		if event.Chain == r.OriginChain {
			// Duplicate observation of the originating lock.
			return errAlreadyHandled
		}

		c.applyLeg(r, event)
		if r.State == types.StateSourceLocked || r.State == types.StateTargetLocked {
			r.State = types.StateTargetLocked
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"hashlock": updated.HashlockHex(),
		"chain":    event.Chain,
		"swapId":   event.SwapID,
		"state":    updated.State,
	}).Info("Responding lock confirmed on chain")
	return nil
}

// applyLeg copies an INITIATED event's leg parameters onto the record.
func (c *Coordinator) applyLeg(r *types.SwapRecord, event types.ChainEvent) {
	if event.Chain == types.ChainSource {
		r.SourceSwapID = event.SwapID
		r.SourceAmount = event.Amount
		r.SourceTimelock = event.Timelock
	} else {
		r.TargetSwapID = event.SwapID
		r.TargetAmount = event.Amount
		r.TargetTimelock = event.Timelock
	}
}

// handleCompleted reacts to a claim observed on either chain. The first
// COMPLETED event for a swap reveals the secret; after verifying it against
// the hashlock the coordinator claims the opposite leg with the same secret.
// Whichever chain's COMPLETED arrives first wins; the machine is symmetric.
func (c *Coordinator) handleCompleted(ctx context.Context, event types.ChainEvent) error {
	record, found := c.findByNativeID(event.Chain, event.SwapID)
	if !found {
		c.logger.WithFields(logrus.Fields{
			"chain":  event.Chain,
			"swapId": event.SwapID,
		}).Warn("COMPLETED event for unknown swap, dropping")
		return nil
	}

	var submitClaim bool
	updated, err := c.registry.Update(record.Hashlock, func(r *types.SwapRecord) error {
		if r.State == types.StateFailed {
			return errAlreadyHandled
		}

		if !types.VerifySecret(r.Hashlock, event.Secret) {
			return commonerrors.ErrInvalidSecret
		}

		if !r.HasSecret {
			r.Secret = event.Secret
			r.HasSecret = true
			r.SecretChain = event.Chain
		}

		if event.Chain == types.ChainSource {
			r.SourceClaimed = true
		} else {
			r.TargetClaimed = true
		}

		switch {
		case r.Settled():
			// Both legs claimed; the echo of our own claim landed.
			if event.Chain == types.ChainSource {
				r.State = types.StateSourceClaimed
			} else {
				r.State = types.StateTargetClaimed
			}
		case r.ClaimSubmitted:
			return errAlreadyHandled
		default:
			r.State = types.StateSecretRevealed
			r.ClaimSubmitted = true
			submitClaim = true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, commonerrors.ErrInvalidSecret) {
			c.logger.WithFields(logrus.Fields{
				"hashlock": record.HashlockHex(),
				"chain":    event.Chain,
			}).Error("Revealed secret does not match hashlock, swap failed")
			// The failure transition runs as its own successful update so it
			// reaches the durable store, not just the in-memory record.
			c.failSwap(record.Hashlock, commonerrors.ErrInvalidSecret.Error())
		}
		return err
	}

	logger := c.logger.WithFields(logrus.Fields{
		"hashlock": updated.HashlockHex(),
		"chain":    event.Chain,
		"state":    updated.State,
	})

	if updated.Settled() {
		logger.Info("Swap settled, both legs claimed")
		return nil
	}
	if !submitClaim {
		return nil
	}

	claimChain := event.Chain.Other()
	logger.WithField("claimChain", claimChain).Info("Secret revealed, claiming opposite leg")

	result, err := c.submitWithRetry(ctx, claimChain, &types.TxRequest{
		Action: types.ActionClaim,
		SwapID: updated.SwapIDFor(claimChain),
		Secret: updated.Secret,
	}, "claim")
	if err != nil {
		return c.handleSubmissionFailure(updated.Hashlock, claimChain, "claim", err)
	}

	final, err := c.registry.Update(updated.Hashlock, func(r *types.SwapRecord) error {
		if claimChain == types.ChainSource {
			r.SourceClaimed = true
			r.State = types.StateSourceClaimed
		} else {
			r.TargetClaimed = true
			r.State = types.StateTargetClaimed
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"claimChain": claimChain,
		"txHash":     result.TxHash,
		"settled":    final.Settled(),
	}).Info("Opposite leg claimed")
	return nil
}

// handleRefunded reacts to a refund observed on either chain. Refunds are
// driven by the timeout monitor or by the counterparty; observing one marks
// the leg refunded so the monitor never re-refunds it.
func (c *Coordinator) handleRefunded(event types.ChainEvent) error {
	record, found := c.findByNativeID(event.Chain, event.SwapID)
	if !found {
		c.logger.WithFields(logrus.Fields{
			"chain":  event.Chain,
			"swapId": event.SwapID,
		}).Warn("REFUNDED event for unknown swap, dropping")
		return nil
	}

	updated, err := c.registry.Update(record.Hashlock, func(r *types.SwapRecord) error {
		if event.Chain == types.ChainSource {
			r.SourceRefunded = true
		} else {
			r.TargetRefunded = true
		}

		if !r.State.IsTerminal() && !c.hasOutstandingLeg(r) {
			r.State = types.StateExpiredRefunded
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"hashlock": updated.HashlockHex(),
		"chain":    event.Chain,
		"state":    updated.State,
	}).Info("Swap leg refunded")
	return nil
}

// hasOutstandingLeg reports whether any locked leg is neither claimed nor
// refunded.
func (c *Coordinator) hasOutstandingLeg(r *types.SwapRecord) bool {
	sourceOutstanding := r.SourceTimelock > 0 && !r.SourceClaimed && !r.SourceRefunded
	targetOutstanding := r.TargetTimelock > 0 && !r.TargetClaimed && !r.TargetRefunded
	return sourceOutstanding || targetOutstanding
}

// findByNativeID resolves a chain-native swap identifier to its record.
func (c *Coordinator) findByNativeID(chain types.ChainRole, swapID string) (types.SwapRecord, bool) {
	if chain == types.ChainSource {
		return c.registry.FindBySourceSwapID(swapID)
	}
	return c.registry.FindByTargetSwapID(swapID)
}

// convertAmount applies the configured rate function for the responding
// direction.
func (c *Coordinator) convertAmount(origin types.ChainRole, amount *big.Int) (*big.Int, error) {
	if origin == types.ChainSource {
		return c.sourceToTargetRate(amount, c.sourceAsset, c.targetAsset)
	}
	return c.targetToSourceRate(amount, c.targetAsset, c.sourceAsset)
}

// validateTimelock enforces the safety ordering between the legs and the
// configured bounds on the responding leg's remaining duration. The
// responding lock must expire before the initiating lock by at least the
// safety buffer, or a race lets one party settle a single leg.
func (c *Coordinator) validateTimelock(initiating, responding int64) error {
	if responding > initiating-int64(c.safetyBuffer.Seconds()) {
		return errors.Wrapf(commonerrors.ErrTimelockUnsafe,
			"responding timelock %d too close to initiating %d", responding, initiating)
	}

	remaining := responding - time.Now().Unix()
	if remaining <= 0 {
		return errors.Wrapf(commonerrors.ErrTimelockUnsafe,
			"responding timelock %d already passed", responding)
	}
	if c.minTimelock > 0 && remaining < int64(c.minTimelock.Seconds()) {
		return errors.Wrapf(commonerrors.ErrTimelockUnsafe,
			"responding timelock leaves %ds, below minimum %s", remaining, c.minTimelock)
	}
	if c.maxTimelock > 0 && remaining > int64(c.maxTimelock.Seconds()) {
		return errors.Wrapf(commonerrors.ErrTimelockUnsafe,
			"responding timelock leaves %ds, above maximum %s", remaining, c.maxTimelock)
	}
	return nil
}

// submitWithRetry submits a transaction with the policy matching the failure
// class: protocol violations fail immediately, funds exhaustion retries on
// the slow policy, everything else on the default policy.
func (c *Coordinator) submitWithRetry(ctx context.Context, chain types.ChainRole, req *types.TxRequest, name string) (*types.TxResult, error) {
	submitter := c.chains[chain]

	var result *types.TxResult
	err := c.submitPolicy.Do(ctx, c.logger, name, func() error {
		res, err := submitter.Submit(ctx, req)
		if err != nil {
			switch {
			case errors.Is(err, commonerrors.ErrInvalidSecret),
				errors.Is(err, commonerrors.ErrTimelockUnsafe),
				errors.Is(err, commonerrors.ErrInvalidConfig):
				return retry.Permanent(err)
			case errors.Is(err, commonerrors.ErrInsufficientFunds):
				// Bail out of the fast loop; the slow policy takes over.
				return retry.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	})

	if err != nil && errors.Is(err, commonerrors.ErrInsufficientFunds) {
		c.logger.WithFields(logrus.Fields{
			"chain":     chain,
			"operation": name,
		}).Warn("Submission short of funds, retrying on slow interval")

		err = c.fundsPolicy.Do(ctx, c.logger, name, func() error {
			res, submitErr := submitter.Submit(ctx, req)
			if submitErr != nil {
				return submitErr
			}
			result = res
			return nil
		})
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}

// handleSubmissionFailure records a failed submission. Funds exhaustion
// holds the swap in its current state with the guard released so a later
// sweep can retry; everything else is terminal for the swap.
func (c *Coordinator) handleSubmissionFailure(hashlock [32]byte, chain types.ChainRole, action string, submitErr error) error {
	if errors.Is(submitErr, commonerrors.ErrInsufficientFunds) {
		_, err := c.registry.Update(hashlock, func(r *types.SwapRecord) error {
			switch action {
			case "lock":
				if chain == types.ChainSource {
					r.SourceLockSubmitted = false
				} else {
					r.TargetLockSubmitted = false
				}
			case "claim":
				r.ClaimSubmitted = false
			case "refund":
				r.RefundSubmitted = false
			}
			return nil
		})
		if err != nil {
			return err
		}

		c.logger.WithFields(logrus.Fields{
			"hashlock": fmt.Sprintf("0x%x", hashlock),
			"chain":    chain,
			"action":   action,
		}).WithError(submitErr).Error("Submission held for funds, operator attention required")
		return submitErr
	}

	c.failSwap(hashlock, errors.Wrapf(submitErr, "%s submission on %s failed", action, chain).Error())
	return submitErr
}

// failSwap moves a swap to FAILED with the given reason. FAILED swaps are
// never retried and require operator intervention.
func (c *Coordinator) failSwap(hashlock [32]byte, reason string) {
	updated, err := c.registry.Update(hashlock, func(r *types.SwapRecord) error {
		if r.State.IsTerminal() {
			return errAlreadyHandled
		}
		r.State = types.StateFailed
		r.FailReason = reason
		return nil
	})
	if err != nil {
		if !errors.Is(err, errAlreadyHandled) {
			c.logger.WithError(err).Error("Failed to mark swap as failed")
		}
		return
	}

	c.logger.WithFields(logrus.Fields{
		"hashlock": updated.HashlockHex(),
		"reason":   reason,
	}).Error("Swap failed")
}
