package coordinator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hashlock-labs/htlc-relay/common/types"
)

// defaultSweepInterval is the fallback cadence for the timeout sweep.
const defaultSweepInterval = 30 * time.Second

// TimeoutMonitor periodically sweeps the registry for swaps whose
// outstanding legs are past their timelock and drives the refund path for
// each exactly once, guarded by the record's refund state.
type TimeoutMonitor struct {
	coordinator *Coordinator
	logger      *logrus.Logger
	interval    time.Duration
	grace       time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTimeoutMonitor creates a monitor sweeping at the given interval. The
// grace margin delays refunds past the timelock so a claim racing the
// deadline settles on chain first.
func NewTimeoutMonitor(coordinator *Coordinator, interval, grace time.Duration) *TimeoutMonitor {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &TimeoutMonitor{
		coordinator: coordinator,
		logger:      coordinator.logger,
		interval:    interval,
		grace:       grace,
	}
}

// Start launches the sweep loop.
func (m *TimeoutMonitor) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				m.sweep(sweepCtx)
			}
		}
	}()

	m.logger.WithField("interval", m.interval).Info("Timeout monitor started")
}

// Stop halts the sweep loop and waits for an in-progress sweep to finish.
func (m *TimeoutMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.logger.Info("Timeout monitor stopped")
}

// sweep refunds every expired outstanding leg. Failures for one swap never
// stop the sweep of the rest.
func (m *TimeoutMonitor) sweep(ctx context.Context) {
	deadline := time.Now().Add(-m.grace).Unix()
	expiring := m.coordinator.registry.AllExpiringBefore(deadline)
	if len(expiring) == 0 {
		return
	}

	m.logger.WithField("swaps", len(expiring)).Info("Timeout sweep found expired swaps")

	for _, record := range expiring {
		if ctx.Err() != nil {
			return
		}
		if err := m.refundExpired(ctx, record, deadline); err != nil && !errors.Is(err, errAlreadyHandled) {
			m.logger.WithFields(logrus.Fields{
				"hashlock": record.HashlockHex(),
			}).WithError(err).Error("Failed to refund expired swap")
		}
	}
}

// refundExpired submits refunds for the record's expired outstanding legs.
// The RefundSubmitted guard is claimed inside the registry lock before any
// network call, so a second sweep tick observing the same record does not
// resubmit.
func (m *TimeoutMonitor) refundExpired(ctx context.Context, record types.SwapRecord, deadline int64) error {
	var legs []types.ChainRole

	_, err := m.coordinator.registry.Update(record.Hashlock, func(r *types.SwapRecord) error {
		if r.State.IsTerminal() || r.RefundSubmitted {
			return errAlreadyHandled
		}

		if r.SourceTimelock > 0 && r.SourceTimelock < deadline && !r.SourceClaimed && !r.SourceRefunded && r.SourceSwapID != "" {
			legs = append(legs, types.ChainSource)
		}
		if r.TargetTimelock > 0 && r.TargetTimelock < deadline && !r.TargetClaimed && !r.TargetRefunded && r.TargetSwapID != "" {
			legs = append(legs, types.ChainTarget)
		}
		if len(legs) == 0 {
			return errAlreadyHandled
		}

		r.RefundSubmitted = true
		return nil
	})
	if err != nil {
		return err
	}

	for _, leg := range legs {
		m.logger.WithFields(logrus.Fields{
			"hashlock": record.HashlockHex(),
			"chain":    leg,
			"timelock": record.TimelockFor(leg),
		}).Warn("Swap expired, submitting refund")

		result, err := m.coordinator.submitWithRetry(ctx, leg, &types.TxRequest{
			Action: types.ActionRefund,
			SwapID: record.SwapIDFor(leg),
		}, "refund")
		if err != nil {
			return m.coordinator.handleSubmissionFailure(record.Hashlock, leg, "refund", err)
		}

		updated, err := m.coordinator.registry.Update(record.Hashlock, func(r *types.SwapRecord) error {
			if leg == types.ChainSource {
				r.SourceRefunded = true
			} else {
				r.TargetRefunded = true
			}
			if !m.coordinator.hasOutstandingLeg(r) {
				r.State = types.StateExpiredRefunded
			}
			return nil
		})
		if err != nil {
			return err
		}

		m.logger.WithFields(logrus.Fields{
			"hashlock": updated.HashlockHex(),
			"chain":    leg,
			"txHash":   result.TxHash,
			"state":    updated.State,
		}).Info("Expired swap refunded")
	}

	return nil
}
