package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashlock-labs/htlc-relay/common/types"
)

func TestTimeoutSweepRefundsExpiredLeg(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, hashlock := testSecret()

	// A swap stuck with both legs locked and the source timelock passed.
	f.registry.GetOrCreate(hashlock, func(r *types.SwapRecord) {
		r.OriginChain = types.ChainSource
		r.State = types.StateTargetLocked
		r.SourceSwapID = "0xsrc1"
		r.TargetSwapID = "target-swap-1"
		r.SourceTimelock = time.Now().Add(-2 * time.Hour).Unix()
		r.TargetTimelock = time.Now().Add(-3 * time.Hour).Unix()
	})

	monitor := NewTimeoutMonitor(f.coordinator, time.Hour, time.Minute)
	monitor.sweep(ctx)

	// Both expired outstanding legs are refunded.
	sourceSubs := f.source.submissions()
	targetSubs := f.target.submissions()
	require.Len(t, sourceSubs, 1)
	require.Len(t, targetSubs, 1)
	assert.Equal(t, types.ActionRefund, sourceSubs[0].Action)
	assert.Equal(t, "0xsrc1", sourceSubs[0].SwapID)
	assert.Equal(t, types.ActionRefund, targetSubs[0].Action)
	assert.Equal(t, "target-swap-1", targetSubs[0].SwapID)

	rec, ok := f.registry.Get(hashlock)
	require.True(t, ok)
	assert.Equal(t, types.StateExpiredRefunded, rec.State)
	assert.True(t, rec.SourceRefunded)
	assert.True(t, rec.TargetRefunded)

	// A second tick must not resubmit.
	monitor.sweep(ctx)
	assert.Len(t, f.source.submissions(), 1)
	assert.Len(t, f.target.submissions(), 1)
}

func TestTimeoutSweepSkipsUnexpiredAndClaimed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var future, claimed [32]byte
	future[0] = 1
	claimed[0] = 2

	f.registry.GetOrCreate(future, func(r *types.SwapRecord) {
		r.State = types.StateTargetLocked
		r.SourceSwapID = "0xfuture"
		r.SourceTimelock = time.Now().Add(2 * time.Hour).Unix()
	})
	f.registry.GetOrCreate(claimed, func(r *types.SwapRecord) {
		r.State = types.StateSourceClaimed
		r.SourceSwapID = "0xclaimed"
		r.SourceTimelock = time.Now().Add(-2 * time.Hour).Unix()
		r.SourceClaimed = true
		r.TargetClaimed = true
	})

	monitor := NewTimeoutMonitor(f.coordinator, time.Hour, time.Minute)
	monitor.sweep(ctx)

	assert.Empty(t, f.source.submissions())
	assert.Empty(t, f.target.submissions())
}

func TestTimeoutSweepWithinGraceNotRefunded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, hashlock := testSecret()

	// Expired ten seconds ago, but the grace margin is a minute.
	f.registry.GetOrCreate(hashlock, func(r *types.SwapRecord) {
		r.State = types.StateTargetLocked
		r.SourceSwapID = "0xsrc1"
		r.SourceTimelock = time.Now().Add(-10 * time.Second).Unix()
	})

	monitor := NewTimeoutMonitor(f.coordinator, time.Hour, time.Minute)
	monitor.sweep(ctx)

	assert.Empty(t, f.source.submissions())

	rec, _ := f.registry.Get(hashlock)
	assert.Equal(t, types.StateTargetLocked, rec.State)
}
