package coordinator

import (
	"context"
	"crypto/sha256"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
	"github.com/hashlock-labs/htlc-relay/common/types"
	"github.com/hashlock-labs/htlc-relay/dedup"
	"github.com/hashlock-labs/htlc-relay/rate"
	"github.com/hashlock-labs/htlc-relay/retry"
	"github.com/hashlock-labs/htlc-relay/swapstore"
)

// fakeChain records submissions and plays back canned results.
type fakeChain struct {
	role types.ChainRole

	mu         sync.Mutex
	submitted  []*types.TxRequest
	submitErr  error
	nextSwapID string
}

func (f *fakeChain) Start(ctx context.Context, eventChan chan<- types.ChainEvent) error { return nil }
func (f *fakeChain) Stop()                                                              {}
func (f *fakeChain) LastSeenBlock() uint64                                              { return 0 }
func (f *fakeChain) GetBalance(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeChain) Submit(ctx context.Context, req *types.TxRequest) (*types.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitErr != nil {
		return nil, f.submitErr
	}

	copied := *req
	f.submitted = append(f.submitted, &copied)
	return &types.TxResult{
		TxHash:      "fake-tx",
		BlockNumber: 1,
		SwapID:      f.nextSwapID,
	}, nil
}

func (f *fakeChain) submissions() []*types.TxRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.TxRequest, len(f.submitted))
	copy(out, f.submitted)
	return out
}

// fakeStore captures durable-store writes for inspection.
type fakeStore struct {
	mu    sync.Mutex
	saved map[[32]byte]types.SwapRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[[32]byte]types.SwapRecord)}
}

func (s *fakeStore) SaveSwap(ctx context.Context, record *types.SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[record.Hashlock] = *record
	return nil
}

func (s *fakeStore) LoadSwaps(ctx context.Context) ([]*types.SwapRecord, error) {
	return nil, nil
}

func (s *fakeStore) get(hashlock [32]byte) (types.SwapRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.saved[hashlock]
	return rec, ok
}

type fixture struct {
	coordinator *Coordinator
	registry    *swapstore.Registry
	source      *fakeChain
	target      *fakeChain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	registry := swapstore.NewRegistry(logger)
	source := &fakeChain{role: types.ChainSource, nextSwapID: "0xsourceswap"}
	target := &fakeChain{role: types.ChainTarget, nextSwapID: "target-swap-1"}

	fast := retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	coord, err := New(Params{
		Logger:   logger,
		Registry: registry,
		Dedup:    dedup.New(),
		Chains: map[types.ChainRole]types.Chain{
			types.ChainSource: source,
			types.ChainTarget: target,
		},
		SourceToTargetRate: rate.Fixed(big.NewInt(1), big.NewInt(1_000_000_000_000)),
		TargetToSourceRate: rate.Fixed(big.NewInt(1_000_000_000_000), big.NewInt(1)),
		SourceAsset:        "ETH",
		TargetAsset:        "JUNO",
		SafetyBuffer:       time.Hour,
		SubmitPolicy:       fast,
		FundsPolicy:        fast,
	})
	require.NoError(t, err)

	return &fixture{coordinator: coord, registry: registry, source: source, target: target}
}

func testSecret() ([32]byte, [32]byte) {
	var secret [32]byte
	copy(secret[:], []byte("thirty-two byte preimage value!!"))
	return secret, sha256.Sum256(secret[:])
}

func sourceInitiated(hashlock [32]byte, timelock int64) types.ChainEvent {
	return types.ChainEvent{
		Chain:                 types.ChainSource,
		Kind:                  types.EventSwapInitiated,
		SwapID:                "0xsrc1",
		Hashlock:              hashlock,
		Participant:           "0xParticipant",
		CounterpartyRecipient: "juno1recipient",
		Amount:                big.NewInt(1_000_000_000_000_000_000),
		Timelock:              timelock,
		BlockNumber:           10,
		TxHash:                "0xaaa",
		LogIndex:              0,
		HasLogIndex:           true,
	}
}

func TestHappyPathSourceToTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	secret, hashlock := testSecret()
	sourceTimelock := time.Now().Add(4 * time.Hour).Unix()

	// Source lock observed: the coordinator responds with a target lock.
	f.coordinator.processEvent(ctx, sourceInitiated(hashlock, sourceTimelock))

	targetSubs := f.target.submissions()
	require.Len(t, targetSubs, 1)
	lock := targetSubs[0]
	assert.Equal(t, types.ActionLock, lock.Action)
	assert.Equal(t, hashlock, lock.Hashlock)
	assert.Equal(t, "juno1recipient", lock.Participant)
	assert.Equal(t, big.NewInt(1_000_000), lock.Amount)
	assert.Equal(t, sourceTimelock-3600, lock.Timelock)

	rec, ok := f.registry.Get(hashlock)
	require.True(t, ok)
	assert.Equal(t, types.StateSourceLocked, rec.State)
	assert.Equal(t, "target-swap-1", rec.TargetSwapID)

	// Target lock echo arrives: both legs locked.
	f.coordinator.processEvent(ctx, types.ChainEvent{
		Chain:       types.ChainTarget,
		Kind:        types.EventSwapInitiated,
		SwapID:      "target-swap-1",
		Hashlock:    hashlock,
		Amount:      big.NewInt(1_000_000),
		Timelock:    sourceTimelock - 3600,
		BlockNumber: 20,
		TxHash:      "TARGETLOCK",
	})

	rec, _ = f.registry.Get(hashlock)
	assert.Equal(t, types.StateTargetLocked, rec.State)

	// Counterparty claims the target leg, revealing the secret; the
	// coordinator claims the source leg with it.
	f.coordinator.processEvent(ctx, types.ChainEvent{
		Chain:       types.ChainTarget,
		Kind:        types.EventSwapCompleted,
		SwapID:      "target-swap-1",
		Secret:      secret,
		HasSecret:   true,
		BlockNumber: 30,
		TxHash:      "TARGETCLAIM",
	})

	sourceSubs := f.source.submissions()
	require.Len(t, sourceSubs, 1)
	claim := sourceSubs[0]
	assert.Equal(t, types.ActionClaim, claim.Action)
	assert.Equal(t, secret, claim.Secret, "claim must reuse the revealed secret")
	assert.Equal(t, "0xsrc1", claim.SwapID)

	rec, _ = f.registry.Get(hashlock)
	assert.Equal(t, types.StateSourceClaimed, rec.State)
	assert.True(t, rec.Settled())

	// The source-side echo of our own claim settles idempotently.
	f.coordinator.processEvent(ctx, types.ChainEvent{
		Chain:     types.ChainSource,
		Kind:      types.EventSwapCompleted,
		SwapID:    "0xsrc1",
		Secret:    secret,
		HasSecret: true,
		TxHash:    "0xccc",
		LogIndex:  1, HasLogIndex: true,
	})

	assert.Len(t, f.source.submissions(), 1, "no duplicate claim")
	rec, _ = f.registry.Get(hashlock)
	assert.True(t, rec.Settled())
}

func TestDuplicateDeliverySingleSubmission(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, hashlock := testSecret()
	event := sourceInitiated(hashlock, time.Now().Add(4*time.Hour).Unix())

	// Same physical log delivered twice, as after a watcher reconnect.
	f.coordinator.processEvent(ctx, event)
	f.coordinator.processEvent(ctx, event)

	assert.Len(t, f.target.submissions(), 1, "exactly one responding lock")
	assert.Equal(t, 1, f.registry.Count(), "exactly one swap record")

	stats := f.coordinator.Stats()
	assert.Equal(t, uint64(1), stats.ProcessedEvents)
	assert.Equal(t, uint64(1), stats.DroppedEvents)
}

func TestInvalidSecretFailsSwap(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, hashlock := testSecret()

	f.coordinator.processEvent(ctx, sourceInitiated(hashlock, time.Now().Add(4*time.Hour).Unix()))

	var wrongSecret [32]byte
	wrongSecret[0] = 0x66

	f.coordinator.processEvent(ctx, types.ChainEvent{
		Chain:     types.ChainTarget,
		Kind:      types.EventSwapCompleted,
		SwapID:    "target-swap-1",
		Secret:    wrongSecret,
		HasSecret: true,
		TxHash:    "BADCLAIM",
	})

	rec, ok := f.registry.Get(hashlock)
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, rec.State)
	assert.Equal(t, commonerrors.ErrInvalidSecret.Error(), rec.FailReason)
	assert.Empty(t, f.source.submissions(), "no claim with a bad secret")
}

func TestInvalidSecretFailurePersisted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, hashlock := testSecret()

	store := newFakeStore()
	require.NoError(t, f.registry.WithDurableStore(ctx, store))

	f.coordinator.processEvent(ctx, sourceInitiated(hashlock, time.Now().Add(4*time.Hour).Unix()))

	var wrongSecret [32]byte
	wrongSecret[0] = 0x66

	f.coordinator.processEvent(ctx, types.ChainEvent{
		Chain:     types.ChainTarget,
		Kind:      types.EventSwapCompleted,
		SwapID:    "target-swap-1",
		Secret:    wrongSecret,
		HasSecret: true,
		TxHash:    "BADCLAIM",
	})

	// The FAILED transition must reach the durable store, or a restart would
	// hydrate the swap as non-terminal and resume coordinating it.
	persisted, ok := store.get(hashlock)
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, persisted.State)
	assert.Equal(t, commonerrors.ErrInvalidSecret.Error(), persisted.FailReason)

	rec, _ := f.registry.Get(hashlock)
	assert.Equal(t, types.StateFailed, rec.State)
}

func TestUnsafeTimelockRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, hashlock := testSecret()

	// Timelock expires in 30 minutes; the safety buffer is an hour, so the
	// responding leg would already be refundable.
	f.coordinator.processEvent(ctx, sourceInitiated(hashlock, time.Now().Add(30*time.Minute).Unix()))

	rec, ok := f.registry.Get(hashlock)
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, rec.State)
	assert.Empty(t, f.target.submissions(), "no lock on an unsafe timelock")
}

func TestCompletedForUnknownSwapDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	secret, _ := testSecret()

	// COMPLETED for a swap this coordinator never observed the start of.
	f.coordinator.processEvent(ctx, types.ChainEvent{
		Chain:     types.ChainTarget,
		Kind:      types.EventSwapCompleted,
		SwapID:    "never-seen",
		Secret:    secret,
		HasSecret: true,
		TxHash:    "ORPHAN",
	})

	assert.Empty(t, f.source.submissions())
	assert.Empty(t, f.target.submissions())
	assert.Equal(t, 0, f.registry.Count())
}

func TestSwapOriginatingOnTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, hashlock := testSecret()
	targetTimelock := time.Now().Add(4 * time.Hour).Unix()

	f.coordinator.processEvent(ctx, types.ChainEvent{
		Chain:                 types.ChainTarget,
		Kind:                  types.EventSwapInitiated,
		SwapID:                "target-origin-1",
		Hashlock:              hashlock,
		Participant:           "juno1initiator",
		CounterpartyRecipient: "0xRecipient",
		Amount:                big.NewInt(1_000_000),
		Timelock:              targetTimelock,
		TxHash:                "TARGETINIT",
	})

	subs := f.source.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, types.ActionLock, subs[0].Action)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000_000), subs[0].Amount)
	assert.Equal(t, targetTimelock-3600, subs[0].Timelock)
	assert.Equal(t, "0xRecipient", subs[0].Participant)

	rec, ok := f.registry.Get(hashlock)
	require.True(t, ok)
	assert.Equal(t, types.ChainTarget, rec.OriginChain)
	assert.Equal(t, types.StateTargetLocked, rec.State)
}

func TestClaimBeforeRespondingLockEcho(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	secret, hashlock := testSecret()
	targetTimelock := time.Now().Add(4 * time.Hour).Unix()

	// Swap originates on the target chain; the coordinator locks the source
	// leg in response. The submitter reports the native swap ID directly off
	// the confirmed lock.
	f.coordinator.processEvent(ctx, types.ChainEvent{
		Chain:                 types.ChainTarget,
		Kind:                  types.EventSwapInitiated,
		SwapID:                "target-origin-1",
		Hashlock:              hashlock,
		Participant:           "juno1initiator",
		CounterpartyRecipient: "0xRecipient",
		Amount:                big.NewInt(1_000_000),
		Timelock:              targetTimelock,
		TxHash:                "TARGETINIT",
	})
	require.Len(t, f.source.submissions(), 1)

	// The counterparty reveals the secret on the target chain before the
	// source-side echo of our own lock has been observed. There is no
	// cross-chain ordering guarantee, so the claim must already know the
	// source-chain swap ID.
	f.coordinator.processEvent(ctx, types.ChainEvent{
		Chain:     types.ChainTarget,
		Kind:      types.EventSwapCompleted,
		SwapID:    "target-origin-1",
		Secret:    secret,
		HasSecret: true,
		TxHash:    "TARGETCLAIM",
	})

	sourceSubs := f.source.submissions()
	require.Len(t, sourceSubs, 2)
	claim := sourceSubs[1]
	assert.Equal(t, types.ActionClaim, claim.Action)
	require.NotEmpty(t, claim.SwapID, "claim must carry the source-chain native swap ID")
	assert.Equal(t, "0xsourceswap", claim.SwapID)
	assert.Equal(t, secret, claim.Secret)

	rec, ok := f.registry.Get(hashlock)
	require.True(t, ok)
	assert.Equal(t, types.StateSourceClaimed, rec.State)
}

func TestRefundObservedMovesToExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, hashlock := testSecret()
	sourceTimelock := time.Now().Add(4 * time.Hour).Unix()

	f.coordinator.processEvent(ctx, sourceInitiated(hashlock, sourceTimelock))

	// Only the source leg is outstanding once the counterparty refunds the
	// target leg and the source initiator refunds theirs.
	f.coordinator.processEvent(ctx, types.ChainEvent{
		Chain:  types.ChainTarget,
		Kind:   types.EventSwapRefunded,
		SwapID: "target-swap-1",
		TxHash: "TREFUND",
	})
	f.coordinator.processEvent(ctx, types.ChainEvent{
		Chain:       types.ChainSource,
		Kind:        types.EventSwapRefunded,
		SwapID:      "0xsrc1",
		TxHash:      "0xsrefund",
		LogIndex:    2,
		HasLogIndex: true,
	})

	rec, ok := f.registry.Get(hashlock)
	require.True(t, ok)
	assert.True(t, rec.SourceRefunded)
	assert.True(t, rec.TargetRefunded)
	assert.Equal(t, types.StateExpiredRefunded, rec.State)
}
