// Package swapstore owns the coordinator's view of every cross-chain swap.
// The in-memory registry is authoritative; an optional Postgres-backed store
// persists records so in-flight swaps survive a relayer restart.
package swapstore

import (
	"context"
	"sync"
	"time"

	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
	"github.com/hashlock-labs/htlc-relay/common/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DurableStore persists swap records across restarts.
type DurableStore interface {
	// SaveSwap upserts one record.
	SaveSwap(ctx context.Context, record *types.SwapRecord) error
	// LoadSwaps returns all persisted records.
	LoadSwaps(ctx context.Context) ([]*types.SwapRecord, error)
}

// Registry is the in-memory swap registry. All mutation goes through
// GetOrCreate and Update, which run under a per-hashlock exclusive lock so
// concurrent events for the same swap are processed strictly one at a time.
// Operations on different hashlocks proceed fully in parallel.
type Registry struct {
	logger *logrus.Logger

	mu       sync.Mutex
	records  map[[32]byte]*types.SwapRecord
	keyLocks map[[32]byte]*sync.Mutex

	store DurableStore
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:   logger,
		records:  make(map[[32]byte]*types.SwapRecord),
		keyLocks: make(map[[32]byte]*sync.Mutex),
	}
}

// WithDurableStore attaches a durable store and hydrates the registry from
// it. Non-terminal records loaded at boot resume coordination; terminal ones
// are kept so duplicate events replayed by the watchers resolve cleanly.
func (r *Registry) WithDurableStore(ctx context.Context, store DurableStore) error {
	loaded, err := store.LoadSwaps(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load persisted swaps")
	}

	r.mu.Lock()
	r.store = store
	for _, rec := range loaded {
		r.records[rec.Hashlock] = rec
	}
	r.mu.Unlock()

	r.logger.WithField("swaps", len(loaded)).Info("Hydrated swap registry from durable store")
	return nil
}

// keyLock returns the exclusive lock for a hashlock, creating it on demand.
func (r *Registry) keyLock(hashlock [32]byte) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.keyLocks[hashlock]
	if !ok {
		lock = &sync.Mutex{}
		r.keyLocks[hashlock] = lock
	}
	return lock
}

// GetOrCreate returns the record for the hashlock, creating it with init on
// first sight. It reports whether a new record was created.
//
// Parameters:
// - hashlock: the swap's commitment, the registry's primary key.
// - init: applied to a fresh record before it becomes visible; may be nil.
//
// Returns:
// - types.SwapRecord: a copy of the record after creation or lookup.
// - bool: true if the record was created by this call.
func (r *Registry) GetOrCreate(hashlock [32]byte, init func(*types.SwapRecord)) (types.SwapRecord, bool) {
	lock := r.keyLock(hashlock)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	rec, ok := r.records[hashlock]
	r.mu.Unlock()

	if ok {
		return *rec, false
	}

	now := time.Now().UTC()
	rec = &types.SwapRecord{
		Hashlock:  hashlock,
		State:     types.StateAwaitingSourceLock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if init != nil {
		init(rec)
	}

	r.mu.Lock()
	r.records[hashlock] = rec
	r.mu.Unlock()

	r.persist(rec)
	return *rec, true
}

// Update applies the mutation under the hashlock's exclusive lock.
//
// Parameters:
// - hashlock: the swap to mutate.
// - mutate: the mutation; returning an error aborts the update.
//
// Returns:
// - types.SwapRecord: a copy of the record after mutation.
// - error: ErrSwapNotFound if no record exists, or the mutation's error.
func (r *Registry) Update(hashlock [32]byte, mutate func(*types.SwapRecord) error) (types.SwapRecord, error) {
	lock := r.keyLock(hashlock)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	rec, ok := r.records[hashlock]
	r.mu.Unlock()

	if !ok {
		return types.SwapRecord{}, commonerrors.ErrSwapNotFound
	}

	if err := mutate(rec); err != nil {
		return *rec, err
	}
	rec.UpdatedAt = time.Now().UTC()

	r.persist(rec)
	return *rec, nil
}

// Get returns a copy of the record for the hashlock.
func (r *Registry) Get(hashlock [32]byte) (types.SwapRecord, bool) {
	lock := r.keyLock(hashlock)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	rec, ok := r.records[hashlock]
	r.mu.Unlock()

	if !ok {
		return types.SwapRecord{}, false
	}
	return *rec, true
}

// FindBySourceSwapID returns the record carrying the given source-chain
// native swap identifier.
func (r *Registry) FindBySourceSwapID(swapID string) (types.SwapRecord, bool) {
	return r.findBy(func(rec *types.SwapRecord) bool {
		return rec.SourceSwapID != "" && rec.SourceSwapID == swapID
	})
}

// FindByTargetSwapID returns the record carrying the given target-chain
// native swap identifier.
func (r *Registry) FindByTargetSwapID(swapID string) (types.SwapRecord, bool) {
	return r.findBy(func(rec *types.SwapRecord) bool {
		return rec.TargetSwapID != "" && rec.TargetSwapID == swapID
	})
}

func (r *Registry) findBy(match func(*types.SwapRecord) bool) (types.SwapRecord, bool) {
	r.mu.Lock()
	hashlocks := make([][32]byte, 0, len(r.records))
	for h := range r.records {
		hashlocks = append(hashlocks, h)
	}
	r.mu.Unlock()

	for _, h := range hashlocks {
		if rec, ok := r.Get(h); ok && match(&rec) {
			return rec, true
		}
	}
	return types.SwapRecord{}, false
}

// AllExpiringBefore returns copies of all non-terminal records with at least
// one outstanding leg whose timelock passes before the deadline. A leg is
// outstanding while it is locked but neither claimed nor refunded.
func (r *Registry) AllExpiringBefore(deadline int64) []types.SwapRecord {
	r.mu.Lock()
	hashlocks := make([][32]byte, 0, len(r.records))
	for h := range r.records {
		hashlocks = append(hashlocks, h)
	}
	r.mu.Unlock()

	var expiring []types.SwapRecord
	for _, h := range hashlocks {
		rec, ok := r.Get(h)
		if !ok || rec.State.IsTerminal() {
			continue
		}

		sourceOutstanding := rec.SourceTimelock > 0 && !rec.SourceClaimed && !rec.SourceRefunded
		targetOutstanding := rec.TargetTimelock > 0 && !rec.TargetClaimed && !rec.TargetRefunded

		if (sourceOutstanding && rec.SourceTimelock < deadline) ||
			(targetOutstanding && rec.TargetTimelock < deadline) {
			expiring = append(expiring, rec)
		}
	}
	return expiring
}

// Count returns the number of tracked swaps, for stats reporting.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// persist writes through to the durable store, best effort. The in-memory
// registry stays authoritative; a store failure is an operational alert, not
// a coordination failure.
func (r *Registry) persist(rec *types.SwapRecord) {
	r.mu.Lock()
	store := r.store
	r.mu.Unlock()

	if store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.SaveSwap(ctx, rec); err != nil {
		r.logger.WithField("hashlock", rec.HashlockHex()).WithError(err).Warn("Failed to persist swap record")
	}
}
