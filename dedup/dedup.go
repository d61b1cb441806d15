// Package dedup tracks event keys that have already been processed, so
// duplicate deliveries (reconnect replay, poll-window overlap) are dropped
// exactly once, centrally, regardless of which watcher produced them.
package dedup

import (
	"sync"
)

// Deduplicator is a process-wide set of seen event keys. Keys are held for
// the lifetime of the process; a relayer is restarted per deployment, so no
// eviction is performed.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an empty deduplicator.
func New() *Deduplicator {
	return &Deduplicator{
		seen: make(map[string]struct{}, 1024),
	}
}

// Seen reports whether the key was already marked.
func (d *Deduplicator) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.seen[key]
	return ok
}

// MarkSeen records the key, returning true if it was new and false if it was
// a duplicate. Check-and-mark is a single critical section so two watchers
// delivering the same key concurrently cannot both win.
func (d *Deduplicator) MarkSeen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Size returns the number of tracked keys, for stats reporting.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
