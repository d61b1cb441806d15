package coordinator

import (
	"github.com/hashlock-labs/htlc-relay/common/types"
)

// Stats is a point-in-time snapshot of the coordinator's activity, logged
// periodically by the relayer for operator visibility.
type Stats struct {
	Running         bool
	ProcessedEvents uint64
	DroppedEvents   uint64
	TrackedSwaps    int
	DedupKeys       int
	SourceWatermark uint64
	TargetWatermark uint64
}

// Stats returns the current activity snapshot.
func (c *Coordinator) Stats() Stats {
	c.runMutex.Lock()
	running := c.isRunning
	c.runMutex.Unlock()

	return Stats{
		Running:         running,
		ProcessedEvents: c.processedEvents.Load(),
		DroppedEvents:   c.droppedEvents.Load(),
		TrackedSwaps:    c.registry.Count(),
		DedupKeys:       c.dedup.Size(),
		SourceWatermark: c.chains[types.ChainSource].LastSeenBlock(),
		TargetWatermark: c.chains[types.ChainTarget].LastSeenBlock(),
	}
}
