package metrics

import (
	"context"
	"time"

	"github.com/relaymesh/umicp"
)

// StatsSource is the read side of a umicp.Stats snapshot, satisfied by
// *protocol.Orchestrator. A transport.Transport exposes GetStats instead
// and is adapted with FromFunc.
type StatsSource interface {
	Stats() umicp.StatsSnapshot
}

// snapshotFunc adapts a plain func() umicp.StatsSnapshot (e.g. a
// transport's GetStats) to StatsSource.
type snapshotFunc func() umicp.StatsSnapshot

func (f snapshotFunc) Stats() umicp.StatsSnapshot { return f() }

// FromFunc wraps fn as a StatsSource.
func FromFunc(fn func() umicp.StatsSnapshot) StatsSource { return snapshotFunc(fn) }

// Watch polls source every interval until ctx is done, calling
// Observe with the delta against the previous poll. Intended to be run
// in its own goroutine, one per orchestrator or transport being
// observed.
func Watch(ctx context.Context, c *Collectors, source StatsSource, interval time.Duration) {
	var prev umicp.StatsSnapshot
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := source.Stats()
			c.Observe(
				delta(prev.MessagesSent, cur.MessagesSent),
				delta(prev.MessagesReceived, cur.MessagesReceived),
				delta(prev.BytesSent, cur.BytesSent),
				delta(prev.BytesReceived, cur.BytesReceived),
				delta(prev.ErrorsCount, cur.ErrorsCount),
				delta(prev.ConnectionCount, cur.ConnectionCount),
			)
			prev = cur
		}
	}
}

func delta(prev, cur uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
