package umicp

import (
	"sync/atomic"
	"time"
)

// Stats is the monotonic counter set kept by both a protocol instance and
// a transport instance, per spec §3. All fields are updated with atomic
// ops so a snapshot can be taken from any goroutine without a lock.
type Stats struct {
	MessagesSent     atomic.Uint64
	MessagesReceived atomic.Uint64
	BytesSent        atomic.Uint64
	BytesReceived    atomic.Uint64
	ErrorsCount      atomic.Uint64
	ConnectionCount  atomic.Uint64

	startTime    atomic.Int64 // unix nanos
	lastActivity atomic.Int64 // unix nanos
}

// NewStats returns a Stats with StartTime set to now.
func NewStats() *Stats {
	s := &Stats{}
	s.startTime.Store(time.Now().UnixNano())
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// Touch records last_activity = now. Called on every successful send or
// receive.
func (s *Stats) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// StatsSnapshot is an immutable point-in-time copy of a Stats, safe to
// pass around or serialize.
type StatsSnapshot struct {
	MessagesSent     uint64    `json:"messages_sent"`
	MessagesReceived uint64    `json:"messages_received"`
	BytesSent        uint64    `json:"bytes_sent"`
	BytesReceived    uint64    `json:"bytes_received"`
	ErrorsCount      uint64    `json:"errors_count"`
	ConnectionCount  uint64    `json:"connection_count"`
	StartTime        time.Time `json:"start_time"`
	LastActivity     time.Time `json:"last_activity"`
}

// Snapshot returns a consistent-enough point-in-time copy. Individual
// counters are read atomically; the set as a whole is not a single
// atomic transaction, which matches the spec's "readers get a
// consistent snapshot" requirement at per-field granularity.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		MessagesSent:     s.MessagesSent.Load(),
		MessagesReceived: s.MessagesReceived.Load(),
		BytesSent:        s.BytesSent.Load(),
		BytesReceived:    s.BytesReceived.Load(),
		ErrorsCount:      s.ErrorsCount.Load(),
		ConnectionCount:  s.ConnectionCount.Load(),
		StartTime:        time.Unix(0, s.startTime.Load()).UTC(),
		LastActivity:     time.Unix(0, s.lastActivity.Load()).UTC(),
	}
}

// Reset zeroes every counter and resets StartTime to now, per spec
// §4.3's reset_stats.
func (s *Stats) Reset() {
	s.MessagesSent.Store(0)
	s.MessagesReceived.Store(0)
	s.BytesSent.Store(0)
	s.BytesReceived.Store(0)
	s.ErrorsCount.Store(0)
	s.ConnectionCount.Store(0)
	now := time.Now().UnixNano()
	s.startTime.Store(now)
	s.lastActivity.Store(now)
}
