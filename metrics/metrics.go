// Package metrics exposes the spec §3 statistics record to Prometheus,
// purely additive observability alongside the in-process umicp.Stats
// snapshot that remains the authoritative counters. Grounded on
// vango-go-vango's pkg/middleware/metrics.go promauto registration
// style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors bundles the Prometheus metrics mirrored from a umicp.Stats
// instance. One Collectors is normally shared by one protocol
// orchestrator and its attached transport.
type Collectors struct {
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	Errors           prometheus.Counter
	Connections      prometheus.Counter
}

// New registers the umicp_* counters with reg (typically
// prometheus.DefaultRegisterer) and returns the collector set.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "umicp_messages_sent_total",
			Help: "Total envelopes and frames successfully sent.",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "umicp_messages_received_total",
			Help: "Total envelopes and frames successfully received.",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "umicp_bytes_sent_total",
			Help: "Total bytes written to a transport's outbound path.",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "umicp_bytes_received_total",
			Help: "Total bytes read from a transport's inbound path.",
		}),
		Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "umicp_errors_total",
			Help: "Total serialization, handler, and transport errors.",
		}),
		Connections: factory.NewCounter(prometheus.CounterOpts{
			Name: "umicp_connections_total",
			Help: "Total successful transport connect transitions.",
		}),
	}
}

// Observe copies one point-in-time umicp.Stats snapshot's deltas into
// the Prometheus counters. Counters only ever increase, so callers pass
// the delta since the last Observe call, not the cumulative snapshot.
func (c *Collectors) Observe(messagesSentDelta, messagesReceivedDelta, bytesSentDelta, bytesReceivedDelta, errorsDelta, connectionsDelta uint64) {
	c.MessagesSent.Add(float64(messagesSentDelta))
	c.MessagesReceived.Add(float64(messagesReceivedDelta))
	c.BytesSent.Add(float64(bytesSentDelta))
	c.BytesReceived.Add(float64(bytesReceivedDelta))
	c.Errors.Add(float64(errorsDelta))
	c.Connections.Add(float64(connectionsDelta))
}
