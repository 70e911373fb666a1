// Package transport implements the connection-oriented endpoint
// abstraction of spec §4.2: a uniform capability set (connect,
// disconnect, send bytes/envelope/frame, callbacks, statistics) with
// pluggable concrete kinds.
package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/relaymesh/umicp"
	"github.com/relaymesh/umicp/codec"
)

// MessageCallback receives each completed inbound message.
type MessageCallback func(data []byte)

// ConnectionCallback is notified on connect/disconnect transitions.
type ConnectionCallback func(connected bool, reason string)

// ErrorCallback is notified of terminal transport-level errors.
type ErrorCallback func(kind umicp.ErrorKind, message string)

// Config is the transport configuration surface of spec §6.
type Config struct {
	Scheme               string // "ws", "wss", "https", "tcp"
	Host                 string
	Port                 int
	Path                 string
	MaxMessageSize       int
	ConnectionTimeout    time.Duration
	HeartbeatInterval    time.Duration
	EnableBinary         bool
	PreferredFormat      umicp.ContentType
	EnableCompression    bool
	CompressionThreshold int
	RequireAuth          bool
	RequireEncryption    bool
	ValidateCertificates bool
}

// Validate enforces the numeric invariants spec §4.3/§8 require of
// configuration: max_message_size, connection_timeout and
// heartbeat_interval must all be positive.
func (c *Config) Validate() error {
	if c.MaxMessageSize <= 0 {
		return umicp.NewError(umicp.ErrInvalidArgument, "max_message_size must be > 0")
	}
	if c.ConnectionTimeout <= 0 {
		return umicp.NewError(umicp.ErrInvalidArgument, "connection_timeout must be > 0")
	}
	if c.HeartbeatInterval <= 0 {
		return umicp.NewError(umicp.ErrInvalidArgument, "heartbeat_interval must be > 0")
	}
	return nil
}

// Endpoint renders the config's endpoint fields as "<scheme>://<host>:<port><path>".
func (c *Config) Endpoint() string {
	return fmt.Sprintf("%s://%s:%d%s", c.Scheme, c.Host, c.Port, c.Path)
}

// connState is the per-transport connection lifecycle state machine of
// spec §4.2.
type connState uint8

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
	stateClosing
)

// Transport is the uniform capability set spec §4.2 names: one
// client-side connection to one remote endpoint.
type Transport interface {
	Connect() error
	Disconnect() error
	IsConnected() bool

	Send(data []byte) error
	SendEnvelope(e *umicp.Envelope) error
	SendFrame(f *umicp.Frame) error

	Configure(cfg Config) error
	GetConfig() Config

	SetMessageCallback(cb MessageCallback)
	SetConnectionCallback(cb ConnectionCallback)
	SetErrorCallback(cb ErrorCallback)

	GetStats() umicp.StatsSnapshot
	ResetStats()

	GetType() umicp.TransportKind
	GetEndpoint() string
}

// callbacks bundles the three callback slots every transport kind
// shares, guarded by one mutex. Invocation always happens after the
// lock is released, per spec §4.2/§5: no user code runs while the
// transport holds this lock.
type callbacks struct {
	mu        sync.Mutex
	onMessage MessageCallback
	onConnect ConnectionCallback
	onError   ErrorCallback
}

func (c *callbacks) setMessage(cb MessageCallback) {
	c.mu.Lock()
	c.onMessage = cb
	c.mu.Unlock()
}

func (c *callbacks) setConnect(cb ConnectionCallback) {
	c.mu.Lock()
	c.onConnect = cb
	c.mu.Unlock()
}

func (c *callbacks) setError(cb ErrorCallback) {
	c.mu.Lock()
	c.onError = cb
	c.mu.Unlock()
}

func (c *callbacks) fireMessage(data []byte) {
	c.mu.Lock()
	cb := c.onMessage
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *callbacks) fireConnect(connected bool, reason string) {
	c.mu.Lock()
	cb := c.onConnect
	c.mu.Unlock()
	if cb != nil {
		cb(connected, reason)
	}
}

func (c *callbacks) fireError(kind umicp.ErrorKind, message string) {
	c.mu.Lock()
	cb := c.onError
	c.mu.Unlock()
	if cb != nil {
		cb(kind, message)
	}
}

// encodeEnvelope serializes e via the codec spec §4.1 names, honoring
// cfg's preferred format. The transport layer has no opinion on format
// beyond what the caller (the orchestrator) requests.
func encodeEnvelope(e *umicp.Envelope, cfg Config) ([]byte, error) {
	switch cfg.PreferredFormat {
	case umicp.ContentCBOR:
		return codec.EncodeEnvelopeCBOR(e)
	case umicp.ContentMsgPack:
		return codec.EncodeEnvelopeMsgPack(e)
	}
	return codec.EncodeEnvelope(e)
}
