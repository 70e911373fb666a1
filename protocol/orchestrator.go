// Package protocol implements the orchestrator of spec §4.3: identity,
// message-id generation, outbound send helpers, inbound dispatch by
// operation, and statistics, bound to one attached transport and one
// optional security manager.
//
// Generalized from the teacher's server.Coordinator (handler table,
// transport registration, lifecycle) from a multi-device pub/sub
// coordinator down to the single-peer orchestrator this spec describes.
package protocol

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaymesh/umicp"
	"github.com/relaymesh/umicp/codec"
	"github.com/relaymesh/umicp/internal/obs"
	"github.com/relaymesh/umicp/transport"
)

// Handler processes one dispatched inbound message. payload is non-nil
// only when the message arrived as a binary frame (spec §4.3).
type Handler func(envelope *umicp.Envelope, payload []byte)

// SecurityManager is the subset of spec §4.4's interface the
// orchestrator itself consults, kept here (rather than imported from
// package security) to avoid a circular import — package security
// implements this interface.
type SecurityManager interface {
	IsAuthenticated() bool
	HasSession() bool
}

// Config is the orchestrator-level configuration surface of spec §4.3.
type Config struct {
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
	Version              string
}

// Validate enforces the numeric invariants of spec §4.3/§8.
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

func defaultConfig() Config {
	return Config{
		MaxMessageSize:       umicp.MaxMessageSize,
		ConnectionTimeout:    30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		EnableBinary:         true,
		PreferredFormat:      umicp.ContentJSON,
		CompressionThreshold: 1024,
		Version:              "1.0",
	}
}

// Orchestrator owns a local identity, generates message ids, builds
// envelopes, dispatches inbound messages to registered handlers by
// operation, aggregates statistics, and holds a reference to one
// transport plus an optional security manager, per spec §2 item 4.
type Orchestrator struct {
	localID string
	log     zerolog.Logger

	cfgMu sync.RWMutex
	cfg   Config

	transportMu sync.RWMutex
	tr          transport.Transport

	securityMu sync.RWMutex
	security   SecurityManager

	handlersMu sync.RWMutex
	handlers   map[umicp.OperationType]Handler

	stats *umicp.Stats

	nextStreamID atomic.Uint64
	rnd          *rand.Rand
	rndMu        sync.Mutex
}

// New builds an Orchestrator for localID with default configuration.
// localID must be non-empty.
func New(localID string, log zerolog.Logger) (*Orchestrator, error) {
	if localID == "" {
		return nil, umicp.NewError(umicp.ErrInvalidArgument, "local_id must not be empty")
	}
	o := &Orchestrator{
		localID:  localID,
		log:      obs.Named(log, "protocol"),
		cfg:      defaultConfig(),
		handlers: make(map[umicp.OperationType]Handler),
		stats:    umicp.NewStats(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	o.nextStreamID.Store(1)
	return o, nil
}

// LocalID returns the orchestrator's configured identity.
func (o *Orchestrator) LocalID() string { return o.localID }

// Configure validates and replaces the orchestrator's configuration. An
// empty Version falls back to the default "1.0".
func (o *Orchestrator) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Version == "" {
		cfg.Version = defaultConfig().Version
	}
	o.cfgMu.Lock()
	o.cfg = cfg
	o.cfgMu.Unlock()
	return nil
}

// GetConfig returns the current configuration.
func (o *Orchestrator) GetConfig() Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// SetTransport stores the transport the orchestrator will send/receive
// through. It does not connect; call Connect for that.
func (o *Orchestrator) SetTransport(t transport.Transport) {
	o.transportMu.Lock()
	o.tr = t
	o.transportMu.Unlock()
}

// SetSecurityManager attaches the optional security manager consulted
// by IsAuthenticated and the RequireAuth/RequireEncryption send-path
// checks of spec §6.
func (o *Orchestrator) SetSecurityManager(m SecurityManager) {
	o.securityMu.Lock()
	o.security = m
	o.securityMu.Unlock()
}

func (o *Orchestrator) transportOrNil() transport.Transport {
	o.transportMu.RLock()
	defer o.transportMu.RUnlock()
	return o.tr
}

// Connect installs the three transport callbacks — message, connection,
// error — before invoking the transport's own Connect, per spec §4.3.
func (o *Orchestrator) Connect() error {
	t := o.transportOrNil()
	if t == nil {
		return umicp.NewError(umicp.ErrNetworkError, "no transport attached")
	}
	t.SetMessageCallback(func(data []byte) { o.ProcessMessage(data) })
	t.SetConnectionCallback(func(connected bool, reason string) {
		if connected {
			o.log.Info().Str("local_id", o.localID).Msg("transport connected")
		} else {
			o.log.Info().Str("local_id", o.localID).Str("reason", reason).Msg("transport disconnected")
		}
	})
	t.SetErrorCallback(func(kind umicp.ErrorKind, message string) {
		o.stats.ErrorsCount.Add(1)
		o.log.Error().Stringer("kind", kind).Str("message", message).Msg("transport error")
	})
	return t.Connect()
}

// Disconnect delegates to the attached transport.
func (o *Orchestrator) Disconnect() error {
	t := o.transportOrNil()
	if t == nil {
		return nil
	}
	return t.Disconnect()
}

// IsConnected delegates to the attached transport.
func (o *Orchestrator) IsConnected() bool {
	t := o.transportOrNil()
	return t != nil && t.IsConnected()
}

// IsAuthenticated reports whether a security manager is attached and
// reports itself authenticated, per spec §4.4.
func (o *Orchestrator) IsAuthenticated() bool {
	o.securityMu.RLock()
	m := o.security
	o.securityMu.RUnlock()
	return m != nil && m.IsAuthenticated()
}

func (o *Orchestrator) checkSecurityRequirements() error {
	cfg := o.GetConfig()
	if !cfg.RequireAuth && !cfg.RequireEncryption {
		return nil
	}
	o.securityMu.RLock()
	m := o.security
	o.securityMu.RUnlock()
	if m == nil {
		return umicp.NewError(umicp.ErrAuthenticationFailed, "security required but no security manager attached")
	}
	if cfg.RequireAuth && !m.IsAuthenticated() {
		return umicp.NewError(umicp.ErrAuthenticationFailed, "authentication required")
	}
	if cfg.RequireEncryption && !m.HasSession() {
		return umicp.NewError(umicp.ErrAuthenticationFailed, "encrypted session required")
	}
	return nil
}

// newMsgID generates a message id in the "msg-<epoch_ms>-<ddd>" format
// of spec §4.4.
func (o *Orchestrator) newMsgID() string {
	o.rndMu.Lock()
	n := o.rnd.Intn(1000)
	o.rndMu.Unlock()
	return fmt.Sprintf("msg-%d-%03d", time.Now().UnixMilli(), n)
}

func (o *Orchestrator) now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// formatHint names the wire encoding for a content type, used to
// populate an outbound envelope's accept field with the orchestrator's
// preferred_format, per spec §6, so a peer knows which encoding to
// reply with.
func formatHint(c umicp.ContentType) string {
	switch c {
	case umicp.ContentCBOR:
		return "cbor"
	case umicp.ContentMsgPack:
		return "msgpack"
	default:
		return "json"
	}
}

// SendControl builds and sends a CONTROL/DATA/ACK/ERROR envelope with a
// capabilities map of {"command": command[, "params": params]}, per
// spec §4.3. Returns the assigned msg_id.
func (o *Orchestrator) SendControl(to string, op umicp.OperationType, command string, params string) (string, error) {
	if to == "" {
		return "", umicp.NewError(umicp.ErrInvalidArgument, "to must not be empty")
	}
	if command == "" {
		return "", umicp.NewError(umicp.ErrInvalidArgument, "command must not be empty")
	}
	if !op.Valid() {
		return "", umicp.NewError(umicp.ErrInvalidArgument, fmt.Sprintf("op %d out of range", op))
	}

	caps := map[string]string{"command": command}
	if params != "" {
		caps["params"] = params
	}

	e := &umicp.Envelope{
		Version:      o.GetConfig().Version,
		MsgID:        o.newMsgID(),
		TS:           o.now(),
		From:         o.localID,
		To:           to,
		Op:           op,
		Capabilities: caps,
	}
	return o.sendEnvelope(e)
}

// SendData builds a DATA frame carrying data, assigns the next
// stream id, compresses the payload when config says to, and sends it
// via the frame path, per spec §4.3/§4.1/§6. If enable_binary is false,
// sending a frame is refused outright: the spec requires all traffic to
// go through the envelope path in that mode, and SendData has no
// envelope-shaped rendition of an arbitrary byte payload to fall back to.
func (o *Orchestrator) SendData(to string, data []byte, hint *umicp.PayloadHint) (string, error) {
	if to == "" {
		return "", umicp.NewError(umicp.ErrInvalidArgument, "to must not be empty")
	}
	if len(data) == 0 {
		return "", umicp.NewError(umicp.ErrInvalidArgument, "data must not be empty")
	}
	cfg := o.GetConfig()
	if !cfg.EnableBinary {
		return "", umicp.NewError(umicp.ErrInvalidArgument, "binary frames disabled: enable_binary=false")
	}
	if len(data) > cfg.MaxMessageSize {
		return "", umicp.NewError(umicp.ErrBufferOverflow, fmt.Sprintf("payload length %d exceeds max_message_size %d", len(data), cfg.MaxMessageSize))
	}
	if err := o.checkSecurityRequirements(); err != nil {
		return "", err
	}

	t := o.transportOrNil()
	if t == nil || !t.IsConnected() {
		return "", umicp.NewError(umicp.ErrNetworkError, "transport not connected")
	}

	streamID := o.nextStreamID.Add(1) - 1
	msgID := o.newMsgID()

	payload := data
	var flags umicp.FrameFlags
	if cfg.EnableCompression && codec.ShouldCompress(data, cfg.CompressionThreshold, codec.CompressionGzip) {
		compressed, err := codec.Compress(data, codec.CompressionGzip, 0)
		if err != nil {
			o.stats.ErrorsCount.Add(1)
			return "", err
		}
		payload = compressed
		flags = codec.FrameFlagsFor(codec.CompressionGzip)
	}

	f := &umicp.Frame{
		Header: umicp.FrameHeader{
			Version:  codec.FrameWireVersion,
			Type:     umicp.OpData,
			Flags:    flags,
			StreamID: streamID,
			Sequence: 0,
		},
		Payload: payload,
	}
	_ = hint // not sent: the frame path carries only the bytes.

	if err := t.SendFrame(f); err != nil {
		o.stats.ErrorsCount.Add(1)
		return "", err
	}
	o.stats.MessagesSent.Add(1)
	o.stats.BytesSent.Add(uint64(len(payload)))
	o.stats.Touch()
	return msgID, nil
}

// SendAck builds and sends an ACK envelope correlating to
// originalMsgID, per spec §4.3.
func (o *Orchestrator) SendAck(to string, originalMsgID string) (string, error) {
	if to == "" {
		return "", umicp.NewError(umicp.ErrInvalidArgument, "to must not be empty")
	}
	e := &umicp.Envelope{
		Version:     o.GetConfig().Version,
		MsgID:       o.newMsgID(),
		TS:          o.now(),
		From:        o.localID,
		To:          to,
		Op:          umicp.OpAck,
		PayloadRefs: []map[string]string{{"message_id": originalMsgID, "status": "OK"}},
	}
	return o.sendEnvelope(e)
}

// SendError builds and sends an ERROR envelope, per spec §4.3.
func (o *Orchestrator) SendError(to string, errorCode umicp.ErrorKind, message string, originalMsgID string) (string, error) {
	if to == "" {
		return "", umicp.NewError(umicp.ErrInvalidArgument, "to must not be empty")
	}
	ref := map[string]string{
		"error_code":    errorCode.String(),
		"error_message": message,
	}
	if originalMsgID != "" {
		ref["original_message_id"] = originalMsgID
	}
	e := &umicp.Envelope{
		Version:     o.GetConfig().Version,
		MsgID:       o.newMsgID(),
		TS:          o.now(),
		From:        o.localID,
		To:          to,
		Op:          umicp.OpError,
		PayloadRefs: []map[string]string{ref},
	}
	return o.sendEnvelope(e)
}

func (o *Orchestrator) sendEnvelope(e *umicp.Envelope) (string, error) {
	if err := o.checkSecurityRequirements(); err != nil {
		return "", err
	}
	t := o.transportOrNil()
	if t == nil || !t.IsConnected() {
		return "", umicp.NewError(umicp.ErrNetworkError, "transport not connected")
	}

	if e.Accept == nil {
		e.Accept = []string{formatHint(o.GetConfig().PreferredFormat)}
	}

	data, err := codec.EncodeEnvelope(e)
	if err != nil {
		o.stats.ErrorsCount.Add(1)
		return "", err
	}
	if err := t.SendEnvelope(e); err != nil {
		o.stats.ErrorsCount.Add(1)
		return "", err
	}
	o.stats.MessagesSent.Add(1)
	o.stats.BytesSent.Add(uint64(len(data)))
	o.stats.Touch()
	return e.MsgID, nil
}

// RegisterHandler installs fn as the handler for inbound messages whose
// op equals op, replacing any prior registration.
func (o *Orchestrator) RegisterHandler(op umicp.OperationType, fn Handler) {
	o.handlersMu.Lock()
	o.handlers[op] = fn
	o.handlersMu.Unlock()
}

// UnregisterHandler removes the handler for op, if any.
func (o *Orchestrator) UnregisterHandler(op umicp.OperationType) {
	o.handlersMu.Lock()
	delete(o.handlers, op)
	o.handlersMu.Unlock()
}

func (o *Orchestrator) handlerFor(op umicp.OperationType) Handler {
	o.handlersMu.RLock()
	defer o.handlersMu.RUnlock()
	return o.handlers[op]
}

// ProcessMessage applies the binary-frame-vs-JSON-envelope heuristic of
// spec §4.2, then dispatches to the handler registered for the
// resulting envelope's op, per spec §4.3. A handler panic is recovered,
// counted as an error, and does not crash the caller (normally the
// transport's I/O loop).
func (o *Orchestrator) ProcessMessage(data []byte) {
	o.stats.MessagesReceived.Add(1)
	o.stats.BytesReceived.Add(uint64(len(data)))
	o.stats.Touch()

	var envelope *umicp.Envelope
	var payload []byte

	if codec.LooksLikeFrame(data, codec.FrameWireVersion) {
		f, err := codec.DecodeFrame(data, o.GetConfig().MaxMessageSize)
		if err != nil {
			o.stats.ErrorsCount.Add(1)
			o.log.Error().Err(err).Msg("failed to decode inbound frame")
			return
		}
		envelope = &umicp.Envelope{
			Version: fmt.Sprintf("%d", f.Header.Version),
			MsgID:   fmt.Sprintf("frame-%d-%d", f.Header.StreamID, f.Header.Sequence),
			TS:      o.now(),
			From:    "",
			To:      o.localID,
			Op:      f.Header.Type,
		}
		payload = f.Payload

		switch {
		case f.Header.Flags.Has(umicp.FlagCompressedGzip):
			decompressed, err := codec.Decompress(payload, codec.CompressionGzip)
			if err != nil {
				o.stats.ErrorsCount.Add(1)
				o.log.Error().Err(err).Msg("failed to decompress inbound frame payload")
				return
			}
			payload = decompressed
		case f.Header.Flags.Has(umicp.FlagCompressedBrotli):
			o.stats.ErrorsCount.Add(1)
			o.log.Error().Msg("brotli-compressed frame payload not supported")
			return
		}
	} else {
		e, err := codec.DecodeEnvelope(data)
		if err != nil {
			o.stats.ErrorsCount.Add(1)
			o.log.Error().Err(err).Msg("failed to decode inbound envelope")
			return
		}
		envelope = e
	}

	handler := o.handlerFor(envelope.Op)
	if handler == nil {
		// No handler registered: silently accepted, per spec §4.3.
		return
	}

	o.dispatch(handler, envelope, payload)
}

// dispatch invokes handler, converting a panic into a counted error
// rather than letting it propagate, per spec §4.3/§7. The teacher's
// dispatch loop (server/handlers.go) has no recover; the spec requires
// one, so this is new code in the teacher's idiom, not copied.
func (o *Orchestrator) dispatch(handler Handler, envelope *umicp.Envelope, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			o.stats.ErrorsCount.Add(1)
			o.log.Error().Interface("panic", r).Str("msg_id", envelope.MsgID).Msg("handler panicked")
		}
	}()
	handler(envelope, payload)
}

// Stats returns the orchestrator's own statistics snapshot, per spec §3.
func (o *Orchestrator) Stats() umicp.StatsSnapshot {
	return o.stats.Snapshot()
}

// ResetStats zeroes the orchestrator's counters and resets StartTime,
// per spec §4.3.
func (o *Orchestrator) ResetStats() {
	o.stats.Reset()
}

// TransportStats returns the attached transport's statistics, or a zero
// snapshot if none is attached. Read-only: the orchestrator exclusively
// owns its own Stats, per spec §3's ownership model, and only mirrors
// the transport's.
func (o *Orchestrator) TransportStats() umicp.StatsSnapshot {
	t := o.transportOrNil()
	if t == nil {
		return umicp.StatsSnapshot{}
	}
	return t.GetStats()
}
