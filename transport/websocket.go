package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/umicp"
	"github.com/relaymesh/umicp/codec"
)

// WebSocketTransport is the normative stream-framed transport of spec
// §4.2: one WebSocket message corresponds to one logical unit the
// orchestrator's codec discriminates as a frame or an envelope.
type WebSocketTransport struct {
	cfg   Config
	cfgMu sync.RWMutex

	cb    callbacks
	stats *umicp.Stats

	stateMu sync.Mutex
	state   connState

	conn   *websocket.Conn
	connMu sync.Mutex

	outbound chan []byte
	group    *errgroup.Group
	cancel   context.CancelFunc
}

// NewWebSocketTransport builds a WebSocketTransport bound to cfg. Call
// Connect to dial.
func NewWebSocketTransport(cfg Config) *WebSocketTransport {
	return &WebSocketTransport{
		cfg:   cfg,
		stats: umicp.NewStats(),
		state: stateIdle,
	}
}

func (t *WebSocketTransport) Connect() error {
	t.stateMu.Lock()
	switch t.state {
	case stateConnected:
		t.stateMu.Unlock()
		t.cb.fireConnect(true, "")
		return nil
	case stateConnecting, stateClosing:
		t.stateMu.Unlock()
		return umicp.NewError(umicp.ErrNetworkError, "transport is mid-transition")
	}
	t.state = stateConnecting
	t.stateMu.Unlock()

	cfg := t.GetConfig()
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectionTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: !cfg.ValidateCertificates},
	}

	url := cfg.Endpoint()
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.stateMu.Lock()
		t.state = stateIdle
		t.stateMu.Unlock()
		t.cb.fireConnect(false, err.Error())
		return umicp.NewError(umicp.ErrNetworkError, fmt.Sprintf("dial %s: %v", url, err))
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	t.outbound = make(chan []byte, 64)

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	t.group = group

	group.Go(func() error { return t.readLoop(gctx) })
	group.Go(func() error { return t.writeLoop(gctx) })
	if cfg.HeartbeatInterval > 0 {
		group.Go(func() error { return t.heartbeatLoop(gctx, cfg.HeartbeatInterval) })
	}

	t.stateMu.Lock()
	t.state = stateConnected
	t.stateMu.Unlock()

	t.stats.ConnectionCount.Add(1)
	t.cb.fireConnect(true, "")
	return nil
}

func (t *WebSocketTransport) Disconnect() error {
	t.stateMu.Lock()
	if t.state == stateIdle {
		t.stateMu.Unlock()
		return nil
	}
	t.state = stateClosing
	t.stateMu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}

	if t.group != nil {
		_ = t.group.Wait()
	}

	t.stateMu.Lock()
	t.state = stateIdle
	t.stateMu.Unlock()

	t.cb.fireConnect(false, "disconnected")
	return nil
}

func (t *WebSocketTransport) IsConnected() bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state == stateConnected
}

func (t *WebSocketTransport) Send(data []byte) error {
	if !t.IsConnected() {
		return umicp.NewError(umicp.ErrNetworkError, "transport is not connected")
	}
	if len(data) == 0 {
		return umicp.NewError(umicp.ErrInvalidArgument, "send requires non-empty data")
	}

	select {
	case t.outbound <- data:
	default:
		// Outbound buffer full: block rather than drop, per spec
		// §5's "send MAY block when an internal outbound buffer is
		// full" — but never against the I/O loop's own goroutines,
		// so this send still respects the connection timeout.
		select {
		case t.outbound <- data:
		case <-time.After(t.GetConfig().ConnectionTimeout):
			return umicp.NewError(umicp.ErrTimeout, "outbound buffer full")
		}
	}
	return nil
}

func (t *WebSocketTransport) SendEnvelope(e *umicp.Envelope) error {
	data, err := encodeEnvelope(e, t.GetConfig())
	if err != nil {
		return err
	}
	return t.Send(data)
}

func (t *WebSocketTransport) SendFrame(f *umicp.Frame) error {
	data, err := codec.EncodeFrame(f, t.GetConfig().MaxMessageSize)
	if err != nil {
		return err
	}
	return t.Send(data)
}

func (t *WebSocketTransport) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if t.IsConnected() {
		current := t.GetConfig()
		if cfg.Scheme != current.Scheme || cfg.Host != current.Host || cfg.Port != current.Port || cfg.Path != current.Path {
			return umicp.NewError(umicp.ErrNetworkError, "endpoint fields require disconnect first")
		}
	}
	t.cfgMu.Lock()
	t.cfg = cfg
	t.cfgMu.Unlock()
	return nil
}

func (t *WebSocketTransport) GetConfig() Config {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.cfg
}

func (t *WebSocketTransport) SetMessageCallback(cb MessageCallback)       { t.cb.setMessage(cb) }
func (t *WebSocketTransport) SetConnectionCallback(cb ConnectionCallback) { t.cb.setConnect(cb) }
func (t *WebSocketTransport) SetErrorCallback(cb ErrorCallback)           { t.cb.setError(cb) }

func (t *WebSocketTransport) GetStats() umicp.StatsSnapshot { return t.stats.Snapshot() }
func (t *WebSocketTransport) ResetStats()                   { t.stats.Reset() }

func (t *WebSocketTransport) GetType() umicp.TransportKind { return umicp.TransportWebSocket }
func (t *WebSocketTransport) GetEndpoint() string          { cfg := t.GetConfig(); return cfg.Endpoint() }

// handleTerminalError transitions the transport to Idle and fires the
// connection callback when an I/O loop dies of its own accord (not
// because Disconnect already put it into stateClosing), per spec §7:
// a terminal transport error ends the connection and does not
// reconnect automatically.
func (t *WebSocketTransport) handleTerminalError(err error) {
	t.stateMu.Lock()
	wasConnected := t.state == stateConnected
	if wasConnected {
		t.state = stateIdle
	}
	t.stateMu.Unlock()
	if wasConnected {
		t.cb.fireConnect(false, err.Error())
	}
}

func (t *WebSocketTransport) readLoop(ctx context.Context) error {
	for {
		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()
		if conn == nil {
			return nil
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.cb.fireError(umicp.ErrNetworkError, err.Error())
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				t.handleTerminalError(err)
				return err
			}
		}

		t.stats.MessagesReceived.Add(1)
		t.stats.BytesReceived.Add(uint64(len(data)))
		t.stats.Touch()
		t.cb.fireMessage(data)
	}
}

func (t *WebSocketTransport) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-t.outbound:
			t.connMu.Lock()
			conn := t.conn
			t.connMu.Unlock()
			if conn == nil {
				return nil
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				t.cb.fireError(umicp.ErrNetworkError, err.Error())
				t.handleTerminalError(err)
				return err
			}
			t.stats.MessagesSent.Add(1)
			t.stats.BytesSent.Add(uint64(len(data)))
			t.stats.Touch()
		}
	}
}

// heartbeatLoop emits an advisory zero-length STREAM_START frame on
// interval, per spec §6's "heartbeat_interval: transport may emit
// periodic keepalives".
func (t *WebSocketTransport) heartbeatLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame := &umicp.Frame{Header: umicp.FrameHeader{
				Version: codec.FrameWireVersion,
				Type:    umicp.OpControl,
				Flags:   umicp.FlagStreamStart,
			}}
			if err := t.SendFrame(frame); err != nil {
				t.cb.fireError(umicp.ErrNetworkError, err.Error())
			}
		}
	}
}
