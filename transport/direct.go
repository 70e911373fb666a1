package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/umicp"
	"github.com/relaymesh/umicp/codec"
)

// DirectTransport is a bare TCP socket transport for the TransportDirect
// kind: two endpoints with a pre-arranged address and no framing help
// from an underlying message-oriented stack at all. Like HTTP2Transport,
// it re-delimits its own messages with a 4-byte length prefix.
//
// Grounded on the dial-and-read-loop shape of a line-oriented TCP
// client, generalized from line-delimited text to length-prefixed
// binary framing because envelopes and frames may both contain newline
// bytes.
type DirectTransport struct {
	cfg   Config
	cfgMu sync.RWMutex

	cb    callbacks
	stats *umicp.Stats

	stateMu sync.Mutex
	state   connState

	conn   net.Conn
	connMu sync.Mutex

	outbound chan []byte
	group    *errgroup.Group
	cancel   context.CancelFunc
}

// NewDirectTransport builds a DirectTransport bound to cfg.
func NewDirectTransport(cfg Config) *DirectTransport {
	return &DirectTransport{
		cfg:   cfg,
		stats: umicp.NewStats(),
		state: stateIdle,
	}
}

func (t *DirectTransport) Connect() error {
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
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := net.DialTimeout("tcp", addr, cfg.ConnectionTimeout)
	if err != nil {
		t.stateMu.Lock()
		t.state = stateIdle
		t.stateMu.Unlock()
		t.cb.fireConnect(false, err.Error())
		return umicp.NewError(umicp.ErrNetworkError, fmt.Sprintf("dial %s: %v", addr, err))
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

	t.stateMu.Lock()
	t.state = stateConnected
	t.stateMu.Unlock()

	t.stats.ConnectionCount.Add(1)
	t.cb.fireConnect(true, "")
	return nil
}

func (t *DirectTransport) Disconnect() error {
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

func (t *DirectTransport) IsConnected() bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state == stateConnected
}

func (t *DirectTransport) Send(data []byte) error {
	if !t.IsConnected() {
		return umicp.NewError(umicp.ErrNetworkError, "transport is not connected")
	}
	if len(data) == 0 {
		return umicp.NewError(umicp.ErrInvalidArgument, "send requires non-empty data")
	}
	select {
	case t.outbound <- data:
	case <-time.After(t.GetConfig().ConnectionTimeout):
		return umicp.NewError(umicp.ErrTimeout, "outbound buffer full")
	}
	return nil
}

func (t *DirectTransport) SendEnvelope(e *umicp.Envelope) error {
	data, err := encodeEnvelope(e, t.GetConfig())
	if err != nil {
		return err
	}
	return t.Send(data)
}

func (t *DirectTransport) SendFrame(f *umicp.Frame) error {
	data, err := codec.EncodeFrame(f, t.GetConfig().MaxMessageSize)
	if err != nil {
		return err
	}
	return t.Send(data)
}

func (t *DirectTransport) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if t.IsConnected() {
		current := t.GetConfig()
		if cfg.Host != current.Host || cfg.Port != current.Port {
			return umicp.NewError(umicp.ErrNetworkError, "endpoint fields require disconnect first")
		}
	}
	t.cfgMu.Lock()
	t.cfg = cfg
	t.cfgMu.Unlock()
	return nil
}

func (t *DirectTransport) GetConfig() Config {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.cfg
}

func (t *DirectTransport) SetMessageCallback(cb MessageCallback)       { t.cb.setMessage(cb) }
func (t *DirectTransport) SetConnectionCallback(cb ConnectionCallback) { t.cb.setConnect(cb) }
func (t *DirectTransport) SetErrorCallback(cb ErrorCallback)           { t.cb.setError(cb) }

func (t *DirectTransport) GetStats() umicp.StatsSnapshot { return t.stats.Snapshot() }
func (t *DirectTransport) ResetStats()                   { t.stats.Reset() }

func (t *DirectTransport) GetType() umicp.TransportKind { return umicp.TransportDirect }
func (t *DirectTransport) GetEndpoint() string {
	cfg := t.GetConfig()
	return fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
}

// handleTerminalError transitions the transport to Idle and fires the
// connection callback when an I/O loop dies of its own accord (not
// because Disconnect already put it into stateClosing), per spec §7:
// a terminal transport error ends the connection and does not
// reconnect automatically.
func (t *DirectTransport) handleTerminalError(err error) {
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

func (t *DirectTransport) writeLoop(ctx context.Context) error {
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
			var prefix [4]byte
			binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
			if _, err := conn.Write(prefix[:]); err != nil {
				t.cb.fireError(umicp.ErrNetworkError, err.Error())
				t.handleTerminalError(err)
				return err
			}
			if _, err := conn.Write(data); err != nil {
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

func (t *DirectTransport) readLoop(ctx context.Context) error {
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return nil
	}
	reader := bufio.NewReader(conn)

	var prefix [4]byte
	for {
		if _, err := io.ReadFull(reader, prefix[:]); err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				if err != io.EOF {
					t.cb.fireError(umicp.ErrNetworkError, err.Error())
				}
				t.handleTerminalError(err)
				return err
			}
		}
		length := binary.BigEndian.Uint32(prefix[:])
		if int(length) > t.GetConfig().MaxMessageSize {
			err := umicp.NewError(umicp.ErrBufferOverflow, "inbound message exceeds max size")
			t.cb.fireError(err.Kind, err.Message)
			t.handleTerminalError(err)
			return err
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(reader, data); err != nil {
			t.cb.fireError(umicp.ErrNetworkError, err.Error())
			t.handleTerminalError(err)
			return err
		}

		t.stats.MessagesReceived.Add(1)
		t.stats.BytesReceived.Add(uint64(len(data)))
		t.stats.Touch()
		t.cb.fireMessage(data)
	}
}
