package transport

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaymesh/umicp"
	"github.com/relaymesh/umicp/codec"
)

// echoHandler writes back every message it reads, matching the
// teacher's loopback test style (_examples/mbocsi-gohab/server's
// ws/tcp transport tests), until the peer disconnects.
func echoHandler(conn *websocket.Conn) {
	defer conn.Close()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

func wsConfigFor(t *testing.T, srv *httptest.Server) Config {
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host/port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	return Config{
		Scheme:            "ws",
		Host:              host,
		Port:              port,
		Path:              "/",
		MaxMessageSize:    umicp.MaxMessageSize,
		ConnectionTimeout: time.Second,
		HeartbeatInterval: time.Hour, // keep the heartbeat loop out of these tests' way
	}
}

func newLoopbackServer(t *testing.T) (*httptest.Server, Config) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		echoHandler(conn)
	}))
	return srv, wsConfigFor(t, srv)
}

func TestWebSocketConnectDisconnectIdempotent(t *testing.T) {
	srv, cfg := newLoopbackServer(t)
	defer srv.Close()

	tr := NewWebSocketTransport(cfg)

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := tr.Connect(); err != nil {
		t.Fatalf("redundant Connect: %v", err)
	}
	if got := tr.GetStats().ConnectionCount; got != 1 {
		t.Errorf("expected connection_count 1 after a redundant Connect, got %d", got)
	}
	if !tr.IsConnected() {
		t.Error("expected transport to report connected")
	}

	if err := tr.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("redundant Disconnect: %v", err)
	}
	if tr.IsConnected() {
		t.Error("expected transport to report disconnected")
	}
}

func TestWebSocketDisconnectBeforeConnectIsNoop(t *testing.T) {
	tr := NewWebSocketTransport(Config{
		Scheme:            "ws",
		Host:              "localhost",
		Port:              0,
		MaxMessageSize:    umicp.MaxMessageSize,
		ConnectionTimeout: time.Second,
		HeartbeatInterval: time.Hour,
	})
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("expected Disconnect on an idle transport to be a no-op, got %v", err)
	}
	if tr.GetStats().ConnectionCount != 0 {
		t.Error("expected connection_count unchanged")
	}
}

func TestWebSocketSendReceiveRoundTrip(t *testing.T) {
	srv, cfg := newLoopbackServer(t)
	defer srv.Close()

	tr := NewWebSocketTransport(cfg)

	var mu sync.Mutex
	var received []byte
	done := make(chan struct{}, 1)
	tr.SetMessageCallback(func(data []byte) {
		mu.Lock()
		received = data
		mu.Unlock()
		done <- struct{}{}
	})

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect()

	want := []byte("umicp round trip payload")
	if err := tr.Send(want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the echoed message")
	}

	mu.Lock()
	got := received
	mu.Unlock()
	if string(got) != string(want) {
		t.Errorf("expected echoed payload %q, got %q", want, got)
	}

	snap := tr.GetStats()
	if snap.MessagesSent != 1 {
		t.Errorf("expected messages_sent 1, got %d", snap.MessagesSent)
	}
	if snap.MessagesReceived != 1 {
		t.Errorf("expected messages_received 1, got %d", snap.MessagesReceived)
	}
}

func TestWebSocketSendFrameRoundTrip(t *testing.T) {
	srv, cfg := newLoopbackServer(t)
	defer srv.Close()

	tr := NewWebSocketTransport(cfg)

	done := make(chan []byte, 1)
	tr.SetMessageCallback(func(data []byte) { done <- data })

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect()

	frame := &umicp.Frame{
		Header:  umicp.FrameHeader{Version: 1, Type: umicp.OpData, StreamID: 3},
		Payload: []byte("frame payload"),
	}
	if err := tr.SendFrame(frame); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	want, err := codec.EncodeFrame(frame, 0)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	select {
	case data := <-done:
		if string(data) != string(want) {
			t.Errorf("echoed frame bytes did not round trip")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the echoed frame")
	}
}

// TestWebSocketTerminalErrorTransitionsToIdle exercises spec §7's
// requirement that a terminal transport error ends the connection (no
// automatic reconnect) rather than leaving the state machine stuck
// reporting connected.
func TestWebSocketTerminalErrorTransitionsToIdle(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.UnderlyingConn().Close() // reset the socket without a close handshake
	}))
	defer srv.Close()

	tr := NewWebSocketTransport(wsConfigFor(t, srv))

	var mu sync.Mutex
	sawDisconnectCallback := false
	tr.SetConnectionCallback(func(connected bool, _ string) {
		if !connected {
			mu.Lock()
			sawDisconnectCallback = true
			mu.Unlock()
		}
	})

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && tr.IsConnected() {
		time.Sleep(20 * time.Millisecond)
	}

	if tr.IsConnected() {
		t.Fatal("expected the transport to transition to Idle after a terminal read error")
	}
	mu.Lock()
	got := sawDisconnectCallback
	mu.Unlock()
	if !got {
		t.Error("expected the connection callback to fire with connected=false")
	}
}
