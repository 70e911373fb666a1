// Command umicp-peer is a thin example wiring the protocol core to a
// WebSocket transport, the Prometheus metrics mirror, and the local
// stats/health HTTP surface. It is build glue, not part of the
// protocol core itself.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaymesh/umicp"
	"github.com/relaymesh/umicp/httpapi"
	"github.com/relaymesh/umicp/internal/obs"
	"github.com/relaymesh/umicp/metrics"
	"github.com/relaymesh/umicp/protocol"
	"github.com/relaymesh/umicp/transport"
)

func main() {
	localID := flag.String("id", "peer-a", "local logical id")
	peerID := flag.String("peer", "peer-b", "remote logical id")
	host := flag.String("host", "localhost", "remote websocket host")
	port := flag.Int("port", 8443, "remote websocket port")
	httpAddr := flag.String("http", ":9090", "address for the stats/metrics HTTP surface")
	flag.Parse()

	log := obs.Init("umicp-peer")

	orc, err := protocol.New(*localID, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	ws := transport.NewWebSocketTransport(transport.Config{
		Scheme:               "ws",
		Host:                 *host,
		Port:                 *port,
		Path:                 "/umicp",
		MaxMessageSize:       umicp.MaxMessageSize,
		ConnectionTimeout:    10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		EnableBinary:         true,
		PreferredFormat:      umicp.ContentJSON,
		CompressionThreshold: 1024,
	})
	orc.SetTransport(ws)

	orc.RegisterHandler(umicp.OpControl, func(e *umicp.Envelope, _ []byte) {
		log.Info().Str("from", e.From).Str("command", e.Capabilities["command"]).Msg("received control message")
	})
	orc.RegisterHandler(umicp.OpData, func(e *umicp.Envelope, payload []byte) {
		log.Info().Str("msg_id", e.MsgID).Int("bytes", len(payload)).Msg("received data frame")
		if _, err := orc.SendAck(e.From, e.MsgID); err != nil {
			log.Error().Err(err).Msg("failed to ack data frame")
		}
	})

	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go metrics.Watch(ctx, collectors, metrics.FromFunc(orc.Stats), 5*time.Second)
	go metrics.Watch(ctx, collectors, metrics.FromFunc(ws.GetStats), 5*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewRouter(orc))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http surface failed")
		}
	}()

	if err := orc.Connect(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}

	if _, err := orc.SendControl(*peerID, umicp.OpControl, "hello", ""); err != nil {
		log.Error().Err(err).Msg("failed to send hello")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	_ = httpServer.Shutdown(context.Background())
	_ = orc.Disconnect()
}
