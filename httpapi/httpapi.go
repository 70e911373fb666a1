// Package httpapi is a local operability aid, not part of the wire
// protocol: a chi-routed read-only HTTP surface exposing an
// orchestrator's statistics and a liveness probe, in the style of
// mbocsi-gohab/web's chi handlers.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relaymesh/umicp"
)

// StatsProvider is satisfied by *protocol.Orchestrator.
type StatsProvider interface {
	Stats() umicp.StatsSnapshot
	IsConnected() bool
	LocalID() string
}

// NewRouter builds a chi.Router exposing GET /stats and GET /healthz
// over p. Mountable by any host application; the protocol core itself
// never depends on net/http.
func NewRouter(p StatsProvider) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			LocalID   string              `json:"local_id"`
			Connected bool                `json:"connected"`
			Stats     umicp.StatsSnapshot `json:"stats"`
		}{
			LocalID:   p.LocalID(),
			Connected: p.IsConnected(),
			Stats:     p.Stats(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	return r
}
