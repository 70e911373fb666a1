package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaymesh/umicp"
)

type fakeProvider struct {
	connected bool
	localID   string
	snap      umicp.StatsSnapshot
}

func (f *fakeProvider) Stats() umicp.StatsSnapshot { return f.snap }
func (f *fakeProvider) IsConnected() bool          { return f.connected }
func (f *fakeProvider) LocalID() string            { return f.localID }

func TestHealthz(t *testing.T) {
	r := NewRouter(&fakeProvider{localID: "A"})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	p := &fakeProvider{localID: "A", connected: true}
	p.snap.MessagesSent = 3

	r := NewRouter(p)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		LocalID   string              `json:"local_id"`
		Connected bool                `json:"connected"`
		Stats     umicp.StatsSnapshot `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.LocalID != "A" || !body.Connected || body.Stats.MessagesSent != 3 {
		t.Errorf("unexpected body: %+v", body)
	}
}
