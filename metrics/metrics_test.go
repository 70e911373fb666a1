package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/relaymesh/umicp"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.Observe(1, 2, 10, 20, 0, 1)
	c.Observe(3, 0, 5, 0, 1, 0)

	if got := counterValue(t, c.MessagesSent); got != 4 {
		t.Errorf("expected MessagesSent=4, got %v", got)
	}
	if got := counterValue(t, c.Errors); got != 1 {
		t.Errorf("expected Errors=1, got %v", got)
	}
}

func TestWatchObservesDeltas(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	var snap umicp.StatsSnapshot
	snap.MessagesSent = 5
	source := FromFunc(func() umicp.StatsSnapshot { return snap })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		Watch(ctx, c, source, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	snap.MessagesSent = 9
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if got := counterValue(t, c.MessagesSent); got < 9 {
		t.Errorf("expected cumulative MessagesSent to reach 9, got %v", got)
	}
}
