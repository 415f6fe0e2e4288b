package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/quantrail/fixcore/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.ActiveSessions == nil {
		t.Error("ActiveSessions is nil")
	}
	if c.IndexedMessages == nil {
		t.Error("IndexedMessages is nil")
	}
	if c.RingWraps == nil {
		t.Error("RingWraps is nil")
	}
	if c.ResendRequests == nil {
		t.Error("ResendRequests is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestSessionLifecycleGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RegisterSession()
	c.RegisterSession()
	c.UnregisterSession()

	if got := gaugeValue(t, c.ActiveSessions); got != 1 {
		t.Errorf("ActiveSessions = %v, want 1", got)
	}
}

func TestIndexedMessagesCounter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncIndexedMessages("1", "1")
	c.IncIndexedMessages("1", "1")
	c.IncIndexedMessages("2", "1")

	if got := counterVecValue(t, c.IndexedMessages, "1", "1"); got != 2 {
		t.Errorf("IndexedMessages{1,1} = %v, want 2", got)
	}
	if got := counterVecValue(t, c.IndexedMessages, "2", "1"); got != 1 {
		t.Errorf("IndexedMessages{2,1} = %v, want 1", got)
	}
}

func TestResendAndReplayCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncResendRequests("1")
	c.IncReplayedMessages("1")
	c.IncReplayedMessages("1")
	c.IncReplayedMessages("1")

	if got := counterVecValue(t, c.ResendRequests, "1"); got != 1 {
		t.Errorf("ResendRequests{1} = %v, want 1", got)
	}
	if got := counterVecValue(t, c.ReplayedMessages, "1"); got != 3 {
		t.Errorf("ReplayedMessages{1} = %v, want 3", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a plain Gauge.
func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterVecValue reads the current value of a CounterVec with the given
// labels.
func counterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
