package queue

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/okline/readpulse/internal/store"
)

func findMetric(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	mf := findMetric(families, name)
	if mf == nil {
		t.Fatalf("metric %q not found", name)
	}
	for _, m := range mf.GetMetric() {
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
	}
	t.Fatalf("metric %q has no counter sample", name)
	return 0
}

func histogramSampleCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	mf := findMetric(families, name)
	if mf == nil {
		t.Fatalf("metric %q not found", name)
	}
	for _, m := range mf.GetMetric() {
		if h := m.GetHistogram(); h != nil {
			return h.GetSampleCount()
		}
	}
	t.Fatalf("metric %q has no histogram sample", name)
	return 0
}

func TestMetricsRegister(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("duplicate Register() error = nil, want AlreadyRegisteredError")
	}

	if got := len(m.Collectors()); got != 5 {
		t.Errorf("Collectors() returned %d collectors, want 5", got)
	}
}

func TestMetricsCountEnqueueAndEviction(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	q := NewQueue(3, m)
	for i := 0; i < 5; i++ {
		q.Enqueue(testEvent("p"))
	}

	if got := counterValue(t, reg, MetricEventsEnqueued); got != 5 {
		t.Errorf("%s = %v, want 5", MetricEventsEnqueued, got)
	}
	if got := counterValue(t, reg, MetricEventsDropped); got != 2 {
		t.Errorf("%s = %v, want 2", MetricEventsDropped, got)
	}
}

func TestMetricsCountFlushOutcomes(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	st := newFlakyStore(1)
	e := NewEngine(Config{OfflineQueue: true, Metrics: m}, st)

	base := time.Now()
	e.Enqueue(viewEvent("user-1", "p1", base))
	e.Enqueue(viewEvent("user-1", "p2", base.Add(time.Second)))

	// First attempt fails, second delivers both events.
	_ = e.Flush(context.Background(), true)
	if err := e.Flush(context.Background(), true); err != nil {
		t.Fatalf("Flush() retry error = %v", err)
	}

	if got := counterValue(t, reg, MetricFlushErrors); got != 1 {
		t.Errorf("%s = %v, want 1", MetricFlushErrors, got)
	}
	if got := counterValue(t, reg, MetricEventsFlushed); got != 2 {
		t.Errorf("%s = %v, want 2", MetricEventsFlushed, got)
	}
	if got := histogramSampleCount(t, reg, MetricFlushDuration); got != 2 {
		t.Errorf("%s sample count = %v, want 2", MetricFlushDuration, got)
	}
	if got := st.Count(store.CollectionEvents); got != 2 {
		t.Errorf("stored events = %d, want 2", got)
	}
}
