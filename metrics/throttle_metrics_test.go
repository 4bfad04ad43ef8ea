package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"learn.throttle/metrics"
)

func TestThrottleMetrics_RecordDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewThrottleMetrics(reg)

	m.RecordDecision("chat", true)
	m.RecordDecision("chat", false)
	m.RecordDecision("chat", false)

	if got := testutil.ToFloat64(m.Decisions.WithLabelValues("chat", "allowed")); got != 1 {
		t.Fatalf("expected 1 allowed, got %v", got)
	}
	if got := testutil.ToFloat64(m.Decisions.WithLabelValues("chat", "denied")); got != 2 {
		t.Fatalf("expected 2 denied, got %v", got)
	}
	if n := testutil.CollectAndCount(reg, "throttle_decisions_total"); n != 2 {
		t.Fatalf("expected 2 series, got %d", n)
	}
}

func TestThrottleMetrics_Gauges(t *testing.T) {
	m := metrics.NewThrottleMetrics(nil)

	m.SetTrackedKeys("chat", 42)
	m.RecordStatsError("chat")
	m.RecordStatsDrop("chat")

	if got := testutil.ToFloat64(m.TrackedKeys.WithLabelValues("chat")); got != 42 {
		t.Fatalf("expected 42 tracked keys, got %v", got)
	}
	if got := testutil.ToFloat64(m.StatsErrors.WithLabelValues("chat")); got != 1 {
		t.Fatalf("expected 1 stats error, got %v", got)
	}
	if got := testutil.ToFloat64(m.StatsDrops.WithLabelValues("chat")); got != 1 {
		t.Fatalf("expected 1 stats drop, got %v", got)
	}
}

func TestThrottleMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.ThrottleMetrics
	m.RecordDecision("chat", true)
	m.RecordStatsError("chat")
	m.RecordStatsDrop("chat")
	m.SetTrackedKeys("chat", 1)
}
