package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ThrottleMetrics holds the Prometheus collectors shared by every throttle.
// A nil *ThrottleMetrics is valid and records nothing.
type ThrottleMetrics struct {
	Decisions   *prometheus.CounterVec
	StatsErrors *prometheus.CounterVec
	StatsDrops  *prometheus.CounterVec
	TrackedKeys *prometheus.GaugeVec
}

// NewThrottleMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewThrottleMetrics(reg prometheus.Registerer) *ThrottleMetrics {
	m := &ThrottleMetrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "throttle_decisions_total",
				Help: "Record calls by throttle and outcome (allowed or denied)",
			},
			[]string{"throttle", "outcome"},
		),
		StatsErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "throttle_stats_errors_total",
				Help: "Decision events the stats backend failed to store",
			},
			[]string{"throttle"},
		),
		StatsDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "throttle_stats_dropped_total",
				Help: "Decision events dropped before reaching the stats backend",
			},
			[]string{"throttle"},
		),
		TrackedKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "throttle_tracked_keys",
				Help: "Number of keys currently holding a last-allowed timestamp",
			},
			[]string{"throttle"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Decisions, m.StatsErrors, m.StatsDrops, m.TrackedKeys)
	}
	return m
}

// RecordDecision counts one Record outcome.
func (m *ThrottleMetrics) RecordDecision(throttle string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.Decisions.WithLabelValues(throttle, outcome).Inc()
}

// RecordStatsError counts one event the stats backend rejected.
func (m *ThrottleMetrics) RecordStatsError(throttle string) {
	if m == nil {
		return
	}
	m.StatsErrors.WithLabelValues(throttle).Inc()
}

// RecordStatsDrop counts one event that never reached the stats backend.
func (m *ThrottleMetrics) RecordStatsDrop(throttle string) {
	if m == nil {
		return
	}
	m.StatsDrops.WithLabelValues(throttle).Inc()
}

// SetTrackedKeys sets the tracked key gauge of throttle.
func (m *ThrottleMetrics) SetTrackedKeys(throttle string, n int) {
	if m == nil {
		return
	}
	m.TrackedKeys.WithLabelValues(throttle).Set(float64(n))
}
