package otpkit

import "sync/atomic"

// MetricID identifies an engine counter.
type MetricID uint16

const (
	// MetricIssueSuccess counts successful code issuances.
	MetricIssueSuccess MetricID = iota
	// MetricIssueRateLimited counts issuances denied by the rate limiter.
	MetricIssueRateLimited
	// MetricIssueFailure counts issuances that failed on infrastructure.
	MetricIssueFailure
	// MetricVerifySuccess counts codes consumed by a correct comparison.
	MetricVerifySuccess
	// MetricVerifyFailure counts mismatches and no-open-code rejections.
	MetricVerifyFailure
	// MetricVerifyExpired counts expiry-on-read terminal transitions.
	MetricVerifyExpired
	// MetricVerifyExhausted counts attempt-budget terminal transitions.
	MetricVerifyExhausted

	metricCount
)

// Metrics holds the engine's atomic counters.
type Metrics struct {
	enabled  bool
	counters [metricCount]atomic.Uint64
}

// NewMetrics returns a Metrics per cfg. When disabled, Inc is a no-op and
// Snapshot returns an empty map.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc adds one to the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, metricCount),
	}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
