package otpkit

import (
	"go.uber.org/zap"
)

// Engine is the OTP core: it issues short-lived numeric codes and verifies
// submissions against them. Engines are built through [Builder.Build] and
// are safe for concurrent use; they keep no per-request state in process.
type Engine struct {
	config  Config
	store   Store
	limiter *RateLimiter
	audit   *auditDispatcher
	metrics *Metrics
	clock   Clock
	logger  *zap.Logger
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit entries were discarded because the
// dispatcher buffer was full. A non-zero value is an operational signal, not
// a request-path failure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
