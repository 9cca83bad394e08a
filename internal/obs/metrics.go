// Package obs collects lightweight in-process counters and latency stats for
// the engine loop. All methods are nil-safe so wiring is optional.
package obs

import (
	"sync/atomic"
	"time"
)

var eventKinds = []string{"market", "account", "command", "trading_state_update", "shutdown", "unknown"}

func kindIndex(kind string) int {
	for i, k := range eventKinds {
		if k == kind {
			return i
		}
	}
	return len(eventKinds) - 1
}

// Metrics aggregates engine loop counters.
type Metrics struct {
	eventCounts    [6]uint64
	riskRefusals   uint64
	dispatchOpens  uint64
	dispatchCancel uint64
	dispatchErrors uint64
	auditDrops     uint64

	processLatency LatencyStats
	riskLatency    LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts     map[string]uint64
	RiskRefusals    uint64
	DispatchOpens   uint64
	DispatchCancels uint64
	DispatchErrors  uint64
	AuditDrops      uint64
	ProcessLatency  LatencySnapshot
	RiskLatency     LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts one processed engine event and its handling duration.
func (m *Metrics) ObserveEvent(kind string, d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.eventCounts[kindIndex(kind)], 1)
	m.processLatency.Observe(d)
}

// ObserveRiskEval measures one risk check.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskLatency.Observe(d)
}

// IncRiskRefusal counts one refused request.
func (m *Metrics) IncRiskRefusal() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.riskRefusals, 1)
}

// IncDispatchOpen counts one dispatched open request.
func (m *Metrics) IncDispatchOpen() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.dispatchOpens, 1)
}

// IncDispatchCancel counts one dispatched cancel request.
func (m *Metrics) IncDispatchCancel() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.dispatchCancel, 1)
}

// IncDispatchError counts one failed send.
func (m *Metrics) IncDispatchError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.dispatchErrors, 1)
}

// IncAuditDrop counts one tick dropped after the consumer detached.
func (m *Metrics) IncAuditDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.auditDrops, 1)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	counts := make(map[string]uint64)
	for i, kind := range eventKinds {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			counts[kind] = v
		}
	}
	return Snapshot{
		EventCounts:     counts,
		RiskRefusals:    atomic.LoadUint64(&m.riskRefusals),
		DispatchOpens:   atomic.LoadUint64(&m.dispatchOpens),
		DispatchCancels: atomic.LoadUint64(&m.dispatchCancel),
		DispatchErrors:  atomic.LoadUint64(&m.dispatchErrors),
		AuditDrops:      atomic.LoadUint64(&m.auditDrops),
		ProcessLatency:  m.processLatency.Snapshot(),
		RiskLatency:     m.riskLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
