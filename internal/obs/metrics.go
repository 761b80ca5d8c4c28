package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const (
	maxEventType  = int(schema.EventRiskDecision)
	maxRiskReason = int(schema.RiskReasonQuarantine)
)

// Metrics collects lightweight counters and latency stats for the trading
// pipeline. All updates are atomic; nothing here blocks the hot path.
type Metrics struct {
	eventCounts      [maxEventType + 1]uint64
	riskReasonCounts [maxRiskReason + 1]uint64
	ordersApproved   uint64
	ordersRejected   uint64
	queueDrops       uint64
	queueClosed      uint64
	malformedEvents  uint64
	quarantines      uint64
	killSwitchEscal  uint64

	eventLatency     LatencyStats
	orderFlowLatency LatencyStats
	riskEvalLatency  LatencyStats
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
	EventCounts          map[schema.EventType]uint64
	RiskReasonCounts     map[schema.RiskReason]uint64
	OrdersApproved       uint64
	OrdersRejected       uint64
	QueueDrops           uint64
	QueueClosed          uint64
	MalformedEvents      uint64
	Quarantines          uint64
	KillSwitchEscalation uint64
	EventLatency         LatencySnapshot
	OrderFlowLatency     LatencySnapshot
	RiskEvalLatency      LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent increments counters and tracks event latency when timestamps
// are present.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	if m == nil {
		return
	}
	idx := int(header.Type)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	if header.TsEvent > 0 && header.TsRecv > 0 {
		delta := header.TsRecv - header.TsEvent
		if delta >= 0 {
			m.eventLatency.Observe(time.Duration(delta))
		}
	}
}

// ObserveDecision counts a risk decision by outcome and reason.
func (m *Metrics) ObserveDecision(decision schema.RiskDecision) {
	if m == nil {
		return
	}
	if decision.Action == schema.RiskActionAllow {
		atomic.AddUint64(&m.ordersApproved, 1)
	} else {
		atomic.AddUint64(&m.ordersRejected, 1)
	}
	idx := int(decision.Reason)
	if idx >= 0 && idx < len(m.riskReasonCounts) {
		atomic.AddUint64(&m.riskReasonCounts[idx], 1)
	}
}

// IncQueueDrop records a queue overflow drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// IncMalformed records a dropped malformed event.
func (m *Metrics) IncMalformed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.malformedEvents, 1)
}

// IncQuarantine records a symbol quarantine.
func (m *Metrics) IncQuarantine() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.quarantines, 1)
}

// IncKillSwitchEscalation records an automatic kill switch escalation.
func (m *Metrics) IncKillSwitchEscalation() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.killSwitchEscal, 1)
}

// QueueDrops returns the total recorded queue drops.
func (m *Metrics) QueueDrops() uint64 {
	if m == nil {
		return 0
	}
	return atomic.LoadUint64(&m.queueDrops)
}

// ObserveOrderFlow measures end-to-end order flow latency.
func (m *Metrics) ObserveOrderFlow(d time.Duration) {
	if m == nil {
		return
	}
	m.orderFlowLatency.Observe(d)
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	riskCounts := make(map[schema.RiskReason]uint64)
	for i := range m.riskReasonCounts {
		if v := atomic.LoadUint64(&m.riskReasonCounts[i]); v > 0 {
			riskCounts[schema.RiskReason(i)] = v
		}
	}
	return Snapshot{
		EventCounts:          eventCounts,
		RiskReasonCounts:     riskCounts,
		OrdersApproved:       atomic.LoadUint64(&m.ordersApproved),
		OrdersRejected:       atomic.LoadUint64(&m.ordersRejected),
		QueueDrops:           atomic.LoadUint64(&m.queueDrops),
		QueueClosed:          atomic.LoadUint64(&m.queueClosed),
		MalformedEvents:      atomic.LoadUint64(&m.malformedEvents),
		Quarantines:          atomic.LoadUint64(&m.quarantines),
		KillSwitchEscalation: atomic.LoadUint64(&m.killSwitchEscal),
		EventLatency:         m.eventLatency.Snapshot(),
		OrderFlowLatency:     m.orderFlowLatency.Snapshot(),
		RiskEvalLatency:      m.riskEvalLatency.Snapshot(),
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
