package risk

import (
	"sync/atomic"

	"github.com/yanun0323/logs"

	"main/internal/obs"
)

// KillLevel is the escalating circuit-breaker severity. Automatic logic may
// only move the level upward; lowering it requires an explicit operator
// Reset.
type KillLevel uint32

const (
	KillNormal KillLevel = iota
	KillReduceOnly
	KillCloseOnly
	KillEmergencyStop
)

// String returns the level name.
func (l KillLevel) String() string {
	switch l {
	case KillNormal:
		return "normal"
	case KillReduceOnly:
		return "reduce-only"
	case KillCloseOnly:
		return "close-only"
	case KillEmergencyStop:
		return "emergency-stop"
	default:
		return "unknown"
	}
}

// KillSwitch holds the current trading halt level.
type KillSwitch struct {
	level   atomic.Uint32
	alerts  obs.AlertSink
	metrics *obs.Metrics
}

// NewKillSwitch creates a kill switch at KillNormal.
func NewKillSwitch(alerts obs.AlertSink, metrics *obs.Metrics) *KillSwitch {
	if alerts == nil {
		alerts = obs.LogSink{}
	}
	return &KillSwitch{alerts: alerts, metrics: metrics}
}

// Level returns the current severity.
func (k *KillSwitch) Level() KillLevel {
	return KillLevel(k.level.Load())
}

// Escalate raises the severity to at least the given level. Lower or equal
// levels are ignored, so concurrent escalations are monotonic. Every
// effective activation is logged and alerted.
func (k *KillSwitch) Escalate(level KillLevel, reason string) bool {
	for {
		current := k.level.Load()
		if uint32(level) <= current {
			return false
		}
		if k.level.CompareAndSwap(current, uint32(level)) {
			k.metrics.IncKillSwitchEscalation()
			logs.Warnf("kill switch escalated: %s -> %s, reason: %s", KillLevel(current), level, reason)
			k.alerts.Alert(obs.AlertCritical, "kill-switch", level.String()+": "+reason)
			return true
		}
	}
}

// Reset lowers the severity. This is the explicit operator action; it never
// runs automatically.
func (k *KillSwitch) Reset(level KillLevel, operator string) {
	prev := KillLevel(k.level.Swap(uint32(level)))
	logs.Infof("kill switch reset: %s -> %s, by: %s", prev, level, operator)
	k.alerts.Alert(obs.AlertWarn, "kill-switch-reset", level.String()+" by "+operator)
}
