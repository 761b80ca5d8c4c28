package obs

import "github.com/yanun0323/logs"

// AlertLevel ranks alert severity.
type AlertLevel uint8

const (
	AlertInfo AlertLevel = iota
	AlertWarn
	AlertCritical
)

// AlertSink is the single abstract boundary for external alerting. Cloud or
// pager integrations implement this interface outside the core.
type AlertSink interface {
	Alert(level AlertLevel, code string, msg string)
}

// LogSink writes alerts to the structured log. It is the default sink when
// no external integration is configured.
type LogSink struct{}

// Alert implements AlertSink.
func (LogSink) Alert(level AlertLevel, code string, msg string) {
	switch level {
	case AlertCritical:
		logs.Errorf("alert [%s]: %s", code, msg)
	case AlertWarn:
		logs.Warnf("alert [%s]: %s", code, msg)
	default:
		logs.Infof("alert [%s]: %s", code, msg)
	}
}

// NopSink discards alerts. Used in benchmarks.
type NopSink struct{}

// Alert implements AlertSink.
func (NopSink) Alert(AlertLevel, string, string) {}
