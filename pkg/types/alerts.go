// Package types - Component alerts
//
// # Alerting Design
//
// Alerts are a read-only view derived from the current component roster.
// They are recomputed on every read and never stored. A component may raise
// several alerts at once (for example offline and low battery).
//
//	offline component            -> offline / critical
//	battery below 10%            -> low_battery / critical
//	battery below 20%            -> low_battery / warning
//	signal above 0 and below 40% -> low_signal / warning
package types

// AlertType identifies the condition that raised an alert.
type AlertType string

const (
	AlertTypeOffline    AlertType = "offline"
	AlertTypeLowBattery AlertType = "low_battery"
	AlertTypeLowSignal  AlertType = "low_signal"
)

// AlertSeverity indicates alert urgency.
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityWarning  AlertSeverity = "warning"
)

// Level returns a numeric level for sorting (higher = more severe).
func (s AlertSeverity) Level() int {
	switch s {
	case AlertSeverityCritical:
		return 2
	case AlertSeverityWarning:
		return 1
	default:
		return 0
	}
}

// Alert is a prioritized notice about a component.
type Alert struct {
	ComponentID   string        `json:"component_id"`
	ComponentName string        `json:"component_name,omitempty"`
	Type          AlertType     `json:"type"`
	Severity      AlertSeverity `json:"severity"`
	Message       string        `json:"message"`
}
