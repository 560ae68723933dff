package health

import (
	"fmt"
	"sort"

	"github.com/pilot-net/selfheal/pkg/types"
)

// Alert thresholds.
const (
	BatteryWarningPct  = 20
	BatteryCriticalPct = 10
	SignalWarningPct   = 40
)

// Alerts derives the prioritized alert list for a roster.
//
// Rules are evaluated independently per component, so one component may
// raise several alerts. Critical alerts sort before warnings; within a
// severity the roster order is preserved.
func Alerts(components []types.Component) []types.Alert {
	alerts := make([]types.Alert, 0)

	for _, c := range components {
		if c.Status == types.ComponentOffline {
			alerts = append(alerts, types.Alert{
				ComponentID:   c.ID,
				ComponentName: c.Name,
				Type:          types.AlertTypeOffline,
				Severity:      types.AlertSeverityCritical,
				Message:       fmt.Sprintf("%s is offline", displayName(c)),
			})
		}

		if b := c.Telemetry.BatteryLevel; b != nil && *b < BatteryWarningPct {
			severity := types.AlertSeverityWarning
			if *b < BatteryCriticalPct {
				severity = types.AlertSeverityCritical
			}
			alerts = append(alerts, types.Alert{
				ComponentID:   c.ID,
				ComponentName: c.Name,
				Type:          types.AlertTypeLowBattery,
				Severity:      severity,
				Message:       fmt.Sprintf("%s battery at %d%%", displayName(c), *b),
			})
		}

		// Zero signal means no link at all, which the offline rule covers.
		if s := c.Telemetry.SignalStrength; s != nil && *s > 0 && *s < SignalWarningPct {
			alerts = append(alerts, types.Alert{
				ComponentID:   c.ID,
				ComponentName: c.Name,
				Type:          types.AlertTypeLowSignal,
				Severity:      types.AlertSeverityWarning,
				Message:       fmt.Sprintf("%s signal strength at %d%%", displayName(c), *s),
			})
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.Level() > alerts[j].Severity.Level()
	})
	return alerts
}

func displayName(c types.Component) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
