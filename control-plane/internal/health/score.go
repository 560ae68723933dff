// Package health derives health scores and alerts from component state.
//
// Everything in this package is a pure function of its inputs: no clocks,
// no shared state. The engine calls it on every snapshot.
package health

import (
	"math"

	"github.com/pilot-net/selfheal/pkg/types"
)

// Score thresholds used by StatusForScore.
const (
	HealthyThreshold = 80
	WarningThreshold = 50
)

// Score computes the 0-100 health score for a component.
//
// Offline and pending components always score 0. Otherwise the present
// telemetry factors (signal, battery, uptime) are averaged and a penalty for
// stale contact is subtracted. Absent factors are skipped, not treated as
// zero: a component with no telemetry but recent contact scores near 100.
func Score(c types.Component) int {
	if c.Status == types.ComponentOffline || c.Status == types.ComponentPending {
		return 0
	}

	sum, n := 0, 0
	for _, f := range []*int{c.Telemetry.SignalStrength, c.Telemetry.BatteryLevel, c.Telemetry.UptimePercent} {
		if f == nil {
			continue
		}
		sum += *f
		n++
	}

	penalty := LastSeenPenalty(c.Telemetry.LastSeen)
	if n == 0 {
		return clamp(100 - penalty)
	}

	avg := math.Round(float64(sum) / float64(n))
	return clamp(int(avg) - penalty)
}

// LastSeenPenalty returns the score penalty for a last-contact bucket.
// Unknown buckets are treated as the oldest.
func LastSeenPenalty(b types.LastSeen) int {
	switch b {
	case types.LastSeenNow:
		return 0
	case types.LastSeenSeconds:
		return 2
	case types.LastSeenMinutes:
		return 5
	case types.LastSeenHours:
		return 20
	default:
		return 40
	}
}

// StatusForScore maps a score to a coarse status for components the oracle
// reports without one.
func StatusForScore(score int) types.ComponentStatus {
	switch {
	case score >= HealthyThreshold:
		return types.ComponentHealthy
	case score >= WarningThreshold:
		return types.ComponentWarning
	default:
		return types.ComponentCritical
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
