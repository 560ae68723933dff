package health

import (
	"math/rand"
	"testing"

	"github.com/pilot-net/selfheal/pkg/types"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		component types.Component
		want      int
	}{
		{
			name: "signal and uptime, seen minutes ago",
			component: types.Component{
				Status: types.ComponentHealthy,
				Telemetry: types.Telemetry{
					SignalStrength: types.IntPtr(92),
					UptimePercent:  types.IntPtr(99),
					LastSeen:       types.LastSeenMinutes,
				},
			},
			want: 91, // avg 95.5 rounds to 96, minus 5
		},
		{
			name:      "no telemetry, seen now",
			component: types.Component{Status: types.ComponentHealthy, Telemetry: types.Telemetry{LastSeen: types.LastSeenNow}},
			want:      100,
		},
		{
			name:      "no telemetry, seen hours ago",
			component: types.Component{Status: types.ComponentWarning, Telemetry: types.Telemetry{LastSeen: types.LastSeenHours}},
			want:      80,
		},
		{
			name:      "no telemetry, unknown bucket",
			component: types.Component{Status: types.ComponentHealthy},
			want:      60,
		},
		{
			name: "all factors present",
			component: types.Component{
				Status: types.ComponentCritical,
				Telemetry: types.Telemetry{
					SignalStrength: types.IntPtr(30),
					BatteryLevel:   types.IntPtr(60),
					UptimePercent:  types.IntPtr(90),
					LastSeen:       types.LastSeenSeconds,
				},
			},
			want: 58,
		},
		{
			name: "clamped at zero",
			component: types.Component{
				Status: types.ComponentCritical,
				Telemetry: types.Telemetry{
					BatteryLevel: types.IntPtr(10),
					LastSeen:     types.LastSeenLonger,
				},
			},
			want: 0,
		},
		{
			name: "offline pre-empts telemetry",
			component: types.Component{
				Status: types.ComponentOffline,
				Telemetry: types.Telemetry{
					SignalStrength: types.IntPtr(100),
					LastSeen:       types.LastSeenNow,
				},
			},
			want: 0,
		},
		{
			name:      "pending pre-empts telemetry",
			component: types.Component{Status: types.ComponentPending, Telemetry: types.Telemetry{LastSeen: types.LastSeenNow}},
			want:      0,
		},
		{
			name: "repairing is scored normally",
			component: types.Component{
				Status:    types.ComponentRepairing,
				Telemetry: types.Telemetry{UptimePercent: types.IntPtr(97), LastSeen: types.LastSeenNow},
			},
			want: 97,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.component); got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScore_AlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := []types.ComponentStatus{
		types.ComponentHealthy, types.ComponentWarning, types.ComponentCritical,
		types.ComponentRepairing, types.ComponentOffline, types.ComponentPending,
	}
	buckets := []types.LastSeen{
		types.LastSeenNow, types.LastSeenSeconds, types.LastSeenMinutes,
		types.LastSeenHours, types.LastSeenLonger, "",
	}
	factor := func() *int {
		if rng.Intn(3) == 0 {
			return nil
		}
		return types.IntPtr(rng.Intn(101))
	}

	for i := 0; i < 5000; i++ {
		c := types.Component{
			Status: statuses[rng.Intn(len(statuses))],
			Telemetry: types.Telemetry{
				SignalStrength: factor(),
				BatteryLevel:   factor(),
				UptimePercent:  factor(),
				LastSeen:       buckets[rng.Intn(len(buckets))],
			},
		}
		got := Score(c)
		if got < 0 || got > 100 {
			t.Fatalf("Score(%+v) = %d, out of range", c, got)
		}
		if (c.Status == types.ComponentOffline || c.Status == types.ComponentPending) && got != 0 {
			t.Fatalf("Score for %s component = %d, want 0", c.Status, got)
		}
	}
}

func TestStatusForScore(t *testing.T) {
	tests := []struct {
		score int
		want  types.ComponentStatus
	}{
		{100, types.ComponentHealthy},
		{80, types.ComponentHealthy},
		{79, types.ComponentWarning},
		{50, types.ComponentWarning},
		{49, types.ComponentCritical},
		{0, types.ComponentCritical},
	}
	for _, tt := range tests {
		if got := StatusForScore(tt.score); got != tt.want {
			t.Errorf("StatusForScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
