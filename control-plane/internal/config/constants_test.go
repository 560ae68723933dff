package config

import (
	"testing"
	"time"

	"github.com/pilot-net/selfheal/control-plane/internal/audit"
	"github.com/pilot-net/selfheal/control-plane/internal/cache"
	"github.com/pilot-net/selfheal/control-plane/internal/engine"
	"github.com/pilot-net/selfheal/control-plane/internal/executor"
	"github.com/pilot-net/selfheal/control-plane/internal/stream"
)

// The package defaults and the config defaults must agree so an empty
// config file behaves like a zero-config library user.
func TestDefaultsMatchPackages(t *testing.T) {
	eng := engine.DefaultConfig()
	exec := executor.DefaultConfig()

	durations := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"diagnosis interval", DefaultDiagnosisInterval, eng.DiagnosisInterval},
		{"prediction interval", DefaultPredictionInterval, eng.PredictionInterval},
		{"stagger interval", DefaultStaggerInterval, eng.StaggerInterval},
		{"repair duration", DefaultRepairDuration, exec.Duration},
		{"stream keepalive", StreamKeepalive, stream.DefaultKeepalive},
		{"cache TTL", CacheSnapshotTTL, cache.DefaultTTL},
	}
	for _, tt := range durations {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("config %v != package %v", tt.got, tt.want)
			}
		})
	}

	if DefaultAuditCapacity != eng.AuditCapacity || DefaultAuditCapacity != audit.DefaultCapacity {
		t.Errorf("audit capacity: config %d, engine %d, audit %d",
			DefaultAuditCapacity, eng.AuditCapacity, audit.DefaultCapacity)
	}
	if DefaultRepairSuccessRate != exec.SuccessRate {
		t.Errorf("success rate: config %v, executor %v", DefaultRepairSuccessRate, exec.SuccessRate)
	}
}

func TestTimeoutsArePositive(t *testing.T) {
	timeouts := map[string]time.Duration{
		"ShutdownTimeout":     ShutdownTimeout,
		"ReadHeaderTimeout":   ReadHeaderTimeout,
		"DatabasePingTimeout": DatabasePingTimeout,
		"MigrationTimeout":    MigrationTimeout,
		"OracleTimeout":       DefaultOracleTimeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			t.Errorf("%s = %v, want positive", name, d)
		}
	}

	// The stream must not be flooded faster than a human can read it, but
	// must still feel live.
	if SnapshotMinGap <= 0 || SnapshotMinGap > time.Second {
		t.Errorf("SnapshotMinGap = %v, want within (0, 1s]", SnapshotMinGap)
	}
}
