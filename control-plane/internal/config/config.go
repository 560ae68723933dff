// Package config handles control plane configuration loading and
// validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
//  1. Command-line flags
//  2. Environment variables (SELFHEAL_*)
//  3. Config file (YAML)
//  4. Defaults
//
// # Example Config File
//
//	server:
//	  listen: :8080
//
//	oracle:
//	  url: https://advisor.internal/api/v1
//	  timeout: 30s
//	  rate_limit: 30
//
//	engine:
//	  diagnosis_interval: 60s
//	  prediction_interval: 60s
//	  auto_repair: true
//
//	components:
//	  - id: signal-5th-main
//	    name: Traffic Signal 5th & Main
//	    kind: device
//	    telemetry:
//	      signal_strength: 92
//	      uptime_percent: 99
//	      last_seen: minutes
//
//	redis:
//	  url: redis://localhost:6379/0
//
//	database:
//	  url: postgres://selfheal@localhost/selfheal
//
//	secrets:
//	  backend: auto
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pilot-net/selfheal/control-plane/internal/secrets"
	"github.com/pilot-net/selfheal/pkg/types"
)

// Config is the complete control plane configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Oracle     OracleConfig      `yaml:"oracle"`
	Engine     EngineConfig      `yaml:"engine"`
	Components []ComponentConfig `yaml:"components"`
	Redis      RedisConfig       `yaml:"redis"`
	Database   DatabaseConfig    `yaml:"database"`
	Secrets    secrets.Config    `yaml:"secrets"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// OracleConfig defines how to reach the diagnostic oracle. An empty URL
// selects the built-in simulated oracle.
type OracleConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit int           `yaml:"rate_limit"` // Requests per minute
}

// EngineConfig defines loop cadence, remediation and initial toggles.
type EngineConfig struct {
	DiagnosisInterval  time.Duration `yaml:"diagnosis_interval"`
	PredictionInterval time.Duration `yaml:"prediction_interval"`
	RepairDuration     time.Duration `yaml:"repair_duration"`
	RepairSuccessRate  float64       `yaml:"repair_success_rate"`
	StaggerInterval    time.Duration `yaml:"stagger_interval"`
	AuditCapacity      int           `yaml:"audit_capacity"`

	Monitoring  bool `yaml:"monitoring"`
	AutoRepair  bool `yaml:"auto_repair"`
	AutoPrevent bool `yaml:"auto_prevent"`
}

// ComponentConfig is one roster entry.
type ComponentConfig struct {
	ID        string                `yaml:"id"`
	Name      string                `yaml:"name"`
	Kind      types.ComponentKind   `yaml:"kind"`
	Status    types.ComponentStatus `yaml:"status"`
	Telemetry types.Telemetry       `yaml:"telemetry"`
}

// RedisConfig enables the snapshot publisher when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig enables the durable repair log when URL is set.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: DefaultListenAddr,
		},
		Oracle: OracleConfig{
			Timeout:   DefaultOracleTimeout,
			RateLimit: DefaultOracleRateLimit,
		},
		Engine: EngineConfig{
			DiagnosisInterval:  DefaultDiagnosisInterval,
			PredictionInterval: DefaultPredictionInterval,
			RepairDuration:     DefaultRepairDuration,
			RepairSuccessRate:  DefaultRepairSuccessRate,
			StaggerInterval:    DefaultStaggerInterval,
			AuditCapacity:      DefaultAuditCapacity,
			Monitoring:         true,
		},
		Secrets: secrets.Config{
			Backend: secrets.BackendAuto,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use the SELFHEAL_ prefix:
// - SELFHEAL_LISTEN
// - SELFHEAL_ORACLE_URL
// - SELFHEAL_REDIS_URL
// - SELFHEAL_DATABASE_URL
// - SELFHEAL_DIAGNOSIS_INTERVAL, SELFHEAL_PREDICTION_INTERVAL (durations)
// - SELFHEAL_AUTO_REPAIR, SELFHEAL_AUTO_PREVENT, SELFHEAL_MONITORING (booleans)
//
// Unparseable values are reported as errors rather than ignored.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("SELFHEAL_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("SELFHEAL_ORACLE_URL"); v != "" {
		c.Oracle.URL = v
	}
	if v := os.Getenv("SELFHEAL_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("SELFHEAL_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SELFHEAL_DIAGNOSIS_INTERVAL", &c.Engine.DiagnosisInterval},
		{"SELFHEAL_PREDICTION_INTERVAL", &c.Engine.PredictionInterval},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	flags := []struct {
		key string
		dst *bool
	}{
		{"SELFHEAL_MONITORING", &c.Engine.Monitoring},
		{"SELFHEAL_AUTO_REPAIR", &c.Engine.AutoRepair},
		{"SELFHEAL_AUTO_PREVENT", &c.Engine.AutoPrevent},
	}
	for _, f := range flags {
		if v := os.Getenv(f.key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = parsed
		}
	}

	c.Secrets.ApplyEnv()
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Engine.DiagnosisInterval <= 0 {
		return fmt.Errorf("engine.diagnosis_interval must be positive")
	}
	if c.Engine.PredictionInterval <= 0 {
		return fmt.Errorf("engine.prediction_interval must be positive")
	}
	if c.Engine.RepairDuration < 0 || c.Engine.StaggerInterval < 0 {
		return fmt.Errorf("engine durations must not be negative")
	}
	if c.Engine.RepairSuccessRate < 0 || c.Engine.RepairSuccessRate > 1 {
		return fmt.Errorf("engine.repair_success_rate must be between 0 and 1")
	}
	if c.Engine.AuditCapacity <= 0 {
		return fmt.Errorf("engine.audit_capacity must be positive")
	}
	if c.Oracle.RateLimit <= 0 {
		return fmt.Errorf("oracle.rate_limit must be positive")
	}

	seen := make(map[string]bool, len(c.Components))
	for i, comp := range c.Components {
		if comp.ID == "" {
			return fmt.Errorf("components[%d].id is required", i)
		}
		if seen[comp.ID] {
			return fmt.Errorf("components[%d]: duplicate id %q", i, comp.ID)
		}
		seen[comp.ID] = true
		if comp.Status != "" && !comp.Status.Valid() {
			return fmt.Errorf("components[%d]: unknown status %q", i, comp.Status)
		}
		for name, v := range map[string]*int{
			"signal_strength": comp.Telemetry.SignalStrength,
			"battery_level":   comp.Telemetry.BatteryLevel,
			"uptime_percent":  comp.Telemetry.UptimePercent,
		} {
			if v != nil && (*v < 0 || *v > 100) {
				return fmt.Errorf("components[%d].telemetry.%s must be within 0-100", i, name)
			}
		}
	}
	return nil
}

// Roster converts the configured components into engine components. A
// missing name defaults to the ID and a missing status to pending.
func (c *Config) Roster() []types.Component {
	roster := make([]types.Component, 0, len(c.Components))
	for _, comp := range c.Components {
		name := comp.Name
		if name == "" {
			name = comp.ID
		}
		status := comp.Status
		if status == "" {
			status = types.ComponentPending
		}
		tel := comp.Telemetry
		if tel.LastSeen == "" {
			tel.LastSeen = types.LastSeenNow
		}
		roster = append(roster, types.Component{
			ID:        comp.ID,
			Name:      name,
			Kind:      comp.Kind,
			Status:    status,
			Telemetry: tel,
		})
	}
	return roster
}
