package config

// Constants centralize the default values of every tunable so they are
// easy to find, modify, and test.

import "time"

// Diagnostic loop cadence.
const (
	// DefaultDiagnosisInterval is how often the diagnosis loop runs.
	DefaultDiagnosisInterval = 60 * time.Second

	// DefaultPredictionInterval is how often the prediction loop runs.
	DefaultPredictionInterval = 60 * time.Second
)

// Remediation settings.
const (
	// DefaultRepairDuration is the simulated work time of one repair.
	DefaultRepairDuration = 2 * time.Second

	// DefaultRepairSuccessRate is the probability a simulated repair succeeds.
	DefaultRepairSuccessRate = 0.9

	// DefaultStaggerInterval separates consecutive preventive actions of
	// one batch.
	DefaultStaggerInterval = 2 * time.Second

	// DefaultAuditCapacity bounds the in-memory repair log.
	DefaultAuditCapacity = 50
)

// Oracle client settings.
const (
	// DefaultOracleTimeout bounds one oracle call.
	DefaultOracleTimeout = 30 * time.Second

	// DefaultOracleRateLimit is the oracle request budget per minute.
	DefaultOracleRateLimit = 30
)

// HTTP server settings.
const (
	// DefaultListenAddr is the API listen address.
	DefaultListenAddr = ":8080"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout protects the server from slow clients.
	ReadHeaderTimeout = 10 * time.Second
)

// Snapshot fan-out.
const (
	// SnapshotMinGap rate-limits snapshot publication to the stream,
	// cache and gauges.
	SnapshotMinGap = 250 * time.Millisecond

	// StreamKeepalive is the websocket ping interval.
	StreamKeepalive = 30 * time.Second

	// CacheSnapshotTTL is how long a published snapshot stays in Redis.
	CacheSnapshotTTL = 5 * time.Minute
)

// Database connection configuration.
const (
	// DatabasePingTimeout is the timeout for database connectivity checks.
	DatabasePingTimeout = 5 * time.Second

	// MigrationTimeout bounds schema migration on startup.
	MigrationTimeout = 60 * time.Second
)
