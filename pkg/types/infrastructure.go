package types

import "time"

// InfrastructureHealth contains health metrics for the engine process and
// its optional backing services.
type InfrastructureHealth struct {
	Timestamp time.Time      `json:"timestamp"`
	Process   ProcessHealth  `json:"process"`
	Engine    EngineHealth   `json:"engine"`
	Database  DatabaseHealth `json:"database"`
	Cache     CacheHealth    `json:"cache"`
}

// EngineHealth summarizes the monitoring engine state.
type EngineHealth struct {
	Components        int        `json:"components"`
	OpenIssues        int        `json:"open_issues"`
	PendingActions    int        `json:"pending_actions"`
	AuditEntries      int        `json:"audit_entries"`
	SuccessRate       int        `json:"success_rate"`
	SystemHealth      int        `json:"system_health"`
	RepairInFlight    string     `json:"repair_in_flight,omitempty"`
	DiagnosisRunning  bool       `json:"diagnosis_running"`
	PredictionRunning bool       `json:"prediction_running"`
	LastDiagnosis     *time.Time `json:"last_diagnosis,omitempty"`
}

// ProcessHealth contains runtime metrics of the engine process.
type ProcessHealth struct {
	Status        string  `json:"status"` // healthy, degraded
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// DatabaseHealth contains audit store connectivity.
type DatabaseHealth struct {
	Enabled bool      `json:"enabled"`
	Status  string    `json:"status"`
	Pool    PoolStats `json:"pool"`
}

// PoolStats contains pgxpool connection pool statistics.
type PoolStats struct {
	TotalConnections    int32 `json:"total_connections"`
	IdleConnections     int32 `json:"idle_connections"`
	AcquiredConnections int32 `json:"acquired_connections"`
	MaxConnections      int32 `json:"max_connections"`
}

// CacheHealth contains Redis snapshot publisher state.
type CacheHealth struct {
	Enabled   bool  `json:"enabled"`
	Connected bool  `json:"connected"`
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
}
