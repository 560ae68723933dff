// Package types contains shared domain types for the self-healing engine.
//
// # Domain Model
//
// The engine monitors a static roster of Components (services, network
// transports, field devices). A Diagnostic Oracle periodically inspects a
// snapshot of that roster and reports Issues (confirmed problems tied to a
// component) and PreventiveActions (recommended mitigations). The engine
// repairs what policy allows and records every outcome as a RepairLogEntry.
//
// # Lifecycles
//
//   - Component: created at startup from configuration, mutated by the
//     diagnosis cycle and by repairs, never deleted.
//   - Issue: created wholesale by each diagnosis cycle, removed when its
//     remediation succeeds or when the next diagnosis omits it.
//   - PreventiveAction: created by the prediction cycle; its status moves
//     forward only (pending → executing → completed).
//   - RepairLogEntry: immutable once appended.
package types

import "time"

// =============================================================================
// COMPONENTS
// =============================================================================

// ComponentStatus is the operational state of a monitored component.
type ComponentStatus string

const (
	ComponentHealthy   ComponentStatus = "healthy"
	ComponentWarning   ComponentStatus = "warning"
	ComponentCritical  ComponentStatus = "critical"
	ComponentRepairing ComponentStatus = "repairing" // An action currently targets it
	ComponentOffline   ComponentStatus = "offline"
	ComponentPending   ComponentStatus = "pending" // Registered, never checked
)

// Valid reports whether s is a known component status.
func (s ComponentStatus) Valid() bool {
	switch s {
	case ComponentHealthy, ComponentWarning, ComponentCritical,
		ComponentRepairing, ComponentOffline, ComponentPending:
		return true
	}
	return false
}

// ComponentKind is informational and only used for display and filtering.
type ComponentKind string

const (
	KindService ComponentKind = "service"
	KindNetwork ComponentKind = "network"
	KindDevice  ComponentKind = "device"
)

// LastSeen buckets the age of the most recent contact with a component.
type LastSeen string

const (
	LastSeenNow     LastSeen = "now"
	LastSeenSeconds LastSeen = "seconds"
	LastSeenMinutes LastSeen = "minutes"
	LastSeenHours   LastSeen = "hours"
	LastSeenLonger  LastSeen = "longer"
)

// LastSeenFor buckets a contact age.
func LastSeenFor(age time.Duration) LastSeen {
	switch {
	case age < 5*time.Second:
		return LastSeenNow
	case age < time.Minute:
		return LastSeenSeconds
	case age < time.Hour:
		return LastSeenMinutes
	case age < 24*time.Hour:
		return LastSeenHours
	default:
		return LastSeenLonger
	}
}

// Telemetry holds the optional health factors reported by a component.
// A nil factor is absent, which is different from zero.
type Telemetry struct {
	SignalStrength *int     `json:"signal_strength,omitempty" yaml:"signal_strength,omitempty"` // 0-100
	BatteryLevel   *int     `json:"battery_level,omitempty" yaml:"battery_level,omitempty"`     // 0-100
	UptimePercent  *int     `json:"uptime_percent,omitempty" yaml:"uptime_percent,omitempty"`   // 0-100
	LastSeen       LastSeen `json:"last_seen" yaml:"last_seen"`
}

// Component is a monitored unit of the city infrastructure.
type Component struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        ComponentKind   `json:"kind,omitempty"`
	Status      ComponentStatus `json:"status"`
	HealthScore *int            `json:"health_score"` // Reported by the oracle; nil until known
	Telemetry   Telemetry       `json:"telemetry"`
	LastCheck   *time.Time      `json:"last_check,omitempty"`
}

// IntPtr returns a pointer to v. Handy for building telemetry.
func IntPtr(v int) *int {
	return &v
}

// =============================================================================
// ISSUES
// =============================================================================

// Severity classifies an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Level returns a numeric level for comparison (higher = more severe).
func (s Severity) Level() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Issue is a confirmed, currently open problem tied to a component.
type Issue struct {
	ID                  string   `json:"id"`
	ComponentID         string   `json:"component_id"`
	Severity            Severity `json:"severity"`
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	RootCause           string   `json:"root_cause,omitempty"`
	AutoRepairable      bool     `json:"auto_repairable"`
	RepairSteps         []string `json:"repair_steps"`
	EstimatedRepairTime string   `json:"estimated_repair_time,omitempty"`
	Impact              string   `json:"impact,omitempty"`
}

// =============================================================================
// PREVENTIVE ACTIONS
// =============================================================================

// Priority of a preventive action.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ActionStatus is the execution state of a preventive action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionExecuting ActionStatus = "executing"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// PreventiveAction is a recommended mitigation not tied to a confirmed issue.
type PreventiveAction struct {
	ID              string       `json:"id"`
	Action          string       `json:"action"`
	Priority        Priority     `json:"priority"`
	Target          string       `json:"target"` // Component ID or free-form target name
	ExpectedBenefit string       `json:"expected_benefit,omitempty"`
	AutoExecutable  bool         `json:"auto_executable"`
	Status          ActionStatus `json:"status"`
}

// =============================================================================
// AUDIT
// =============================================================================

// Outcome of an executed repair or preventive action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// JobKind distinguishes issue remediations from preventive actions.
type JobKind string

const (
	JobRepair     JobKind = "repair"
	JobPreventive JobKind = "preventive"
)

// RepairLogEntry is an immutable audit record of an executed action.
type RepairLogEntry struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"` // Issue title or action description
	SubjectID      string    `json:"subject_id"`
	ComponentID    string    `json:"component_id"`
	Kind           JobKind   `json:"kind"`
	Outcome        Outcome   `json:"outcome"`
	Timestamp      time.Time `json:"timestamp"`
	StepsCompleted []string  `json:"steps_completed,omitempty"`
	ErrorReason    string    `json:"error_reason,omitempty"`
}

// =============================================================================
// TASKS
// =============================================================================

// TaskState is the observable state of an asynchronous diagnostic or
// remediation call.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskDone      TaskState = "done"
	TaskFailed    TaskState = "failed"
	TaskDiscarded TaskState = "discarded" // Finished after its scheduler stopped
)

// TaskInfo describes one asynchronous call.
type TaskInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	State      TaskState  `json:"state"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}
