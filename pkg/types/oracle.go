package types

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// DIAGNOSTIC ORACLE CONTRACT
// =============================================================================

// ComponentSummary is the per-component part of a diagnosis request.
type ComponentSummary struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        ComponentKind   `json:"kind,omitempty"`
	Status      ComponentStatus `json:"status"`
	HealthScore int             `json:"health_score"`
	Telemetry   Telemetry       `json:"telemetry"`
}

// AgentSummary describes an automation agent for prediction requests.
type AgentSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	SuccessRate int     `json:"success_rate"`
	QueueDepth  int     `json:"queue_depth"`
	CPUPercent  float64 `json:"cpu_percent,omitempty"`
}

// DiagnosisRequest is the snapshot sent to the oracle.
type DiagnosisRequest struct {
	Components   []ComponentSummary `json:"components"`
	AgentMetrics []AgentSummary     `json:"agent_metrics,omitempty"`
	RequestedAt  time.Time          `json:"requested_at"`
}

// ComponentStatusUpdate is the oracle's verdict for one component.
type ComponentStatusUpdate struct {
	ID          string          `json:"id"`
	Status      ComponentStatus `json:"status"`
	HealthScore *int            `json:"health_score"`
	LastCheck   *time.Time      `json:"last_check,omitempty"`
}

// PredictedIssue is a forecast problem from the prediction cycle.
type PredictedIssue struct {
	Type              string   `json:"type"`
	Probability       int      `json:"probability"` // 0-100
	Severity          Severity `json:"severity"`
	ExpectedTime      string   `json:"expected_time,omitempty"`
	AffectedComponent string   `json:"affected_component"`
	Description       string   `json:"description,omitempty"`
}

// LoadShare is one entry of the oracle's load distribution advice.
type LoadShare struct {
	Target          string `json:"target"`
	CurrentLoad     int    `json:"current_load"`
	RecommendedLoad int    `json:"recommended_load"`
}

// DiagnosisResponse is the oracle's answer. Any field may be missing; call
// Normalize before use.
type DiagnosisResponse struct {
	SystemHealth           int                     `json:"system_health"`
	Issues                 []Issue                 `json:"issues"`
	ComponentStatus        []ComponentStatusUpdate `json:"component_status"`
	PreventiveActions      []PreventiveAction      `json:"preventive_actions,omitempty"`
	PredictedIssues        []PredictedIssue        `json:"predicted_issues,omitempty"`
	LoadDistribution       []LoadShare             `json:"load_distribution,omitempty"`
	EarlyWarnings          []string                `json:"early_warnings,omitempty"`
	SystemHealthPrediction *int                    `json:"system_health_prediction,omitempty"`
}

// Normalize makes a response safe to apply: nil collections become empty,
// health numbers are clamped into [0,100], unknown enum values get
// defaults, missing IDs are derived from content, and issues whose
// component is not in known are dropped. It returns the number of dropped
// issues.
func (r *DiagnosisResponse) Normalize(known map[string]bool) int {
	r.SystemHealth = clampPercent(r.SystemHealth)
	if r.SystemHealthPrediction != nil {
		v := clampPercent(*r.SystemHealthPrediction)
		r.SystemHealthPrediction = &v
	}

	if r.ComponentStatus == nil {
		r.ComponentStatus = []ComponentStatusUpdate{}
	}
	for i := range r.ComponentStatus {
		u := &r.ComponentStatus[i]
		if u.HealthScore != nil {
			v := clampPercent(*u.HealthScore)
			u.HealthScore = &v
		}
	}

	issues := make([]Issue, 0, len(r.Issues))
	dropped := 0
	for _, issue := range r.Issues {
		if known != nil && !known[issue.ComponentID] {
			dropped++
			continue
		}
		if issue.ID == "" {
			issue.ID = derivedID(issue.ComponentID, issue.Title)
		}
		if !issue.Severity.Valid() {
			issue.Severity = SeverityMedium
		}
		if issue.RepairSteps == nil {
			issue.RepairSteps = []string{}
		}
		issues = append(issues, issue)
	}
	r.Issues = issues

	if r.PreventiveActions == nil {
		r.PreventiveActions = []PreventiveAction{}
	}
	for i := range r.PreventiveActions {
		a := &r.PreventiveActions[i]
		if a.ID == "" {
			a.ID = derivedID(a.Target, a.Action)
		}
		if !a.Priority.Valid() {
			a.Priority = PriorityMedium
		}
		// Actions always enter the engine as pending.
		a.Status = ActionPending
	}

	if r.PredictedIssues == nil {
		r.PredictedIssues = []PredictedIssue{}
	}
	if r.LoadDistribution == nil {
		r.LoadDistribution = []LoadShare{}
	}
	if r.EarlyWarnings == nil {
		r.EarlyWarnings = []string{}
	}
	return dropped
}

// derivedID is stable for the same content so re-applying an identical
// response yields identical IDs.
func derivedID(parts ...string) string {
	name := ""
	for _, p := range parts {
		name += p + "\x00"
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
