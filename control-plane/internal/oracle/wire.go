package oracle

import (
	"time"

	"github.com/pilot-net/selfheal/pkg/types"
)

// =============================================================================
// WIRE FORMAT
// =============================================================================

// The remote oracle speaks camelCase JSON. The structs below mirror that
// shape and are converted to and from pkg/types at the client boundary so
// the rest of the control plane keeps its own field names.

type wireTelemetry struct {
	SignalStrength *int           `json:"signalStrength,omitempty"`
	BatteryLevel   *int           `json:"batteryLevel,omitempty"`
	UptimePercent  *int           `json:"uptimePercent,omitempty"`
	LastSeenBucket types.LastSeen `json:"lastSeenBucket"`
}

type wireComponent struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Kind        types.ComponentKind   `json:"kind,omitempty"`
	Status      types.ComponentStatus `json:"status"`
	HealthScore int                   `json:"healthScore"`
	Telemetry   wireTelemetry         `json:"telemetry"`
}

type wireAgent struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	SuccessRate int     `json:"successRate"`
	QueueDepth  int     `json:"queueDepth"`
	CPUPercent  float64 `json:"cpuPercent,omitempty"`
}

type wireRequest struct {
	Components   []wireComponent `json:"components"`
	AgentMetrics []wireAgent     `json:"agentMetrics,omitempty"`
	RequestedAt  time.Time       `json:"requestedAt"`
}

type wireIssue struct {
	ID                  string         `json:"id"`
	ComponentID         string         `json:"componentId"`
	Severity            types.Severity `json:"severity"`
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	RootCause           string         `json:"rootCause"`
	AutoRepairable      bool           `json:"autoRepairable"`
	RepairSteps         []string       `json:"repairSteps"`
	EstimatedRepairTime string         `json:"estimatedRepairTime"`
	Impact              string         `json:"impact"`
}

type wireStatus struct {
	ID          string                `json:"id"`
	Status      types.ComponentStatus `json:"status"`
	HealthScore *int                  `json:"healthScore"`
	LastCheck   *time.Time            `json:"lastCheck"`
}

type wireAction struct {
	ID              string         `json:"id"`
	Action          string         `json:"action"`
	Priority        types.Priority `json:"priority"`
	Target          string         `json:"target"`
	ExpectedBenefit string         `json:"expectedBenefit"`
	AutoExecutable  bool           `json:"autoExecutable"`
}

type wirePrediction struct {
	Type              string         `json:"type"`
	Probability       int            `json:"probability"`
	Severity          types.Severity `json:"severity"`
	ExpectedTime      string         `json:"expectedTime"`
	AffectedComponent string         `json:"affectedComponent"`
	Description       string         `json:"description"`
}

type wireLoadShare struct {
	Target          string `json:"target"`
	CurrentLoad     int    `json:"currentLoad"`
	RecommendedLoad int    `json:"recommendedLoad"`
}

type wireResponse struct {
	SystemHealth           int              `json:"systemHealth"`
	Issues                 []wireIssue      `json:"issues"`
	ComponentStatus        []wireStatus     `json:"componentStatus"`
	PreventiveActions      []wireAction     `json:"preventiveActions"`
	PredictedIssues        []wirePrediction `json:"predictedIssues"`
	LoadDistribution       []wireLoadShare  `json:"loadDistribution"`
	EarlyWarnings          []string         `json:"earlyWarnings"`
	SystemHealthPrediction *int             `json:"systemHealthPrediction"`
}

func toWireRequest(req types.DiagnosisRequest) wireRequest {
	out := wireRequest{
		Components:  make([]wireComponent, 0, len(req.Components)),
		RequestedAt: req.RequestedAt,
	}
	for _, c := range req.Components {
		out.Components = append(out.Components, wireComponent{
			ID:          c.ID,
			Name:        c.Name,
			Kind:        c.Kind,
			Status:      c.Status,
			HealthScore: c.HealthScore,
			Telemetry: wireTelemetry{
				SignalStrength: c.Telemetry.SignalStrength,
				BatteryLevel:   c.Telemetry.BatteryLevel,
				UptimePercent:  c.Telemetry.UptimePercent,
				LastSeenBucket: c.Telemetry.LastSeen,
			},
		})
	}
	for _, a := range req.AgentMetrics {
		out.AgentMetrics = append(out.AgentMetrics, wireAgent(a))
	}
	return out
}

// response converts to the control-plane type. Absent collections stay nil;
// Normalize fills them.
func (w wireResponse) response() *types.DiagnosisResponse {
	out := &types.DiagnosisResponse{
		SystemHealth:           w.SystemHealth,
		EarlyWarnings:          w.EarlyWarnings,
		SystemHealthPrediction: w.SystemHealthPrediction,
	}
	for _, i := range w.Issues {
		out.Issues = append(out.Issues, types.Issue(i))
	}
	for _, s := range w.ComponentStatus {
		out.ComponentStatus = append(out.ComponentStatus, types.ComponentStatusUpdate(s))
	}
	for _, a := range w.PreventiveActions {
		out.PreventiveActions = append(out.PreventiveActions, types.PreventiveAction{
			ID:              a.ID,
			Action:          a.Action,
			Priority:        a.Priority,
			Target:          a.Target,
			ExpectedBenefit: a.ExpectedBenefit,
			AutoExecutable:  a.AutoExecutable,
		})
	}
	for _, p := range w.PredictedIssues {
		out.PredictedIssues = append(out.PredictedIssues, types.PredictedIssue(p))
	}
	for _, l := range w.LoadDistribution {
		out.LoadDistribution = append(out.LoadDistribution, types.LoadShare(l))
	}
	return out
}
