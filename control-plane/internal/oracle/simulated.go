package oracle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pilot-net/selfheal/control-plane/internal/health"
	"github.com/pilot-net/selfheal/pkg/types"
)

// Simulated is a deterministic rule-based oracle. It derives issues and
// recommendations from telemetry alone, so identical snapshots always get
// identical answers. Issue and action IDs are left empty and assigned by
// Normalize.
//
// Diagnosis rules:
//
//	offline                    -> critical "Component offline"
//	battery < 10               -> high     "Battery critically low"
//	battery < 20               -> medium   "Battery low"
//	0 < signal < 40            -> medium   "Weak signal"
//	uptime < 95                -> low      "Intermittent availability"
//
// Prediction rules:
//
//	battery < 15               -> high   "Enable power saving mode" (auto)
//	battery < 30               -> medium "Schedule battery replacement" (manual)
//	0 < signal < 50            -> high if < 30 else medium "Switch to backup channel" (auto)
//	uptime < 98                -> low    "Restart during maintenance window" (auto)
type Simulated struct {
	now func() time.Time
}

// NewSimulated creates a simulated oracle.
func NewSimulated() *Simulated {
	return &Simulated{now: time.Now}
}

// Diagnose applies the diagnosis rules to every component.
func (s *Simulated) Diagnose(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := s.now()
	resp := &types.DiagnosisResponse{
		SystemHealth:    systemHealth(req.Components),
		Issues:          []types.Issue{},
		ComponentStatus: make([]types.ComponentStatusUpdate, 0, len(req.Components)),
	}

	for _, c := range req.Components {
		if c.Status == types.ComponentRepairing {
			continue
		}
		score := checkedScore(c)
		status := health.StatusForScore(score)
		if c.Status == types.ComponentOffline {
			status = types.ComponentOffline
		}
		checked := now
		resp.ComponentStatus = append(resp.ComponentStatus, types.ComponentStatusUpdate{
			ID:          c.ID,
			Status:      status,
			HealthScore: types.IntPtr(score),
			LastCheck:   &checked,
		})

		resp.Issues = append(resp.Issues, diagnoseComponent(c)...)
	}
	return resp, nil
}

func diagnoseComponent(c types.ComponentSummary) []types.Issue {
	var issues []types.Issue
	t := c.Telemetry

	if c.Status == types.ComponentOffline {
		issues = append(issues, types.Issue{
			ComponentID:         c.ID,
			Severity:            types.SeverityCritical,
			Title:               "Component offline",
			Description:         fmt.Sprintf("%s has stopped reporting", label(c)),
			RootCause:           "Loss of power or upstream connectivity",
			AutoRepairable:      true,
			RepairSteps:         []string{"power cycle unit", "verify upstream link", "confirm telemetry resumes"},
			EstimatedRepairTime: "15 minutes",
			Impact:              "No telemetry or control for this component",
		})
		return issues
	}

	if t.BatteryLevel != nil && *t.BatteryLevel < 20 {
		sev, title := types.SeverityMedium, "Battery low"
		if *t.BatteryLevel < 10 {
			sev, title = types.SeverityHigh, "Battery critically low"
		}
		issues = append(issues, types.Issue{
			ComponentID:         c.ID,
			Severity:            sev,
			Title:               title,
			Description:         fmt.Sprintf("%s battery at %d%%", label(c), *t.BatteryLevel),
			RootCause:           "Battery discharge exceeds charging rate",
			AutoRepairable:      true,
			RepairSteps:         []string{"enable power saving mode", "reduce reporting frequency"},
			EstimatedRepairTime: "1 minute",
			Impact:              "Component may go offline",
		})
	}

	if t.SignalStrength != nil && *t.SignalStrength > 0 && *t.SignalStrength < 40 {
		issues = append(issues, types.Issue{
			ComponentID:         c.ID,
			Severity:            types.SeverityMedium,
			Title:               "Weak signal",
			Description:         fmt.Sprintf("%s signal at %d%%", label(c), *t.SignalStrength),
			RootCause:           "Interference or antenna misalignment",
			AutoRepairable:      true,
			RepairSteps:         []string{"rescan channels", "switch to backup antenna", "verify link quality"},
			EstimatedRepairTime: "2 minutes",
			Impact:              "Delayed or dropped telemetry",
		})
	}

	if t.UptimePercent != nil && *t.UptimePercent < 95 {
		issues = append(issues, types.Issue{
			ComponentID:         c.ID,
			Severity:            types.SeverityLow,
			Title:               "Intermittent availability",
			Description:         fmt.Sprintf("%s uptime at %d%%", label(c), *t.UptimePercent),
			RootCause:           "Repeated restarts",
			AutoRepairable:      true,
			RepairSteps:         []string{"collect crash logs", "restart service"},
			EstimatedRepairTime: "5 minutes",
			Impact:              "Gaps in service",
		})
	}
	return issues
}

// Predict applies the prediction rules to every reachable component.
func (s *Simulated) Predict(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	current := systemHealth(req.Components)
	resp := &types.DiagnosisResponse{
		SystemHealth:      current,
		Issues:            []types.Issue{},
		ComponentStatus:   []types.ComponentStatusUpdate{},
		PreventiveActions: []types.PreventiveAction{},
		PredictedIssues:   []types.PredictedIssue{},
		LoadDistribution:  loadDistribution(req.AgentMetrics),
		EarlyWarnings:     []string{},
	}

	for _, c := range req.Components {
		if c.Status == types.ComponentOffline {
			continue
		}
		t := c.Telemetry

		if t.BatteryLevel != nil && *t.BatteryLevel < 30 {
			if *t.BatteryLevel < 15 {
				resp.PreventiveActions = append(resp.PreventiveActions, types.PreventiveAction{
					Action:          "Enable power saving mode",
					Priority:        types.PriorityHigh,
					Target:          c.ID,
					ExpectedBenefit: "Extends battery life until replacement",
					AutoExecutable:  true,
				})
			}
			resp.PreventiveActions = append(resp.PreventiveActions, types.PreventiveAction{
				Action:          "Schedule battery replacement",
				Priority:        types.PriorityMedium,
				Target:          c.ID,
				ExpectedBenefit: "Avoids an outage",
				AutoExecutable:  false,
			})
			resp.PredictedIssues = append(resp.PredictedIssues, types.PredictedIssue{
				Type:              "battery_depletion",
				Probability:       clampPercent(100 - *t.BatteryLevel*3),
				Severity:          types.SeverityHigh,
				ExpectedTime:      fmt.Sprintf("%d hours", max(1, *t.BatteryLevel)),
				AffectedComponent: c.ID,
				Description:       fmt.Sprintf("%s battery will run out", label(c)),
			})
			resp.EarlyWarnings = append(resp.EarlyWarnings, fmt.Sprintf("%s battery at %d%%", label(c), *t.BatteryLevel))
		}

		if t.SignalStrength != nil && *t.SignalStrength > 0 && *t.SignalStrength < 50 {
			prio := types.PriorityMedium
			if *t.SignalStrength < 30 {
				prio = types.PriorityHigh
			}
			resp.PreventiveActions = append(resp.PreventiveActions, types.PreventiveAction{
				Action:          "Switch to backup channel",
				Priority:        prio,
				Target:          c.ID,
				ExpectedBenefit: "Restores link margin",
				AutoExecutable:  true,
			})
			resp.PredictedIssues = append(resp.PredictedIssues, types.PredictedIssue{
				Type:              "link_loss",
				Probability:       clampPercent(100 - *t.SignalStrength*2),
				Severity:          types.SeverityMedium,
				ExpectedTime:      "within 24 hours",
				AffectedComponent: c.ID,
			})
		}

		if t.UptimePercent != nil && *t.UptimePercent < 98 {
			resp.PreventiveActions = append(resp.PreventiveActions, types.PreventiveAction{
				Action:          "Restart during maintenance window",
				Priority:        types.PriorityLow,
				Target:          c.ID,
				ExpectedBenefit: "Clears accumulated faults",
				AutoExecutable:  true,
			})
		}
	}

	penalty := 0
	for _, a := range resp.PreventiveActions {
		if a.Priority == types.PriorityHigh {
			penalty += 3
		}
	}
	predicted := clampPercent(current - penalty)
	resp.SystemHealthPrediction = &predicted
	return resp, nil
}

// loadDistribution recommends an even spread of queued work across agents.
func loadDistribution(agents []types.AgentSummary) []types.LoadShare {
	shares := make([]types.LoadShare, 0, len(agents))
	if len(agents) == 0 {
		return shares
	}
	total := 0
	for _, a := range agents {
		total += a.QueueDepth
	}
	even := int(math.Round(float64(total) / float64(len(agents))))
	for _, a := range agents {
		shares = append(shares, types.LoadShare{
			Target:          a.ID,
			CurrentLoad:     a.QueueDepth,
			RecommendedLoad: even,
		})
	}
	return shares
}

// systemHealth is the mean score over all components, 100 when empty.
func systemHealth(components []types.ComponentSummary) int {
	if len(components) == 0 {
		return 100
	}
	sum := 0
	for _, c := range components {
		sum += c.HealthScore
	}
	return clampPercent(int(math.Round(float64(sum) / float64(len(components)))))
}

// checkedScore scores a component as it would be once checked. Pending
// components are scored on their telemetry.
func checkedScore(c types.ComponentSummary) int {
	status := c.Status
	if status == types.ComponentPending {
		status = types.ComponentHealthy
	}
	return health.Score(types.Component{ID: c.ID, Status: status, Telemetry: c.Telemetry})
}

func label(c types.ComponentSummary) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

func clampPercent(v int) int {
	return max(0, min(100, v))
}
