package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pilot-net/selfheal/control-plane/internal/health"
	"github.com/pilot-net/selfheal/control-plane/internal/scheduler"
	"github.com/pilot-net/selfheal/pkg/types"
)

// executorAgentID identifies the repair executor in agent metrics.
const executorAgentID = "repair-executor"

// =============================================================================
// DIAGNOSIS
// =============================================================================

func (e *Engine) fetchDiagnosis(ctx context.Context) (scheduler.Apply, error) {
	req := e.request()

	resp, err := e.oracle.Diagnose(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("diagnose: %w", err)
	}
	if resp == nil {
		resp = &types.DiagnosisResponse{}
	}
	if dropped := resp.Normalize(e.known()); dropped > 0 {
		e.logger.Warn("dropped issues for unknown components", "count", dropped)
	}

	return func() {
		e.mu.Lock()
		e.applyDiagnosisLocked(resp)
		e.mu.Unlock()

		e.notify()
		e.maybeAutoRepair()
	}, nil
}

// applyDiagnosisLocked commits a normalized diagnosis. Applying the same
// response twice leaves the state unchanged.
func (e *Engine) applyDiagnosisLocked(resp *types.DiagnosisResponse) {
	e.systemHealth = resp.SystemHealth

	for _, u := range resp.ComponentStatus {
		i, ok := e.index[u.ID]
		if !ok {
			continue
		}
		c := &e.components[i]

		status := u.Status
		if !status.Valid() || status == types.ComponentRepairing {
			status = ""
			if u.HealthScore != nil {
				status = health.StatusForScore(*u.HealthScore)
			}
		}

		switch {
		case status == "":
		case c.Status == types.ComponentRepairing:
			// The repair decides the final status; remember the verdict
			// in case it fails.
			e.restore[c.ID] = status
		default:
			c.Status = status
		}

		if u.HealthScore != nil {
			c.HealthScore = types.IntPtr(*u.HealthScore)
		}
		if u.LastCheck != nil {
			t := *u.LastCheck
			c.LastCheck = &t
		}
	}

	e.registry.ReplaceAll(resp.Issues)
	clear(e.failed)

	now := e.exec.Clock().Now()
	e.lastDiagnosis = &now

	e.logger.Info("diagnosis applied",
		"system_health", resp.SystemHealth,
		"issues", e.registry.Len(),
		"component_updates", len(resp.ComponentStatus),
	)
}

// =============================================================================
// PREDICTION
// =============================================================================

func (e *Engine) fetchPrediction(ctx context.Context) (scheduler.Apply, error) {
	req := e.request()

	resp, err := e.oracle.Predict(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if resp == nil {
		resp = &types.DiagnosisResponse{}
	}
	resp.Normalize(nil)

	return func() {
		e.mu.Lock()
		e.applyPredictionLocked(resp)
		e.mu.Unlock()

		e.notify()
		e.dispatchPreventive()
	}, nil
}

func (e *Engine) applyPredictionLocked(resp *types.DiagnosisResponse) {
	e.registry.ReplaceActions(resp.PreventiveActions)

	now := e.exec.Clock().Now()
	e.forecast = Prediction{
		PredictedIssues:  resp.PredictedIssues,
		LoadDistribution: resp.LoadDistribution,
		EarlyWarnings:    resp.EarlyWarnings,
		UpdatedAt:        &now,
	}
	if resp.SystemHealthPrediction != nil {
		e.forecast.SystemHealthPrediction = types.IntPtr(*resp.SystemHealthPrediction)
	}

	e.logger.Info("prediction applied",
		"actions", len(resp.PreventiveActions),
		"predicted_issues", len(resp.PredictedIssues),
		"early_warnings", len(resp.EarlyWarnings),
	)
}

// =============================================================================
// ORACLE REQUESTS
// =============================================================================

// request builds the oracle snapshot under the lock.
func (e *Engine) request() types.DiagnosisRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	components := make([]types.ComponentSummary, 0, len(e.components))
	for _, c := range e.components {
		components = append(components, types.ComponentSummary{
			ID:          c.ID,
			Name:        c.Name,
			Kind:        c.Kind,
			Status:      c.Status,
			HealthScore: scoreOf(c),
			Telemetry:   cloneComponent(c).Telemetry,
		})
	}

	status := "idle"
	depth := len(e.queued)
	if _, busy := e.gate.InFlight(); busy {
		status = "busy"
		depth++
	}

	return types.DiagnosisRequest{
		Components: components,
		AgentMetrics: []types.AgentSummary{{
			ID:          executorAgentID,
			Name:        "Repair executor",
			Status:      status,
			SuccessRate: e.audit.SuccessRate(),
			QueueDepth:  depth,
		}},
		RequestedAt: time.Now(),
	}
}

// known returns the set of roster IDs. The roster is static so no lock is
// needed.
func (e *Engine) known() map[string]bool {
	known := make(map[string]bool, len(e.index))
	for id := range e.index {
		known[id] = true
	}
	return known
}

// scoreOf returns the oracle's score, or the computed one when absent.
func scoreOf(c types.Component) int {
	if c.HealthScore != nil {
		return *c.HealthScore
	}
	return health.Score(c)
}
