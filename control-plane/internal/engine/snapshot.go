package engine

import (
	"context"
	"time"

	"github.com/pilot-net/selfheal/control-plane/internal/health"
	"github.com/pilot-net/selfheal/pkg/types"
)

// Flags are the operator toggles.
type Flags struct {
	Monitoring  bool `json:"monitoring"`
	AutoRepair  bool `json:"auto_repair"`
	AutoPrevent bool `json:"auto_prevent"`
}

// Snapshot is a consistent copy of the emitted engine state.
type Snapshot struct {
	Components     []types.Component        `json:"components"`
	Issues         []types.Issue            `json:"issues"`
	Actions        []types.PreventiveAction `json:"preventive_actions"`
	RepairLog      []types.RepairLogEntry   `json:"repair_log"`
	SuccessRate    int                      `json:"success_rate"`
	Alerts         []types.Alert            `json:"alerts"`
	SystemHealth   int                      `json:"system_health"`
	Prediction     Prediction               `json:"prediction"`
	Flags          Flags                    `json:"flags"`
	RepairInFlight string                   `json:"repair_in_flight,omitempty"`
	Tasks          []types.TaskInfo         `json:"tasks"`
	LastDiagnosis  *time.Time               `json:"last_diagnosis,omitempty"`
	GeneratedAt    time.Time                `json:"generated_at"`
}

// Snapshot returns the current state. Components without an oracle score
// get a computed one.
func (e *Engine) Snapshot() Snapshot {
	// Task records are read before taking mu; see the lock order.
	tasks := make([]types.TaskInfo, 0, 2)
	for _, l := range []interface {
		LastTask() (types.TaskInfo, bool)
	}{e.diagnosis, e.prediction} {
		if t, ok := l.LastTask(); ok {
			tasks = append(tasks, t)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	components := make([]types.Component, len(e.components))
	for i, c := range e.components {
		c = cloneComponent(c)
		if c.HealthScore == nil {
			c.HealthScore = types.IntPtr(health.Score(c))
		}
		components[i] = c
	}

	s := Snapshot{
		Components:   components,
		Issues:       e.registry.Issues(),
		Actions:      e.registry.Actions(),
		RepairLog:    e.audit.Entries(),
		SuccessRate:  e.audit.SuccessRate(),
		Alerts:       health.Alerts(e.components),
		SystemHealth: e.systemHealth,
		Prediction:   e.forecastCopy(),
		Flags: Flags{
			Monitoring:  e.monitoring,
			AutoRepair:  e.autoRepair,
			AutoPrevent: e.autoPrevent,
		},
		Tasks:       tasks,
		GeneratedAt: time.Now(),
	}
	if id, busy := e.gate.InFlight(); busy {
		s.RepairInFlight = id
	}
	if e.lastDiagnosis != nil {
		t := *e.lastDiagnosis
		s.LastDiagnosis = &t
	}
	return s
}

func (e *Engine) forecastCopy() Prediction {
	p := Prediction{
		PredictedIssues:  append([]types.PredictedIssue{}, e.forecast.PredictedIssues...),
		LoadDistribution: append([]types.LoadShare{}, e.forecast.LoadDistribution...),
		EarlyWarnings:    append([]string{}, e.forecast.EarlyWarnings...),
	}
	if e.forecast.SystemHealthPrediction != nil {
		p.SystemHealthPrediction = types.IntPtr(*e.forecast.SystemHealthPrediction)
	}
	if e.forecast.UpdatedAt != nil {
		t := *e.forecast.UpdatedAt
		p.UpdatedAt = &t
	}
	return p
}

// Flags returns the current toggles.
func (e *Engine) Flags() Flags {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Flags{Monitoring: e.monitoring, AutoRepair: e.autoRepair, AutoPrevent: e.autoPrevent}
}

// Health summarizes the engine for the infrastructure health endpoint.
func (e *Engine) Health() types.EngineHealth {
	diagRunning := e.diagnosis.Running()
	predRunning := e.prediction.Running()

	e.mu.Lock()
	defer e.mu.Unlock()

	h := types.EngineHealth{
		Components:        len(e.components),
		OpenIssues:        e.registry.Len(),
		AuditEntries:      e.audit.Len(),
		SuccessRate:       e.audit.SuccessRate(),
		SystemHealth:      e.systemHealth,
		DiagnosisRunning:  diagRunning,
		PredictionRunning: predRunning,
	}
	for _, a := range e.registry.Actions() {
		if a.Status == types.ActionPending {
			h.PendingActions++
		}
	}
	if id, busy := e.gate.InFlight(); busy {
		h.RepairInFlight = id
	}
	if e.lastDiagnosis != nil {
		t := *e.lastDiagnosis
		h.LastDiagnosis = &t
	}
	return h
}

// =============================================================================
// CHANGE NOTIFICATION
// =============================================================================

// Subscribe returns a channel that receives a value after state changes.
// Notifications coalesce: a slow reader sees at least one signal after the
// latest change. Call the returned function to unsubscribe.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	e.subsMu.Lock()
	e.subs[ch] = struct{}{}
	e.subsMu.Unlock()

	return ch, func() {
		e.subsMu.Lock()
		delete(e.subs, ch)
		e.subsMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch calls fn with a fresh snapshot after every change until ctx is
// done. Bursts of changes closer than minGap are folded into one call.
func (e *Engine) Watch(ctx context.Context, minGap time.Duration, fn func(Snapshot)) {
	ch, unsubscribe := e.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
		if minGap > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(minGap):
			}
		}
		fn(e.Snapshot())
	}
}
