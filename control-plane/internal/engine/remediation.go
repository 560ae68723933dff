package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pilot-net/selfheal/control-plane/internal/executor"
	"github.com/pilot-net/selfheal/control-plane/internal/policy"
	"github.com/pilot-net/selfheal/control-plane/internal/registry"
	"github.com/pilot-net/selfheal/pkg/types"
)

// =============================================================================
// ISSUE REPAIRS
// =============================================================================

// RepairIssue starts a manual repair. Unlike autonomous repair it accepts
// critical issues and issues not flagged auto-repairable.
func (e *Engine) RepairIssue(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return ErrShuttingDown
	}
	issue, ok := e.registry.Get(id)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	if !e.gate.TryAcquire(issue.ID) {
		holder, _ := e.gate.InFlight()
		e.mu.Unlock()
		e.rec.RepairIgnored()
		return fmt.Errorf("issue %s: %w (repairing %s)", id, ErrRepairInFlight, holder)
	}
	e.beginRepairLocked(issue)
	e.mu.Unlock()

	e.logger.Info("manual repair started", "issue_id", issue.ID, "component_id", issue.ComponentID)
	e.notify()
	return nil
}

// maybeAutoRepair starts the next eligible repair if auto-repair is on and
// no repair is in flight. Issues whose last repair failed wait for the next
// diagnosis.
func (e *Engine) maybeAutoRepair() {
	e.mu.Lock()
	if !e.autoRepair || e.stopping {
		e.mu.Unlock()
		return
	}
	if _, busy := e.gate.InFlight(); busy {
		e.mu.Unlock()
		e.rec.RepairIgnored()
		return
	}

	candidates := e.registry.Filter(func(i types.Issue) bool { return !e.failed[i.ID] })
	issue, ok := policy.SelectNext(candidates, true)
	if !ok || !e.gate.TryAcquire(issue.ID) {
		e.mu.Unlock()
		return
	}
	e.beginRepairLocked(issue)
	e.mu.Unlock()

	e.logger.Info("auto-repair started",
		"issue_id", issue.ID,
		"component_id", issue.ComponentID,
		"severity", issue.Severity,
	)
	e.notify()
}

// beginRepairLocked marks the target repairing and launches the work. The
// caller holds the gate for issue.
func (e *Engine) beginRepairLocked(issue types.Issue) {
	e.registry.Protect(issue.ID)
	if i, ok := e.index[issue.ComponentID]; ok {
		c := &e.components[i]
		e.restore[c.ID] = c.Status
		c.Status = types.ComponentRepairing
	}

	e.wg.Add(1)
	go e.runRepair(issue)
}

func (e *Engine) runRepair(issue types.Issue) {
	defer e.wg.Done()

	ctx := e.context()
	result := e.exec.Run(ctx, executor.Job{
		ID:          issue.ID,
		Kind:        types.JobRepair,
		Title:       issue.Title,
		ComponentID: issue.ComponentID,
		Steps:       issue.RepairSteps,
	})
	cancelled := interrupted(ctx, result)

	e.mu.Lock()
	e.registry.Unprotect(issue.ID)
	if i, ok := e.index[issue.ComponentID]; ok {
		c := &e.components[i]
		if result.Success() {
			c.Status = types.ComponentHealthy
		} else if prev, ok := e.restore[c.ID]; ok && prev != types.ComponentRepairing {
			c.Status = prev
		} else {
			c.Status = types.ComponentWarning
		}
		delete(e.restore, c.ID)
	}
	switch {
	case result.Success():
		e.registry.Remove(issue.ID)
	case !cancelled:
		e.failed[issue.ID] = true
	}
	if !cancelled {
		e.audit.Append(e.logEntry(issue.Title, issue.ID, issue.ComponentID, types.JobRepair, result))
	}
	e.gate.Release()
	e.mu.Unlock()

	if cancelled {
		e.logger.Info("repair cancelled", "issue_id", issue.ID, "component_id", issue.ComponentID)
		e.notify()
		return
	}

	e.rec.RepairFinished(types.JobRepair, result.Outcome, result.Duration)
	if result.Success() {
		e.logger.Info("repair succeeded", "issue_id", issue.ID, "component_id", issue.ComponentID)
	} else {
		e.logger.Warn("repair failed", "issue_id", issue.ID, "component_id", issue.ComponentID, "error", result.Err)
	}
	e.notify()

	// Explicit re-evaluation now that the gate is free.
	e.maybeAutoRepair()
}

// =============================================================================
// PREVENTIVE ACTIONS
// =============================================================================

// executeAction starts a preventive action by ID. Executing or completed
// actions are left untouched.
func (e *Engine) executeAction(id string) error {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return ErrShuttingDown
	}
	action, ok := e.registry.Action(id)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("action %s: %w", id, ErrNotFound)
	}
	if err := e.registry.TransitionAction(id, types.ActionExecuting); err != nil {
		e.mu.Unlock()
		if errors.Is(err, registry.ErrInvalidTransition) {
			return fmt.Errorf("action %s is %s: %w", id, action.Status, ErrNotExecutable)
		}
		return err
	}
	delete(e.queued, id)
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("preventive action started", "action_id", id, "action", action.Action)
	e.notify()

	go func() {
		defer e.wg.Done()
		e.runPreventive(e.context(), actionJob(action))
	}()
	return nil
}

// dispatchPreventive releases a staggered batch of the pending
// high-priority auto-executable actions when auto-prevent is on.
func (e *Engine) dispatchPreventive() {
	e.mu.Lock()
	if !e.autoPrevent || e.stopping {
		e.mu.Unlock()
		return
	}
	var jobs []executor.Job
	for _, a := range e.registry.Actions() {
		if a.AutoExecutable && a.Priority == types.PriorityHigh &&
			a.Status == types.ActionPending && !e.queued[a.ID] {
			e.queued[a.ID] = true
			jobs = append(jobs, actionJob(a))
		}
	}
	if len(jobs) == 0 {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("dispatching preventive batch", "actions", len(jobs), "stagger", e.cfg.StaggerInterval)

	go func() {
		defer e.wg.Done()
		e.exec.Stagger(e.context(), jobs, e.cfg.StaggerInterval, e.startQueued)
		e.clearQueued(jobs)
	}()
}

// startQueued runs a batched action once its stagger slot arrives, unless
// it was started manually in the meantime.
func (e *Engine) startQueued(ctx context.Context, job executor.Job) {
	e.mu.Lock()
	delete(e.queued, job.ID)
	err := ErrShuttingDown
	if !e.stopping {
		err = e.registry.TransitionAction(job.ID, types.ActionExecuting)
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Debug("skipping queued action", "action_id", job.ID, "error", err)
		return
	}
	e.notify()
	e.runPreventive(ctx, job)
}

func (e *Engine) clearQueued(jobs []executor.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range jobs {
		delete(e.queued, j.ID)
	}
}

// runPreventive executes an action already marked executing.
func (e *Engine) runPreventive(ctx context.Context, job executor.Job) {
	result := e.exec.Run(ctx, job)
	if interrupted(ctx, result) {
		// The action stays executing.
		e.logger.Info("preventive action cancelled", "action_id", job.ID)
		return
	}

	next := types.ActionCompleted
	if !result.Success() {
		next = types.ActionFailed
	}

	e.mu.Lock()
	if err := e.registry.TransitionAction(job.ID, next); err != nil {
		e.logger.Warn("preventive action status not updated", "action_id", job.ID, "error", err)
	}
	e.audit.Append(e.logEntry(job.Title, job.ID, job.ComponentID, types.JobPreventive, result))
	e.mu.Unlock()

	e.rec.RepairFinished(types.JobPreventive, result.Outcome, result.Duration)
	e.logger.Info("preventive action finished", "action_id", job.ID, "outcome", result.Outcome)
	e.notify()
}

// interrupted reports whether a job failed only because ctx ended.
func interrupted(ctx context.Context, r executor.Result) bool {
	return !r.Success() && ctx.Err() != nil && errors.Is(r.Err, ctx.Err())
}

func actionJob(a types.PreventiveAction) executor.Job {
	return executor.Job{
		ID:          a.ID,
		Kind:        types.JobPreventive,
		Title:       a.Action,
		ComponentID: a.Target,
	}
}

func (e *Engine) logEntry(title, subjectID, componentID string, kind types.JobKind, r executor.Result) types.RepairLogEntry {
	entry := types.RepairLogEntry{
		ID:             uuid.New().String(),
		Title:          title,
		SubjectID:      subjectID,
		ComponentID:    componentID,
		Kind:           kind,
		Outcome:        r.Outcome,
		Timestamp:      e.exec.Clock().Now(),
		StepsCompleted: r.StepsCompleted,
	}
	if r.Err != nil {
		entry.ErrorReason = r.Err.Error()
	}
	return entry
}
