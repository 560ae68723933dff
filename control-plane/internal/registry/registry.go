// Package registry holds the open issues and preventive actions.
//
// # Semantics
//
// A diagnosis is authoritative and total: ReplaceAll swaps the whole issue
// set rather than merging. An issue omitted by a new diagnosis is treated
// as resolved, with one exception: an issue that an in-flight repair is
// working on is protected and survives until the repair settles.
//
// Preventive actions are replaced by each prediction cycle, but an action
// keeps its status across replacements once it has started, so status
// never regresses.
//
// The registry is not safe for concurrent use. The engine serializes all
// access behind its own lock.
package registry

import (
	"errors"
	"fmt"

	"github.com/pilot-net/selfheal/pkg/types"
)

// ErrInvalidTransition is returned for a disallowed action status change.
var ErrInvalidTransition = errors.New("invalid action status transition")

// ErrActionNotFound is returned when an action ID is unknown.
var ErrActionNotFound = errors.New("preventive action not found")

// Registry stores issues and preventive actions in insertion order.
type Registry struct {
	issues    []types.Issue
	protected map[string]bool

	actions []types.PreventiveAction
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		issues:    []types.Issue{},
		protected: make(map[string]bool),
		actions:   []types.PreventiveAction{},
	}
}

// =============================================================================
// ISSUES
// =============================================================================

// ReplaceAll swaps the issue set for issues. Protected issues missing from
// the new set are carried over at the end, in their previous order.
func (r *Registry) ReplaceAll(issues []types.Issue) {
	next := make([]types.Issue, 0, len(issues))
	seen := make(map[string]bool, len(issues))
	for _, issue := range issues {
		if seen[issue.ID] {
			continue
		}
		seen[issue.ID] = true
		next = append(next, cloneIssue(issue))
	}

	for _, old := range r.issues {
		if r.protected[old.ID] && !seen[old.ID] {
			next = append(next, old)
		}
	}
	r.issues = next
}

// Remove deletes an issue by ID. It reports whether the issue existed.
func (r *Registry) Remove(id string) bool {
	for i, issue := range r.issues {
		if issue.ID == id {
			r.issues = append(r.issues[:i:i], r.issues[i+1:]...)
			delete(r.protected, id)
			return true
		}
	}
	return false
}

// Get returns an issue by ID.
func (r *Registry) Get(id string) (types.Issue, bool) {
	for _, issue := range r.issues {
		if issue.ID == id {
			return cloneIssue(issue), true
		}
	}
	return types.Issue{}, false
}

// Issues returns a copy of all open issues.
func (r *Registry) Issues() []types.Issue {
	return r.Filter(nil)
}

// Filter returns the issues matching pred, in order. A nil pred matches all.
func (r *Registry) Filter(pred func(types.Issue) bool) []types.Issue {
	out := make([]types.Issue, 0, len(r.issues))
	for _, issue := range r.issues {
		if pred == nil || pred(issue) {
			out = append(out, cloneIssue(issue))
		}
	}
	return out
}

// ByAutoRepairable returns auto-repairable issues, skipping those with the
// excluded severity. Pass "" to exclude nothing.
func (r *Registry) ByAutoRepairable(exclude types.Severity) []types.Issue {
	return r.Filter(func(i types.Issue) bool {
		return i.AutoRepairable && (exclude == "" || i.Severity != exclude)
	})
}

// Len returns the number of open issues.
func (r *Registry) Len() int {
	return len(r.issues)
}

// Protect shields an issue from removal by ReplaceAll.
func (r *Registry) Protect(id string) {
	r.protected[id] = true
}

// Unprotect lifts the shield set by Protect.
func (r *Registry) Unprotect(id string) {
	delete(r.protected, id)
}

// IsProtected reports whether the issue is shielded.
func (r *Registry) IsProtected(id string) bool {
	return r.protected[id]
}

// =============================================================================
// PREVENTIVE ACTIONS
// =============================================================================

// ReplaceActions swaps the action list. An action whose ID was already
// known keeps its status if it had left pending.
func (r *Registry) ReplaceActions(actions []types.PreventiveAction) {
	prev := make(map[string]types.ActionStatus, len(r.actions))
	for _, a := range r.actions {
		prev[a.ID] = a.Status
	}

	next := make([]types.PreventiveAction, 0, len(actions))
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		if a.Status == "" {
			a.Status = types.ActionPending
		}
		if old, ok := prev[a.ID]; ok && old != types.ActionPending {
			a.Status = old
		}
		next = append(next, a)
	}

	// Actions still executing are kept so their completion has a home.
	for _, a := range r.actions {
		if a.Status == types.ActionExecuting && !seen[a.ID] {
			next = append(next, a)
		}
	}
	r.actions = next
}

// Action returns a preventive action by ID.
func (r *Registry) Action(id string) (types.PreventiveAction, bool) {
	for _, a := range r.actions {
		if a.ID == id {
			return a, true
		}
	}
	return types.PreventiveAction{}, false
}

// Actions returns a copy of all preventive actions.
func (r *Registry) Actions() []types.PreventiveAction {
	out := make([]types.PreventiveAction, len(r.actions))
	copy(out, r.actions)
	return out
}

// TransitionAction moves an action to a new status.
//
// Allowed edges: pending→executing, failed→executing (manual retry),
// executing→completed, executing→failed.
func (r *Registry) TransitionAction(id string, to types.ActionStatus) error {
	for i := range r.actions {
		a := &r.actions[i]
		if a.ID != id {
			continue
		}
		if !validTransition(a.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
		}
		a.Status = to
		return nil
	}
	return ErrActionNotFound
}

func validTransition(from, to types.ActionStatus) bool {
	switch from {
	case types.ActionPending, types.ActionFailed:
		return to == types.ActionExecuting
	case types.ActionExecuting:
		return to == types.ActionCompleted || to == types.ActionFailed
	default:
		return false
	}
}

func cloneIssue(i types.Issue) types.Issue {
	if i.RepairSteps != nil {
		steps := make([]string, len(i.RepairSteps))
		copy(steps, i.RepairSteps)
		i.RepairSteps = steps
	}
	return i
}
