// Package policy decides which issue may be repaired autonomously and
// guarantees that at most one repair runs at a time.
//
// # Selection
//
// SelectNext returns the first issue, in diagnosis order, that is marked
// auto-repairable and is not critical. Critical issues always need a human
// to trigger the repair.
//
// # Single-flight
//
// Gate is held for the whole lifetime of a repair. Callers acquire it
// before selecting, so a selection that would start a second concurrent
// repair is never evaluated.
package policy

import (
	"sync"

	"github.com/pilot-net/selfheal/pkg/types"
)

// SelectNext picks the next issue for autonomous repair.
func SelectNext(issues []types.Issue, autoRepair bool) (types.Issue, bool) {
	if !autoRepair {
		return types.Issue{}, false
	}
	for _, issue := range issues {
		if Eligible(issue) {
			return issue, true
		}
	}
	return types.Issue{}, false
}

// Eligible reports whether an issue may be repaired without a human.
func Eligible(issue types.Issue) bool {
	return issue.AutoRepairable && issue.Severity != types.SeverityCritical
}

// Gate allows one holder at a time.
type Gate struct {
	mu     sync.Mutex
	holder string
	held   bool
}

// TryAcquire takes the gate for id. It returns false, without blocking,
// when another repair already holds it.
func (g *Gate) TryAcquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return false
	}
	g.held = true
	g.holder = id
	return true
}

// Release frees the gate. Releasing a free gate is a no-op.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.held = false
	g.holder = ""
}

// InFlight returns the current holder, if any.
func (g *Gate) InFlight() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.holder, g.held
}
