// Package testutil provides testing utilities and fixtures for the control plane.
//
// This package contains:
//   - Test helper functions (loggers, clocks)
//   - Fixture factories for domain types (components, issues, actions, diagnoses)
//
// # Usage
//
// Fixtures use functional options for customization:
//
//	c := testutil.FixtureComponent()
//	c := testutil.FixtureComponent(func(c *types.Component) {
//		c.Name = "Traffic Signal 12"
//		c.Status = types.ComponentWarning
//	})
package testutil

import (
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pilot-net/selfheal/pkg/types"
)

// NewTestLogger returns a logger that discards all output.
// Use for tests where logging output is not needed.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewVerboseTestLogger returns a logger that writes to stderr.
// Use for debugging test failures.
func NewVerboseTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// =============================================================================
// COMPONENT FIXTURES
// =============================================================================

// FixtureComponent creates a healthy component with full telemetry.
func FixtureComponent(overrides ...func(*types.Component)) types.Component {
	c := types.Component{
		ID:     uuid.New().String(),
		Name:   "test-component-" + uuid.New().String()[:8],
		Kind:   types.KindDevice,
		Status: types.ComponentHealthy,
		Telemetry: types.Telemetry{
			SignalStrength: Ptr(90),
			BatteryLevel:   Ptr(85),
			UptimePercent:  Ptr(99),
			LastSeen:       types.LastSeenNow,
		},
	}

	for _, override := range overrides {
		override(&c)
	}

	return c
}

// FixtureComponentOffline creates an offline component.
func FixtureComponentOffline(overrides ...func(*types.Component)) types.Component {
	return FixtureComponent(append([]func(*types.Component){
		func(c *types.Component) {
			c.Status = types.ComponentOffline
			c.Telemetry.SignalStrength = Ptr(0)
			c.Telemetry.LastSeen = types.LastSeenHours
		},
	}, overrides...)...)
}

// FixtureComponentService creates a service component without telemetry.
func FixtureComponentService(overrides ...func(*types.Component)) types.Component {
	return FixtureComponent(append([]func(*types.Component){
		func(c *types.Component) {
			c.Kind = types.KindService
			c.Telemetry = types.Telemetry{LastSeen: types.LastSeenNow}
		},
	}, overrides...)...)
}

// =============================================================================
// ISSUE FIXTURES
// =============================================================================

// FixtureIssue creates an auto-repairable medium issue for componentID.
func FixtureIssue(componentID string, overrides ...func(*types.Issue)) types.Issue {
	issue := types.Issue{
		ID:                  uuid.New().String(),
		ComponentID:         componentID,
		Severity:            types.SeverityMedium,
		Title:               "Elevated packet loss",
		Description:         "Packet loss above 5% for the last 10 minutes",
		RootCause:           "Interference on the uplink",
		AutoRepairable:      true,
		RepairSteps:         []string{"reset radio", "re-associate uplink", "verify link"},
		EstimatedRepairTime: "2 minutes",
		Impact:              "Degraded telemetry delivery",
	}

	for _, override := range overrides {
		override(&issue)
	}

	return issue
}

// FixtureIssueCritical creates a critical issue.
func FixtureIssueCritical(componentID string, overrides ...func(*types.Issue)) types.Issue {
	return FixtureIssue(componentID, append([]func(*types.Issue){
		func(i *types.Issue) {
			i.Severity = types.SeverityCritical
			i.Title = "Controller unreachable"
		},
	}, overrides...)...)
}

// =============================================================================
// ACTION FIXTURES
// =============================================================================

// FixtureAction creates a pending, high-priority, auto-executable action.
func FixtureAction(target string, overrides ...func(*types.PreventiveAction)) types.PreventiveAction {
	action := types.PreventiveAction{
		ID:              uuid.New().String(),
		Action:          "Rotate logs",
		Priority:        types.PriorityHigh,
		Target:          target,
		ExpectedBenefit: "Avoid disk exhaustion",
		AutoExecutable:  true,
		Status:          types.ActionPending,
	}

	for _, override := range overrides {
		override(&action)
	}

	return action
}

// =============================================================================
// DIAGNOSIS FIXTURES
// =============================================================================

// FixtureDiagnosis creates a response reporting the given issues.
func FixtureDiagnosis(issues []types.Issue, overrides ...func(*types.DiagnosisResponse)) *types.DiagnosisResponse {
	resp := &types.DiagnosisResponse{
		SystemHealth:    87,
		Issues:          issues,
		ComponentStatus: []types.ComponentStatusUpdate{},
	}

	for _, override := range overrides {
		override(resp)
	}

	return resp
}

// =============================================================================
// FAKE CLOCK
// =============================================================================

// FakeClock is a manually advanced clock. It satisfies executor.Clock.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

// NewFakeClock creates a clock stopped at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once the clock has advanced by d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward and fires every due waiter, earliest first.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].at.Before(c.waiters[j].at)
	})

	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if w.at.After(c.now) {
			remaining = append(remaining, w)
			continue
		}
		w.ch <- c.now
	}
	c.waiters = remaining
}

// Waiters returns the number of pending After calls.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntil waits until at least n After calls are pending. It returns
// false if that does not happen within timeout.
func (c *FakeClock) BlockUntil(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Waiters() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Ptr returns a pointer to the given value.
// Useful for setting optional fields in fixtures.
func Ptr[T any](v T) *T {
	return &v
}

// Eventually polls cond until it is true or timeout elapses.
func Eventually(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
