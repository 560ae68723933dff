package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilot-net/selfheal/control-plane/internal/audit"
	"github.com/pilot-net/selfheal/control-plane/internal/executor"
	"github.com/pilot-net/selfheal/control-plane/internal/oracle"
	"github.com/pilot-net/selfheal/control-plane/internal/testutil"
	"github.com/pilot-net/selfheal/pkg/types"
)

// =============================================================================
// HELPERS
// =============================================================================

type testEngine struct {
	*Engine
	clock *testutil.FakeClock
}

type engineOpts struct {
	roster   []types.Component
	oracle   oracle.Oracle
	outcome  executor.OutcomeFunc
	duration time.Duration
	realTime bool
	sink     audit.Sink
	config   func(*Config)
}

func newTestEngine(t *testing.T, o engineOpts) *testEngine {
	t.Helper()

	if o.roster == nil {
		o.roster = testRoster()
	}
	if o.oracle == nil {
		o.oracle = oracle.Func{}
	}
	if o.outcome == nil {
		o.outcome = func(executor.Job) bool { return true }
	}

	var clock executor.Clock
	var fake *testutil.FakeClock
	if o.realTime {
		clock = executor.RealClock
	} else {
		fake = testutil.NewFakeClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
		clock = fake
	}
	exec := executor.New(executor.Config{Duration: o.duration, Outcome: o.outcome, Clock: clock}, testutil.NewTestLogger())

	cfg := DefaultConfig()
	cfg.Monitoring = false
	if o.config != nil {
		o.config(&cfg)
	}

	e := New(cfg, o.roster, o.oracle, exec, Options{Sink: o.sink}, testutil.NewTestLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return &testEngine{Engine: e, clock: fake}
}

func testRoster() []types.Component {
	return []types.Component{
		testutil.FixtureComponent(func(c *types.Component) { c.ID = "c1"; c.Name = "Traffic Signal 1" }),
		testutil.FixtureComponent(func(c *types.Component) { c.ID = "c2"; c.Name = "Air Sensor 2" }),
		testutil.FixtureComponentService(func(c *types.Component) { c.ID = "c3"; c.Name = "Transit API" }),
	}
}

// diagnoses returns an oracle that answers Diagnose with a fresh copy of
// whatever build produces.
func diagnoses(build func() *types.DiagnosisResponse) oracle.Oracle {
	return oracle.Func{
		DiagnoseFunc: func(context.Context, types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
			return build(), nil
		},
	}
}

func issueOn(id, componentID string, sev types.Severity) types.Issue {
	return testutil.FixtureIssue(componentID, func(i *types.Issue) {
		i.ID = id
		i.Severity = sev
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	if !testutil.Eventually(cond, 2*time.Second) {
		t.Fatalf("timed out waiting for %s", what)
	}
}

func componentStatus(s Snapshot, id string) types.ComponentStatus {
	for _, c := range s.Components {
		if c.ID == id {
			return c.Status
		}
	}
	return ""
}

func hasIssue(s Snapshot, id string) bool {
	for _, i := range s.Issues {
		if i.ID == id {
			return true
		}
	}
	return false
}

func actionStatus(s Snapshot, id string) types.ActionStatus {
	for _, a := range s.Actions {
		if a.ID == id {
			return a.Status
		}
	}
	return ""
}

// =============================================================================
// DIAGNOSIS
// =============================================================================

func TestDiagnosis_AppliesAtomically(t *testing.T) {
	e := newTestEngine(t, engineOpts{
		oracle: diagnoses(func() *types.DiagnosisResponse {
			return testutil.FixtureDiagnosis(
				[]types.Issue{issueOn("i1", "c1", types.SeverityHigh), issueOn("ghost", "nope", types.SeverityLow)},
				func(r *types.DiagnosisResponse) {
					r.SystemHealth = 140
					r.ComponentStatus = []types.ComponentStatusUpdate{
						{ID: "c1", Status: types.ComponentWarning, HealthScore: types.IntPtr(62)},
						{ID: "c3", Status: "bogus", HealthScore: types.IntPtr(30)},
						{ID: "unknown", Status: types.ComponentCritical},
					}
				})
		}),
	})

	if err := e.RunDiagnosisNow(context.Background()); err != nil {
		t.Fatalf("RunDiagnosisNow() error = %v", err)
	}
	s := e.Snapshot()

	if s.SystemHealth != 100 {
		t.Errorf("SystemHealth = %d, want clamped 100", s.SystemHealth)
	}
	if got := componentStatus(s, "c1"); got != types.ComponentWarning {
		t.Errorf("c1 status = %s, want warning", got)
	}
	if got := componentStatus(s, "c2"); got != types.ComponentHealthy {
		t.Errorf("unmatched c2 status = %s, want unchanged healthy", got)
	}
	if got := componentStatus(s, "c3"); got != types.ComponentCritical {
		t.Errorf("c3 status = %s, want critical derived from score 30", got)
	}
	if len(s.Issues) != 1 || s.Issues[0].ID != "i1" {
		t.Errorf("issues = %+v, want only i1", s.Issues)
	}
	if s.LastDiagnosis == nil {
		t.Error("LastDiagnosis not set")
	}
}

func TestDiagnosis_Idempotent(t *testing.T) {
	checked := time.Date(2024, 3, 1, 7, 59, 0, 0, time.UTC)
	e := newTestEngine(t, engineOpts{
		oracle: diagnoses(func() *types.DiagnosisResponse {
			return testutil.FixtureDiagnosis(
				[]types.Issue{
					issueOn("i1", "c1", types.SeverityMedium),
					{ComponentID: "c2", Title: "No ID from oracle", Severity: "weird"},
				},
				func(r *types.DiagnosisResponse) {
					r.ComponentStatus = []types.ComponentStatusUpdate{
						{ID: "c1", Status: types.ComponentWarning, HealthScore: types.IntPtr(70), LastCheck: &checked},
					}
				})
		}),
	})

	ctx := context.Background()
	if err := e.RunDiagnosisNow(ctx); err != nil {
		t.Fatal(err)
	}
	first := e.Snapshot()
	if err := e.RunDiagnosisNow(ctx); err != nil {
		t.Fatal(err)
	}
	second := e.Snapshot()

	if !reflect.DeepEqual(first.Issues, second.Issues) {
		t.Errorf("issues changed on second apply:\n%+v\n%+v", first.Issues, second.Issues)
	}
	if !reflect.DeepEqual(first.Components, second.Components) {
		t.Errorf("components changed on second apply:\n%+v\n%+v", first.Components, second.Components)
	}
	for _, i := range second.Issues {
		if i.ID == "" {
			t.Error("issue without ID")
		}
		if !i.Severity.Valid() {
			t.Errorf("issue %s has invalid severity %q", i.ID, i.Severity)
		}
	}
}

func TestDiagnosis_FailureLeavesState(t *testing.T) {
	fail := atomic.Bool{}
	e := newTestEngine(t, engineOpts{
		oracle: oracle.Func{
			DiagnoseFunc: func(context.Context, types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
				if fail.Load() {
					return nil, fmt.Errorf("%w: connection refused", oracle.ErrUnavailable)
				}
				return testutil.FixtureDiagnosis([]types.Issue{issueOn("i1", "c1", types.SeverityLow)}), nil
			},
		},
	})

	ctx := context.Background()
	if err := e.RunDiagnosisNow(ctx); err != nil {
		t.Fatal(err)
	}
	before := e.Snapshot()

	fail.Store(true)
	err := e.RunDiagnosisNow(ctx)
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}

	after := e.Snapshot()
	if !reflect.DeepEqual(before.Issues, after.Issues) || before.SystemHealth != after.SystemHealth {
		t.Error("failed diagnosis mutated state")
	}
	if task := after.Tasks[0]; task.State != types.TaskFailed {
		t.Errorf("task state = %s, want failed", task.State)
	}
}

func TestDiagnosis_DiscardedAfterMonitoringStops(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	e := newTestEngine(t, engineOpts{
		oracle: oracle.Func{
			DiagnoseFunc: func(context.Context, types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
				entered <- struct{}{}
				<-release
				return testutil.FixtureDiagnosis([]types.Issue{issueOn("late", "c1", types.SeverityLow)}), nil
			},
		},
		config: func(c *Config) { c.Monitoring = true },
	})

	e.Start(context.Background())
	<-entered
	e.SetMonitoring(false)
	close(release)

	waitFor(t, "discarded task", func() bool {
		for _, task := range e.Snapshot().Tasks {
			if task.Name == LoopDiagnosis && task.State == types.TaskDiscarded {
				return true
			}
		}
		return false
	})
	if hasIssue(e.Snapshot(), "late") {
		t.Error("result applied after monitoring was stopped")
	}
	if e.Health().DiagnosisRunning {
		t.Error("diagnosis loop still running")
	}
}

// =============================================================================
// REPAIRS
// =============================================================================

func TestAutoRepair(t *testing.T) {
	e := newTestEngine(t, engineOpts{
		oracle: diagnoses(func() *types.DiagnosisResponse {
			return testutil.FixtureDiagnosis([]types.Issue{
				issueOn("crit", "c3", types.SeverityCritical),
				issueOn("fixme", "c1", types.SeverityMedium),
			}, func(r *types.DiagnosisResponse) {
				r.ComponentStatus = []types.ComponentStatusUpdate{{ID: "c1", Status: types.ComponentWarning}}
			})
		}),
		duration: 0,
		config:   func(c *Config) { c.AutoRepair = true },
	})

	if err := e.RunDiagnosisNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "repair to settle", func() bool {
		s := e.Snapshot()
		return !hasIssue(s, "fixme") && s.RepairInFlight == ""
	})

	s := e.Snapshot()
	if got := componentStatus(s, "c1"); got != types.ComponentHealthy {
		t.Errorf("c1 status = %s, want healthy after successful repair", got)
	}
	if !hasIssue(s, "crit") {
		t.Error("critical issue was auto-repaired")
	}
	if got := componentStatus(s, "c3"); got == types.ComponentRepairing {
		t.Error("critical issue's component entered repairing")
	}
	if len(s.RepairLog) != 1 || s.RepairLog[0].Outcome != types.OutcomeSuccess || s.RepairLog[0].Kind != types.JobRepair {
		t.Errorf("repair log = %+v", s.RepairLog)
	}
	if s.SuccessRate != 100 {
		t.Errorf("SuccessRate = %d, want 100", s.SuccessRate)
	}
}

func TestRepairIssue_FailureRestoresStatus(t *testing.T) {
	e := newTestEngine(t, engineOpts{
		oracle: diagnoses(func() *types.DiagnosisResponse {
			return testutil.FixtureDiagnosis([]types.Issue{issueOn("i1", "c1", types.SeverityCritical)},
				func(r *types.DiagnosisResponse) {
					r.ComponentStatus = []types.ComponentStatusUpdate{{ID: "c1", Status: types.ComponentCritical}}
				})
		}),
		outcome: func(executor.Job) bool { return false },
	})

	ctx := context.Background()
	if err := e.RunDiagnosisNow(ctx); err != nil {
		t.Fatal(err)
	}
	// Manual repair accepts critical issues.
	if err := e.RepairIssue(ctx, "i1"); err != nil {
		t.Fatalf("RepairIssue() error = %v", err)
	}

	waitFor(t, "repair to settle", func() bool { return e.Snapshot().RepairInFlight == "" })

	s := e.Snapshot()
	if got := componentStatus(s, "c1"); got != types.ComponentCritical {
		t.Errorf("c1 status = %s, want critical restored", got)
	}
	if !hasIssue(s, "i1") {
		t.Error("issue closed after failed repair")
	}
	if len(s.RepairLog) != 1 || s.RepairLog[0].Outcome != types.OutcomeFailed || s.RepairLog[0].ErrorReason == "" {
		t.Errorf("repair log = %+v", s.RepairLog)
	}
	if s.SuccessRate != 0 {
		t.Errorf("SuccessRate = %d, want 0", s.SuccessRate)
	}
}

func TestRepairIssue_SingleFlight(t *testing.T) {
	e := newTestEngine(t, engineOpts{
		oracle: diagnoses(func() *types.DiagnosisResponse {
			return testutil.FixtureDiagnosis([]types.Issue{
				issueOn("a", "c1", types.SeverityLow),
				issueOn("b", "c2", types.SeverityLow),
			})
		}),
		duration: 2 * time.Second,
	})

	ctx := context.Background()
	if err := e.RunDiagnosisNow(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.RepairIssue(ctx, "a"); err != nil {
		t.Fatalf("RepairIssue(a) error = %v", err)
	}
	if err := e.ExecuteAction(ctx, "b"); !errors.Is(err, ErrRepairInFlight) {
		t.Errorf("ExecuteAction(b) error = %v, want ErrRepairInFlight", err)
	}
	if err := e.RepairIssue(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RepairIssue(missing) error = %v, want ErrNotFound", err)
	}

	s := e.Snapshot()
	if s.RepairInFlight != "a" || componentStatus(s, "c1") != types.ComponentRepairing {
		t.Errorf("in flight = %q, c1 = %s", s.RepairInFlight, componentStatus(s, "c1"))
	}
	if componentStatus(s, "c2") == types.ComponentRepairing {
		t.Error("second component entered repairing")
	}

	if !e.clock.BlockUntil(1, time.Second) {
		t.Fatal("repair never started waiting")
	}
	e.clock.Advance(2 * time.Second)
	waitFor(t, "repair to settle", func() bool { return e.Snapshot().RepairInFlight == "" })

	if err := e.RepairIssue(ctx, "b"); err != nil {
		t.Errorf("RepairIssue(b) after settle error = %v", err)
	}
}

func TestAutoRepair_FailedIssueWaitsForNextDiagnosis(t *testing.T) {
	e := newTestEngine(t, engineOpts{
		oracle: diagnoses(func() *types.DiagnosisResponse {
			return testutil.FixtureDiagnosis([]types.Issue{
				issueOn("i1", "c1", types.SeverityMedium),
				issueOn("i2", "c2", types.SeverityMedium),
			})
		}),
		outcome: func(executor.Job) bool { return false },
		config:  func(c *Config) { c.AutoRepair = true },
	})

	ctx := context.Background()
	if err := e.RunDiagnosisNow(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "both repairs to fail", func() bool {
		s := e.Snapshot()
		return len(s.RepairLog) == 2 && s.RepairInFlight == ""
	})

	// Nothing is retried until the issue set is replaced.
	time.Sleep(20 * time.Millisecond)
	s := e.Snapshot()
	if len(s.RepairLog) != 2 || s.RepairInFlight != "" {
		t.Fatalf("repairs retried before the next diagnosis: log = %d, in flight = %q", len(s.RepairLog), s.RepairInFlight)
	}
	if !hasIssue(s, "i1") || !hasIssue(s, "i2") {
		t.Error("failed issues were closed")
	}

	if err := e.RunDiagnosisNow(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second round of repairs", func() bool {
		s := e.Snapshot()
		return len(s.RepairLog) == 4 && s.RepairInFlight == ""
	})
}

func TestEmptyDiagnosis_RestoresRepairingComponents(t *testing.T) {
	tests := []struct {
		name       string
		success    bool
		wantStatus types.ComponentStatus
		wantIssue  bool
	}{
		{"repair succeeds", true, types.ComponentHealthy, false},
		{"repair fails", false, types.ComponentCritical, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var empty atomic.Bool
			e := newTestEngine(t, engineOpts{
				oracle: diagnoses(func() *types.DiagnosisResponse {
					if empty.Load() {
						return testutil.FixtureDiagnosis(nil, func(r *types.DiagnosisResponse) {
							r.ComponentStatus = []types.ComponentStatusUpdate{{ID: "c1", Status: types.ComponentCritical}}
						})
					}
					return testutil.FixtureDiagnosis([]types.Issue{issueOn("i1", "c1", types.SeverityHigh)})
				}),
				outcome:  func(executor.Job) bool { return tt.success },
				duration: 2 * time.Second,
			})

			ctx := context.Background()
			if err := e.RunDiagnosisNow(ctx); err != nil {
				t.Fatal(err)
			}
			if err := e.RepairIssue(ctx, "i1"); err != nil {
				t.Fatal(err)
			}

			empty.Store(true)
			if err := e.RunDiagnosisNow(ctx); err != nil {
				t.Fatal(err)
			}
			s := e.Snapshot()
			if componentStatus(s, "c1") != types.ComponentRepairing {
				t.Errorf("c1 status during repair = %s, want repairing", componentStatus(s, "c1"))
			}
			if !hasIssue(s, "i1") {
				t.Error("in-flight issue removed by empty diagnosis")
			}

			if !e.clock.BlockUntil(1, time.Second) {
				t.Fatal("repair never started waiting")
			}
			e.clock.Advance(2 * time.Second)
			waitFor(t, "repair to settle", func() bool { return e.Snapshot().RepairInFlight == "" })

			s = e.Snapshot()
			for _, c := range s.Components {
				if c.Status == types.ComponentRepairing {
					t.Errorf("component %s stuck in repairing", c.ID)
				}
			}
			if got := componentStatus(s, "c1"); got != tt.wantStatus {
				t.Errorf("c1 status = %s, want %s", got, tt.wantStatus)
			}
			if hasIssue(s, "i1") != tt.wantIssue {
				t.Errorf("issue open = %v, want %v", hasIssue(s, "i1"), tt.wantIssue)
			}
		})
	}
}

// TestAutoRepair_AtMostOneRepairing drives diagnoses, manual repairs and
// toggles from several goroutines with random timing and samples the
// state continuously.
func TestAutoRepair_AtMostOneRepairing(t *testing.T) {
	roster := make([]types.Component, 6)
	for i := range roster {
		id := fmt.Sprintf("c%d", i)
		roster[i] = testutil.FixtureComponent(func(c *types.Component) { c.ID = id })
	}

	e := newTestEngine(t, engineOpts{
		roster: roster,
		oracle: diagnoses(func() *types.DiagnosisResponse {
			issues := make([]types.Issue, 0, len(roster))
			for i := range roster {
				issues = append(issues, issueOn(fmt.Sprintf("i%d", i), fmt.Sprintf("c%d", i), types.SeverityMedium))
			}
			return testutil.FixtureDiagnosis(issues)
		}),
		outcome:  func(executor.Job) bool { return rand.Intn(2) == 0 },
		duration: 500 * time.Microsecond,
		realTime: true,
		config:   func(c *Config) { c.AutoRepair = true },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for ctx.Err() == nil {
				switch rng.Intn(4) {
				case 0:
					_ = e.RunDiagnosisNow(ctx)
				case 1:
					_ = e.RepairIssue(ctx, fmt.Sprintf("i%d", rng.Intn(len(roster))))
				case 2:
					e.SetAutoRepair(rng.Intn(3) > 0)
				default:
					time.Sleep(time.Duration(rng.Intn(300)) * time.Microsecond)
				}
			}
		}(int64(w))
	}

	var maxRepairing int
	for ctx.Err() == nil {
		n := 0
		for _, c := range e.Snapshot().Components {
			if c.Status == types.ComponentRepairing {
				n++
			}
		}
		maxRepairing = max(maxRepairing, n)
	}
	wg.Wait()

	if maxRepairing > 1 {
		t.Errorf("observed %d components repairing at once, want at most 1", maxRepairing)
	}
}

// =============================================================================
// SHUTDOWN
// =============================================================================

func TestShutdown_CancelsRepairWithoutRetry(t *testing.T) {
	e := newTestEngine(t, engineOpts{
		oracle: diagnoses(func() *types.DiagnosisResponse {
			return testutil.FixtureDiagnosis([]types.Issue{issueOn("i1", "c1", types.SeverityMedium)},
				func(r *types.DiagnosisResponse) {
					r.ComponentStatus = []types.ComponentStatusUpdate{{ID: "c1", Status: types.ComponentWarning}}
				})
		}),
		duration: 200 * time.Millisecond,
		realTime: true,
		config:   func(c *Config) { c.AutoRepair = true },
	})
	e.Start(context.Background())

	if err := e.RunDiagnosisNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.Snapshot().RepairInFlight != "i1" {
		t.Fatal("auto-repair did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	s := e.Snapshot()
	if len(s.RepairLog) != 0 {
		t.Errorf("cancelled repair recorded: %+v", s.RepairLog)
	}
	if s.RepairInFlight != "" {
		t.Errorf("RepairInFlight = %q after shutdown", s.RepairInFlight)
	}
	if !hasIssue(s, "i1") {
		t.Error("issue closed by a cancelled repair")
	}
	if got := componentStatus(s, "c1"); got != types.ComponentWarning {
		t.Errorf("c1 status = %s, want warning restored", got)
	}

	if err := e.RepairIssue(context.Background(), "i1"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("RepairIssue() after shutdown error = %v, want ErrShuttingDown", err)
	}
}

// blockingSink holds every write until release is closed.
type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	ids     []string
}

func (b *blockingSink) RecordRepair(ctx context.Context, entry types.RepairLogEntry) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	b.ids = append(b.ids, entry.SubjectID)
	b.mu.Unlock()
	return nil
}

func TestShutdown_WaitsForAuditSink(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	e := newTestEngine(t, engineOpts{
		oracle: diagnoses(func() *types.DiagnosisResponse {
			return testutil.FixtureDiagnosis([]types.Issue{issueOn("i1", "c1", types.SeverityLow)})
		}),
		sink: sink,
	})

	ctx := context.Background()
	if err := e.RunDiagnosisNow(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.RepairIssue(ctx, "i1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "repair to settle", func() bool { return len(e.Snapshot().RepairLog) == 1 })

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	err := e.Shutdown(short)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() with blocked sink error = %v, want deadline exceeded", err)
	}

	close(sink.release)
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.ids) != 1 || sink.ids[0] != "i1" {
		t.Errorf("sink received %v, want [i1]", sink.ids)
	}
}

// =============================================================================
// PREVENTIVE ACTIONS
// =============================================================================

func predictions(actions ...types.PreventiveAction) oracle.Oracle {
	return oracle.Func{
		PredictFunc: func(context.Context, types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
			return &types.DiagnosisResponse{
				SystemHealth:           80,
				PreventiveActions:      append([]types.PreventiveAction(nil), actions...),
				EarlyWarnings:          []string{"battery trending down"},
				SystemHealthPrediction: types.IntPtr(74),
			}, nil
		},
	}
}

func TestAutoPrevent_StaggersHighPriority(t *testing.T) {
	var (
		mu      sync.Mutex
		started = map[string]time.Time{}
		clock   *testutil.FakeClock
	)

	e := newTestEngine(t, engineOpts{
		oracle: predictions(
			testutil.FixtureAction("c1", func(a *types.PreventiveAction) { a.ID = "p0" }),
			testutil.FixtureAction("c2", func(a *types.PreventiveAction) { a.ID = "p1" }),
			testutil.FixtureAction("c3", func(a *types.PreventiveAction) { a.ID = "low"; a.Priority = types.PriorityLow }),
			testutil.FixtureAction("c1", func(a *types.PreventiveAction) { a.ID = "p2" }),
			testutil.FixtureAction("c2", func(a *types.PreventiveAction) { a.ID = "manual"; a.AutoExecutable = false }),
		),
		outcome: func(j executor.Job) bool {
			mu.Lock()
			started[j.ID] = clock.Now()
			mu.Unlock()
			return true
		},
		duration: 0,
		config:   func(c *Config) { c.AutoPrevent = true },
	})
	clock = e.clock
	release := clock.Now()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(started)
	}

	if err := e.RunPredictionNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "first action", func() bool { return count() == 1 })
	if !clock.BlockUntil(2, time.Second) {
		t.Fatal("later actions were not scheduled")
	}
	clock.Advance(2 * time.Second)
	waitFor(t, "second action", func() bool { return count() == 2 })
	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	if count() != 2 {
		t.Fatal("third action started before T+4s")
	}
	clock.Advance(time.Second)
	waitFor(t, "third action", func() bool { return count() == 3 })

	mu.Lock()
	for i, id := range []string{"p0", "p1", "p2"} {
		want := release.Add(time.Duration(i) * 2 * time.Second)
		if started[id].Before(want) {
			t.Errorf("%s started at %v, want >= %v", id, started[id].Sub(release), want.Sub(release))
		}
	}
	mu.Unlock()

	waitFor(t, "actions to complete", func() bool {
		return actionStatus(e.Snapshot(), "p2") == types.ActionCompleted
	})
	s := e.Snapshot()
	for _, id := range []string{"low", "manual"} {
		if got := actionStatus(s, id); got != types.ActionPending {
			t.Errorf("%s status = %s, want pending", id, got)
		}
	}
	if s.Prediction.SystemHealthPrediction == nil || *s.Prediction.SystemHealthPrediction != 74 {
		t.Errorf("prediction = %+v", s.Prediction)
	}
	if len(s.RepairLog) != 3 {
		t.Errorf("repair log has %d entries, want 3", len(s.RepairLog))
	}
}

func TestExecuteAction_Idempotent(t *testing.T) {
	e := newTestEngine(t, engineOpts{
		oracle: predictions(testutil.FixtureAction("c1", func(a *types.PreventiveAction) {
			a.ID = "p1"
			a.Priority = types.PriorityLow
		})),
		duration: 2 * time.Second,
	})

	ctx := context.Background()
	if err := e.RunPredictionNow(ctx); err != nil {
		t.Fatal(err)
	}

	if err := e.ExecuteAction(ctx, "p1"); err != nil {
		t.Fatalf("ExecuteAction() error = %v", err)
	}
	if got := actionStatus(e.Snapshot(), "p1"); got != types.ActionExecuting {
		t.Errorf("status = %s, want executing", got)
	}
	if err := e.ExecuteAction(ctx, "p1"); !errors.Is(err, ErrNotExecutable) {
		t.Errorf("second ExecuteAction() error = %v, want ErrNotExecutable", err)
	}

	// A new prediction repeating the action must not reset it.
	if err := e.RunPredictionNow(ctx); err != nil {
		t.Fatal(err)
	}
	if got := actionStatus(e.Snapshot(), "p1"); got != types.ActionExecuting {
		t.Errorf("status after new prediction = %s, want executing", got)
	}

	if !e.clock.BlockUntil(1, time.Second) {
		t.Fatal("action never started waiting")
	}
	e.clock.Advance(2 * time.Second)
	waitFor(t, "completion", func() bool { return actionStatus(e.Snapshot(), "p1") == types.ActionCompleted })

	if err := e.ExecuteAction(ctx, "p1"); !errors.Is(err, ErrNotExecutable) {
		t.Errorf("ExecuteAction() on completed error = %v, want ErrNotExecutable", err)
	}
	if err := e.ExecuteAction(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ExecuteAction(nope) error = %v, want ErrNotFound", err)
	}

	s := e.Snapshot()
	if len(s.RepairLog) != 1 || s.RepairLog[0].Kind != types.JobPreventive {
		t.Errorf("repair log = %+v", s.RepairLog)
	}
}

// =============================================================================
// CONTROL SURFACE
// =============================================================================

func TestSetMonitoring(t *testing.T) {
	var calls atomic.Int32
	e := newTestEngine(t, engineOpts{
		oracle: oracle.Func{
			DiagnoseFunc: func(context.Context, types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
				calls.Add(1)
				return &types.DiagnosisResponse{SystemHealth: 90}, nil
			},
		},
	})

	e.Start(context.Background())
	if e.Health().DiagnosisRunning {
		t.Fatal("loops started with monitoring off")
	}

	e.SetMonitoring(true)
	waitFor(t, "immediate diagnosis", func() bool { return calls.Load() >= 1 })
	h := e.Health()
	if !h.DiagnosisRunning || !h.PredictionRunning {
		t.Errorf("health = %+v, want both loops running", h)
	}
	waitFor(t, "system health", func() bool { return e.Snapshot().SystemHealth == 90 })

	e.SetMonitoring(false)
	if e.Flags().Monitoring || e.Health().DiagnosisRunning {
		t.Error("monitoring still on")
	}
}

func TestSubscribe(t *testing.T) {
	e := newTestEngine(t, engineOpts{})
	ch, unsubscribe := e.Subscribe()
	defer unsubscribe()

	e.SetAutoRepair(true)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification after SetAutoRepair")
	}
	if !e.Flags().AutoRepair {
		t.Error("AutoRepair flag not set")
	}
}

func TestSnapshot_ComputesMissingScores(t *testing.T) {
	roster := []types.Component{
		testutil.FixtureComponent(func(c *types.Component) {
			c.ID = "c1"
			c.Telemetry = types.Telemetry{
				SignalStrength: types.IntPtr(92),
				UptimePercent:  types.IntPtr(99),
				LastSeen:       types.LastSeenMinutes,
			}
		}),
		testutil.FixtureComponentOffline(func(c *types.Component) { c.ID = "c2" }),
	}
	e := newTestEngine(t, engineOpts{roster: roster})

	s := e.Snapshot()
	if got := *s.Components[0].HealthScore; got != 91 {
		t.Errorf("c1 score = %d, want 91", got)
	}
	if got := *s.Components[1].HealthScore; got != 0 {
		t.Errorf("offline score = %d, want 0", got)
	}
	if len(s.Alerts) == 0 || s.Alerts[0].Type != types.AlertTypeOffline {
		t.Errorf("alerts = %+v, want offline alert first", s.Alerts)
	}
	if s.SuccessRate != 0 || s.RepairLog == nil {
		t.Errorf("empty audit: rate %d, log %v", s.SuccessRate, s.RepairLog)
	}
}
