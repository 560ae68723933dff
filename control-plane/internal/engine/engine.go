// Package engine is the self-healing monitoring core.
//
// # State
//
// Engine owns the component roster, the issue and action registry, the
// audit log and the control flags. A single mutex guards all of it. Oracle
// calls and simulated work run outside the lock; their results are
// applied under it, so readers never see a half-applied diagnosis.
//
// # Loops
//
// Two independent scheduler loops run while monitoring is on:
//
//   - diagnosis: replaces the issue set and updates component status
//   - prediction: replaces preventive actions and forecasts
//
// # Remediation
//
// At most one issue repair is in flight at a time, enforced by a
// policy.Gate. After every diagnosis and every settled repair the engine
// explicitly re-evaluates auto-repair. High-priority auto-executable
// preventive actions are dispatched in staggered batches when auto-prevent
// is on.
//
// # Lock Order
//
// scheduler apply → Engine.mu → policy.Gate. Loop Start/Stop are never
// called with Engine.mu held.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/selfheal/control-plane/internal/audit"
	"github.com/pilot-net/selfheal/control-plane/internal/executor"
	"github.com/pilot-net/selfheal/control-plane/internal/oracle"
	"github.com/pilot-net/selfheal/control-plane/internal/policy"
	"github.com/pilot-net/selfheal/control-plane/internal/registry"
	"github.com/pilot-net/selfheal/control-plane/internal/scheduler"
	"github.com/pilot-net/selfheal/pkg/types"
)

var (
	// ErrNotFound means no issue or preventive action has the given ID.
	ErrNotFound = errors.New("issue or action not found")

	// ErrRepairInFlight means another repair holds the single-flight gate.
	ErrRepairInFlight = errors.New("a repair is already in progress")

	// ErrNotExecutable means the action is already executing or completed.
	// The request is ignored.
	ErrNotExecutable = errors.New("action is not executable in its current state")

	// ErrShuttingDown means Shutdown has been called and no new work starts.
	ErrShuttingDown = errors.New("engine is shutting down")
)

// Loop names, also used as metric labels.
const (
	LoopDiagnosis  = "diagnosis"
	LoopPrediction = "prediction"
)

// Config holds engine settings.
type Config struct {
	DiagnosisInterval  time.Duration
	PredictionInterval time.Duration
	StaggerInterval    time.Duration
	AuditCapacity      int

	// Initial flag values.
	Monitoring  bool
	AutoRepair  bool
	AutoPrevent bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DiagnosisInterval:  60 * time.Second,
		PredictionInterval: 60 * time.Second,
		StaggerInterval:    2 * time.Second,
		AuditCapacity:      audit.DefaultCapacity,
		Monitoring:         true,
	}
}

// Recorder receives engine events for metrics. All methods must be cheap
// and must not call back into the engine.
type Recorder interface {
	CycleFinished(loop string, state types.TaskState)
	RepairFinished(kind types.JobKind, outcome types.Outcome, d time.Duration)
	RepairIgnored()
}

type nopRecorder struct{}

func (nopRecorder) CycleFinished(string, types.TaskState) {}
func (nopRecorder) RepairFinished(types.JobKind, types.Outcome, time.Duration) {}
func (nopRecorder) RepairIgnored() {}

// Options are the optional collaborators of an Engine.
type Options struct {
	Sink     audit.Sink // Durable copy of the audit log
	Recorder Recorder   // Metrics
}

// Prediction is the latest forecast from the prediction loop.
type Prediction struct {
	PredictedIssues        []types.PredictedIssue `json:"predicted_issues"`
	LoadDistribution       []types.LoadShare      `json:"load_distribution"`
	EarlyWarnings          []string               `json:"early_warnings"`
	SystemHealthPrediction *int                   `json:"system_health_prediction,omitempty"`
	UpdatedAt              *time.Time             `json:"updated_at,omitempty"`
}

// Engine is the self-healing monitoring engine.
type Engine struct {
	cfg    Config
	oracle oracle.Oracle
	exec   *executor.Executor
	rec    Recorder
	logger *slog.Logger

	diagnosis  *scheduler.Loop
	prediction *scheduler.Loop

	// controlMu serializes Start, Shutdown and SetMonitoring.
	controlMu sync.Mutex

	ctxMu   sync.RWMutex
	baseCtx context.Context
	cancel  context.CancelFunc

	gate policy.Gate
	wg   sync.WaitGroup

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}

	// Everything below is guarded by mu.
	mu            sync.Mutex
	components    []types.Component
	index         map[string]int                   // component ID → position; immutable
	restore       map[string]types.ComponentStatus // component ID → status to restore after repair
	registry      *registry.Registry
	audit         *audit.Log
	queued        map[string]bool // actions waiting for their stagger slot
	failed        map[string]bool // issues whose last repair failed; cleared by the next diagnosis
	systemHealth  int
	forecast      Prediction
	lastDiagnosis *time.Time
	monitoring    bool
	autoRepair    bool
	autoPrevent   bool
	stopping      bool
}

// New creates an engine over a static roster. Component IDs must be unique;
// later duplicates are ignored.
func New(cfg Config, roster []types.Component, orc oracle.Oracle, exec *executor.Executor, opts Options, logger *slog.Logger) *Engine {
	if cfg.StaggerInterval <= 0 {
		cfg.StaggerInterval = 2 * time.Second
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	logger = logger.With("component", "engine")

	e := &Engine{
		cfg:         cfg,
		oracle:      orc,
		exec:        exec,
		rec:         rec,
		logger:      logger,
		baseCtx:     context.Background(),
		subs:        make(map[chan struct{}]struct{}),
		index:       make(map[string]int, len(roster)),
		restore:     make(map[string]types.ComponentStatus),
		registry:    registry.New(),
		audit:       audit.New(cfg.AuditCapacity, opts.Sink, logger),
		queued:      make(map[string]bool),
		failed:      make(map[string]bool),
		monitoring:  cfg.Monitoring,
		autoRepair:  cfg.AutoRepair,
		autoPrevent: cfg.AutoPrevent,
		forecast: Prediction{
			PredictedIssues:  []types.PredictedIssue{},
			LoadDistribution: []types.LoadShare{},
			EarlyWarnings:    []string{},
		},
	}

	e.components = make([]types.Component, 0, len(roster))
	for _, c := range roster {
		if _, dup := e.index[c.ID]; dup {
			logger.Warn("duplicate component ID ignored", "component_id", c.ID)
			continue
		}
		if !c.Status.Valid() {
			c.Status = types.ComponentPending
		}
		e.index[c.ID] = len(e.components)
		e.components = append(e.components, cloneComponent(c))
	}

	e.diagnosis = scheduler.New(scheduler.Config{Name: LoopDiagnosis, Interval: cfg.DiagnosisInterval}, e.fetchDiagnosis, logger)
	e.prediction = scheduler.New(scheduler.Config{Name: LoopPrediction, Interval: cfg.PredictionInterval}, e.fetchPrediction, logger)
	e.diagnosis.OnTask(e.taskObserver(LoopDiagnosis))
	e.prediction.OnTask(e.taskObserver(LoopPrediction))

	return e
}

func (e *Engine) taskObserver(loop string) func(types.TaskInfo) {
	return func(t types.TaskInfo) {
		switch t.State {
		case types.TaskDone, types.TaskFailed, types.TaskDiscarded:
			e.rec.CycleFinished(loop, t.State)
		}
		e.notify()
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start binds the engine to ctx and starts the loops if monitoring is on.
// Background work (loops, repairs) stops when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()

	e.ctxMu.Lock()
	e.baseCtx, e.cancel = context.WithCancel(ctx)
	e.ctxMu.Unlock()

	e.mu.Lock()
	e.stopping = false
	on := e.monitoring
	e.mu.Unlock()

	if on {
		e.startLoops()
	}
	e.logger.Info("engine started",
		"components", len(e.index),
		"monitoring", on,
		"diagnosis_interval", e.cfg.DiagnosisInterval,
		"prediction_interval", e.cfg.PredictionInterval,
	)
}

// Shutdown stops the loops, cancels in-flight work and waits for it and
// the pending audit sink writes to settle or for ctx to expire. No repair or
// preventive action starts once Shutdown has been called.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.controlMu.Lock()
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
	e.diagnosis.Stop()
	e.prediction.Stop()
	e.ctxMu.RLock()
	if e.cancel != nil {
		e.cancel()
	}
	e.ctxMu.RUnlock()
	e.controlMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight work: %w", ctx.Err())
	}

	if err := e.audit.Flush(ctx); err != nil {
		return fmt.Errorf("flushing audit sink: %w", err)
	}
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) startLoops() {
	ctx := e.context()
	e.diagnosis.Start(ctx)
	e.prediction.Start(ctx)
}

// context returns the context background work runs under.
func (e *Engine) context() context.Context {
	e.ctxMu.RLock()
	defer e.ctxMu.RUnlock()
	return e.baseCtx
}

// =============================================================================
// CONTROL SURFACE
// =============================================================================

// SetMonitoring starts or stops both scheduler loops.
func (e *Engine) SetMonitoring(on bool) {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()

	e.mu.Lock()
	e.monitoring = on
	e.mu.Unlock()

	if on {
		e.startLoops()
	} else {
		e.diagnosis.Stop()
		e.prediction.Stop()
	}
	e.logger.Info("monitoring toggled", "enabled", on)
	e.notify()
}

// SetAutoRepair toggles autonomous repair. Enabling it evaluates the
// current issues immediately.
func (e *Engine) SetAutoRepair(on bool) {
	e.mu.Lock()
	e.autoRepair = on
	e.mu.Unlock()

	e.logger.Info("auto-repair toggled", "enabled", on)
	e.notify()
	if on {
		e.maybeAutoRepair()
	}
}

// SetAutoPrevent toggles autonomous preventive actions. Enabling it
// dispatches the eligible pending actions immediately.
func (e *Engine) SetAutoPrevent(on bool) {
	e.mu.Lock()
	e.autoPrevent = on
	e.mu.Unlock()

	e.logger.Info("auto-prevent toggled", "enabled", on)
	e.notify()
	if on {
		e.dispatchPreventive()
	}
}

// RunDiagnosisNow runs a diagnosis cycle and waits for it. Oracle failures
// are returned wrapped in oracle.ErrUnavailable or oracle.ErrMalformedResponse.
func (e *Engine) RunDiagnosisNow(ctx context.Context) error {
	return e.diagnosis.Trigger(ctx)
}

// RunPredictionNow runs a prediction cycle and waits for it.
func (e *Engine) RunPredictionNow(ctx context.Context) error {
	return e.prediction.Trigger(ctx)
}

// ExecuteAction starts the issue repair or preventive action with the
// given ID. The work runs in the background; the returned error only
// reports whether it was accepted.
func (e *Engine) ExecuteAction(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	_, isIssue := e.registry.Get(id)
	e.mu.Unlock()
	if isIssue {
		return e.RepairIssue(ctx, id)
	}
	return e.executeAction(id)
}

func cloneComponent(c types.Component) types.Component {
	if c.HealthScore != nil {
		c.HealthScore = types.IntPtr(*c.HealthScore)
	}
	if c.LastCheck != nil {
		t := *c.LastCheck
		c.LastCheck = &t
	}
	t := c.Telemetry
	if t.SignalStrength != nil {
		t.SignalStrength = types.IntPtr(*t.SignalStrength)
	}
	if t.BatteryLevel != nil {
		t.BatteryLevel = types.IntPtr(*t.BatteryLevel)
	}
	if t.UptimePercent != nil {
		t.UptimePercent = types.IntPtr(*t.UptimePercent)
	}
	c.Telemetry = t
	return c
}
