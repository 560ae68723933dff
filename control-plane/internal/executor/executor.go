// Package executor runs repairs and preventive actions as simulated units
// of work.
//
// # Execution Model
//
// No real commands are executed. A Job occupies the executor for a fixed
// duration and then resolves to success or failure, as decided by an
// OutcomeFunc. The default outcome succeeds with a configured probability.
//
// # Batches
//
// Stagger dispatches a batch so that job i starts no earlier than
// i × interval after the batch is released. Jobs may overlap once started.
//
// # Time
//
// All waiting goes through a Clock so tests can drive time by hand.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/pilot-net/selfheal/pkg/types"
)

// Clock abstracts time for the executor.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Job is one unit of remediation work.
type Job struct {
	ID          string        `json:"id"`
	Kind        types.JobKind `json:"kind"`
	Title       string        `json:"title"`
	ComponentID string        `json:"component_id,omitempty"`
	Steps       []string      `json:"steps,omitempty"`
}

// Result is the outcome of a Job.
type Result struct {
	JobID          string        `json:"job_id"`
	Outcome        types.Outcome `json:"outcome"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	StepsCompleted []string      `json:"steps_completed,omitempty"`
	Err            error         `json:"-"`
}

// Success reports whether the job succeeded.
func (r Result) Success() bool {
	return r.Outcome == types.OutcomeSuccess
}

// OutcomeFunc decides whether a finished job succeeded.
type OutcomeFunc func(job Job) bool

// Config holds executor settings.
type Config struct {
	// Duration is how long each simulated job takes.
	Duration time.Duration

	// SuccessRate is the probability (0-1) that the default outcome succeeds.
	SuccessRate float64

	// Outcome overrides the random outcome when set.
	Outcome OutcomeFunc

	// Clock defaults to RealClock.
	Clock Clock
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Duration:    2 * time.Second,
		SuccessRate: 0.9,
	}
}

// Executor runs jobs.
type Executor struct {
	duration time.Duration
	outcome  OutcomeFunc
	clock    Clock
	logger   *slog.Logger
}

// New creates an executor.
func New(cfg Config, logger *slog.Logger) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}
	if cfg.Outcome == nil {
		rate := cfg.SuccessRate
		cfg.Outcome = func(Job) bool {
			return rand.Float64() < rate
		}
	}
	return &Executor{
		duration: cfg.Duration,
		outcome:  cfg.Outcome,
		clock:    cfg.Clock,
		logger:   logger.With("component", "executor"),
	}
}

// Clock returns the executor's clock.
func (e *Executor) Clock() Clock {
	return e.clock
}

// Run executes a job and blocks until it resolves or ctx is done.
// A cancelled job resolves as failed.
func (e *Executor) Run(ctx context.Context, job Job) Result {
	start := e.clock.Now()
	result := Result{JobID: job.ID, StartedAt: start}

	e.logger.Debug("job started",
		"job_id", job.ID,
		"kind", job.Kind,
		"component_id", job.ComponentID,
	)

	select {
	case <-ctx.Done():
		result.Outcome = types.OutcomeFailed
		result.Err = fmt.Errorf("job cancelled: %w", ctx.Err())
		result.Duration = e.clock.Now().Sub(start)
		return result
	case <-e.clock.After(e.duration):
	}

	result.Duration = e.clock.Now().Sub(start)
	if e.outcome(job) {
		result.Outcome = types.OutcomeSuccess
		result.StepsCompleted = append([]string(nil), job.Steps...)
	} else {
		result.Outcome = types.OutcomeFailed
		result.StepsCompleted, result.Err = failedSteps(job.Steps)
	}

	e.logger.Debug("job finished",
		"job_id", job.ID,
		"outcome", result.Outcome,
		"duration", result.Duration,
	)
	return result
}

// failedSteps reports a failure on the last step.
func failedSteps(steps []string) ([]string, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("remediation did not complete")
	}
	last := len(steps) - 1
	return append([]string(nil), steps[:last]...), fmt.Errorf("step %q did not complete", steps[last])
}

// =============================================================================
// BATCHES
// =============================================================================

// Stagger calls fn for each job on its own goroutine, job i no earlier than
// i × interval after the call. It returns once every started fn has
// returned. Jobs whose slot has not arrived when ctx is done are skipped.
func (e *Executor) Stagger(ctx context.Context, jobs []Job, interval time.Duration, fn func(context.Context, Job)) {
	// All timers are armed at release so offsets do not drift with
	// scheduling delays.
	slots := make([]<-chan time.Time, len(jobs))
	for i := range jobs {
		if i > 0 {
			slots[i] = e.clock.After(time.Duration(i) * interval)
		}
	}

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(slot <-chan time.Time, job Job) {
			defer wg.Done()
			if slot != nil {
				select {
				case <-ctx.Done():
					return
				case <-slot:
				}
			}
			fn(ctx, job)
		}(slots[i], job)
	}
	wg.Wait()
}
