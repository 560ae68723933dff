// Package scheduler runs a diagnostic cycle periodically and on demand.
//
// # Design
//
// A Loop is stopped or running. Start runs one cycle immediately and then
// one per interval until Stop. Each cycle is split into two parts:
//
//  1. Fetch: slow work outside any engine lock (the oracle call)
//  2. Apply: a closure returned by fetch that mutates engine state
//
// # Stale Results
//
// Every Start and Stop advances a generation counter. A cycle remembers the
// generation it began under and its Apply only runs if the generation is
// unchanged. A fetch still in flight when the loop stops is allowed to
// finish, but its result is dropped with ErrStale.
//
// # Single-flight
//
// Timer and manual cycles share a weight-1 semaphore, so they serialize
// rather than race.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pilot-net/selfheal/pkg/types"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrStale means the cycle finished after the loop stopped or restarted.
	ErrStale = errors.New("cycle result discarded: scheduler stopped")

	// ErrStopped means the loop stopped before a queued cycle could run.
	ErrStopped = errors.New("cycle abandoned: scheduler stopped")
)

// Apply commits a fetched result.
type Apply func()

// Fetch performs the slow part of a cycle and returns the function that
// commits its result. A nil Apply commits nothing.
type Fetch func(ctx context.Context) (Apply, error)

// Config holds loop settings.
type Config struct {
	Name     string        // e.g. "diagnosis"
	Interval time.Duration // Time between timer cycles
}

// Loop is a cancellable periodic task.
type Loop struct {
	name     string
	interval time.Duration
	fetch    Fetch
	logger   *slog.Logger

	sem *semaphore.Weighted

	// applyMu is held while checking the generation and applying, and by
	// Stop, so no result is applied after Stop returns.
	applyMu sync.Mutex

	mu         sync.Mutex
	running    bool
	generation uint64
	cancel     context.CancelFunc
	last       *types.TaskInfo
	onTask     func(types.TaskInfo)
}

// New creates a stopped loop.
func New(cfg Config, fetch Fetch, logger *slog.Logger) *Loop {
	return &Loop{
		name:     cfg.Name,
		interval: cfg.Interval,
		fetch:    fetch,
		logger:   logger.With("component", "scheduler", "loop", cfg.Name),
		sem:      semaphore.NewWeighted(1),
	}
}

// OnTask registers a callback invoked on every task state change. It must
// not call back into the Loop.
func (l *Loop) OnTask(fn func(types.TaskInfo)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTask = fn
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.name
}

// Start begins periodic cycles. ctx bounds the loop and every fetch it
// starts. It returns false if the loop was already running.
func (l *Loop) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return false
	}
	l.running = true
	l.generation++
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	go l.run(loopCtx, ctx, l.generation)
	return true
}

// Stop cancels future cycles. A fetch in flight runs to completion but its
// result is discarded. It returns false if the loop was not running.
func (l *Loop) Stop() bool {
	l.applyMu.Lock()
	defer l.applyMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return false
	}
	l.running = false
	l.generation++
	l.cancel()
	l.cancel = nil
	return true
}

// Running reports whether the loop is started.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// LastTask returns the most recent cycle's task record.
func (l *Loop) LastTask() (types.TaskInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return types.TaskInfo{}, false
	}
	return *l.last, true
}

// Trigger runs one cycle now and returns its error. It works whether or
// not the loop is running, and waits for any cycle already in progress.
func (l *Loop) Trigger(ctx context.Context) error {
	return l.runCycle(ctx, l.currentGeneration())
}

func (l *Loop) run(loopCtx, fetchCtx context.Context, gen uint64) {
	l.logger.Info("loop started", "interval", l.interval)

	// Run immediately on start
	l.tick(fetchCtx, gen)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			l.logger.Info("loop stopped")
			return
		case <-ticker.C:
			l.tick(fetchCtx, gen)
		}
	}
}

func (l *Loop) tick(ctx context.Context, gen uint64) {
	err := l.runCycle(ctx, gen)
	switch {
	case err == nil:
	case errors.Is(err, ErrStale), errors.Is(err, ErrStopped):
		l.logger.Debug("cycle discarded", "error", err)
	default:
		l.logger.Warn("cycle failed", "error", err)
	}
}

// runCycle executes one fetch/apply pair under the semaphore.
func (l *Loop) runCycle(ctx context.Context, gen uint64) error {
	task := l.newTask()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.finish(task, types.TaskFailed, err)
		return err
	}
	defer l.sem.Release(1)

	if l.currentGeneration() != gen {
		l.finish(task, types.TaskDiscarded, ErrStopped)
		return ErrStopped
	}

	l.setState(task, types.TaskRunning)
	start := time.Now()

	apply, err := l.fetch(ctx)
	if err != nil {
		l.finish(task, types.TaskFailed, err)
		return err
	}

	l.applyMu.Lock()
	if l.currentGeneration() != gen {
		l.applyMu.Unlock()
		l.finish(task, types.TaskDiscarded, ErrStale)
		return ErrStale
	}
	if apply != nil {
		apply()
	}
	l.applyMu.Unlock()

	l.finish(task, types.TaskDone, nil)
	l.logger.Debug("cycle complete", "duration", time.Since(start))
	return nil
}

func (l *Loop) currentGeneration() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

// =============================================================================
// TASK RECORDS
// =============================================================================

func (l *Loop) newTask() *types.TaskInfo {
	task := &types.TaskInfo{
		ID:    uuid.New().String(),
		Name:  l.name,
		State: types.TaskPending,
	}
	l.publish(task)
	return task
}

func (l *Loop) setState(task *types.TaskInfo, state types.TaskState) {
	l.mu.Lock()
	task.State = state
	if state == types.TaskRunning {
		now := time.Now()
		task.StartedAt = &now
	}
	l.mu.Unlock()
	l.publish(task)
}

func (l *Loop) finish(task *types.TaskInfo, state types.TaskState, err error) {
	l.mu.Lock()
	now := time.Now()
	task.State = state
	task.FinishedAt = &now
	if err != nil {
		task.Error = err.Error()
	}
	l.mu.Unlock()
	l.publish(task)
}

// publish records task as the latest and notifies the observer.
func (l *Loop) publish(task *types.TaskInfo) {
	l.mu.Lock()
	l.last = task
	snapshot := *task
	fn := l.onTask
	l.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}
