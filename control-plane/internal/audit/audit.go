// Package audit keeps the bounded record of executed repairs and
// preventive actions.
//
// The in-memory Log is the source of truth for the dashboard. A Sink, when
// configured, receives a copy of every entry for durable storage; sink
// failures are logged and otherwise ignored.
package audit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pilot-net/selfheal/pkg/types"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 50

// sinkTimeout bounds a single asynchronous sink write.
const sinkTimeout = 10 * time.Second

// Sink persists audit entries outside the process.
type Sink interface {
	RecordRepair(ctx context.Context, entry types.RepairLogEntry) error
}

// Log is a fixed-size ring of the most recent entries. It is not safe for
// concurrent use; the engine serializes access.
type Log struct {
	entries  []types.RepairLogEntry // oldest first
	capacity int

	sink    Sink
	pending sync.WaitGroup // sink writes in progress
	logger  *slog.Logger
}

// New creates a log holding at most capacity entries. A capacity below one
// falls back to DefaultCapacity. sink may be nil.
func New(capacity int, sink Sink, logger *slog.Logger) *Log {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries:  make([]types.RepairLogEntry, 0, capacity),
		capacity: capacity,
		sink:     sink,
		logger:   logger.With("component", "audit"),
	}
}

// Append records an entry, evicting the oldest when full.
func (l *Log) Append(entry types.RepairLogEntry) {
	if entry.StepsCompleted != nil {
		steps := make([]string, len(entry.StepsCompleted))
		copy(steps, entry.StepsCompleted)
		entry.StepsCompleted = steps
	}

	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)

	if l.sink != nil {
		l.pending.Add(1)
		go l.forward(entry)
	}
}

func (l *Log) forward(entry types.RepairLogEntry) {
	defer l.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if err := l.sink.RecordRepair(ctx, entry); err != nil {
		l.logger.Warn("failed to persist audit entry",
			"entry_id", entry.ID,
			"error", err,
		)
	}
}

// Flush waits for outstanding sink writes or for ctx to expire. Call it
// once no more entries will be appended.
func (l *Log) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns all entries, newest first.
func (l *Log) Entries() []types.RepairLogEntry {
	out := make([]types.RepairLogEntry, len(l.entries))
	for i, e := range l.entries {
		out[len(l.entries)-1-i] = e
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// SuccessRate returns the percentage of retained entries that succeeded,
// rounded to the nearest integer. An empty log yields 0.
func (l *Log) SuccessRate() int {
	successes := 0
	for _, e := range l.entries {
		if e.Outcome == types.OutcomeSuccess {
			successes++
		}
	}
	total := max(1, len(l.entries))
	return int(math.Round(float64(successes) / float64(total) * 100))
}
