package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilot-net/selfheal/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(id string, outcome types.Outcome) types.RepairLogEntry {
	return types.RepairLogEntry{
		ID:        id,
		Title:     "restart " + id,
		Kind:      types.JobRepair,
		Outcome:   outcome,
		Timestamp: time.Now(),
	}
}

// mockSink records entries and optionally fails.
type mockSink struct {
	mu      sync.Mutex
	entries []types.RepairLogEntry
	err     error
	done    chan struct{}
}

func (m *mockSink) RecordRepair(_ context.Context, e types.RepairLogEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	m.done <- struct{}{}
	return m.err
}

func TestSuccessRate_Empty(t *testing.T) {
	l := New(0, nil, testLogger())
	if got := l.SuccessRate(); got != 0 {
		t.Errorf("SuccessRate() on empty log = %d, want 0", got)
	}
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []types.Outcome
		want     int
	}{
		{"all success", []types.Outcome{types.OutcomeSuccess, types.OutcomeSuccess}, 100},
		{"all failed", []types.Outcome{types.OutcomeFailed}, 0},
		{"two of three", []types.Outcome{types.OutcomeSuccess, types.OutcomeFailed, types.OutcomeSuccess}, 67},
		{"one of three", []types.Outcome{types.OutcomeSuccess, types.OutcomeFailed, types.OutcomeFailed}, 33},
		{"half", []types.Outcome{types.OutcomeSuccess, types.OutcomeFailed}, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(10, nil, testLogger())
			for i, o := range tt.outcomes {
				l.Append(entry(fmt.Sprint(i), o))
			}
			if got := l.SuccessRate(); got != tt.want {
				t.Errorf("SuccessRate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppend_EvictsOldest(t *testing.T) {
	l := New(3, nil, testLogger())
	for i := 0; i < 5; i++ {
		l.Append(entry(fmt.Sprint(i), types.OutcomeSuccess))
	}

	got := l.Entries()
	if len(got) != 3 {
		t.Fatalf("len(Entries()) = %d, want 3", len(got))
	}
	for i, want := range []string{"4", "3", "2"} {
		if got[i].ID != want {
			t.Errorf("Entries()[%d].ID = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestNew_DefaultCapacity(t *testing.T) {
	l := New(-1, nil, testLogger())
	for i := 0; i < DefaultCapacity+10; i++ {
		l.Append(entry(fmt.Sprint(i), types.OutcomeFailed))
	}
	if l.Len() != DefaultCapacity {
		t.Errorf("Len() = %d, want %d", l.Len(), DefaultCapacity)
	}
}

func TestAppend_ForwardsToSink(t *testing.T) {
	sink := &mockSink{err: errors.New("db down"), done: make(chan struct{}, 1)}
	l := New(5, sink, testLogger())

	l.Append(entry("a", types.OutcomeSuccess))

	select {
	case <-sink.done:
	case <-time.After(time.Second):
		t.Fatal("sink was not called")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.entries) != 1 || sink.entries[0].ID != "a" {
		t.Errorf("sink entries = %+v", sink.entries)
	}
	// Sink failure does not affect the in-memory log.
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

// slowSink blocks every write until release is closed.
type slowSink struct {
	release chan struct{}
	written atomic.Int32
}

func (s *slowSink) RecordRepair(ctx context.Context, _ types.RepairLogEntry) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.written.Add(1)
	return nil
}

func TestFlush_WaitsForSinkWrites(t *testing.T) {
	sink := &slowSink{release: make(chan struct{})}
	l := New(5, sink, testLogger())
	for i := 0; i < 3; i++ {
		l.Append(entry(fmt.Sprint(i), types.OutcomeSuccess))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	err := l.Flush(ctx)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Flush() with blocked sink error = %v, want deadline exceeded", err)
	}

	close(sink.release)
	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := sink.written.Load(); got != 3 {
		t.Errorf("written = %d, want 3 after Flush", got)
	}
}

func TestFlush_NoSink(t *testing.T) {
	l := New(5, nil, testLogger())
	l.Append(entry("a", types.OutcomeSuccess))
	if err := l.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}
