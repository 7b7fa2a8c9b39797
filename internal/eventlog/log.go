// Package eventlog provides the append-only, run-scoped buffer of raw
// run events. The log only grows within a run; transcripts folded from
// a prefix stay valid as later events arrive. Reset at run start is
// what bounds its lifetime.
package eventlog

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/nightjarhq/runwatch/internal/event"
)

// Log is the ordered event buffer for the active run.
// Single writer (the stream client), single reader (the aggregator);
// the mutex exists because those run on different goroutines.
type Log struct {
	mu     sync.RWMutex
	runID  string
	events []event.RunEvent
}

// New creates an empty log bound to no run. Reset binds it to a run.
func New() *Log {
	return &Log{}
}

// Reset clears the log and binds it to a new run. Called atomically at
// run start so a new run never sees the previous run's events.
func (l *Log) Reset(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runID = runID
	l.events = nil
}

// Append adds an event in arrival order and returns its identifier.
// Events arriving without an upstream id get a generated one so the
// resume cursor is always defined.
func (l *Log) Append(ev event.RunEvent) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	l.events = append(l.events, ev)
	return ev.ID
}

// Snapshot returns the buffered events in arrival order.
func (l *Log) Snapshot() []event.RunEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]event.RunEvent, len(l.events))
	copy(out, l.events)
	return out
}

// LastEventID returns the resume cursor: the id of the newest event,
// or "" when the log is empty.
func (l *Log) LastEventID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return ""
	}
	return l.events[len(l.events)-1].ID
}

// RunID returns the run the log is currently bound to.
func (l *Log) RunID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.runID
}

// Len returns the number of buffered events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
