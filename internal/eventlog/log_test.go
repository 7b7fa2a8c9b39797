package eventlog

import (
	"fmt"
	"testing"

	"github.com/nightjarhq/runwatch/internal/event"
	"github.com/nightjarhq/runwatch/internal/transcript"
)

func TestLog_AppendPreservesOrder(t *testing.T) {
	l := New()
	l.Reset("run-1")

	for i := 0; i < 5; i++ {
		l.Append(event.RunEvent{Type: event.TypeToken, Message: fmt.Sprintf("t%d", i)})
	}

	events := l.Snapshot()
	if len(events) != 5 {
		t.Fatalf("Len = %d, want 5", len(events))
	}
	for i, ev := range events {
		want := fmt.Sprintf("t%d", i)
		if ev.Message != want {
			t.Errorf("events[%d].Message = %q, want %q", i, ev.Message, want)
		}
	}
}

func TestLog_AssignsIDWhenMissing(t *testing.T) {
	l := New()
	l.Reset("run-1")

	id := l.Append(event.RunEvent{Type: event.TypePing})
	if id == "" {
		t.Fatalf("Append returned empty id")
	}
	if got := l.LastEventID(); got != id {
		t.Errorf("LastEventID() = %q, want %q", got, id)
	}

	// Upstream ids are kept as-is
	l.Append(event.RunEvent{ID: "ev-42", Type: event.TypePing})
	if got := l.LastEventID(); got != "ev-42" {
		t.Errorf("LastEventID() = %q, want ev-42", got)
	}
}

func TestLog_GrowsWithoutDiscarding(t *testing.T) {
	l := New()
	l.Reset("run-1")

	const n = 5000
	for i := 0; i < n; i++ {
		l.Append(event.RunEvent{ID: fmt.Sprintf("e%d", i), Type: event.TypeToken, Message: fmt.Sprintf("t%d", i)})
	}

	if l.Len() != n {
		t.Fatalf("Len = %d, want %d", l.Len(), n)
	}
	events := l.Snapshot()
	if events[0].Message != "t0" {
		t.Errorf("events[0].Message = %q, want t0", events[0].Message)
	}
	if got := l.LastEventID(); got != fmt.Sprintf("e%d", n-1) {
		t.Errorf("LastEventID() = %q, want e%d", got, n-1)
	}
}

// Folding a prefix of the log and folding the grown log must agree on
// every item the prefix produced, no matter how many events follow.
func TestLog_AppendNeverRewritesFoldedPrefix(t *testing.T) {
	l := New()
	l.Reset("run-1")

	l.Append(event.RunEvent{Type: event.TypeLog, Message: "first"})
	l.Append(event.RunEvent{Type: event.TypeLog, Message: "second"})
	l.Append(event.RunEvent{Type: event.TypeLog, Message: "third"})

	before := transcript.Fold(l.Snapshot())
	if len(before) != 3 {
		t.Fatalf("items before growth = %d, want 3", len(before))
	}

	for i := 0; i < 200; i++ {
		l.Append(event.RunEvent{Type: event.TypeLog, Message: fmt.Sprintf("later %d", i)})
	}

	after := transcript.Fold(l.Snapshot())
	if len(after) != 203 {
		t.Fatalf("items after growth = %d, want 203", len(after))
	}
	for i, item := range before {
		if after[i] != item {
			t.Errorf("item %d changed after later appends: %+v -> %+v", i, item, after[i])
		}
	}
	if before[0].Text != "first" {
		t.Errorf("items[0].Text = %q, want first", before[0].Text)
	}
}

func TestLog_ResetClears(t *testing.T) {
	l := New()
	l.Reset("run-1")
	l.Append(event.RunEvent{Type: event.TypeToken, Message: "old"})

	l.Reset("run-2")
	if l.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", l.Len())
	}
	if l.RunID() != "run-2" {
		t.Errorf("RunID = %q, want run-2", l.RunID())
	}
	if l.LastEventID() != "" {
		t.Errorf("LastEventID after Reset = %q, want empty", l.LastEventID())
	}
}
