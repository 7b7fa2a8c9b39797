// Package event defines the normalized run-event model.
//
// Every unit decoded from a run's event stream becomes a RunEvent with a
// declared type from the fixed allow-list below. Events with a type
// outside the allow-list are rejected at parse time so that new upstream
// event kinds can never crash or corrupt downstream consumers.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type is the declared kind of a run event.
type Type string

const (
	TypeLog        Type = "log"
	TypeMetric     Type = "metric"
	TypeStatus     Type = "status"
	TypeHeartbeat  Type = "heartbeat"
	TypeToken      Type = "token"
	TypeToolCall   Type = "tool_call"
	TypeToolResult Type = "tool_result"
	TypePing       Type = "ping"
	TypeDone       Type = "done"
	TypeError      Type = "error"
	TypeSystem     Type = "system"
)

var allowedTypes = map[Type]struct{}{
	TypeLog:        {},
	TypeMetric:     {},
	TypeStatus:     {},
	TypeHeartbeat:  {},
	TypeToken:      {},
	TypeToolCall:   {},
	TypeToolResult: {},
	TypePing:       {},
	TypeDone:       {},
	TypeError:      {},
	TypeSystem:     {},
}

// KnownType reports whether t is in the fixed allow-list.
func KnownType(t Type) bool {
	_, ok := allowedTypes[t]
	return ok
}

var (
	// ErrMalformed indicates the payload could not be decoded as an event.
	ErrMalformed = errors.New("malformed event payload")
	// ErrUnknownType indicates a declared type outside the allow-list.
	ErrUnknownType = errors.New("unknown event type")
)

// RunEvent is one decoded unit from a run's event stream.
// Immutable once appended to the event log.
type RunEvent struct {
	ID        string         `json:"id,omitempty"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	RunID     string         `json:"run_id"`
}

// wireEvent is the upstream JSON shape: {type, ts, message?, payload?}.
type wireEvent struct {
	Type    string         `json:"type"`
	TS      int64          `json:"ts"`
	Message string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Parse decodes a raw stream payload into a RunEvent for the given run.
// The declared type is validated against the allow-list; callers are
// expected to drop (and only log) ErrUnknownType failures.
func Parse(data []byte, runID string) (RunEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return RunEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	t := Type(strings.TrimSpace(w.Type))
	if t == "" {
		return RunEvent{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if !KnownType(t) {
		return RunEvent{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	ts := time.Now().UTC()
	if w.TS > 0 {
		ts = time.UnixMilli(w.TS).UTC()
	}

	return RunEvent{
		Type:      t,
		Timestamp: ts,
		Message:   w.Message,
		Payload:   w.Payload,
		RunID:     runID,
	}, nil
}

// Terminal reports whether the event ends a run (done or error).
func (e RunEvent) Terminal() bool {
	return e.Type == TypeDone || e.Type == TypeError
}
