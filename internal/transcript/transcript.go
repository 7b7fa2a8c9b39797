// Package transcript folds the raw event log into display-ready items.
//
// Fold is a pure function: deterministic, order-preserving, and stable
// on prefixes. Re-folding a longer log never changes items that were
// already closed; only the trailing token item may still grow.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nightjarhq/runwatch/internal/event"
)

// Role identifies who a transcript item belongs to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Kind identifies how a transcript item was produced.
type Kind string

const (
	KindToken      Kind = "token"
	KindError      Kind = "error"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindLog        Kind = "log"
	KindSystem     Kind = "system"
)

// Truncation limits for summarized content.
const (
	maxToolCallArgs   = 220
	maxToolResultText = 240
	maxSystemPayload  = 600
)

// Item is a display-ready unit derived from one or more run events.
type Item struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Fold reduces an ordered event slice into transcript items.
func Fold(events []event.RunEvent) []Item {
	var items []Item
	lastWasToken := false

	for _, ev := range events {
		wasToken := false
		switch ev.Type {
		case event.TypePing, event.TypeDone:
			// No visible item.

		case event.TypeError:
			text := ev.Message
			if text == "" {
				text = renderJSON(ev.Payload)
			}
			items = append(items, Item{Role: RoleSystem, Text: text, Kind: KindError, Timestamp: ev.Timestamp})

		case event.TypeToolCall:
			name := payloadToolName(ev.Payload)
			args := clip(collapseWhitespace(payloadArgs(ev.Payload)), maxToolCallArgs)
			text := fmt.Sprintf("tool_call: %s(%s)", name, args)
			items = append(items, Item{Role: RoleTool, Text: text, Kind: KindToolCall, Timestamp: ev.Timestamp})

		case event.TypeToolResult:
			name := payloadToolName(ev.Payload)
			output := clip(payloadOutput(ev.Payload), maxToolResultText)
			text := fmt.Sprintf("tool_result: %s → %s", name, output)
			items = append(items, Item{Role: RoleTool, Text: text, Kind: KindToolResult, Timestamp: ev.Timestamp})

		case event.TypeToken:
			if lastWasToken && len(items) > 0 {
				last := &items[len(items)-1]
				if last.Role == RoleAssistant && last.Kind == KindToken {
					last.Text += ev.Message
					wasToken = true
					break
				}
			}
			items = append(items, Item{Role: RoleAssistant, Text: ev.Message, Kind: KindToken, Timestamp: ev.Timestamp})
			wasToken = true

		case event.TypeLog:
			text := logText(ev)
			if text == "" {
				break // nothing to show
			}
			role := RoleSystem
			if s, _ := ev.Payload["role"].(string); s == "user" {
				role = RoleUser
			}
			items = append(items, Item{Role: role, Text: text, Kind: KindLog, Timestamp: ev.Timestamp})

		case event.TypeMetric, event.TypeStatus, event.TypeHeartbeat, event.TypeSystem:
			text := ev.Message
			if text == "" {
				text = clip(renderJSON(ev.Payload), maxSystemPayload)
			}
			if text == "" {
				break // nothing to show
			}
			items = append(items, Item{Role: RoleSystem, Text: text, Kind: KindSystem, Timestamp: ev.Timestamp})

		default:
			// Type outside the allow-list: produce nothing.
		}
		lastWasToken = wasToken
	}

	return items
}

func logText(ev event.RunEvent) string {
	if ev.Message != "" {
		return ev.Message
	}
	if s, _ := ev.Payload["message"].(string); s != "" {
		return s
	}
	if s, _ := ev.Payload["text"].(string); s != "" {
		return s
	}
	return ""
}

func payloadToolName(payload map[string]any) string {
	for _, key := range []string{"name", "tool_name", "tool"} {
		if s, _ := payload[key].(string); s != "" {
			return s
		}
	}
	return "unknown"
}

func payloadArgs(payload map[string]any) string {
	for _, key := range []string{"args", "arguments", "input"} {
		if v, ok := payload[key]; ok && v != nil {
			if s, ok := v.(string); ok {
				return s
			}
			return renderJSON(v)
		}
	}
	return ""
}

// payloadOutput extracts tool output, preferring the well-known fields
// in priority order.
func payloadOutput(payload map[string]any) string {
	for _, key := range []string{"content", "output", "result", "text", "value"} {
		if v, ok := payload[key]; ok && v != nil {
			if s, ok := v.(string); ok {
				return s
			}
			return renderJSON(v)
		}
	}
	return ""
}

func renderJSON(v any) string {
	if v == nil {
		return ""
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// clip truncates s to max runes and appends an ellipsis marker.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
