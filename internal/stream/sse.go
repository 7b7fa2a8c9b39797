package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// sseEvent is one server-sent event as read off the wire.
type sseEvent struct {
	ID   string
	Name string
	Data []byte
}

// maxLineSize bounds a single SSE line (large tool outputs arrive as
// one data line).
const maxLineSize = 1 << 20

// readSSE consumes a text/event-stream body, invoking emit for each
// dispatched event. emit returning false stops the read. Returns the
// underlying read error, or nil on clean EOF.
func readSSE(r io.Reader, emit func(sseEvent) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var cur sseEvent
	var data bytes.Buffer

	dispatch := func() bool {
		if data.Len() == 0 {
			cur = sseEvent{}
			return true
		}
		cur.Data = append([]byte(nil), data.Bytes()...)
		ok := emit(cur)
		cur = sseEvent{}
		data.Reset()
		return ok
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if !dispatch() {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment/keepalive
		}

		field, value := line, ""
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			field = line[:idx]
			value = line[idx+1:]
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "id":
			cur.ID = value
		case "event":
			cur.Name = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	// Flush a final event that arrived without a trailing blank line.
	dispatch()
	return nil
}
