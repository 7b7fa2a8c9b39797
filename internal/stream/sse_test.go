package stream

import (
	"strings"
	"testing"
)

func TestReadSSE_DispatchesEvents(t *testing.T) {
	body := "id: ev-1\nevent: message\ndata: {\"a\":1}\n\n" +
		": keepalive comment\n" +
		"data: {\"b\":2}\n\n"

	var got []sseEvent
	err := readSSE(strings.NewReader(body), func(ev sseEvent) bool {
		got = append(got, ev)
		return true
	})
	if err != nil {
		t.Fatalf("readSSE() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "ev-1" || got[0].Name != "message" || string(got[0].Data) != `{"a":1}` {
		t.Errorf("event[0] = %+v", got[0])
	}
	if got[1].ID != "" || string(got[1].Data) != `{"b":2}` {
		t.Errorf("event[1] = %+v", got[1])
	}
}

func TestReadSSE_MultiLineData(t *testing.T) {
	body := "data: line1\ndata: line2\n\n"
	var got []sseEvent
	if err := readSSE(strings.NewReader(body), func(ev sseEvent) bool {
		got = append(got, ev)
		return true
	}); err != nil {
		t.Fatalf("readSSE() error = %v", err)
	}
	if len(got) != 1 || string(got[0].Data) != "line1\nline2" {
		t.Errorf("got = %+v", got)
	}
}

func TestReadSSE_FlushesFinalEventWithoutBlankLine(t *testing.T) {
	body := "data: {\"x\":1}\n"
	var count int
	if err := readSSE(strings.NewReader(body), func(ev sseEvent) bool {
		count++
		return true
	}); err != nil {
		t.Fatalf("readSSE() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestReadSSE_StopsWhenEmitReturnsFalse(t *testing.T) {
	body := "data: one\n\ndata: two\n\n"
	var count int
	if err := readSSE(strings.NewReader(body), func(ev sseEvent) bool {
		count++
		return false
	}); err != nil {
		t.Fatalf("readSSE() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (stopped after first)", count)
	}
}
