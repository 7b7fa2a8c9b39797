// Package stream maintains the per-run event stream connection.
//
// The client opens a one-directional SSE connection to the run's event
// endpoint, validates each event's declared type against the fixed
// allow-list, and relays valid events to the handler. Connection-level
// failures trigger reconnects with a randomized delay, forever, until
// Stop is called. A generation counter captured at timer-scheduling
// time guards against the reconnect-timer-vs-teardown race.
package stream

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/nightjarhq/runwatch/internal/event"
	"github.com/nightjarhq/runwatch/internal/logger"
	"github.com/nightjarhq/runwatch/internal/metrics"
)

// Reconnect delay bounds: a dropped connection is retried after a
// random delay in [ReconnectMin, ReconnectMax).
const (
	DefaultReconnectMin = 1000 * time.Millisecond
	DefaultReconnectMax = 2500 * time.Millisecond
)

// Handler receives each validated event in arrival order.
type Handler func(event.RunEvent)

// Options tune a stream. Zero values take defaults.
type Options struct {
	// ResumeCursor is the last seen event id, for best-effort resumption.
	ResumeCursor string
	HTTPClient   *http.Client
	// Header is merged into every stream request (e.g. Authorization).
	Header       http.Header
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Stream is a live event stream for one run. Create with Open.
type Stream struct {
	baseURL      string
	runID        string
	handler      Handler
	httpClient   *http.Client
	header       http.Header
	reconnectMin time.Duration
	reconnectMax time.Duration

	mu         sync.Mutex
	closed     bool
	generation uint64
	cursor     string
	cancel     context.CancelFunc
	timer      *time.Timer

	// deliverMu is held across the closed-check and the handler call,
	// and taken by Stop as a barrier, so no delivery can complete after
	// Stop returns.
	deliverMu sync.Mutex
}

// Open starts the stream for runID against the given base URL and
// returns immediately; events are delivered on a background goroutine.
// The caller owns run completion: done/error events are relayed like
// any other and it is the caller's job to invoke Stop.
func Open(baseURL, runID string, handler Handler, opts Options) *Stream {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No overall timeout: the stream is long-lived by design.
		httpClient = &http.Client{}
	}
	min := opts.ReconnectMin
	if min <= 0 {
		min = DefaultReconnectMin
	}
	max := opts.ReconnectMax
	if max <= min {
		max = min + (DefaultReconnectMax - DefaultReconnectMin)
	}

	s := &Stream{
		baseURL:      baseURL,
		runID:        runID,
		handler:      handler,
		httpClient:   httpClient,
		header:       opts.Header,
		reconnectMin: min,
		reconnectMax: max,
		cursor:       opts.ResumeCursor,
	}
	go s.connect()
	return s
}

// Stop tears the stream down. Idempotent. Any scheduled reconnect
// becomes a no-op, and Stop blocks until any in-flight handler call
// has returned, so no delivery happens after Stop returns. Because of
// that barrier, Stop must not be called from the handler goroutine
// itself; handlers that want to stop the stream do so from another
// goroutine.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Wait out an in-flight delivery.
	s.deliverMu.Lock()
	s.deliverMu.Unlock() //nolint:staticcheck // barrier, not a critical section
}

// Cursor returns the id of the last event seen, usable as a resume
// cursor for a future stream.
func (s *Stream) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Stream) connect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	cursor := s.cursor
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.streamURL(cursor), nil)
	if err != nil {
		logger.Error("stream %s: build request: %v", s.runID, err)
		s.scheduleReconnect()
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if cursor != "" {
		req.Header.Set("Last-Event-ID", cursor)
	}
	for k, vs := range s.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if !s.isClosed() {
			logger.Error("stream %s: connect: %v", s.runID, err)
			s.scheduleReconnect()
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error("stream %s: unexpected status %d", s.runID, resp.StatusCode)
		s.scheduleReconnect()
		return
	}

	readErr := readSSE(resp.Body, func(ev sseEvent) bool {
		return s.dispatch(ev)
	})
	if s.isClosed() {
		return
	}
	if readErr != nil {
		logger.Error("stream %s: read: %v", s.runID, readErr)
	} else {
		logger.Info("stream %s: connection closed by upstream", s.runID)
	}
	s.scheduleReconnect()
}

// dispatch validates and relays one wire event. Returns false to stop
// the read loop once the stream is closed.
func (s *Stream) dispatch(raw sseEvent) bool {
	ev, err := event.Parse(raw.Data, s.runID)
	if err != nil {
		// Forward-compatibility guard: unknown and malformed events are
		// dropped and only logged, never surfaced.
		switch {
		case errors.Is(err, event.ErrUnknownType):
			metrics.UnknownEventsDropped.Inc()
			logger.Info("stream %s: dropping event: %v", s.runID, err)
		default:
			metrics.MalformedEventsDropped.Inc()
			logger.Error("stream %s: dropping event: %v", s.runID, err)
		}
		return !s.isClosed()
	}
	ev.ID = raw.ID

	// The closed-check and the handler call form one unit under
	// deliverMu; Stop takes the same mutex, so a Stop racing on another
	// goroutine returns only after this delivery has completed.
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if raw.ID != "" {
		s.cursor = raw.ID
	}
	s.mu.Unlock()

	metrics.EventsIngested.WithLabelValues(string(ev.Type)).Inc()
	s.handler(ev)
	return !s.isClosed()
}

// scheduleReconnect arms the reconnect timer. The generation captured
// here is re-checked when the timer fires so a timer scheduled before
// Stop (or superseded by a newer schedule) can never reconnect.
func (s *Stream) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	gen := s.generation
	delay := s.reconnectDelay()
	logger.Info("stream %s: reconnecting in %v", s.runID, delay)
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.closed || s.generation != gen {
			s.mu.Unlock()
			return
		}
		s.generation++
		s.timer = nil
		s.mu.Unlock()

		metrics.StreamReconnects.Inc()
		s.connect()
	})
}

// reconnectDelay picks a random delay in [reconnectMin, reconnectMax).
func (s *Stream) reconnectDelay() time.Duration {
	window := s.reconnectMax - s.reconnectMin
	return s.reconnectMin + time.Duration(rand.Int63n(int64(window)))
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) streamURL(cursor string) string {
	u := s.baseURL + "/events/" + url.PathEscape(s.runID)
	if cursor != "" {
		u += "?after_event_id=" + url.QueryEscape(cursor)
	}
	return u
}
