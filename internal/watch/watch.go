// Package watch coordinates a single observed run: it starts the run,
// ingests its event stream into the event log, folds the log into a
// transcript after every event, and drives the lifecycle panel.
package watch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nightjarhq/runwatch/internal/api"
	"github.com/nightjarhq/runwatch/internal/event"
	"github.com/nightjarhq/runwatch/internal/eventlog"
	"github.com/nightjarhq/runwatch/internal/lifecycle"
	"github.com/nightjarhq/runwatch/internal/logger"
	"github.com/nightjarhq/runwatch/internal/metrics"
	"github.com/nightjarhq/runwatch/internal/stream"
	"github.com/nightjarhq/runwatch/internal/transcript"
)

// TranscriptFunc receives the full re-folded transcript after each
// ingested event. Called from the stream's delivery goroutine.
type TranscriptFunc func([]transcript.Item)

// Options tune a Watcher. Zero values take defaults.
type Options struct {
	// OnTranscript is invoked with the fresh transcript after every event.
	OnTranscript TranscriptFunc
	// Credentials supplies the bearer token for stream connections.
	// When set, Watch refuses to connect without a credential.
	Credentials api.CredentialSource
	// Header is merged into stream requests in addition to the
	// Authorization header derived from Credentials.
	Header http.Header
	// AutoClose is the panel auto-close delay after a successful run.
	AutoClose time.Duration
	// Fade is the panel hide fade duration.
	Fade         time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	HTTPClient   *http.Client
}

// Watcher observes one run at a time. All methods are safe for
// concurrent use.
type Watcher struct {
	baseURL      string
	client       *api.Client
	onTranscript TranscriptFunc
	creds        api.CredentialSource
	header       http.Header
	autoClose    time.Duration
	fade         time.Duration
	reconnectMin time.Duration
	reconnectMax time.Duration
	httpClient   *http.Client

	log   *eventlog.Log
	panel *lifecycle.Panel

	mu        sync.Mutex
	stream    *stream.Stream
	sessionID int64
	runErr    error
	done      chan struct{}
}

// New creates a Watcher that uses client for run control and baseURL
// for the event stream endpoints.
func New(baseURL string, client *api.Client, opts Options) *Watcher {
	fade := opts.Fade
	if fade <= 0 {
		fade = 200 * time.Millisecond
	}
	return &Watcher{
		baseURL:      baseURL,
		client:       client,
		onTranscript: opts.OnTranscript,
		creds:        opts.Credentials,
		header:       opts.Header,
		autoClose:    opts.AutoClose,
		fade:         fade,
		reconnectMin: opts.ReconnectMin,
		reconnectMax: opts.ReconnectMax,
		httpClient:   opts.HTTPClient,
		log:          eventlog.New(),
		panel:        lifecycle.NewPanel(),
	}
}

// Panel exposes the lifecycle panel for display layers.
func (w *Watcher) Panel() *lifecycle.Panel { return w.panel }

// Log exposes the event log, e.g. for resume cursors.
func (w *Watcher) Log() *eventlog.Log { return w.log }

// Start launches a run for agentID and begins watching it.
func (w *Watcher) Start(ctx context.Context, agentID, input string, config map[string]any) (*api.RunHandle, error) {
	handle, err := w.client.StartRun(ctx, agentID, api.StartRunRequest{
		Input:  input,
		Config: config,
	})
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	if err := w.Watch(handle.RunID, ""); err != nil {
		return nil, err
	}
	return handle, nil
}

// Watch attaches to an already-running run. A non-empty resumeCursor
// asks the upstream for events after that id; resumption is
// best-effort and events emitted while disconnected may be missed.
// The stream carries the bearer credential; when a credential source
// is configured but yields nothing, Watch fails instead of connecting
// anonymously.
func (w *Watcher) Watch(runID, resumeCursor string) error {
	header, err := w.streamHeader()
	if err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.stream
	prevDone := w.done
	w.mu.Unlock()

	// Detach from any prior run before rebinding.
	if prev != nil {
		prev.Stop()
	}
	w.finish(prevDone, nil)

	w.mu.Lock()
	w.runErr = nil
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	w.log.Reset(runID)
	sid := w.panel.Show("Run "+runID, "Connecting", lifecycle.ShowOptions{AutoClose: w.autoClose})

	s := stream.Open(w.baseURL, runID, func(ev event.RunEvent) {
		w.handleEvent(ev, sid, done)
	}, stream.Options{
		ResumeCursor: resumeCursor,
		HTTPClient:   w.httpClient,
		Header:       header,
		ReconnectMin: w.reconnectMin,
		ReconnectMax: w.reconnectMax,
	})

	w.mu.Lock()
	w.stream = s
	w.sessionID = sid
	w.mu.Unlock()

	metrics.WatchesActive.Inc()
	logger.Info("watch: attached to run %s (session %d)", runID, sid)
	return nil
}

// streamHeader builds the headers for stream connections, resolving
// the bearer credential when a source is configured.
func (w *Watcher) streamHeader() (http.Header, error) {
	header := make(http.Header, len(w.header)+1)
	for k, vs := range w.header {
		header[k] = vs
	}
	if w.creds != nil {
		token, ok := w.creds.BearerToken()
		if !ok {
			return nil, api.ErrNoCredential
		}
		header.Set("Authorization", "Bearer "+token)
	}
	return header, nil
}

// Stop detaches from the current run without waiting for it to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	s := w.stream
	done := w.done
	w.mu.Unlock()

	if s != nil {
		s.Stop()
	}
	w.finish(done, nil)
}

// Wait blocks until the watched run reaches done or error, or ctx ends.
func (w *Watcher) Wait(ctx context.Context) error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transcript folds the current event log into transcript items.
func (w *Watcher) Transcript() []transcript.Item {
	return transcript.Fold(w.log.Snapshot())
}

func (w *Watcher) handleEvent(ev event.RunEvent, sid int64, done chan struct{}) {
	select {
	case <-done:
		// The watch already finished; drop stragglers delivered while
		// the stream winds down.
		return
	default:
	}

	w.log.Append(ev)

	if ev.Type == event.TypeLog && ev.Message != "" {
		w.panel.PushLog(ev.Message)
	}

	if w.onTranscript != nil {
		w.onTranscript(transcript.Fold(w.log.Snapshot()))
	}

	switch ev.Type {
	case event.TypeDone:
		w.panel.SetPhase(lifecycle.PhaseDone, "Finished")
		w.panel.SafeHideAfter(w.panel.AutoClose(), sid, w.fade)
		w.finish(done, nil)
		go w.detach()
	case event.TypeError:
		msg := ev.Message
		if msg == "" {
			msg = "run failed"
		}
		w.panel.SetError(msg)
		w.finish(done, fmt.Errorf("run %s: %s", ev.RunID, msg))
		go w.detach()
	}
}

// detach stops the stream without touching the panel. Stopping waits
// out the in-flight delivery, so it must never run synchronously on
// the event handler goroutine.
func (w *Watcher) detach() {
	w.mu.Lock()
	s := w.stream
	w.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// finish records the outcome and releases waiters, once per watch.
func (w *Watcher) finish(done chan struct{}, err error) {
	if done == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-done:
		return // already finished
	default:
	}
	w.runErr = err
	close(done)
	metrics.WatchesActive.Dec()
}
