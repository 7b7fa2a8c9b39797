// Package lifecycle tracks the visible state of a run in a UI slot.
//
// A Panel moves through idle → running → (finalizing) → done → idle,
// or running → error → idle on failure. Each Show allocates a strictly
// increasing session id; every deferred callback captures the session
// id at scheduling time and re-checks it before acting, so a stale
// timer from a previous run can never touch the current one.
package lifecycle

import (
	"sync"
	"time"
)

// Phase is the run's visible state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRunning    Phase = "running"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

const (
	// DefaultAutoClose is the delay before a finished run auto-closes.
	DefaultAutoClose = 1000 * time.Millisecond
	// maxRetainedLogs bounds the pushed log lines kept for display.
	maxRetainedLogs = 5
)

// ShowOptions tune a Show call.
type ShowOptions struct {
	// AutoClose overrides the auto-close delay for this session.
	AutoClose time.Duration
}

// State is a point-in-time snapshot of the panel.
type State struct {
	Open         bool
	Closing      bool
	Phase        Phase
	SessionID    int64
	Title        string
	Subtitle     string
	ErrorMessage string
	AutoClose    time.Duration
	Logs         []string
}

// Panel is the run lifecycle state machine for one UI slot.
type Panel struct {
	mu        sync.Mutex
	open      bool
	closing   bool
	phase     Phase
	sessionID int64
	title     string
	subtitle  string
	errMsg    string
	autoClose time.Duration
	logs      []string

	// afterFunc schedules deferred work; replaced in tests.
	afterFunc func(time.Duration, func())
}

// NewPanel creates a hidden, idle panel.
func NewPanel() *Panel {
	return &Panel{
		phase: PhaseIdle,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// Show opens the panel for a new run: prior logs are cleared, the phase
// becomes running, and a session id strictly greater than any prior one
// is allocated and returned.
func (p *Panel) Show(title, subtitle string, opts ShowOptions) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessionID++
	p.open = true
	p.closing = false
	p.phase = PhaseRunning
	p.title = title
	p.subtitle = subtitle
	p.errMsg = ""
	p.logs = nil
	p.autoClose = opts.AutoClose
	if p.autoClose <= 0 {
		p.autoClose = DefaultAutoClose
	}
	return p.sessionID
}

// SetPhase transitions to an explicit phase. Any phase other than
// error clears the stored error message.
func (p *Panel) SetPhase(phase Phase, subtitle string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.phase = phase
	if subtitle != "" {
		p.subtitle = subtitle
	}
	if phase != PhaseError {
		p.errMsg = ""
	}
}

// SetError forces the error phase. The error phase is sticky: it never
// auto-closes (the auto-close callback requires phase done).
func (p *Panel) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.phase = PhaseError
	p.errMsg = message
	p.subtitle = "Run failed"
	p.closing = false
}

// PushLog appends a log line, retaining only the most recent lines.
func (p *Panel) PushLog(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logs = append(p.logs, line)
	if len(p.logs) > maxRetainedLogs {
		p.logs = p.logs[len(p.logs)-maxRetainedLogs:]
	}
}

// HideWithFade marks the panel closing and hides it after fadeMs,
// unless a re-Show in between cancelled the fade. No-op when hidden.
func (p *Panel) HideWithFade(fade time.Duration) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return
	}
	p.closing = true
	after := p.afterFunc
	p.mu.Unlock()

	after(fade, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.closing {
			return // a re-Show cancelled the fade
		}
		p.open = false
		p.closing = false
		p.phase = PhaseIdle
	})
}

// SafeHideAfter schedules an auto-close. The close executes only if
// the panel is still open, the current session id still equals the one
// captured here, and the phase is still done. A just-finished run's
// delayed close therefore never fires into a newer run's session.
func (p *Panel) SafeHideAfter(delay time.Duration, sessionID int64, fade time.Duration) {
	p.mu.Lock()
	after := p.afterFunc
	p.mu.Unlock()

	after(delay, func() {
		// Validity check and the closing mark share one critical
		// section; a Show interleaved between them could otherwise be
		// mistaken for the finished session.
		p.mu.Lock()
		if !p.open || p.sessionID != sessionID || p.phase != PhaseDone {
			p.mu.Unlock()
			return
		}
		p.closing = true
		p.mu.Unlock()

		after(fade, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if !p.closing || p.sessionID != sessionID {
				return // a re-Show cancelled the fade
			}
			p.open = false
			p.closing = false
			p.phase = PhaseIdle
		})
	})
}

// SessionID returns the current session id.
func (p *Panel) SessionID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Phase returns the current phase.
func (p *Panel) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// AutoClose returns the auto-close delay for the current session.
func (p *Panel) AutoClose() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoClose
}

// Snapshot returns the panel's current state.
func (p *Panel) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	logs := make([]string, len(p.logs))
	copy(logs, p.logs)
	return State{
		Open:         p.open,
		Closing:      p.closing,
		Phase:        p.phase,
		SessionID:    p.sessionID,
		Title:        p.title,
		Subtitle:     p.subtitle,
		ErrorMessage: p.errMsg,
		AutoClose:    p.autoClose,
		Logs:         logs,
	}
}
