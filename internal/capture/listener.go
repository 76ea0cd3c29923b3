package capture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Mode selects how recognized text leaves the listener.
type Mode int

const (
	// ModeOneShot captures a single utterance and fills the input line for
	// user confirmation.
	ModeOneShot Mode = iota
	// ModeContinuous listens for the wake word and dispatches what follows.
	ModeContinuous
)

var (
	ErrAlreadyListening = errors.New("already listening")
	ErrEmptyWakeWord    = errors.New("empty wake word")
)

// Sink receives recognized utterances.
type Sink interface {
	// DispatchUtterance submits a wake-word utterance as a chat turn.
	DispatchUtterance(text string)
	// FillInput surfaces a one-shot transcript for user-confirmed sending.
	FillInput(text string)
}

// Surface is the listener-facing subset of the presentation layer.
type Surface interface {
	Listening()
	Idle()
	Notice(text string)
}

// Config carries the listener's wake phrase and timing windows.
type Config struct {
	WakeWord          string
	SilenceDebounce   time.Duration
	DupObserveWindow  time.Duration
	DupDispatchWindow time.Duration
	RestartInterval   time.Duration
	RestartDelay      time.Duration
}

// Listener owns one capture session at a time: engine lifecycle, wake-word
// extraction, silence debounce, duplicate suppression, and the periodic
// engine restart that keeps long sessions fresh.
type Listener struct {
	logger  *slog.Logger
	engine  Engine
	sink    Sink
	surface Surface
	cfg     Config

	mu               sync.Mutex
	ctx              context.Context
	mode             Mode
	active           bool
	generation       int
	wake             string
	buffer           string
	clearOnStart     bool
	debounce         *time.Timer
	cadence          *time.Timer
	restart          *time.Timer
	lastDispatched   string
	lastDispatchedAt time.Time
}

// New constructs a listener around engine.
func New(logger *slog.Logger, engine Engine, sink Sink, surface Surface, cfg Config) *Listener {
	if cfg.WakeWord == "" {
		cfg.WakeWord = "花花"
	}
	if cfg.SilenceDebounce <= 0 {
		cfg.SilenceDebounce = 1800 * time.Millisecond
	}
	if cfg.DupObserveWindow <= 0 {
		cfg.DupObserveWindow = 4 * time.Second
	}
	if cfg.DupDispatchWindow <= 0 {
		cfg.DupDispatchWindow = 3 * time.Second
	}
	if cfg.RestartInterval <= 0 {
		cfg.RestartInterval = 30 * time.Second
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 150 * time.Millisecond
	}
	return &Listener{
		logger:  logger,
		engine:  engine,
		sink:    sink,
		surface: surface,
		cfg:     cfg,
		wake:    cfg.WakeWord,
	}
}

// Active reports whether a capture session is wanted right now.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// WakeWord returns the current wake phrase.
func (l *Listener) WakeWord() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wake
}

// SetWakeWord swaps the wake phrase for the running and future sessions.
func (l *Listener) SetWakeWord(word string) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return ErrEmptyWakeWord
	}
	l.mu.Lock()
	l.wake = word
	l.mu.Unlock()
	return nil
}

// Start opens a capture session in the given mode. ctx bounds every engine
// session the listener spawns, including automatic restarts.
func (l *Listener) Start(ctx context.Context, mode Mode) error {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return ErrAlreadyListening
	}
	l.active = true
	l.mode = mode
	l.ctx = ctx
	l.clearOnStart = true
	gen := l.beginSessionLocked()
	l.mu.Unlock()

	if err := l.startSession(ctx, gen); err != nil {
		l.mu.Lock()
		l.active = false
		l.stopTimersLocked()
		l.mu.Unlock()
		return err
	}
	l.surface.Listening()
	return nil
}

// Stop ends the capture session. Safe to call when idle.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	l.active = false
	l.stopTimersLocked()
	l.mu.Unlock()

	l.engine.Stop()
	l.surface.Idle()
}

// beginSessionLocked advances the session generation, applies the pending
// buffer clear, and arms the restart cadence.
func (l *Listener) beginSessionLocked() int {
	l.generation++
	gen := l.generation
	l.stopTimersLocked()
	if l.clearOnStart {
		l.buffer = ""
		l.clearOnStart = false
	}
	if l.mode == ModeContinuous {
		l.cadence = time.AfterFunc(l.cfg.RestartInterval, func() { l.onCadence(gen) })
	}
	return gen
}

func (l *Listener) startSession(ctx context.Context, gen int) error {
	h := Handlers{
		OnTranscript: func(text string, final bool) { l.onTranscript(gen, text, final) },
		OnEnd:        func() { l.onEnd(gen) },
		OnError:      func(err error) { l.onError(gen, err) },
	}
	if err := l.engine.Start(ctx, h); err != nil {
		l.logger.Warn("capture engine start failed", "error", err.Error())
		return err
	}
	l.logger.Info("capture session started", "generation", gen, "mode", int(l.mode))
	return nil
}

func (l *Listener) onTranscript(gen int, text string, final bool) {
	l.mu.Lock()
	if gen != l.generation || !l.active {
		l.mu.Unlock()
		return
	}
	l.buffer = text

	if l.mode == ModeOneShot {
		utterance := strings.TrimSpace(text)
		if !final || utterance == "" {
			l.mu.Unlock()
			return
		}
		l.active = false
		l.stopTimersLocked()
		l.mu.Unlock()

		l.engine.Stop()
		l.surface.Idle()
		l.sink.FillInput(utterance)
		return
	}

	cand := l.candidateLocked()
	if cand == "" {
		l.mu.Unlock()
		return
	}
	if cand == l.lastDispatched && time.Since(l.lastDispatchedAt) < l.cfg.DupObserveWindow {
		// Recognizer echo of the utterance just sent; drop any pending
		// dispatch along with it.
		if l.debounce != nil {
			l.debounce.Stop()
			l.debounce = nil
		}
		l.mu.Unlock()
		return
	}
	if l.debounce != nil {
		l.debounce.Stop()
	}
	l.debounce = time.AfterFunc(l.cfg.SilenceDebounce, func() { l.onSilence(gen) })
	l.mu.Unlock()
}

// onSilence fires when the utterance stopped growing. The candidate is
// re-extracted from the live buffer rather than a stale snapshot.
func (l *Listener) onSilence(gen int) {
	l.mu.Lock()
	if gen != l.generation || !l.active || l.mode != ModeContinuous {
		l.mu.Unlock()
		return
	}
	l.debounce = nil
	cand := l.candidateLocked()
	if cand == "" {
		l.mu.Unlock()
		return
	}
	now := time.Now()
	if cand == l.lastDispatched && now.Sub(l.lastDispatchedAt) < l.cfg.DupDispatchWindow {
		l.mu.Unlock()
		return
	}
	l.lastDispatched = cand
	l.lastDispatchedAt = now
	l.buffer = ""
	l.mu.Unlock()

	l.logger.Info("utterance dispatched", "chars", len(cand))
	l.sink.DispatchUtterance(cand)
}

// onCadence forces a clean engine restart so long sessions never go stale.
func (l *Listener) onCadence(gen int) {
	l.mu.Lock()
	if gen != l.generation || !l.active {
		l.mu.Unlock()
		return
	}
	l.clearOnStart = true
	l.mu.Unlock()

	l.logger.Info("capture restart cadence", "generation", gen)
	l.engine.Stop()
}

func (l *Listener) onEnd(gen int) {
	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return
	}
	if !l.active || l.mode != ModeContinuous {
		l.active = false
		l.stopTimersLocked()
		l.mu.Unlock()
		l.surface.Idle()
		return
	}
	ctx := l.ctx
	l.restart = time.AfterFunc(l.cfg.RestartDelay, func() { l.restartSession(ctx) })
	l.mu.Unlock()
}

func (l *Listener) restartSession(ctx context.Context) {
	l.mu.Lock()
	if !l.active || ctx.Err() != nil {
		l.mu.Unlock()
		return
	}
	gen := l.beginSessionLocked()
	l.mu.Unlock()

	if err := l.startSession(ctx, gen); err != nil {
		l.mu.Lock()
		l.active = false
		l.stopTimersLocked()
		l.mu.Unlock()
		l.surface.Idle()
		l.surface.Notice(Guidance(CodeOf(err)))
	}
}

// onError stops the session with user guidance; a failed session is never
// retried on its own. Deliberate aborts stay silent.
func (l *Listener) onError(gen int, err error) {
	code := CodeOf(err)
	if code == CodeAborted {
		return
	}

	l.mu.Lock()
	if gen != l.generation || !l.active {
		l.mu.Unlock()
		return
	}
	l.active = false
	l.stopTimersLocked()
	l.mu.Unlock()

	l.logger.Warn("capture session failed", "code", code, "error", err.Error())
	l.engine.Stop()
	l.surface.Idle()
	l.surface.Notice(Guidance(code))
}

// candidateLocked returns the trimmed text after the last wake-word
// occurrence in the buffer.
func (l *Listener) candidateLocked() string {
	idx := strings.LastIndex(l.buffer, l.wake)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(l.buffer[idx+len(l.wake):])
}

func (l *Listener) stopTimersLocked() {
	for _, t := range []*time.Timer{l.debounce, l.cadence, l.restart} {
		if t != nil {
			t.Stop()
		}
	}
	l.debounce = nil
	l.cadence = nil
	l.restart = nil
}
