// Package run reconciles streamed gateway events into exactly one displayed
// and spoken reply per submitted turn.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visagehq/visage/internal/protocol"
)

const (
	// PlaceholderText fills a reply slot that ended without any content.
	PlaceholderText = "思考中"
	// TimeoutText resolves a run whose stream never started.
	TimeoutText = "请求超时，请重试"
	// DeferExpiredText resolves a run whose empty final never recovered.
	DeferExpiredText = "我脑子坏了\n\n排查 API/model 是否可用"
)

// ErrEmptyMessage rejects submissions with no content after trimming.
var ErrEmptyMessage = errors.New("empty message")

// Number of submitted turns remembered for late-event auditing.
const sentLogLimit = 32

// Caller issues correlated gateway requests.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Slot is one reply row on the surface: updated while streaming, finished once.
type Slot interface {
	Update(text string)
	Finish(text string)
}

// Surface is the reconciler-facing subset of the presentation layer.
// Implementations must not call back into the Reconciler.
type Surface interface {
	OpenReply() Slot
	ShowThinking(text string)
	ClearThinking()
	Thinking()
	Speaking()
	Idle()
}

// Voice hands resolved replies to the speech gate. Enqueue must not block.
type Voice interface {
	Enqueue(runID, text string)
	Cancel()
}

type noopSlot struct{}

func (noopSlot) Update(string) {}
func (noopSlot) Finish(string) {}

// noopSurface preserves reconciler flow when no surface is wired.
type noopSurface struct{}

func (noopSurface) OpenReply() Slot     { return noopSlot{} }
func (noopSurface) ShowThinking(string) {}
func (noopSurface) ClearThinking()      {}
func (noopSurface) Thinking()           {}
func (noopSurface) Speaking()           {}
func (noopSurface) Idle()               {}

type noopVoice struct{}

func (noopVoice) Enqueue(string, string) {}
func (noopVoice) Cancel()                {}

// Config carries the reconciler's session identity and timer durations.
type Config struct {
	SessionKey      string
	ResponseTimeout time.Duration
	FinalWait       time.Duration
	EmptyFinalDefer time.Duration
}

// Reconciler tracks the single active run and owns its three timers: response
// timeout, empty-final defer, and post-lifecycle final wait.
type Reconciler struct {
	logger  *slog.Logger
	caller  Caller
	surface Surface
	voice   Voice
	cfg     Config

	mu            sync.Mutex
	state         State
	epoch         int
	runID         string
	closingRunID  string
	stream        string
	thinking      string
	assistantSeen bool
	slot          Slot
	lastSlot      Slot
	lastRunID     string
	sent          map[string]string
	sentOrder     []string
	timeout       *time.Timer
	deferTimer    *time.Timer
	finalWait     *time.Timer
}

// New constructs a reconciler with safe default fallbacks.
func New(logger *slog.Logger, caller Caller, surface Surface, voice Voice, cfg Config) *Reconciler {
	if surface == nil {
		surface = noopSurface{}
	}
	if voice == nil {
		voice = noopVoice{}
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}
	if cfg.FinalWait <= 0 {
		cfg.FinalWait = 3 * time.Second
	}
	return &Reconciler{
		logger:  logger,
		caller:  caller,
		surface: surface,
		voice:   voice,
		cfg:     cfg,
		state:   StateIdle,
		sent:    make(map[string]string),
	}
}

// State returns the current run state snapshot.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SubmittedText returns the audit-logged text for a recently submitted run.
func (r *Reconciler) SubmittedText(runID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	text, ok := r.sent[runID]
	return text, ok
}

// Submit opens a new run: supersedes any active one, opens a reply slot, arms
// the response timeout, and issues chat.send keyed by the fresh run id. It
// blocks until the gateway acknowledges the request; a rejection resolves the
// run immediately with the formatted error.
func (r *Reconciler) Submit(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	runID := uuid.NewString()

	r.mu.Lock()
	r.supersedeLocked()
	r.transitionLocked(EventSubmit)
	r.epoch++
	epoch := r.epoch
	r.runID = runID
	r.closingRunID = ""
	r.stream = ""
	r.thinking = ""
	r.assistantSeen = false
	r.recordSentLocked(runID, text)
	r.slot = r.surface.OpenReply()
	r.surface.Thinking()
	r.timeout = time.AfterFunc(r.cfg.ResponseTimeout, func() { r.onTimeout(epoch) })
	r.mu.Unlock()

	r.voice.Cancel()
	r.logger.Info("turn submitted", "runId", runID, "chars", len(text))

	_, err := r.caller.Call(ctx, "chat.send", protocol.ChatSendParams{
		SessionKey:     r.cfg.SessionKey,
		Message:        text,
		Deliver:        false,
		IdempotencyKey: runID,
	})
	if err != nil {
		r.logger.Warn("chat.send rejected", "runId", runID, "error", err.Error())
		r.mu.Lock()
		if r.epoch == epoch {
			r.resolveLocked(FormatErrorForUI(err.Error()))
		}
		r.mu.Unlock()
		return runID, err
	}
	return runID, nil
}

// HandleChat applies one chat event: delta accumulation or terminal
// resolution. Events for other sessions are ignored.
func (r *Reconciler) HandleChat(p protocol.ChatPayload) {
	if !p.MatchesSession(r.cfg.SessionKey) {
		return
	}
	if p.State == protocol.ChatStateDelta {
		r.handleDelta(p)
		return
	}
	r.handleTerminal(p)
}

func (r *Reconciler) handleDelta(p protocol.ChatPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runID == "" {
		return
	}
	if p.RunID != "" && p.RunID != r.runID {
		return
	}

	text, ok := protocol.ExtractText(p.Message)
	if !ok || text == "" {
		return
	}
	// Deltas carry the full text so far; a shorter snapshot is stale.
	if len(text) < len(r.stream) {
		return
	}

	if r.stream == "" {
		r.stopTimerLocked(&r.timeout)
		r.transitionLocked(EventDelta)
		r.surface.Speaking()
	}
	r.stream = text
	if r.slot != nil {
		r.slot.Update(text)
	}
}

func (r *Reconciler) handleTerminal(p protocol.ChatPayload) {
	r.mu.Lock()

	if p.RunID != "" && r.runID != "" && p.RunID != r.runID {
		// A stray terminal for another run only matters when it carries a
		// real error to show.
		if p.State == protocol.ChatStateError && p.ErrorMessage != "" {
			r.resolveLateLocked(p.RunID, FormatErrorForUI(p.ErrorMessage))
		}
		r.mu.Unlock()
		return
	}

	// Any accepted terminal settles the lifecycle grace timer.
	r.stopTimerLocked(&r.finalWait)

	runID := r.runID
	if runID == "" {
		runID = r.closingRunID
	}
	if runID == "" {
		runID = p.RunID
	}

	text := ""
	if s, ok := protocol.ExtractText(p.Message); ok {
		text = strings.TrimSpace(s)
	}
	if text == "" {
		text = strings.TrimSpace(r.stream)
	}
	if text == "" {
		if msg, ok := protocol.MessageError(p.Message); ok {
			text = FormatErrorForUI(msg)
		} else if p.ErrorMessage != "" {
			text = FormatErrorForUI(p.ErrorMessage)
		}
	}
	if text == "" {
		text = PlaceholderText
	}

	realReply := text != PlaceholderText && !strings.HasPrefix(text, "（")
	if !realReply && r.slot != nil && r.cfg.EmptyFinalDefer > 0 {
		// A contentless terminal sometimes precedes a late replay carrying
		// the real reply. Hold the slot open; a repeat extends the window.
		r.stopTimerLocked(&r.timeout)
		r.stopTimerLocked(&r.deferTimer)
		r.transitionLocked(EventDefer)
		epoch := r.epoch
		r.deferTimer = time.AfterFunc(r.cfg.EmptyFinalDefer, func() { r.onDeferExpired(epoch) })
		r.mu.Unlock()
		r.logger.Warn("contentless terminal deferred", "runId", runID, "state", p.State)
		return
	}

	resolved := r.resolveAsLocked(runID, text)
	r.mu.Unlock()

	r.logger.Info("run resolved", "runId", runID, "state", p.State, "chars", len(text))
	r.deliver(resolved)
}

// HandleAgent applies one agent event: thinking text or a lifecycle phase.
func (r *Reconciler) HandleAgent(p protocol.AgentPayload) {
	r.mu.Lock()

	if r.runID == "" || p.RunID == "" || p.RunID != r.runID {
		r.mu.Unlock()
		return
	}

	if p.Data.Text != "" && p.Stream == protocol.StreamAssistant {
		if !r.assistantSeen {
			r.assistantSeen = true
			r.surface.ClearThinking()
		}
	}

	if p.Data.Thinking != "" && !r.assistantSeen {
		// Thinking snapshots grow like deltas do; keep the longest.
		if len(p.Data.Thinking) > len(r.thinking) {
			r.thinking = p.Data.Thinking
			r.surface.ShowThinking(r.thinking)
		}
	}

	if p.Stream == protocol.StreamLifecycle && (p.Data.Phase == protocol.PhaseEnd || p.Data.Phase == protocol.PhaseError) {
		// The agent is done; give any terminal chat event a short grace
		// window before the slot closes on its own.
		r.closingRunID = r.runID
		r.runID = ""
		if r.slot != nil && r.finalWait == nil {
			epoch := r.epoch
			r.finalWait = time.AfterFunc(r.cfg.FinalWait, func() { r.onFinalWait(epoch) })
		}
		r.mu.Unlock()
		r.logger.Info("agent lifecycle closed", "runId", p.RunID, "phase", p.Data.Phase)
		return
	}

	r.mu.Unlock()
}

func (r *Reconciler) onTimeout(epoch int) {
	r.mu.Lock()
	if r.epoch != epoch || r.stream != "" {
		r.mu.Unlock()
		return
	}
	runID := r.runID
	r.resolveLocked(TimeoutText)
	r.mu.Unlock()

	r.logger.Warn("response timeout", "runId", runID)
}

func (r *Reconciler) onDeferExpired(epoch int) {
	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return
	}
	runID := r.runID
	if runID == "" {
		runID = r.closingRunID
	}
	r.resolveAsLocked(runID, DeferExpiredText)
	r.mu.Unlock()

	r.logger.Warn("deferred final never recovered", "runId", runID)
}

func (r *Reconciler) onFinalWait(epoch int) {
	r.mu.Lock()
	if r.epoch != epoch || r.slot == nil {
		r.mu.Unlock()
		return
	}
	text := strings.TrimSpace(r.stream)
	if text == "" {
		text = PlaceholderText
	}
	runID := r.closingRunID
	r.resolveAsLocked(runID, text)
	r.mu.Unlock()

	r.logger.Info("slot closed after lifecycle wait", "runId", runID)
}

type resolution struct {
	runID string
	text  string
}

func (r *Reconciler) resolveLocked(text string) resolution {
	runID := r.runID
	if runID == "" {
		runID = r.closingRunID
	}
	return r.resolveAsLocked(runID, text)
}

// resolveAsLocked finishes the run's slot with text, exactly once per run:
// the epoch bump invalidates every armed timer.
func (r *Reconciler) resolveAsLocked(runID, text string) resolution {
	r.epoch++
	r.stopTimersLocked()

	slot := r.slot
	if slot == nil {
		if runID != "" && runID == r.lastRunID && r.lastSlot != nil {
			slot = r.lastSlot
		} else {
			slot = r.surface.OpenReply()
		}
	}
	slot.Finish(text)

	r.lastSlot = slot
	r.lastRunID = runID
	r.slot = nil
	r.runID = ""
	r.closingRunID = ""
	r.stream = ""
	r.thinking = ""
	r.assistantSeen = false
	r.transitionLocked(EventResolve)
	r.surface.ClearThinking()
	r.surface.Idle()

	return resolution{runID: runID, text: text}
}

// resolveLateLocked rewrites a past run's slot with a late error without
// touching the active run.
func (r *Reconciler) resolveLateLocked(runID, text string) {
	if runID == r.lastRunID && r.lastSlot != nil {
		r.lastSlot.Finish(text)
		return
	}
	slot := r.surface.OpenReply()
	slot.Finish(text)
}

// supersedeLocked abandons the active run so a new submission can start.
// Its open slot closes with whatever streamed; nothing is spoken.
func (r *Reconciler) supersedeLocked() {
	if r.runID == "" && r.closingRunID == "" && r.slot == nil {
		return
	}
	r.stopTimersLocked()
	if r.slot != nil {
		text := strings.TrimSpace(r.stream)
		if text == "" {
			text = PlaceholderText
		}
		r.slot.Finish(text)
		r.lastSlot = r.slot
		r.lastRunID = r.runID
		r.slot = nil
	}
	r.runID = ""
	r.closingRunID = ""
	r.stream = ""
	r.thinking = ""
	r.assistantSeen = false
	r.transitionLocked(EventSupersede)
	r.surface.ClearThinking()
}

// transitionLocked applies one state machine event, keeping the current state
// when the event is invalid for it.
func (r *Reconciler) transitionLocked(event Event) {
	next, err := Transition(r.state, event)
	if err != nil {
		r.logger.Debug("state transition rejected", "state", string(r.state), "event", string(event))
		return
	}
	r.state = next
}

func (r *Reconciler) recordSentLocked(runID, text string) {
	r.sent[runID] = text
	r.sentOrder = append(r.sentOrder, runID)
	if len(r.sentOrder) > sentLogLimit {
		delete(r.sent, r.sentOrder[0])
		r.sentOrder = r.sentOrder[1:]
	}
}

func (r *Reconciler) stopTimersLocked() {
	r.stopTimerLocked(&r.timeout)
	r.stopTimerLocked(&r.deferTimer)
	r.stopTimerLocked(&r.finalWait)
}

func (r *Reconciler) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// deliver hands a terminal-event resolution to the speech gate outside the
// lock. Fallback texts from the timer paths are shown, never spoken.
func (r *Reconciler) deliver(res resolution) {
	if res.text == "" {
		return
	}
	r.voice.Enqueue(res.runID, res.text)
}
