// Package speech decides which resolved replies are spoken aloud and drives
// the external text-to-speech command.
package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Number of spoken run ids remembered for once-per-run deduplication.
const spokenLogLimit = 32

// Speaker voices one utterance, returning once playback ends or ctx cancels.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Config carries the gate's filtering thresholds and start delay.
type Config struct {
	Enable      bool
	Delay       time.Duration
	MinRunes    int
	MaxRunes    int
	Placeholder string
}

// Gate schedules at most one utterance per resolved run, after a fixed delay,
// never overlapping an utterance already playing.
type Gate struct {
	logger  *slog.Logger
	speaker Speaker
	cfg     Config

	mu          sync.Mutex
	epoch       int
	pending     *time.Timer
	speaking    bool
	cancelSpeak context.CancelFunc
	spoken      map[string]bool
	spokenOrder []string
}

// New constructs a gate around speaker.
func New(logger *slog.Logger, speaker Speaker, cfg Config) *Gate {
	if cfg.Delay <= 0 {
		cfg.Delay = 1800 * time.Millisecond
	}
	if cfg.MinRunes <= 0 {
		cfg.MinRunes = 8
	}
	if cfg.MaxRunes <= 0 {
		cfg.MaxRunes = 500
	}
	return &Gate{
		logger:  logger,
		speaker: speaker,
		cfg:     cfg,
		spoken:  make(map[string]bool),
	}
}

// realReply reports whether text is worth voicing: parenthetical notices and
// the thinking placeholder stay silent.
func (g *Gate) realReply(text string) bool {
	if text == "" || text == g.cfg.Placeholder {
		return false
	}
	return !strings.HasPrefix(text, "（")
}

// Enqueue schedules text for speaking. Filtering happens here so a rejected
// reply leaves no timer behind. Non-blocking.
func (g *Gate) Enqueue(runID, text string) {
	if !g.cfg.Enable || g.speaker == nil {
		return
	}
	if !g.realReply(text) {
		return
	}

	clean := Sanitize(text)
	if utf8.RuneCountInString(clean) < g.cfg.MinRunes {
		return
	}
	if runes := []rune(clean); len(runes) > g.cfg.MaxRunes {
		clean = string(runes[:g.cfg.MaxRunes])
	}

	g.mu.Lock()
	if runID != "" && g.spoken[runID] {
		g.mu.Unlock()
		return
	}
	if runID != "" {
		g.recordSpokenLocked(runID)
	}
	g.stopPendingLocked()
	g.epoch++
	epoch := g.epoch
	g.pending = time.AfterFunc(g.cfg.Delay, func() { g.speak(epoch, clean) })
	g.mu.Unlock()
}

// Cancel drops any scheduled utterance and kills the one playing.
func (g *Gate) Cancel() {
	g.mu.Lock()
	g.epoch++
	g.stopPendingLocked()
	cancel := g.cancelSpeak
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (g *Gate) speak(epoch int, text string) {
	g.mu.Lock()
	if g.epoch != epoch {
		g.mu.Unlock()
		return
	}
	if g.speaking {
		g.mu.Unlock()
		g.logger.Debug("utterance skipped, already speaking")
		return
	}
	g.speaking = true
	ctx, cancel := context.WithCancel(context.Background())
	g.cancelSpeak = cancel
	g.mu.Unlock()

	err := g.speaker.Speak(ctx, text)

	g.mu.Lock()
	g.speaking = false
	g.cancelSpeak = nil
	g.mu.Unlock()
	cancel()

	if err != nil && ctx.Err() == nil {
		g.logger.Warn("speech command failed", "error", err.Error())
	}
}

func (g *Gate) stopPendingLocked() {
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
}

func (g *Gate) recordSpokenLocked(runID string) {
	g.spoken[runID] = true
	g.spokenOrder = append(g.spokenOrder, runID)
	if len(g.spokenOrder) > spokenLogLimit {
		delete(g.spoken, g.spokenOrder[0])
		g.spokenOrder = g.spokenOrder[1:]
	}
}
