// Package face renders the client's presentation surface: an expression line,
// a thinking panel, and the reply transcript.
package face

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Expression is the face state shown on the status line.
type Expression string

const (
	ExpressionIdle      Expression = "idle"
	ExpressionThinking  Expression = "thinking"
	ExpressionSpeaking  Expression = "speaking"
	ExpressionListening Expression = "listening"
)

var expressionFaces = map[Expression]string{
	ExpressionIdle:      "(・‿・)",
	ExpressionThinking:  "(・_・?)",
	ExpressionSpeaking:  "(・o・)",
	ExpressionListening: "(・▽・)",
}

// Presenter writes plain lines to a single output stream. All methods are
// safe for concurrent use; write failures are logged and otherwise ignored.
type Presenter struct {
	logger *slog.Logger

	mu         sync.Mutex
	out        io.Writer
	expression Expression
	thinking   string
	thinkingOn bool
}

// New constructs a presenter writing to out.
func New(out io.Writer, logger *slog.Logger) *Presenter {
	return &Presenter{
		logger:     logger,
		out:        out,
		expression: ExpressionIdle,
	}
}

// Expression returns the current face state snapshot.
func (p *Presenter) Expression() Expression {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expression
}

func (p *Presenter) Thinking()  { p.setExpression(ExpressionThinking) }
func (p *Presenter) Speaking()  { p.setExpression(ExpressionSpeaking) }
func (p *Presenter) Listening() { p.setExpression(ExpressionListening) }
func (p *Presenter) Idle()      { p.setExpression(ExpressionIdle) }

func (p *Presenter) setExpression(e Expression) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.expression == e {
		return
	}
	p.expression = e
	p.writeLocked(expressionFaces[e] + "\n")
}

// Notice appends a one-off informational line to the transcript.
func (p *Presenter) Notice(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakThinkingLocked()
	p.writeLocked("· " + text + "\n")
}

// ShowThinking streams the growing thinking text. Snapshots only ever grow,
// so each call writes the new suffix.
func (p *Presenter) ShowThinking(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.thinkingOn {
		p.thinkingOn = true
		p.thinking = ""
		p.writeLocked("… ")
	}
	if strings.HasPrefix(text, p.thinking) {
		p.writeLocked(text[len(p.thinking):])
	} else {
		p.writeLocked("\n… " + text)
	}
	p.thinking = text
}

// ClearThinking ends the thinking panel before reply text starts.
func (p *Presenter) ClearThinking() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakThinkingLocked()
}

func (p *Presenter) breakThinkingLocked() {
	if !p.thinkingOn {
		return
	}
	p.thinkingOn = false
	p.thinking = ""
	p.writeLocked("\n")
}

// OpenReply starts a streaming reply slot. Slots share the presenter's lock
// and may outlive the run that opened them.
func (p *Presenter) OpenReply() *MessageSlot {
	return &MessageSlot{p: p}
}

func (p *Presenter) writeLocked(s string) {
	if _, err := io.WriteString(p.out, s); err != nil && p.logger != nil {
		p.logger.Debug("surface write failed", "error", err.Error())
	}
}

// MessageSlot is one reply row. Update calls stream the growing snapshot;
// Finish settles the final text and closes the row. Finish is idempotent in
// effect only for identical text: a later Finish with new text rewrites the
// row as a fresh line, which is how late errors replace a shown reply.
type MessageSlot struct {
	p *Presenter

	shown string
	open  bool
	done  bool
}

// Update streams the snapshot's unprinted suffix.
func (s *MessageSlot) Update(text string) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.done || text == "" {
		return
	}
	s.writeLocked(text)
}

// Finish settles the row with its final text and a trailing newline.
func (s *MessageSlot) Finish(text string) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.done {
		if text != s.shown {
			// Late rewrite: the settled row cannot be edited in place, so
			// restate it.
			s.p.breakThinkingLocked()
			s.p.writeLocked(fmt.Sprintf("⟡ %s (更新)\n", text))
			s.shown = text
		}
		return
	}
	s.done = true
	if text != "" {
		s.writeLocked(text)
	}
	if s.open {
		s.p.writeLocked("\n")
	}
}

func (s *MessageSlot) writeLocked(text string) {
	if !s.open {
		s.p.breakThinkingLocked()
		s.p.writeLocked("⟡ ")
		s.open = true
	}
	if strings.HasPrefix(text, s.shown) {
		s.p.writeLocked(text[len(s.shown):])
	} else {
		s.p.writeLocked("\n⟡ " + text)
	}
	s.shown = text
}
