package capture

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

var (
	// ErrNoCommand rejects an exec engine configured without a command.
	ErrNoCommand = errors.New("no capture command configured")
	// ErrEngineRunning rejects overlapping sessions on one engine.
	ErrEngineRunning = errors.New("capture engine already running")
)

// ExecEngine runs an external speech-to-text command and treats every stdout
// line as a finalized transcript segment. The session transcript is the
// segments joined with spaces; killing the process ends the session.
type ExecEngine struct {
	logger *slog.Logger
	argv   []string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewExecEngine builds an engine from a parsed command line.
func NewExecEngine(argv []string, logger *slog.Logger) (*ExecEngine, error) {
	if len(argv) == 0 {
		return nil, ErrNoCommand
	}
	return &ExecEngine{logger: logger, argv: argv}, nil
}

// Start spawns the command and streams its stdout until exit.
func (e *ExecEngine) Start(ctx context.Context, h Handlers) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return ErrEngineRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	cmd := exec.CommandContext(runCtx, e.argv[0], e.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.clear()
		return err
	}
	if err := cmd.Start(); err != nil {
		e.clear()
		return &EngineError{Code: CodeAudioCapture, Err: err}
	}

	go func() {
		var segments []string
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			segments = append(segments, line)
			if h.OnTranscript != nil {
				h.OnTranscript(strings.Join(segments, " "), true)
			}
		}

		waitErr := cmd.Wait()
		aborted := runCtx.Err() != nil
		e.clear()

		if waitErr != nil && h.OnError != nil {
			if aborted {
				h.OnError(&EngineError{Code: CodeAborted, Err: waitErr})
			} else {
				h.OnError(&EngineError{Code: CodeAudioCapture, Err: waitErr})
			}
		}
		if h.OnEnd != nil {
			h.OnEnd()
		}
	}()
	return nil
}

// Stop kills the running session, if any.
func (e *ExecEngine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *ExecEngine) clear() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()
}
