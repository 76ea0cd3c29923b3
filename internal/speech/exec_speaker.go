package speech

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrNoCommand rejects an exec speaker configured without a command.
var ErrNoCommand = errors.New("no speech command configured")

// ExecSpeaker voices text by running an external command with the utterance
// appended as the final argument. Canceling the context kills the process.
type ExecSpeaker struct {
	argv []string
}

// NewExecSpeaker builds a speaker from a parsed command line.
func NewExecSpeaker(argv []string) (*ExecSpeaker, error) {
	if len(argv) == 0 {
		return nil, ErrNoCommand
	}
	return &ExecSpeaker{argv: argv}, nil
}

// Speak runs the command and waits for it to exit.
func (s *ExecSpeaker) Speak(ctx context.Context, text string) error {
	args := append(append([]string(nil), s.argv[1:]...), text)
	cmd := exec.CommandContext(ctx, s.argv[0], args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("speech command: %w", err)
	}
	return nil
}
