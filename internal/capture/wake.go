package capture

import (
	"os"
	"path/filepath"
	"strings"
)

// Wake-word overrides persist next to the runtime log so a renamed assistant
// survives restarts.
const wakeFileName = "wake"

// WakeWordPath resolves the wake-word state file location.
func WakeWordPath() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "visage", wakeFileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "visage", wakeFileName), nil
}

// LoadWakeWord reads the persisted wake word. A missing file is not an
// error; it returns the empty string so config defaults apply.
func LoadWakeWord(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveWakeWord persists the wake word for future sessions.
func SaveWakeWord(path, word string) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return ErrEmptyWakeWord
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(word+"\n"), 0o600)
}
