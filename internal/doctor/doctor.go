// Package doctor runs runtime readiness diagnostics for config, the gateway
// endpoint, and the external speech commands.
package doctor

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/visagehq/visage/internal/config"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{checkConfig(cfg)}
	checks = append(checks, checkGatewayURL(cfg.Config.Gateway.URL))
	checks = append(checks, checkToken(cfg.Config.Gateway.Token))
	checks = append(checks, checkWakeWord(cfg.Config.Capture.WakeWord))
	checks = append(checks, checkSpeechCommand(cfg.Config.Speech))
	checks = append(checks, checkCaptureCommand(cfg.Config.Capture))
	if cfg.Config.LogSink.URL != "" {
		checks = append(checks, checkLogSink(cfg.Config.LogSink.URL))
	}
	return Report{Checks: checks}
}

func checkConfig(cfg config.Loaded) Check {
	if !cfg.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("no file at %q, using defaults", cfg.Path)}
	}
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if len(cfg.Warnings) > 0 {
		message = fmt.Sprintf("%s (%d warning(s))", message, len(cfg.Warnings))
	}
	return Check{Name: "config", Pass: true, Message: message}
}

func checkGatewayURL(url string) Check {
	if strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://") {
		return Check{Name: "gateway.url", Pass: true, Message: url}
	}
	return Check{Name: "gateway.url", Pass: false, Message: fmt.Sprintf("expected ws:// or wss:// URL, got %q", url)}
}

func checkToken(token string) Check {
	if strings.TrimSpace(token) != "" {
		return Check{Name: "gateway.token", Pass: true, Message: "token configured"}
	}
	if strings.TrimSpace(os.Getenv("VISAGE_TOKEN")) != "" {
		return Check{Name: "gateway.token", Pass: true, Message: "token from VISAGE_TOKEN"}
	}
	return Check{Name: "gateway.token", Pass: false, Message: "set gateway.token or VISAGE_TOKEN"}
}

func checkWakeWord(word string) Check {
	if strings.TrimSpace(word) != "" {
		return Check{Name: "capture.wake_word", Pass: true, Message: fmt.Sprintf("wake word %q", word)}
	}
	return Check{Name: "capture.wake_word", Pass: false, Message: "wake word is empty"}
}

func checkSpeechCommand(cfg config.SpeechConfig) Check {
	if !cfg.Enable {
		return Check{Name: "speech.command", Pass: true, Message: "speech output disabled"}
	}
	if len(cfg.Command.Argv) == 0 {
		return Check{Name: "speech.command", Pass: false, Message: "speech enabled but command is empty"}
	}
	return checkBinary("speech.command", cfg.Command.Argv[0])
}

func checkCaptureCommand(cfg config.CaptureConfig) Check {
	if len(cfg.Command.Argv) == 0 {
		return Check{Name: "capture.command", Pass: true, Message: "not configured (voice input disabled)"}
	}
	return checkBinary("capture.command", cfg.Command.Argv[0])
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(name, bin string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("found at %s", path)}
}

// checkLogSink probes the diagnostics sink endpoint.
func checkLogSink(url string) Check {
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Head(url)
	if err != nil {
		return Check{Name: "log_sink", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Check{Name: "log_sink", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}
	return Check{Name: "log_sink", Pass: true, Message: fmt.Sprintf("reachable at %s", url)}
}
