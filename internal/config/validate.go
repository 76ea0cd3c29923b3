package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	url := strings.TrimSpace(cfg.Gateway.URL)
	if url == "" {
		return nil, fmt.Errorf("gateway.url must not be empty")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("gateway.url must use ws:// or wss://")
	}
	if strings.TrimSpace(cfg.Gateway.SessionKey) == "" {
		return nil, fmt.Errorf("gateway.session_key must not be empty")
	}
	if strings.TrimSpace(cfg.Gateway.ClientID) == "" {
		return nil, fmt.Errorf("gateway.client_id must not be empty")
	}
	if strings.TrimSpace(cfg.Gateway.Role) == "" {
		return nil, fmt.Errorf("gateway.role must not be empty")
	}

	if cfg.Timing.ConnectFallback <= 0 {
		return nil, fmt.Errorf("timing.connect_fallback_ms must be > 0")
	}
	if cfg.Timing.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("timing.reconnect_delay_ms must be > 0")
	}
	if cfg.Timing.ResponseTimeout <= 0 {
		return nil, fmt.Errorf("timing.response_timeout_ms must be > 0")
	}
	if cfg.Timing.FinalWait <= 0 {
		return nil, fmt.Errorf("timing.final_wait_ms must be > 0")
	}
	if cfg.Timing.EmptyFinalDefer <= 0 {
		return nil, fmt.Errorf("timing.empty_final_defer_ms must be > 0")
	}
	if cfg.Timing.SilenceDebounce <= 0 {
		return nil, fmt.Errorf("timing.silence_debounce_ms must be > 0")
	}
	if cfg.Timing.RestartInterval <= 0 {
		return nil, fmt.Errorf("timing.restart_interval_ms must be > 0")
	}
	if cfg.Timing.SpeechDelay < 0 || cfg.Timing.RestartDelay < 0 {
		return nil, fmt.Errorf("timing delays must be >= 0")
	}
	if cfg.Timing.DupObserveWindow < cfg.Timing.DupDispatchWindow {
		warnings = append(warnings, Warning{Message: fmt.Sprintf(
			"timing.dup_observe_window_ms (%d) is shorter than timing.dup_dispatch_window_ms (%d); dispatch-time suppression dominates",
			cfg.Timing.DupObserveWindow.Milliseconds(), cfg.Timing.DupDispatchWindow.Milliseconds())})
	}

	if cfg.Speech.Enable && len(cfg.Speech.Command.Argv) == 0 {
		return nil, fmt.Errorf("speech.command must not be empty when speech.enable=true")
	}
	if cfg.Speech.MinRunes < 0 {
		return nil, fmt.Errorf("speech.min_runes must be >= 0")
	}
	if cfg.Speech.MaxRunes <= 0 {
		return nil, fmt.Errorf("speech.max_runes must be > 0")
	}
	if cfg.Speech.MinRunes > cfg.Speech.MaxRunes {
		return nil, fmt.Errorf("speech.min_runes must not exceed speech.max_runes")
	}

	if strings.TrimSpace(cfg.Capture.WakeWord) == "" {
		return nil, fmt.Errorf("capture.wake_word must not be empty")
	}
	if cfg.Capture.Command.Raw != "" && len(cfg.Capture.Command.Argv) == 0 {
		return nil, fmt.Errorf("capture.command is configured but empty")
	}

	if sink := strings.TrimSpace(cfg.LogSink.URL); sink != "" {
		if !strings.HasPrefix(sink, "http://") && !strings.HasPrefix(sink, "https://") {
			return nil, fmt.Errorf("log_sink.url must use http:// or https://")
		}
	}

	return warnings, nil
}
