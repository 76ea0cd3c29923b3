package config

import "time"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	speak := "espeak-ng -v cmn"

	return Config{
		Gateway: GatewayConfig{
			URL:        "ws://127.0.0.1:18789",
			SessionKey: "main",
			ClientID:   "webchat-ui",
			Mode:       "webchat",
			Role:       "operator",
			Scopes:     []string{"operator.admin", "operator.approvals", "operator.pairing"},
			Locale:     "zh-CN",
		},
		Timing: TimingConfig{
			ConnectFallback:   500 * time.Millisecond,
			ReconnectDelay:    2 * time.Second,
			ResponseTimeout:   30 * time.Second,
			FinalWait:         3 * time.Second,
			EmptyFinalDefer:   5 * time.Minute,
			SpeechDelay:       1800 * time.Millisecond,
			SilenceDebounce:   1800 * time.Millisecond,
			DupObserveWindow:  4 * time.Second,
			DupDispatchWindow: 3 * time.Second,
			RestartInterval:   30 * time.Second,
			RestartDelay:      150 * time.Millisecond,
		},
		Speech: SpeechConfig{
			Enable:   true,
			Command:  CommandConfig{Raw: speak, Argv: mustParseArgv(speak)},
			MinRunes: 8,
			MaxRunes: 500,
		},
		Capture: CaptureConfig{
			WakeWord: "花花",
		},
		LogSink: LogSinkConfig{},
	}
}
