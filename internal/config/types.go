// Package config resolves, parses, validates, and defaults visage configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by visage.
type Config struct {
	Gateway GatewayConfig
	Timing  TimingConfig
	Speech  SpeechConfig
	Capture CaptureConfig
	LogSink LogSinkConfig
}

// GatewayConfig controls the WebSocket connection and handshake identity.
type GatewayConfig struct {
	URL        string
	Token      string
	SessionKey string
	ClientID   string
	Mode       string
	Role       string
	Scopes     []string
	Locale     string
}

// TimingConfig holds every timer duration owned by the client state machines.
type TimingConfig struct {
	ConnectFallback   time.Duration
	ReconnectDelay    time.Duration
	ResponseTimeout   time.Duration
	FinalWait         time.Duration
	EmptyFinalDefer   time.Duration
	SpeechDelay       time.Duration
	SilenceDebounce   time.Duration
	DupObserveWindow  time.Duration
	DupDispatchWindow time.Duration
	RestartInterval   time.Duration
	RestartDelay      time.Duration
}

// SpeechConfig controls spoken replies.
type SpeechConfig struct {
	Enable   bool
	Command  CommandConfig
	MinRunes int
	MaxRunes int
}

// CaptureConfig controls voice input and wake-word listening.
type CaptureConfig struct {
	WakeWord string
	Command  CommandConfig
}

// LogSinkConfig controls the fire-and-forget HTTP diagnostics sink.
type LogSinkConfig struct {
	URL string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
