package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

type jsoncConfig struct {
	Gateway *jsoncGateway `json:"gateway"`
	Timing  *jsoncTiming  `json:"timing"`
	Speech  *jsoncSpeech  `json:"speech"`
	Capture *jsoncCapture `json:"capture"`
	LogSink *jsoncLogSink `json:"log_sink"`
}

type jsoncGateway struct {
	URL        *string          `json:"url"`
	Token      *string          `json:"token"`
	SessionKey *string          `json:"session_key"`
	ClientID   *string          `json:"client_id"`
	Mode       *string          `json:"mode"`
	Role       *string          `json:"role"`
	Scopes     *jsoncStringList `json:"scopes"`
	Locale     *string          `json:"locale"`
}

type jsoncTiming struct {
	ConnectFallbackMS   *int `json:"connect_fallback_ms"`
	ReconnectDelayMS    *int `json:"reconnect_delay_ms"`
	ResponseTimeoutMS   *int `json:"response_timeout_ms"`
	FinalWaitMS         *int `json:"final_wait_ms"`
	EmptyFinalDeferMS   *int `json:"empty_final_defer_ms"`
	SpeechDelayMS       *int `json:"speech_delay_ms"`
	SilenceDebounceMS   *int `json:"silence_debounce_ms"`
	DupObserveWindowMS  *int `json:"dup_observe_window_ms"`
	DupDispatchWindowMS *int `json:"dup_dispatch_window_ms"`
	RestartIntervalMS   *int `json:"restart_interval_ms"`
	RestartDelayMS      *int `json:"restart_delay_ms"`
}

type jsoncSpeech struct {
	Enable   *bool   `json:"enable"`
	Command  *string `json:"command"`
	MinRunes *int    `json:"min_runes"`
	MaxRunes *int    `json:"max_runes"`
}

type jsoncCapture struct {
	WakeWord *string `json:"wake_word"`
	Command  *string `json:"command"`
}

type jsoncLogSink struct {
	URL *string `json:"url"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.Gateway != nil {
		if payload.Gateway.URL != nil {
			cfg.Gateway.URL = strings.TrimSpace(*payload.Gateway.URL)
		}
		if payload.Gateway.Token != nil {
			cfg.Gateway.Token = strings.TrimSpace(*payload.Gateway.Token)
		}
		if payload.Gateway.SessionKey != nil {
			cfg.Gateway.SessionKey = strings.TrimSpace(*payload.Gateway.SessionKey)
		}
		if payload.Gateway.ClientID != nil {
			cfg.Gateway.ClientID = strings.TrimSpace(*payload.Gateway.ClientID)
		}
		if payload.Gateway.Mode != nil {
			cfg.Gateway.Mode = strings.TrimSpace(*payload.Gateway.Mode)
		}
		if payload.Gateway.Role != nil {
			cfg.Gateway.Role = strings.TrimSpace(*payload.Gateway.Role)
		}
		if payload.Gateway.Scopes != nil {
			cfg.Gateway.Scopes = append([]string(nil), *payload.Gateway.Scopes...)
		}
		if payload.Gateway.Locale != nil {
			cfg.Gateway.Locale = strings.TrimSpace(*payload.Gateway.Locale)
		}
	}

	if payload.Timing != nil {
		applyMS := func(target *time.Duration, value *int) {
			if value != nil {
				*target = time.Duration(*value) * time.Millisecond
			}
		}
		applyMS(&cfg.Timing.ConnectFallback, payload.Timing.ConnectFallbackMS)
		applyMS(&cfg.Timing.ReconnectDelay, payload.Timing.ReconnectDelayMS)
		applyMS(&cfg.Timing.ResponseTimeout, payload.Timing.ResponseTimeoutMS)
		applyMS(&cfg.Timing.FinalWait, payload.Timing.FinalWaitMS)
		applyMS(&cfg.Timing.EmptyFinalDefer, payload.Timing.EmptyFinalDeferMS)
		applyMS(&cfg.Timing.SpeechDelay, payload.Timing.SpeechDelayMS)
		applyMS(&cfg.Timing.SilenceDebounce, payload.Timing.SilenceDebounceMS)
		applyMS(&cfg.Timing.DupObserveWindow, payload.Timing.DupObserveWindowMS)
		applyMS(&cfg.Timing.DupDispatchWindow, payload.Timing.DupDispatchWindowMS)
		applyMS(&cfg.Timing.RestartInterval, payload.Timing.RestartIntervalMS)
		applyMS(&cfg.Timing.RestartDelay, payload.Timing.RestartDelayMS)
	}

	if payload.Speech != nil {
		if payload.Speech.Enable != nil {
			cfg.Speech.Enable = *payload.Speech.Enable
		}
		if payload.Speech.Command != nil {
			raw := *payload.Speech.Command
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid speech.command: %w", err)
			}
			cfg.Speech.Command = CommandConfig{Raw: raw, Argv: argv}
		}
		if payload.Speech.MinRunes != nil {
			cfg.Speech.MinRunes = *payload.Speech.MinRunes
		}
		if payload.Speech.MaxRunes != nil {
			cfg.Speech.MaxRunes = *payload.Speech.MaxRunes
		}
	}

	if payload.Capture != nil {
		if payload.Capture.WakeWord != nil {
			cfg.Capture.WakeWord = strings.TrimSpace(*payload.Capture.WakeWord)
		}
		if payload.Capture.Command != nil {
			raw := *payload.Capture.Command
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid capture.command: %w", err)
			}
			cfg.Capture.Command = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if payload.LogSink != nil && payload.LogSink.URL != nil {
		cfg.LogSink.URL = strings.TrimSpace(*payload.LogSink.URL)
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' || ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
