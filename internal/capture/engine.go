// Package capture drives continuous wake-word listening on top of an
// external speech-to-text engine.
package capture

import (
	"context"
	"errors"
	"fmt"
)

// Recognition error codes the listener knows how to explain.
const (
	CodeNotAllowed   = "not-allowed"
	CodeAudioCapture = "audio-capture"
	CodeNoSpeech     = "no-speech"
	CodeNetwork      = "network"
	CodeAborted      = "aborted"
)

// EngineError carries a coarse error category alongside the underlying cause.
type EngineError struct {
	Code string
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// CodeOf extracts the category from an engine error.
func CodeOf(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return "unknown"
}

// Guidance maps an error category to the notice shown to the user.
func Guidance(code string) string {
	switch code {
	case CodeNotAllowed:
		return "麦克风权限被拒绝，请在系统设置里允许访问麦克风"
	case CodeAudioCapture:
		return "没有检测到可用的麦克风，请检查输入设备"
	case CodeNoSpeech:
		return "没有听到声音，请靠近麦克风再说一次"
	case CodeNetwork:
		return "语音服务网络异常，请检查网络连接"
	default:
		return "语音识别出错，已停止监听"
	}
}

// Handlers receive one recognition session's callbacks. OnTranscript always
// carries the session's full transcript so far.
type Handlers struct {
	OnTranscript func(text string, final bool)
	OnEnd        func()
	OnError      func(err error)
}

// Engine is one startable speech-to-text session source. Start returns once
// the session is running; callbacks arrive from the engine's own goroutine.
type Engine interface {
	Start(ctx context.Context, h Handlers) error
	Stop()
}
