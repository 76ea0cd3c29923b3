// Package app is the composition root: it builds the logging runtime, config,
// gateway, reconciler, speech gate, and capture listener, then runs the
// interactive client loop.
package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/visagehq/visage/internal/capture"
	"github.com/visagehq/visage/internal/cli"
	"github.com/visagehq/visage/internal/config"
	"github.com/visagehq/visage/internal/doctor"
	"github.com/visagehq/visage/internal/face"
	"github.com/visagehq/visage/internal/gateway"
	"github.com/visagehq/visage/internal/logging"
	"github.com/visagehq/visage/internal/protocol"
	"github.com/visagehq/visage/internal/run"
	"github.com/visagehq/visage/internal/speech"
	"github.com/visagehq/visage/internal/version"
)

type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	r := Runner{Stdin: stdin, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("visage"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("visage"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	applyOverrides(&cfgLoaded.Config, parsed)

	logRuntime, err := logging.New(cfgLoaded.Config.LogSink.URL)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", string(parsed.Command),
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, parsed, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// applyOverrides layers CLI flag values over the loaded configuration.
func applyOverrides(cfg *config.Config, parsed cli.Parsed) {
	if parsed.GatewayURL != "" {
		cfg.Gateway.URL = parsed.GatewayURL
	}
	if parsed.Token != "" {
		cfg.Gateway.Token = parsed.Token
	}
	if parsed.SessionKey != "" {
		cfg.Gateway.SessionKey = parsed.SessionKey
	}
	if parsed.WakeWord != "" {
		cfg.Capture.WakeWord = parsed.WakeWord
	}
}

func (r Runner) commandRun(ctx context.Context, cfg config.Config, parsed cli.Parsed, logger *slog.Logger) int {
	presenter := face.New(r.Stdout, logger)

	// The persisted wake word wins over the config default; an explicit
	// --wake flag wins over both.
	wakePath, wakeErr := capture.WakeWordPath()
	if wakeErr != nil {
		wakePath = ""
	}
	if wakePath != "" && parsed.WakeWord == "" {
		if saved, err := capture.LoadWakeWord(wakePath); err == nil && saved != "" {
			cfg.Capture.WakeWord = saved
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The event handler, gateway client, and reconciler reference each
	// other; the handler's reconciler is wired last, before Run starts.
	events := &gatewayEvents{presenter: presenter}
	client := gateway.New(gateway.Config{
		URL:             cfg.Gateway.URL,
		Token:           cfg.Gateway.Token,
		ClientID:        cfg.Gateway.ClientID,
		ClientVersion:   version.Version,
		Platform:        runtime.GOOS,
		Mode:            cfg.Gateway.Mode,
		Role:            cfg.Gateway.Role,
		Scopes:          cfg.Gateway.Scopes,
		UserAgent:       "visage/" + version.Version,
		Locale:          cfg.Gateway.Locale,
		ConnectFallback: cfg.Timing.ConnectFallback,
		ReconnectDelay:  cfg.Timing.ReconnectDelay,
	}, logger, events)

	gate := buildGate(cfg, logger)
	rec := run.New(logger, client, surfaceAdapter{presenter}, gate, run.Config{
		SessionKey:      cfg.Gateway.SessionKey,
		ResponseTimeout: cfg.Timing.ResponseTimeout,
		FinalWait:       cfg.Timing.FinalWait,
		EmptyFinalDefer: cfg.Timing.EmptyFinalDefer,
	})
	events.rec = rec

	sink := &replSink{
		ctx:       runCtx,
		logger:    logger,
		presenter: presenter,
		client:    client,
		rec:       rec,
	}
	listener := buildListener(cfg, logger, sink, presenter)

	gwDone := make(chan error, 1)
	go func() { gwDone <- client.Run(runCtx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-runCtx.Done():
				return
			}
		}
	}()

	presenter.Notice("visage 已启动，输入 /help 查看命令")
	exit := r.repl(runCtx, replDeps{
		logger:    logger,
		presenter: presenter,
		client:    client,
		rec:       rec,
		listener:  listener,
		sink:      sink,
		wakePath:  wakePath,
		lines:     lines,
		gwDone:    gwDone,
	})

	// Dispose: silence speech, stop capture, close the socket.
	gate.Cancel()
	if listener != nil {
		listener.Stop()
	}
	cancel()
	client.Close()
	<-gwDone
	logger.Info("client stopped")
	return exit
}

func buildGate(cfg config.Config, logger *slog.Logger) *speech.Gate {
	var speaker speech.Speaker
	if cfg.Speech.Enable && len(cfg.Speech.Command.Argv) > 0 {
		if s, err := speech.NewExecSpeaker(cfg.Speech.Command.Argv); err == nil {
			speaker = s
		} else {
			logger.Warn("speech disabled", "error", err.Error())
		}
	}
	return speech.New(logger, speaker, speech.Config{
		Enable:      speaker != nil,
		Delay:       cfg.Timing.SpeechDelay,
		MinRunes:    cfg.Speech.MinRunes,
		MaxRunes:    cfg.Speech.MaxRunes,
		Placeholder: run.PlaceholderText,
	})
}

func buildListener(cfg config.Config, logger *slog.Logger, sink capture.Sink, presenter *face.Presenter) *capture.Listener {
	if len(cfg.Capture.Command.Argv) == 0 {
		return nil
	}
	engine, err := capture.NewExecEngine(cfg.Capture.Command.Argv, logger)
	if err != nil {
		logger.Warn("voice input disabled", "error", err.Error())
		return nil
	}
	return capture.New(logger, engine, sink, presenter, capture.Config{
		WakeWord:          cfg.Capture.WakeWord,
		SilenceDebounce:   cfg.Timing.SilenceDebounce,
		DupObserveWindow:  cfg.Timing.DupObserveWindow,
		DupDispatchWindow: cfg.Timing.DupDispatchWindow,
		RestartInterval:   cfg.Timing.RestartInterval,
		RestartDelay:      cfg.Timing.RestartDelay,
	})
}

type replDeps struct {
	logger    *slog.Logger
	presenter *face.Presenter
	client    *gateway.Client
	rec       *run.Reconciler
	listener  *capture.Listener
	sink      *replSink
	wakePath  string
	lines     chan string
	gwDone    chan error
}

const replHelp = `/mic 一次性语音输入（确认后回车发送） · /listen 持续监听唤醒词 · /stop 停止语音输入 · /wake 词 修改唤醒词 · /quit 退出`

func (r Runner) repl(ctx context.Context, d replDeps) int {
	for {
		select {
		case <-ctx.Done():
			return 0
		case err := <-d.gwDone:
			// The gateway loop only exits on its own for a non-retryable
			// close; refill the channel for the dispose path.
			d.gwDone <- err
			if err != nil && ctx.Err() == nil {
				fmt.Fprintf(r.Stderr, "error: gateway: %v\n", err)
				return 1
			}
			return 0
		case line, ok := <-d.lines:
			if !ok {
				return 0
			}
			if quit := r.handleLine(ctx, d, line); quit {
				return 0
			}
		}
	}
}

func (r Runner) handleLine(ctx context.Context, d replDeps, line string) bool {
	line = strings.TrimSpace(line)

	switch {
	case line == "/quit" || line == "/exit":
		return true
	case line == "/help":
		d.presenter.Notice(replHelp)
	case line == "/mic":
		r.startCapture(ctx, d, capture.ModeOneShot)
	case line == "/listen":
		r.startCapture(ctx, d, capture.ModeContinuous)
	case line == "/stop":
		if d.listener != nil {
			d.listener.Stop()
		}
	case strings.HasPrefix(line, "/wake"):
		r.setWakeWord(d, strings.TrimSpace(strings.TrimPrefix(line, "/wake")))
	case strings.HasPrefix(line, "/"):
		d.presenter.Notice("未知命令，输入 /help 查看用法")
	case line == "":
		if pending := d.sink.takePending(); pending != "" {
			d.sink.submit(pending)
		}
	default:
		d.sink.clearPending()
		d.sink.submit(line)
	}
	return false
}

func (r Runner) startCapture(ctx context.Context, d replDeps, mode capture.Mode) {
	if d.listener == nil {
		d.presenter.Notice("未配置语音输入命令，无法监听")
		return
	}
	if err := d.listener.Start(ctx, mode); err != nil {
		d.presenter.Notice("启动监听失败：" + err.Error())
		return
	}
	d.presenter.Listening()
}

func (r Runner) setWakeWord(d replDeps, word string) {
	if d.listener == nil {
		d.presenter.Notice("未配置语音输入命令")
		return
	}
	if err := d.listener.SetWakeWord(word); err != nil {
		d.presenter.Notice("唤醒词不能为空")
		return
	}
	if d.wakePath != "" {
		if err := capture.SaveWakeWord(d.wakePath, word); err != nil {
			d.logger.Warn("persist wake word failed", "error", err.Error())
		}
	}
	d.presenter.Notice("唤醒词已改为 " + word)
}

// replSink routes recognized utterances into the reconciler and parks
// one-shot transcripts for user confirmation.
type replSink struct {
	ctx       context.Context
	logger    *slog.Logger
	presenter *face.Presenter
	client    *gateway.Client
	rec       *run.Reconciler

	mu      sync.Mutex
	pending string
}

func (s *replSink) DispatchUtterance(text string) {
	s.submit(text)
}

func (s *replSink) FillInput(text string) {
	s.mu.Lock()
	s.pending = text
	s.mu.Unlock()
	s.presenter.Notice("✎ " + text + "（回车发送，输入其他内容则放弃）")
}

func (s *replSink) takePending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pending
	s.pending = ""
	return pending
}

func (s *replSink) clearPending() {
	s.mu.Lock()
	s.pending = ""
	s.mu.Unlock()
}

func (s *replSink) submit(text string) {
	if !s.client.Connected() {
		s.presenter.Notice("尚未连接网关，稍后再试")
		return
	}
	go func() {
		if _, err := s.rec.Submit(s.ctx, text); err != nil {
			s.logger.Warn("submit failed", "error", err.Error())
		}
	}()
}

// surfaceAdapter exposes the presenter through the reconciler's narrower
// surface contract.
type surfaceAdapter struct{ p *face.Presenter }

func (s surfaceAdapter) OpenReply() run.Slot   { return s.p.OpenReply() }
func (s surfaceAdapter) ShowThinking(t string) { s.p.ShowThinking(t) }
func (s surfaceAdapter) ClearThinking()        { s.p.ClearThinking() }
func (s surfaceAdapter) Thinking()             { s.p.Thinking() }
func (s surfaceAdapter) Speaking()             { s.p.Speaking() }
func (s surfaceAdapter) Idle()                 { s.p.Idle() }

// gatewayEvents routes decoded gateway traffic into the reconciler.
type gatewayEvents struct {
	presenter *face.Presenter
	rec       *run.Reconciler
}

func (g *gatewayEvents) OnConnected() {
	g.presenter.Notice("已连接网关")
}

func (g *gatewayEvents) OnDisconnected(string) {
	g.presenter.Notice("连接断开，正在重连")
}

func (g *gatewayEvents) OnChat(p protocol.ChatPayload) {
	if g.rec != nil {
		g.rec.HandleChat(p)
	}
}

func (g *gatewayEvents) OnAgent(p protocol.AgentPayload) {
	if g.rec != nil {
		g.rec.HandleAgent(p)
	}
}
