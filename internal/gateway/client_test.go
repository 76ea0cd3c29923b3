package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/visagehq/visage/internal/logging"
	"github.com/visagehq/visage/internal/protocol"
)

type recordingHandler struct {
	connected    chan struct{}
	disconnected chan string
	chat         chan protocol.ChatPayload
	agent        chan protocol.AgentPayload
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connected:    make(chan struct{}, 8),
		disconnected: make(chan string, 8),
		chat:         make(chan protocol.ChatPayload, 8),
		agent:        make(chan protocol.AgentPayload, 8),
	}
}

func (h *recordingHandler) OnConnected()                      { h.connected <- struct{}{} }
func (h *recordingHandler) OnDisconnected(reason string)      { h.disconnected <- reason }
func (h *recordingHandler) OnChat(p protocol.ChatPayload)     { h.chat <- p }
func (h *recordingHandler) OnAgent(p protocol.AgentPayload)   { h.agent <- p }

var upgrader = websocket.Upgrader{}

// newTestServer runs serve once per accepted socket and returns a ws:// URL.
func newTestServer(t *testing.T, serve func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// acceptConnect consumes the connect request and acknowledges it.
func acceptConnect(conn *websocket.Conn) (protocol.Frame, bool) {
	var frame protocol.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return protocol.Frame{}, false
	}
	ok := true
	_ = conn.WriteJSON(protocol.Frame{Type: protocol.FrameTypeResponse, ID: frame.ID, OK: &ok})
	return frame, true
}

func testConfig(url string) Config {
	return Config{
		URL:             url,
		Token:           "tok",
		ClientID:        "webchat-ui",
		ClientVersion:   "test",
		Platform:        "linux",
		Mode:            "webchat",
		Role:            "operator",
		Scopes:          []string{"operator.admin"},
		Locale:          "zh-CN",
		ConnectFallback: 25 * time.Millisecond,
		ReconnectDelay:  25 * time.Millisecond,
	}
}

func startClient(t *testing.T, cfg Config, handler Handler) (*Client, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client := New(cfg, logging.Discard(), handler)
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	t.Cleanup(client.Close)
	return client, done
}

func waitConnected(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.connected:
	case <-time.After(3 * time.Second):
		t.Fatal("client never completed the handshake")
	}
}

func TestHandshakeOnChallenge(t *testing.T) {
	gotConnect := make(chan protocol.Frame, 1)
	url := newTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(protocol.Frame{Type: protocol.FrameTypeEvent, Event: protocol.EventChallenge})
		frame, ok := acceptConnect(conn)
		if ok {
			gotConnect <- frame
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	handler := newRecordingHandler()
	client, _ := startClient(t, testConfig(url), handler)

	waitConnected(t, handler)
	require.True(t, client.Connected())

	frame := <-gotConnect
	require.Equal(t, "connect", frame.Method)
	var params protocol.ConnectParams
	require.NoError(t, json.Unmarshal(frame.Params, &params))
	require.Equal(t, "webchat-ui", params.Client.ID)
	require.NotNil(t, params.Auth)
	require.Equal(t, "tok", params.Auth.Token)
}

func TestHandshakeFallbackWhenServerStaysSilent(t *testing.T) {
	url := newTestServer(t, func(conn *websocket.Conn) {
		// No challenge; the client must volunteer the connect request.
		acceptConnect(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	handler := newRecordingHandler()
	client, _ := startClient(t, testConfig(url), handler)

	waitConnected(t, handler)
	require.True(t, client.Connected())
}

func TestCallCorrelation(t *testing.T) {
	url := newTestServer(t, func(conn *websocket.Conn) {
		acceptConnect(conn)
		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		ok := true
		_ = conn.WriteJSON(protocol.Frame{
			Type:    protocol.FrameTypeResponse,
			ID:      frame.ID,
			OK:      &ok,
			Payload: json.RawMessage(`{"echo":true}`),
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	handler := newRecordingHandler()
	client, _ := startClient(t, testConfig(url), handler)
	waitConnected(t, handler)

	payload, err := client.Call(context.Background(), "chat.send", protocol.ChatSendParams{
		SessionKey: "main", Message: "你好", IdempotencyKey: "run-1",
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"echo":true}`, string(payload))
}

func TestCallErrorResponse(t *testing.T) {
	url := newTestServer(t, func(conn *websocket.Conn) {
		acceptConnect(conn)
		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		ok := false
		_ = conn.WriteJSON(protocol.Frame{
			Type:  protocol.FrameTypeResponse,
			ID:    frame.ID,
			OK:    &ok,
			Error: &protocol.FrameError{Message: "session busy"},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	handler := newRecordingHandler()
	client, _ := startClient(t, testConfig(url), handler)
	waitConnected(t, handler)

	_, err := client.Call(context.Background(), "chat.send", struct{}{})
	require.EqualError(t, err, "session busy")
}

func TestPendingCallsRejectedOnClose(t *testing.T) {
	url := newTestServer(t, func(conn *websocket.Conn) {
		acceptConnect(conn)
		// Swallow the request and drop the socket without answering.
		_, _, _ = conn.ReadMessage()
		conn.Close()
	})

	handler := newRecordingHandler()
	cfg := testConfig(url)
	cfg.ReconnectDelay = time.Minute
	client, _ := startClient(t, cfg, handler)
	waitConnected(t, handler)

	_, err := client.Call(context.Background(), "chat.send", struct{}{})
	require.ErrorIs(t, err, ErrClosed)

	select {
	case <-handler.disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("missing disconnect notification")
	}
	require.False(t, client.Connected())
}

func TestEventsDispatchedToHandler(t *testing.T) {
	url := newTestServer(t, func(conn *websocket.Conn) {
		acceptConnect(conn)
		_ = conn.WriteJSON(protocol.Frame{
			Type:    protocol.FrameTypeEvent,
			Event:   protocol.EventChat,
			Payload: json.RawMessage(`{"sessionKey":"main","runId":"r1","state":"delta"}`),
		})
		_ = conn.WriteJSON(protocol.Frame{
			Type:    protocol.FrameTypeEvent,
			Event:   protocol.EventAgent,
			Payload: json.RawMessage(`{"runId":"r1","stream":"lifecycle","data":{"phase":"end"}}`),
		})
		// Malformed payloads are dropped, not dispatched.
		_ = conn.WriteJSON(protocol.Frame{
			Type:    protocol.FrameTypeEvent,
			Event:   protocol.EventChat,
			Payload: json.RawMessage(`{"state":"weird"}`),
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	handler := newRecordingHandler()
	_, _ = startClient(t, testConfig(url), handler)
	waitConnected(t, handler)

	select {
	case p := <-handler.chat:
		require.Equal(t, "r1", p.RunID)
		require.Equal(t, protocol.ChatStateDelta, p.State)
	case <-time.After(3 * time.Second):
		t.Fatal("missing chat event")
	}

	select {
	case p := <-handler.agent:
		require.Equal(t, protocol.PhaseEnd, p.Data.Phase)
	case <-time.After(3 * time.Second):
		t.Fatal("missing agent event")
	}

	select {
	case p := <-handler.chat:
		t.Fatalf("malformed chat event reached handler: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var conns atomic.Int32
	url := newTestServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		acceptConnect(conn)
		if conns.Load() == 1 {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	handler := newRecordingHandler()
	client, _ := startClient(t, testConfig(url), handler)

	waitConnected(t, handler)
	waitConnected(t, handler)
	require.True(t, client.Connected())
	require.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestNoRetryOnServiceRestartClose(t *testing.T) {
	var conns atomic.Int32
	url := newTestServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		acceptConnect(conn)
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCodeNoRetry, "restarting"),
			deadline,
		)
	})

	handler := newRecordingHandler()
	_, done := startClient(t, testConfig(url), handler)
	waitConnected(t, handler)

	select {
	case err := <-done:
		require.True(t, websocket.IsCloseError(err, closeCodeNoRetry))
	case <-time.After(3 * time.Second):
		t.Fatal("run loop did not stop on close code 1012")
	}
	require.Equal(t, int32(1), conns.Load())
}

func TestCallWithoutConnection(t *testing.T) {
	client := New(testConfig("ws://127.0.0.1:1"), logging.Discard(), newRecordingHandler())
	_, err := client.Call(context.Background(), "chat.send", struct{}{})
	require.ErrorIs(t, err, ErrNotConnected)
}
