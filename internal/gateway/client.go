// Package gateway maintains the WebSocket connection to the agent gateway:
// connect handshake, request/response correlation, and reconnection.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/visagehq/visage/internal/protocol"
)

var (
	// ErrClosed rejects pending calls when the socket closes underneath them.
	ErrClosed = errors.New("connection closed")
	// ErrNotConnected rejects calls issued while no socket is open.
	ErrNotConnected = errors.New("not connected")
)

// Close code 1012 (service restart) ends the reconnect loop, matching the
// production client this gateway ships with.
const closeCodeNoRetry = 1012

const dialTimeout = 10 * time.Second

// Config carries connection endpoints, identity, and timer durations.
type Config struct {
	URL             string
	Token           string
	ClientID        string
	ClientVersion   string
	Platform        string
	Mode            string
	Role            string
	Scopes          []string
	UserAgent       string
	Locale          string
	ConnectFallback time.Duration
	ReconnectDelay  time.Duration
}

// Handler receives decoded gateway traffic. All callbacks fire from the read
// loop goroutine, one at a time.
type Handler interface {
	OnConnected()
	OnDisconnected(reason string)
	OnChat(protocol.ChatPayload)
	OnAgent(protocol.AgentPayload)
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// Client owns the socket, the pending-request table, and the reconnect loop.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	handler Handler

	mu          sync.Mutex
	conn        *websocket.Conn
	generation  int
	connected   bool
	connectSent bool
	pending     map[string]chan callResult
	fallback    *time.Timer
	closed      bool
}

// New constructs a client; Run must be called to establish the connection.
func New(cfg Config, logger *slog.Logger, handler Handler) *Client {
	if cfg.ConnectFallback <= 0 {
		cfg.ConnectFallback = 500 * time.Millisecond
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
		pending: make(map[string]chan callResult),
	}
}

// Run dials the gateway and serves the read loop, reconnecting with a fixed
// delay until ctx is canceled, Close is called, or the gateway signals a
// non-retryable close.
func (c *Client) Run(ctx context.Context) error {
	for {
		retry, err := c.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.isClosed() {
			return nil
		}
		if !retry {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// runConnection performs one dial/read-loop cycle. It returns whether a
// reconnect attempt should follow.
func (c *Client) runConnection(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.logger.Warn("gateway dial failed", "url", c.cfg.URL, "error", err.Error())
		return true, err
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.conn = conn
	c.connected = false
	c.connectSent = false
	// Gateways either challenge proactively or accept an unsolicited connect;
	// the fallback covers the silent kind.
	c.fallback = time.AfterFunc(c.cfg.ConnectFallback, func() { c.sendConnect(ctx, gen) })
	c.mu.Unlock()

	c.logger.Info("gateway socket open", "url", c.cfg.URL, "generation", gen)

	readErr := c.readLoop(ctx, conn, gen)
	c.teardown(gen, conn, readErr)

	var closeErr *websocket.CloseError
	if errors.As(readErr, &closeErr) && closeErr.Code == closeCodeNoRetry {
		c.logger.Warn("gateway requested no retry", "code", closeErr.Code)
		return false, readErr
	}
	return true, readErr
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen int) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err.Error())
			continue
		}

		switch frame.Type {
		case protocol.FrameTypeResponse:
			c.resolvePending(frame)
		case protocol.FrameTypeEvent:
			c.dispatchEvent(ctx, frame, gen)
		default:
			c.logger.Warn("unexpected frame from gateway", "type", frame.Type)
		}
	}
}

func (c *Client) dispatchEvent(ctx context.Context, frame protocol.Frame, gen int) {
	switch frame.Event {
	case protocol.EventChallenge:
		c.mu.Lock()
		if c.fallback != nil {
			c.fallback.Stop()
			c.fallback = nil
		}
		c.mu.Unlock()
		go c.sendConnect(ctx, gen)
	case protocol.EventChat:
		payload, err := protocol.DecodeChatPayload(frame.Payload)
		if err != nil {
			c.logger.Warn("dropping chat event", "error", err.Error())
			return
		}
		c.handler.OnChat(payload)
	case protocol.EventAgent:
		payload, err := protocol.DecodeAgentPayload(frame.Payload)
		if err != nil {
			c.logger.Warn("dropping agent event", "error", err.Error())
			return
		}
		c.handler.OnAgent(payload)
	default:
		c.logger.Debug("ignoring event", "event", frame.Event)
	}
}

// sendConnect performs the handshake request once per connection generation.
// A failed attempt clears the latch so a later challenge can retry.
func (c *Client) sendConnect(ctx context.Context, gen int) {
	c.mu.Lock()
	if gen != c.generation || c.connectSent || c.closed {
		c.mu.Unlock()
		return
	}
	c.connectSent = true
	c.mu.Unlock()

	params := protocol.ConnectParams{
		MinProtocol: 3,
		MaxProtocol: 3,
		Client: protocol.ClientInfo{
			ID:       c.cfg.ClientID,
			Version:  c.cfg.ClientVersion,
			Platform: c.cfg.Platform,
			Mode:     c.cfg.Mode,
		},
		Role:      c.cfg.Role,
		Scopes:    c.cfg.Scopes,
		UserAgent: c.cfg.UserAgent,
		Locale:    c.cfg.Locale,
	}
	if c.cfg.Token != "" {
		params.Auth = &protocol.Auth{Token: c.cfg.Token}
	}

	if _, err := c.Call(ctx, "connect", params); err != nil {
		c.logger.Warn("connect rejected", "error", err.Error())
		c.mu.Lock()
		if gen == c.generation {
			c.connectSent = false
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	stale := gen != c.generation
	if !stale {
		c.connected = true
	}
	c.mu.Unlock()
	if stale {
		return
	}

	c.logger.Info("gateway connected", "generation", gen)
	c.handler.OnConnected()
}

// Call sends a correlated request and waits for the matching response.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	id := uuid.NewString()
	frame := protocol.Frame{
		Type:   protocol.FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: rawParams,
	}

	ch := make(chan callResult, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.closed {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	err = conn.WriteJSON(frame)
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	c.mu.Unlock()

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// resolvePending completes the continuation for a response frame. Responses
// with no pending entry are dropped: already resolved or from a prior
// connection.
func (c *Client) resolvePending(frame protocol.Frame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("dropping response with unknown id", "id", frame.ID)
		return
	}

	if frame.OK != nil && *frame.OK {
		ch <- callResult{payload: frame.Payload}
		return
	}
	msg := "request failed"
	if frame.Error != nil && frame.Error.Message != "" {
		msg = frame.Error.Message
	}
	ch <- callResult{err: errors.New(msg)}
}

// teardown rejects every outstanding request before any new call can be
// accepted, so no response ever matches across a reconnection boundary.
func (c *Client) teardown(gen int, conn *websocket.Conn, cause error) {
	_ = conn.Close()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.fallback != nil {
		c.fallback.Stop()
		c.fallback = nil
	}
	c.conn = nil
	wasConnected := c.connected
	c.connected = false
	c.connectSent = false
	orphaned := c.pending
	c.pending = make(map[string]chan callResult)
	c.mu.Unlock()

	for _, ch := range orphaned {
		ch <- callResult{err: ErrClosed}
	}

	reason := "closed"
	if cause != nil {
		reason = cause.Error()
	}
	c.logger.Info("gateway socket closed", "generation", gen, "reason", reason, "rejected", len(orphaned))
	if wasConnected {
		c.handler.OnDisconnected(reason)
	}
}

// Connected reports whether the handshake completed on the live socket.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close ends the connection and stops the reconnect loop.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = conn.Close()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
