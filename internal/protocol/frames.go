// Package protocol defines the JSON frame and event payload shapes spoken by
// the gateway WebSocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

const (
	EventChallenge = "connect.challenge"
	EventChat      = "chat"
	EventAgent     = "agent"
)

// ErrMalformedFrame marks frames that failed to decode or carry an unknown
// type. Callers log and drop these instead of letting them fall through.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one wire message in either direction.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

// FrameError is the error object carried by failed responses.
type FrameError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// DecodeFrame parses raw bytes into a Frame, rejecting unknown frame types.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch frame.Type {
	case FrameTypeRequest, FrameTypeResponse, FrameTypeEvent:
		return frame, nil
	default:
		return Frame{}, fmt.Errorf("%w: unknown frame type %q", ErrMalformedFrame, frame.Type)
	}
}

// ConnectParams is the handshake request body.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Role        string     `json:"role"`
	Scopes      []string   `json:"scopes"`
	Auth        *Auth      `json:"auth,omitempty"`
	UserAgent   string     `json:"userAgent,omitempty"`
	Locale      string     `json:"locale,omitempty"`
}

// ClientInfo identifies this client to the gateway.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// Auth carries the bearer token.
type Auth struct {
	Token string `json:"token"`
}

// ChatSendParams is the turn-submission request body. IdempotencyKey carries
// the runId so a gateway-side retry cannot create a duplicate turn.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	Deliver        bool   `json:"deliver"`
	IdempotencyKey string `json:"idempotencyKey"`
}
