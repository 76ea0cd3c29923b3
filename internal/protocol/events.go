package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateAborted = "aborted"
	ChatStateError   = "error"
)

const (
	StreamAssistant = "assistant"
	StreamLifecycle = "lifecycle"
)

const (
	PhaseEnd   = "end"
	PhaseError = "error"
)

// ChatPayload is the payload of a "chat" event describing one run's progress.
type ChatPayload struct {
	SessionKey   string          `json:"sessionKey"`
	RunID        string          `json:"runId"`
	State        string          `json:"state"`
	Message      json.RawMessage `json:"message,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Seq          *int            `json:"seq,omitempty"`
}

// Terminal reports whether the payload ends the run's active phase.
func (p ChatPayload) Terminal() bool {
	switch p.State {
	case ChatStateFinal, ChatStateAborted, ChatStateError:
		return true
	default:
		return false
	}
}

// MatchesSession reports whether the payload belongs to sessionKey, accepting
// the gateway's derived "agent:<key>:..." sub-session form.
func (p ChatPayload) MatchesSession(sessionKey string) bool {
	if p.SessionKey == sessionKey {
		return true
	}
	return strings.HasPrefix(p.SessionKey, "agent:"+sessionKey+":")
}

// DecodeChatPayload parses a chat event payload, requiring a known state.
func DecodeChatPayload(raw json.RawMessage) (ChatPayload, error) {
	var p ChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ChatPayload{}, fmt.Errorf("%w: chat payload: %v", ErrMalformedFrame, err)
	}
	switch p.State {
	case ChatStateDelta, ChatStateFinal, ChatStateAborted, ChatStateError:
		return p, nil
	default:
		return ChatPayload{}, fmt.Errorf("%w: unknown chat state %q", ErrMalformedFrame, p.State)
	}
}

// AgentPayload is the payload of an "agent" event carrying incremental
// thinking text and lifecycle phases.
type AgentPayload struct {
	RunID  string    `json:"runId"`
	Stream string    `json:"stream"`
	Data   AgentData `json:"data"`
}

// AgentData is the stream-specific body of an agent event.
type AgentData struct {
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	Phase    string `json:"phase,omitempty"`
}

// DecodeAgentPayload parses an agent event payload.
func DecodeAgentPayload(raw json.RawMessage) (AgentPayload, error) {
	var p AgentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return AgentPayload{}, fmt.Errorf("%w: agent payload: %v", ErrMalformedFrame, err)
	}
	return p, nil
}

// Message is the assistant message object attached to chat payloads.
type Message struct {
	Content      json.RawMessage `json:"content,omitempty"`
	Text         string          `json:"text,omitempty"`
	StopReason   string          `json:"stopReason,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

type messagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractText pulls displayable text out of a raw message object: a string
// content field, the joined text parts of an array content field, or a bare
// text field, in that order.
func ExtractText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", false
	}

	if len(m.Content) > 0 {
		var s string
		if err := json.Unmarshal(m.Content, &s); err == nil {
			return s, true
		}

		var parts []messagePart
		if err := json.Unmarshal(m.Content, &parts); err == nil {
			texts := make([]string, 0, len(parts))
			for _, part := range parts {
				if part.Type == "text" && part.Text != "" {
					texts = append(texts, part.Text)
				}
			}
			if len(texts) > 0 {
				return strings.Join(texts, "\n"), true
			}
		}
	}

	if m.Text != "" {
		return m.Text, true
	}

	return "", false
}

// MessageError returns the error message attached to an error-stopped message.
func MessageError(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", false
	}
	if m.StopReason == "error" && m.ErrorMessage != "" {
		return m.ErrorMessage, true
	}
	return "", false
}
