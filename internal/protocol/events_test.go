package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeChatPayload(t *testing.T) {
	raw := json.RawMessage(`{"sessionKey":"main","runId":"r1","state":"delta","seq":4}`)
	p, err := DecodeChatPayload(raw)
	require.NoError(t, err)
	require.Equal(t, "r1", p.RunID)
	require.Equal(t, ChatStateDelta, p.State)
	require.NotNil(t, p.Seq)
	require.Equal(t, 4, *p.Seq)
	require.False(t, p.Terminal())
}

func TestDecodeChatPayloadRejectsUnknownState(t *testing.T) {
	_, err := DecodeChatPayload(json.RawMessage(`{"state":"weird"}`))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestChatPayloadTerminalStates(t *testing.T) {
	for _, state := range []string{ChatStateFinal, ChatStateAborted, ChatStateError} {
		require.True(t, ChatPayload{State: state}.Terminal(), state)
	}
	require.False(t, ChatPayload{State: ChatStateDelta}.Terminal())
}

func TestChatPayloadMatchesSession(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ours    string
		want    bool
	}{
		{name: "exact", payload: "main", ours: "main", want: true},
		{name: "agent prefix", payload: "agent:main:sub-7", ours: "main", want: true},
		{name: "other session", payload: "kiosk", ours: "main", want: false},
		{name: "prefix without colon", payload: "agent:mainline:x", ours: "main", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ChatPayload{SessionKey: tc.payload}.MatchesSession(tc.ours)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{name: "string content", raw: `{"content":"你好"}`, want: "你好", wantOK: true},
		{name: "part array", raw: `{"content":[{"type":"text","text":"a"},{"type":"image"},{"type":"text","text":"b"}]}`, want: "a\nb", wantOK: true},
		{name: "bare text field", raw: `{"text":"fallback"}`, want: "fallback", wantOK: true},
		{name: "empty parts", raw: `{"content":[{"type":"image"}]}`, wantOK: false},
		{name: "empty object", raw: `{}`, wantOK: false},
		{name: "not an object", raw: `42`, wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractText(json.RawMessage(tc.raw))
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestMessageError(t *testing.T) {
	msg, ok := MessageError(json.RawMessage(`{"stopReason":"error","errorMessage":"429 boom"}`))
	require.True(t, ok)
	require.Equal(t, "429 boom", msg)

	_, ok = MessageError(json.RawMessage(`{"stopReason":"stop","errorMessage":"x"}`))
	require.False(t, ok)
}

func TestDecodeAgentPayload(t *testing.T) {
	raw := json.RawMessage(`{"runId":"r1","stream":"lifecycle","data":{"phase":"end"}}`)
	p, err := DecodeAgentPayload(raw)
	require.NoError(t, err)
	require.Equal(t, StreamLifecycle, p.Stream)
	require.Equal(t, PhaseEnd, p.Data.Phase)
}
