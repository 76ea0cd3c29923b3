package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeFrameKnownTypes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "request", input: `{"type":"req","id":"1","method":"connect"}`, want: FrameTypeRequest},
		{name: "response", input: `{"type":"res","id":"1","ok":true}`, want: FrameTypeResponse},
		{name: "event", input: `{"type":"event","event":"chat","payload":{}}`, want: FrameTypeEvent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tc.input))
			require.NoError(t, err)
			require.Equal(t, tc.want, frame.Type)
		})
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := DecodeFrame([]byte(`{not json`))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeFrameRejectsUnknownType(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"type":"ping"}`))
	require.ErrorIs(t, err, ErrMalformedFrame)
	require.Contains(t, err.Error(), "ping")
}

func TestConnectParamsWireShape(t *testing.T) {
	params := ConnectParams{
		MinProtocol: 3,
		MaxProtocol: 3,
		Client:      ClientInfo{ID: "webchat-ui", Version: "visage", Platform: "linux", Mode: "webchat"},
		Role:        "operator",
		Scopes:      []string{"operator.admin"},
		Auth:        &Auth{Token: "tok"},
		UserAgent:   "visage/dev",
		Locale:      "zh-CN",
	}

	raw, err := json.Marshal(params)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"minProtocol":3`)
	require.Contains(t, string(raw), `"auth":{"token":"tok"}`)
	require.Contains(t, string(raw), `"locale":"zh-CN"`)
}

func TestChatSendParamsCarriesIdempotencyKey(t *testing.T) {
	raw, err := json.Marshal(ChatSendParams{
		SessionKey:     "main",
		Message:        "你好",
		Deliver:        false,
		IdempotencyKey: "run-1",
	})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"idempotencyKey":"run-1"`)
	require.Contains(t, string(raw), `"deliver":false`)
}
