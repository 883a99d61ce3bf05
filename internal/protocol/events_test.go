package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisconnectReasonRoundTrip(t *testing.T) {
	cases := []struct {
		reason DisconnectReason
		resets bool
	}{
		{reason: ClientRequested, resets: true},
		{reason: NetworkLost, resets: false},
		{reason: ServerClosed, resets: false},
		{reason: Timeout, resets: false},
	}

	for _, tc := range cases {
		got := ParseDisconnectReason(tc.reason.String())
		require.Equal(t, tc.reason, got, tc.reason.String())
		require.Equal(t, tc.resets, got.ResetsSession(), tc.reason.String())
	}
}

func TestParseDisconnectReasonUnknown(t *testing.T) {
	require.Equal(t, NetworkLost, ParseDisconnectReason("something new"))
	require.False(t, ParseDisconnectReason("").ResetsSession())
}

func TestNewEnvelopeKeepsRawPayload(t *testing.T) {
	raw := json.RawMessage(`[{"role":"user","content":"hi"}]`)
	env, err := NewEnvelope(EventUnexpectedError, raw)
	require.NoError(t, err)
	require.Equal(t, string(raw), string(env.Data))
}

func TestEnvelopeDecode(t *testing.T) {
	env, err := NewEnvelope(EventMessage, ChatbotMessage{MessageID: "42", Message: "Try the 2nd floor."})
	require.NoError(t, err)

	var msg ChatbotMessage
	require.NoError(t, env.Decode(&msg))
	require.Equal(t, "42", msg.MessageID)
	require.Equal(t, "Try the 2nd floor.", msg.Message)

	require.Error(t, Envelope{Event: EventMessage}.Decode(&msg))
}
