package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, msg := range []ChatMessage{
		{Username: "alice", Content: "hi"},
		{Username: "bob", Content: ""},
		{Username: "zoë", Content: "multi\nline \"quoted\" ✓"},
	} {
		decoded, err := Decode(Encode(msg))
		require.NoError(t, err)
		require.Equal(t, msg, decoded)
	}
}

func TestEncodeUsesWireFieldNames(t *testing.T) {
	require.JSONEq(t, `{"username":"alice","content":"hi"}`, string(Encode(ChatMessage{Username: "alice", Content: "hi"})))
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	cases := map[string][]byte{
		"not json":         []byte("hello"),
		"missing username": []byte(`{"content":"hi"}`),
		"missing content":  []byte(`{"username":"alice"}`),
		"null username":    []byte(`{"username":null,"content":"hi"}`),
		"wrong type":       []byte(`{"username":1,"content":"hi"}`),
		"invalid utf8":     {'{', 0xff, '}'},
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(payload)
			require.Error(t, err)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
		})
	}
}

func TestChatMessageString(t *testing.T) {
	require.Equal(t, "alice: hi", ChatMessage{Username: "alice", Content: "hi"}.String())
}
