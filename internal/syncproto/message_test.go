package syncproto

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJoinRoundTrips(t *testing.T) {
	bytes, err := EncodeJoin("peer-123")
	require.NoError(t, err)
	assert.NotEmpty(t, bytes)

	var env envelope
	require.NoError(t, cbor.Unmarshal(bytes, &env))
	assert.Equal(t, "join", env.Type)
	assert.Equal(t, []string{ProtocolV1}, env.SupportedProtocolVersions)
}

func TestEncodeSyncRoundTrips(t *testing.T) {
	bytes, err := EncodeSync("peer-1", "peer-2", "docid123", []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.NotEmpty(t, bytes)

	var env envelope
	require.NoError(t, cbor.Unmarshal(bytes, &env))
	assert.Equal(t, "sync", env.Type)
	assert.Equal(t, "docid123", env.DocumentID)
	assert.Equal(t, []byte{1, 2, 3, 4}, env.Data)
}

func TestDecodeServerMessagePeer(t *testing.T) {
	env := envelope{
		Type:                    "peer",
		SenderID:                "server",
		TargetID:                "client",
		SelectedProtocolVersion: "1",
	}
	bytes, err := cbor.Marshal(env)
	require.NoError(t, err)

	msg, err := DecodeServerMessage(bytes)
	require.NoError(t, err)
	assert.Equal(t, ServerPeer, msg.Kind)
	assert.Equal(t, "server", msg.SenderID)
}

func TestDecodeServerMessageUnknownType(t *testing.T) {
	env := envelope{Type: "something-new"}
	bytes, err := cbor.Marshal(env)
	require.NoError(t, err)

	_, err = DecodeServerMessage(bytes)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}
