package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcraddock/rott/internal/crdtdoc"
	"github.com/evcraddock/rott/internal/model"
)

type fakeEnvelope struct {
	Type                      string   `cbor:"type"`
	SenderID                  string   `cbor:"senderId,omitempty"`
	TargetID                  string   `cbor:"targetId,omitempty"`
	SupportedProtocolVersions []string `cbor:"supportedProtocolVersions,omitempty"`
	DocumentID                string   `cbor:"documentId,omitempty"`
	Data                      []byte   `cbor:"data,omitempty"`
}

// scriptedRelay accepts one connection, replies to "join" with a "peer"
// message, then replies to the following "request" with a single "sync"
// frame carrying payload, and stops driving the conversation.
func scriptedRelay(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		_, frame, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var join fakeEnvelope
		if err := cbor.Unmarshal(frame, &join); err != nil {
			return
		}

		peerFrame, err := cbor.Marshal(fakeEnvelope{Type: "peer", SenderID: "relay-1"})
		if err != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageBinary, peerFrame); err != nil {
			return
		}

		_, frame, err = conn.Read(ctx)
		if err != nil {
			return
		}
		var reqMsg fakeEnvelope
		if err := cbor.Unmarshal(frame, &reqMsg); err != nil {
			return
		}

		syncFrame, err := cbor.Marshal(fakeEnvelope{
			Type: "sync", SenderID: "relay-1", TargetID: reqMsg.SenderID,
			DocumentID: reqMsg.DocumentID, Data: payload,
		})
		if err != nil {
			return
		}
		_ = conn.Write(ctx, websocket.MessageBinary, syncFrame)

		<-ctx.Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncOnceAppliesRemoteChange(t *testing.T) {
	remote, err := crdtdoc.New()
	require.NoError(t, err)
	remote.AddLink(model.NewLink("https://example.com", time.Now()))

	zero := crdtdoc.NewPeerSyncState()
	payload, err := remote.GenerateSyncMessage(&zero)
	require.NoError(t, err)
	require.NotNil(t, payload)

	srv := scriptedRelay(t, payload)

	local, err := crdtdoc.New()
	require.NoError(t, err)
	peers := NewPeerStates()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changed, err := SyncOnce(ctx, wsURL(srv.URL), "doc-1", local, peers, nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, local.LinkCount())
}

func TestPeerStatesSnapshotRoundTrip(t *testing.T) {
	p := NewPeerStates()
	state := p.get("peer-a")
	state.LastKnownLatest = crdtdoc.NewPeerSyncState().LastKnownLatest
	p.set("peer-a", *state)

	snap := p.Snapshot()
	require.Contains(t, snap, "peer-a")

	q := NewPeerStates()
	q.LoadSnapshot(snap)
	got := q.get("peer-a")
	assert.Equal(t, state.LastKnownLatest, got.LastKnownLatest)
}

func TestPeerStatesLoadSnapshotDropsBadEntry(t *testing.T) {
	q := NewPeerStates()
	q.LoadSnapshot(map[string][]byte{"peer-a": []byte("not json")})
	assert.Empty(t, q.Snapshot())
}
