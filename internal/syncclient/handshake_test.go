package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcraddock/rott/internal/crdtdoc"
	"github.com/evcraddock/rott/internal/syncproto"
)

// staticDoc is a SharedDocument stub that always has one fixed message to
// offer and never reports an incoming change, for tests that only care
// about exchange's control flow.
type staticDoc struct{}

func (staticDoc) GenerateSyncMessage(*crdtdoc.PeerSyncState) ([]byte, error) {
	return []byte{1, 2, 3}, nil
}

func (staticDoc) ReceiveSyncMessage(*crdtdoc.PeerSyncState, []byte) (bool, error) {
	return false, nil
}

// TestExchangeTreatsIdleTimeoutAsCleanCompletion confirms an exchange
// whose read function reports ErrSyncExchangeIdle returns normally
// instead of propagating it as a failure, per spec §7.6: there is no
// exchange-iteration-timeout error category, only handshake-timeout.
func TestExchangeTreatsIdleTimeoutAsCleanCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	conn, err := dial(context.Background(), wsURL(srv.URL))
	require.NoError(t, err)
	defer conn.close()

	read := func(ctx context.Context) (*syncproto.ServerMessage, error) {
		return nil, ErrSyncExchangeIdle
	}

	peer := crdtdoc.NewPeerSyncState()
	changed, err := exchange(context.Background(), conn, read, staticDoc{}, &peer, "self-peer", "target-peer", "doc-1")
	require.NoError(t, err)
	assert.False(t, changed)
}
