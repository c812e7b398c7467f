package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentServer accepts the WebSocket upgrade and then never writes a
// frame, so a client awaiting "peer" times out.
func silentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	if len(httpURL) >= 7 && httpURL[:7] == "http://" {
		return "ws://" + httpURL[7:]
	}
	return httpURL
}

func TestHandshakeTimesOutAgainstSilentServer(t *testing.T) {
	srv := silentServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	conn, err := dial(context.Background(), wsURL(srv.URL))
	require.NoError(t, err)
	defer conn.close()

	_, err = handshake(ctx, conn, "rott-test0000")
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}
