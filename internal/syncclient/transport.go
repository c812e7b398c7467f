package syncclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/evcraddock/rott/internal/syncproto"
)

const (
	handshakeTimeout     = 10 * time.Second
	syncIterationTimeout = 10 * time.Second
)

// wireConn wraps the raw WebSocket connection with the framing this
// protocol needs: every message is one binary frame of CBOR bytes.
type wireConn struct {
	conn *websocket.Conn
}

func dial(ctx context.Context, url string) (*wireConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, url, err)
	}
	return &wireConn{conn: conn}, nil
}

func (c *wireConn) close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *wireConn) writeFrame(ctx context.Context, frame []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	return nil
}

// readServerMessage reads one frame within the given deadline and decodes
// it. Unknown message types are surfaced as syncproto.ErrUnknownMessageType
// so callers can choose to ignore-and-continue per spec §4.F. timeoutErr
// is returned on a deadline expiry, letting callers distinguish a fatal
// handshake timeout from an ordinary exchange-iteration lull.
func (c *wireConn) readServerMessage(ctx context.Context, timeout time.Duration, timeoutErr error) (*syncproto.ServerMessage, error) {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, data, err := c.conn.Read(readCtx)
	if err != nil {
		if errors.Is(readCtx.Err(), context.DeadlineExceeded) {
			return nil, timeoutErr
		}
		status := websocket.CloseStatus(err)
		if status != -1 {
			return nil, ErrServerClosedHandshake
		}
		return nil, fmt.Errorf("%w: read: %v", ErrTransport, err)
	}

	msg, err := syncproto.DecodeServerMessage(data)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// readServerMessageCtx reads one frame with no deadline beyond ctx itself,
// used by the persistent client's background reader while it waits
// indefinitely for the next unsolicited frame or command.
func (c *wireConn) readServerMessageCtx(ctx context.Context) (*syncproto.ServerMessage, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		status := websocket.CloseStatus(err)
		if status != -1 {
			return nil, ErrServerClosedHandshake
		}
		return nil, fmt.Errorf("%w: read: %v", ErrTransport, err)
	}

	msg, err := syncproto.DecodeServerMessage(data)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// nextFrameFunc reads the next decoded server frame, however the caller
// chooses to source it — directly off the wire, or from a channel fed by
// a background reader. exchange is written against this abstraction so
// the persistent client can multiplex reads from a single connection
// across multiple exchange cycles plus unsolicited incoming frames.
type nextFrameFunc func(ctx context.Context) (*syncproto.ServerMessage, error)

// exchangeReader returns a nextFrameFunc that reads directly off the
// wire with the per-iteration exchange timeout. Only safe to use while
// no other goroutine is reading from conn concurrently.
func (c *wireConn) exchangeReader() nextFrameFunc {
	return func(ctx context.Context) (*syncproto.ServerMessage, error) {
		return c.readServerMessage(ctx, syncIterationTimeout, ErrSyncExchangeIdle)
	}
}

// frameResult is one decoded frame (or read error) handed from the
// persistent client's background reader to its supervisor select loop.
type frameResult struct {
	msg *syncproto.ServerMessage
	err error
}

// readFrames continuously reads frames off conn and publishes each onto
// out, skipping frames of an unknown message type and stopping after the
// first other error (the connection is no longer usable past that point)
// or when ctx is canceled.
func readFrames(ctx context.Context, conn *wireConn, out chan<- frameResult) {
	for {
		msg, err := conn.readServerMessageCtx(ctx)
		if errors.Is(err, syncproto.ErrUnknownMessageType) {
			continue
		}
		select {
		case out <- frameResult{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
