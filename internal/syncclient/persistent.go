package syncclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evcraddock/rott/internal/crdtdoc"
	"github.com/evcraddock/rott/internal/syncproto"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Client is a long-lived supervisor around one WebSocket connection: it
// dials, handshakes, and runs an initial exchange, then holds the same
// connection open across subsequent PushChanges requests and unsolicited
// incoming frames until disconnection, reconnecting with exponential
// backoff (reset after any clean cycle). Grounded on the persistent-sync
// supervisor loop in original_source and the teacher's goroutine/channel
// orchestration idiom.
type Client struct {
	url        string
	documentID string
	doc        SharedDocument
	peers      *PeerStates
	logger     *slog.Logger

	commands chan Command
	events   chan Event

	statusMu sync.Mutex
	status   Status
}

// New constructs a persistent sync client. Call Run in a goroutine to
// start the supervisor loop.
func New(url, documentID string, doc SharedDocument, peers *PeerStates, logger *slog.Logger) *Client {
	return &Client{
		url:        url,
		documentID: documentID,
		doc:        doc,
		peers:      peers,
		logger:     logger,
		commands:   make(chan Command, 1),
		events:     make(chan Event, 16),
		status:     StatusDisconnected,
	}
}

// Events returns the channel the client publishes status/document/error
// events on. Callers should drain it continuously.
func (c *Client) Events() <-chan Event {
	return c.events
}

// PushChanges requests an out-of-band sync cycle as soon as the
// supervisor is free to start one.
func (c *Client) PushChanges() {
	select {
	case c.commands <- CmdPushChanges:
	default:
	}
}

// Shutdown requests the supervisor loop stop after its current cycle.
func (c *Client) Shutdown() {
	c.commands <- CmdShutdown
}

// Status returns the client's current connection status.
func (c *Client) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

func (c *Client) setStatus(s Status) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
	c.emit(Event{Kind: EventStatusChanged, Status: s})
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("dropping sync event, channel full", "kind", ev.Kind)
	}
}

// Run drives the supervisor loop per spec §4.G until ctx is canceled or
// Shutdown is called: connect, run the initial exchange, then hold the
// connection open for commands and incoming frames. On any disconnection
// it reconnects after the current backoff, doubling up to maxBackoff and
// resetting to initialBackoff after any cycle that completes cleanly.
func (c *Client) Run(ctx context.Context) {
	backoff := initialBackoff

	for {
		c.setStatus(StatusConnecting)
		conn, selfID, targetID, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setStatus(StatusDisconnected)
				return
			}
			c.logger.Warn("sync connect failed", "error", err)
			c.emit(Event{Kind: EventError, Err: err})
			if !c.sleepBackoff(ctx, &backoff) {
				return
			}
			continue
		}

		shutdown, err := c.runConnection(ctx, conn, selfID, targetID)
		conn.close()

		if shutdown {
			c.setStatus(StatusDisconnected)
			return
		}
		if err != nil {
			c.logger.Warn("sync connection lost", "error", err)
			c.emit(Event{Kind: EventError, Err: err})
			if !c.sleepBackoff(ctx, &backoff) {
				return
			}
			continue
		}

		backoff = initialBackoff
	}
}

// connect dials and handshakes, returning the id we joined with and the
// peer id the server assigned to us as the sync target.
func (c *Client) connect(ctx context.Context) (conn *wireConn, selfID, targetID string, err error) {
	selfID, err = newPeerID()
	if err != nil {
		return nil, "", "", err
	}

	conn, err = dial(ctx, c.url)
	if err != nil {
		return nil, "", "", err
	}

	targetID, err = handshake(ctx, conn, selfID)
	if err != nil {
		conn.close()
		return nil, "", "", err
	}

	return conn, selfID, targetID, nil
}

// runConnection runs the initial exchange (spec §4.G.2) then holds the
// connection open (spec §4.G.3) until a Shutdown command, a PushChanges
// exchange fails, or the connection drops. It returns shutdown=true only
// when the stop came from an explicit Shutdown command or ctx
// cancellation; any other return is a disconnection the caller should
// reconnect from.
func (c *Client) runConnection(ctx context.Context, conn *wireConn, selfID, targetID string) (shutdown bool, err error) {
	peer := c.peers.get(targetID)
	changed, err := exchange(ctx, conn, conn.exchangeReader(), c.doc, peer, selfID, targetID, c.documentID)
	c.peers.set(targetID, *peer)
	if err != nil {
		return false, err
	}
	c.setStatus(StatusConnected)
	if changed {
		c.emit(Event{Kind: EventDocumentUpdated})
	}

	frames := make(chan frameResult, 1)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go readFrames(readCtx, conn, frames)

	channelRead := channelReader(frames)

	for {
		select {
		case <-ctx.Done():
			return true, nil

		case cmd := <-c.commands:
			switch cmd {
			case CmdShutdown:
				return true, nil
			case CmdPushChanges:
				changed, err := exchange(ctx, conn, channelRead, c.doc, peer, selfID, targetID, c.documentID)
				c.peers.set(targetID, *peer)
				if err != nil {
					return false, err
				}
				if changed {
					c.emit(Event{Kind: EventDocumentUpdated})
				}
			}

		case fr := <-frames:
			if fr.err != nil {
				return false, fr.err
			}
			applied, _, err := applyServerMessage(ctx, conn, fr.msg, c.doc, peer, selfID, targetID, c.documentID)
			if err != nil {
				return false, err
			}
			if applied {
				c.peers.set(targetID, *peer)
				c.emit(Event{Kind: EventDocumentUpdated})
			}
		}
	}
}

// sleepBackoff waits for the current backoff duration, doubling it for
// next time (capped at maxBackoff), and returns false if ctx was
// canceled or a Shutdown command arrived during the wait — either of
// which should end the supervisor loop rather than reconnect.
func (c *Client) sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	timer := time.NewTimer(*backoff)
	defer timer.Stop()

	*backoff *= 2
	if *backoff > maxBackoff {
		*backoff = maxBackoff
	}

	select {
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		return false
	case cmd := <-c.commands:
		if cmd == CmdShutdown {
			c.setStatus(StatusDisconnected)
			return false
		}
		// A PushChanges arriving during backoff just wakes the loop
		// early; the reconnect's initial exchange sends local changes
		// regardless of what triggered it.
		return true
	case <-timer.C:
		return true
	}
}

// channelReader adapts a background reader's frame channel into a
// nextFrameFunc for exchange, applying the per-iteration exchange
// timeout. Used once a connection's frames are being consumed by
// readFrames, so exchange must not read the wire directly.
func channelReader(frames <-chan frameResult) nextFrameFunc {
	return func(ctx context.Context) (*syncproto.ServerMessage, error) {
		timer := time.NewTimer(syncIterationTimeout)
		defer timer.Stop()

		select {
		case fr, ok := <-frames:
			if !ok {
				return nil, ErrTransport
			}
			return fr.msg, fr.err
		case <-timer.C:
			return nil, ErrSyncExchangeIdle
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PeerStates is the in-memory view over the persisted per-peer progress
// bag that SyncOnce/the persistent client read and update between cycles.
// Persistence itself (as JSON, atomically written) is the caller's job —
// this just tracks the live crdtdoc.PeerSyncState values by peer id.
type PeerStates struct {
	entries map[string]crdtdoc.PeerSyncState
}

// NewPeerStates returns an empty peer-state table.
func NewPeerStates() *PeerStates {
	return &PeerStates{entries: make(map[string]crdtdoc.PeerSyncState)}
}

func (p *PeerStates) get(peerID string) *crdtdoc.PeerSyncState {
	state, ok := p.entries[peerID]
	if !ok {
		state = crdtdoc.NewPeerSyncState()
	}
	return &state
}

func (p *PeerStates) set(peerID string, state crdtdoc.PeerSyncState) {
	p.entries[peerID] = state
}

// Snapshot returns the current peer-id -> encoded-state map, suitable for
// handing to syncproto.PeerStateBag for persistence.
func (p *PeerStates) Snapshot() map[string][]byte {
	out := make(map[string][]byte, len(p.entries))
	for id, state := range p.entries {
		data, err := state.MarshalBinary()
		if err != nil {
			continue
		}
		out[id] = data
	}
	return out
}

// LoadSnapshot replaces the table's contents from previously persisted
// entries, dropping any that fail to decode.
func (p *PeerStates) LoadSnapshot(raw map[string][]byte) {
	p.entries = make(map[string]crdtdoc.PeerSyncState, len(raw))
	for id, data := range raw {
		state, err := crdtdoc.UnmarshalPeerSyncState(data)
		if err != nil {
			continue
		}
		p.entries[id] = state
	}
}
