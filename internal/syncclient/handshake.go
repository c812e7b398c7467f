package syncclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/evcraddock/rott/internal/crdtdoc"
	"github.com/evcraddock/rott/internal/syncproto"
)

// handshake sends "join" and awaits the server's "peer" response within
// handshakeTimeout, returning the server's sender id as our target peer.
func handshake(ctx context.Context, c *wireConn, selfID string) (targetID string, err error) {
	joinFrame, err := syncproto.EncodeJoin(selfID)
	if err != nil {
		return "", err
	}
	if err := c.writeFrame(ctx, joinFrame); err != nil {
		return "", err
	}

	for {
		msg, err := c.readServerMessage(ctx, handshakeTimeout, ErrHandshakeTimeout)
		if errors.Is(err, syncproto.ErrUnknownMessageType) {
			continue
		}
		if err != nil {
			return "", err
		}

		switch msg.Kind {
		case syncproto.ServerPeer:
			return msg.SenderID, nil
		case syncproto.ServerError:
			return "", &ServerError{Message: msg.Message}
		default:
			continue
		}
	}
}

// exchange drives one round of request/sync/doc-unavailable traffic until
// the remote signals completion (an empty follow-up sync message) or the
// read function reports ErrSyncExchangeIdle, per spec §4.G.4-6. read lets
// callers source frames either directly off the wire (a one-shot cycle)
// or from a channel shared with a background reader (the persistent
// client, which must not read the connection from two goroutines at
// once). Returns whether any remote change was applied to doc.
func exchange(ctx context.Context, c *wireConn, read nextFrameFunc, doc SharedDocument, peer *crdtdoc.PeerSyncState, selfID, targetID, documentID string) (bool, error) {
	initial, err := doc.GenerateSyncMessage(peer)
	if err != nil {
		return false, fmt.Errorf("syncclient: generate initial sync message: %w", err)
	}
	if initial == nil {
		initial = []byte{}
	}

	reqFrame, err := syncproto.EncodeRequest(selfID, targetID, documentID, initial)
	if err != nil {
		return false, err
	}
	if err := c.writeFrame(ctx, reqFrame); err != nil {
		return false, err
	}

	changed := false

	for {
		msg, err := read(ctx)
		if errors.Is(err, syncproto.ErrUnknownMessageType) {
			continue
		}
		if errors.Is(err, ErrSyncExchangeIdle) {
			// An ordinary lull, not a failure: the peer has nothing more
			// to send right now, so this exchange is done.
			return changed, nil
		}
		if err != nil {
			return changed, err
		}

		applied, done, err := applyServerMessage(ctx, c, msg, doc, peer, selfID, targetID, documentID)
		if applied {
			changed = true
		}
		if err != nil {
			return changed, err
		}
		if done {
			return changed, nil
		}
	}
}

// applyServerMessage dispatches one decoded server frame: a sync frame
// merges into doc and, unless the remote signaled completion with an
// empty follow-up, replies in kind; doc-unavailable seeds the remote with
// a full sync message; error frames surface as a ServerError. Shared by
// exchange's loop and the persistent client's idle hold loop, which
// receive unsolicited frames the same way once the initial exchange
// completes.
func applyServerMessage(ctx context.Context, c *wireConn, msg *syncproto.ServerMessage, doc SharedDocument, peer *crdtdoc.PeerSyncState, selfID, targetID, documentID string) (applied, done bool, err error) {
	switch msg.Kind {
	case syncproto.ServerSync:
		applied, err := doc.ReceiveSyncMessage(peer, msg.Data)
		if err != nil {
			return false, false, fmt.Errorf("syncclient: receive sync message: %w", err)
		}

		reply, err := doc.GenerateSyncMessage(peer)
		if err != nil {
			return applied, false, fmt.Errorf("syncclient: generate reply sync message: %w", err)
		}
		if reply == nil {
			return applied, true, nil
		}

		frame, err := syncproto.EncodeSync(selfID, targetID, documentID, reply)
		if err != nil {
			return applied, false, err
		}
		if err := c.writeFrame(ctx, frame); err != nil {
			return applied, false, err
		}
		return applied, false, nil

	case syncproto.ServerDocUnavailable:
		// The remote has no record of this document yet; reset our
		// peer-state so the next sync message carries the full state.
		*peer = crdtdoc.NewPeerSyncState()
		full, err := doc.GenerateSyncMessage(peer)
		if err != nil {
			return false, false, fmt.Errorf("syncclient: generate full sync message: %w", err)
		}
		if full == nil {
			full = []byte{}
		}
		frame, err := syncproto.EncodeSync(selfID, targetID, documentID, full)
		if err != nil {
			return false, false, err
		}
		if err := c.writeFrame(ctx, frame); err != nil {
			return false, false, err
		}
		return false, false, nil

	case syncproto.ServerError:
		return false, false, &ServerError{Message: msg.Message}

	default:
		return false, false, nil
	}
}
