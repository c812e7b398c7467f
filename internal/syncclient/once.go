package syncclient

import (
	"context"
	"fmt"

	"github.com/evcraddock/rott/internal/crdtdoc"
)

// SyncOnce performs a single connect/handshake/exchange/disconnect cycle
// against url for documentID, per spec §4.G. It returns whether any
// remote change was applied to doc. onStatus, if non-nil, is called as
// the cycle moves through Connecting/Connected/Syncing.
func SyncOnce(ctx context.Context, url, documentID string, doc SharedDocument, peers *PeerStates, onStatus func(Status)) (bool, error) {
	notify := onStatus
	if notify == nil {
		notify = func(Status) {}
	}

	selfID, err := newPeerID()
	if err != nil {
		return false, err
	}

	notify(StatusConnecting)
	conn, err := dial(ctx, url)
	if err != nil {
		return false, err
	}
	defer conn.close()

	targetID, err := handshake(ctx, conn, selfID)
	if err != nil {
		return false, err
	}
	notify(StatusConnected)

	notify(StatusSyncing)
	peer := peers.get(targetID)
	changed, err := exchange(ctx, conn, conn.exchangeReader(), doc, peer, selfID, targetID, documentID)
	peers.set(targetID, *peer)
	if err != nil {
		return changed, fmt.Errorf("syncclient: exchange with %s: %w", targetID, err)
	}

	return changed, nil
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
