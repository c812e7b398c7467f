package crdtdoc

import (
	"encoding/json"

	"github.com/brunoga/deep/v3"
	"github.com/brunoga/deep/v3/crdt/hlc"
)

// PeerSyncState is the opaque per-peer progress marker spec §4.F calls
// the "bloom of what they have": this document's own clock value as of
// the last sync message received from that peer. GenerateSyncMessage
// sends nothing while the document's clock still equals it. It is what
// gets persisted in the sync_state.json bag.
type PeerSyncState struct {
	LastKnownLatest hlc.HLC `json:"last_known_latest"`
}

// NewPeerSyncState returns a state representing "peer has never synced".
func NewPeerSyncState() PeerSyncState {
	return PeerSyncState{}
}

// MarshalBinary encodes the peer state for storage in the sync-state bag.
func (p PeerSyncState) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPeerSyncState decodes a peer state previously produced by
// MarshalBinary. A decode failure should cause the caller to drop this
// single entry, per spec §4.F/§7.
func UnmarshalPeerSyncState(data []byte) (PeerSyncState, error) {
	var p PeerSyncState
	if err := json.Unmarshal(data, &p); err != nil {
		return PeerSyncState{}, codecError("peer sync state", err)
	}
	return p, nil
}

func hlcEqual(a, b hlc.HLC) bool {
	return !a.After(b) && !b.After(a)
}

// wireDelta is the JSON shape of a sync message: a full-state patch (diff
// from the zero DocState to the current value) plus the timestamp it was
// produced at. Full-state rather than incremental because the underlying
// backend is a state-based CRDT, not an operation log; resending the
// whole current state keeps merge idempotent regardless of how much a
// peer has missed.
type wireDelta struct {
	Patch     json.RawMessage `json:"patch"`
	Timestamp hlc.HLC         `json:"timestamp"`
}

// GenerateSyncMessage produces sync-message bytes to send to a peer, or
// nil if the peer is already believed up to date.
func (d *Document) GenerateSyncMessage(peer *PeerSyncState) ([]byte, error) {
	latest := d.rep.latest()
	if hlcEqual(peer.LastKnownLatest, latest) {
		return nil, nil
	}

	d.rep.mu.RLock()
	var zero DocState
	patch := deep.Diff(zero, d.rep.value)
	d.rep.mu.RUnlock()

	if patch == nil {
		return nil, nil
	}

	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return nil, codecError("generate sync message", err)
	}

	msg := wireDelta{Patch: patchBytes, Timestamp: latest}
	out, err := json.Marshal(msg)
	if err != nil {
		return nil, codecError("generate sync message", err)
	}

	return out, nil
}

// ReceiveSyncMessage decodes and applies an incoming sync message,
// advancing peer's progress marker. Returns whether any change was
// actually applied.
func (d *Document) ReceiveSyncMessage(peer *PeerSyncState, data []byte) (bool, error) {
	var msg wireDelta
	if err := json.Unmarshal(data, &msg); err != nil {
		return false, codecError("receive sync message", err)
	}

	patch := deep.NewPatch[DocState]()
	if err := json.Unmarshal(msg.Patch, patch); err != nil {
		return false, codecError("receive sync message patch", err)
	}

	before := d.rep.view()
	applied := d.rep.applyDelta(delta[DocState]{Patch: patch, Timestamp: msg.Timestamp})
	if applied && deep.Diff(before, d.rep.view()) == nil {
		applied = false
	}

	latest := d.rep.latest()
	if !hlcEqual(latest, peer.LastKnownLatest) {
		peer.LastKnownLatest = latest
	}

	return applied, nil
}
