package syncclient

import "github.com/evcraddock/rott/internal/crdtdoc"

// SharedDocument is the capability the sync client needs from the CRDT
// document: generate/receive sync messages against a per-peer progress
// marker. Per spec §5, the sync task only holds whatever lock backs this
// for the duration of these two calls — never across a network await.
type SharedDocument interface {
	GenerateSyncMessage(peer *crdtdoc.PeerSyncState) ([]byte, error)
	ReceiveSyncMessage(peer *crdtdoc.PeerSyncState, data []byte) (bool, error)
}
