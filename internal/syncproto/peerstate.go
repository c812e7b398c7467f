package syncproto

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const peerStateFileName = "sync_state.json"

// PeerStateBag persists one opaque CRDT sync-state blob per remote peer
// id. A missing file is treated as empty; an entry that fails to decode
// is dropped rather than failing the whole load.
type PeerStateBag struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	peers  map[string][]byte
}

// NewPeerStateBag returns an empty bag rooted at dataDir.
func NewPeerStateBag(dataDir string, logger *slog.Logger) *PeerStateBag {
	return &PeerStateBag{
		path:   filepath.Join(dataDir, peerStateFileName),
		logger: logger,
		peers:  map[string][]byte{},
	}
}

// Load reads the bag from disk, decoding each peer's base64 blob.
// Missing file: empty bag, no error. An entry whose value fails to
// base64-decode is skipped and logged, not fatal to the rest.
func (b *PeerStateBag) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("syncproto: read peer state: %w", err)
	}

	var encoded map[string]string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return fmt.Errorf("syncproto: decode peer state: %w", err)
	}

	peers := map[string][]byte{}
	for peerID, value := range encoded {
		decoded, err := decodeEntry(value)
		if err != nil {
			b.logger.Warn("dropping undecodable peer state entry", "peer_id", peerID, "error", err)
			continue
		}
		peers[peerID] = decoded
	}

	b.peers = peers
	return nil
}

// Get returns the stored state for a peer, or nil if none is recorded.
func (b *PeerStateBag) Get(peerID string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peers[peerID]
}

// Set stores (or replaces) the state for a peer.
func (b *PeerStateBag) Set(peerID string, state []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[peerID] = state
}

// Clear removes every entry from the in-memory bag (does not persist).
func (b *PeerStateBag) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers = map[string][]byte{}
}

// PeerCount returns the number of known peers.
func (b *PeerStateBag) PeerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// All returns a copy of every peer id -> state entry currently held.
func (b *PeerStateBag) All() map[string][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]byte, len(b.peers))
	for id, state := range b.peers {
		out[id] = state
	}
	return out
}

// Save persists the bag atomically: write to a temp file in the same
// directory, fsync, rename — matching the document persistence contract
// in spec §4.D, applied here even though some reference implementations
// write this particular file directly.
func (b *PeerStateBag) Save() error {
	b.mu.Lock()
	encoded := make(map[string]string, len(b.peers))
	for peerID, state := range b.peers {
		encoded[peerID] = encodeEntry(state)
	}
	b.mu.Unlock()

	data, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("syncproto: marshal peer state: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("syncproto: create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("syncproto: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("syncproto: write peer state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncproto: fsync peer state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("syncproto: close peer state temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("syncproto: rename peer state: %w", err)
	}

	succeeded = true
	return nil
}
