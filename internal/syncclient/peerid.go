package syncclient

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// newPeerID returns an ephemeral peer id of the form "rott-<8 hex chars>".
func newPeerID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("syncclient: generate peer id: %w", err)
	}
	return "rott-" + hex.EncodeToString(buf), nil
}
