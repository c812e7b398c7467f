package syncclient

import (
	"errors"
	"fmt"
)

// Sentinel sync errors, categorized per spec §7.6.
var (
	ErrHandshakeTimeout      = errors.New("syncclient: handshake timeout")
	ErrServerClosedHandshake = errors.New("syncclient: server closed during handshake")
	ErrTransport             = errors.New("syncclient: transport error")

	// ErrSyncExchangeIdle marks an ordinary lull in a sync exchange's
	// per-iteration read, not a failure: exchange treats it as "the peer
	// has nothing more to send right now", matching original_source's
	// loop break-to-Ok(updated) on the same condition, rather than
	// failing the whole cycle the way a handshake timeout does.
	ErrSyncExchangeIdle = errors.New("syncclient: sync exchange idle")
)

// ServerError wraps a message the relay sent in an "error" frame.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("syncclient: server error: %s", e.Message)
}
