// Package connection owns the single logical connection between the driver
// client and the dispatch service.
package connection

import (
	"context"

	"github.com/kilianp07/ridesync/core/protocol"
)

// Identity authenticates the driver during the handshake.
type Identity struct {
	DriverID string
	Token    string
}

// Transport dials the dispatch service. Dial returns once the handshake is
// acknowledged. A rejected handshake must be reported with an error wrapping
// ErrHandshakeRejected so the manager stops retrying.
type Transport interface {
	Dial(ctx context.Context, id Identity) (Conn, error)
}

// Conn is one established transport session.
type Conn interface {
	// Send writes a frame. It must be safe for concurrent use.
	Send(ctx context.Context, f protocol.Frame) error
	// Frames yields inbound frames in arrival order and is closed when the
	// session ends.
	Frames() <-chan protocol.Frame
	// Err reports why Frames was closed. It returns nil after Close.
	Err() error
	// Close ends the session. It is idempotent.
	Close() error
}
