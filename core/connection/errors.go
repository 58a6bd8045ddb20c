package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send and Request when no session is up.
	ErrNotConnected = errors.New("not connected")
	// ErrHandshakeRejected marks a handshake refused by the server, usually
	// bad credentials. It is never retried.
	ErrHandshakeRejected = errors.New("handshake rejected")
	// ErrConnectTimeout is returned when no handshake succeeded in time.
	ErrConnectTimeout = errors.New("connect timeout")
	// ErrAckTimeout is returned when no acknowledgment arrives in time.
	ErrAckTimeout = errors.New("timeout waiting for ack")
)

// ConnectionError is the only error Connect surfaces.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection error: %s", e.Reason)
	}
	return fmt.Sprintf("connection error: %s: %v", e.Reason, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
