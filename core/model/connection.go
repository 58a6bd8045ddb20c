package model

// ConnectionStatus is the coarse state of the dispatch connection.
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
)

func (s ConnectionStatus) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ConnectionState is published by the connection manager on every change.
type ConnectionState struct {
	Status    ConnectionStatus `json:"status"`
	LastError string           `json:"last_error,omitempty"`
}

// IsConnected reports whether the status is Connected.
func (s ConnectionState) IsConnected() bool { return s.Status == Connected }
