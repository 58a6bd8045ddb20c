package config

import (
	"fmt"
	"net"
	"slices"

	"github.com/kilianp07/ridesync/core/factory"
	"github.com/kilianp07/ridesync/core/location"
	"github.com/kilianp07/ridesync/infra/position"
	"github.com/kilianp07/ridesync/infra/transport/mqtt"
	"github.com/kilianp07/ridesync/infra/transport/ws"
)

// Transport types.
const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// TransportConfig selects the wire transport and holds each one's block.
type TransportConfig struct {
	Type      string      `json:"type"`
	WebSocket ws.Config   `json:"websocket"`
	MQTT      mqtt.Config `json:"mqtt"`
}

func (c *TransportConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = TransportWebSocket
	}
	c.WebSocket.SetDefaults()
	c.MQTT.SetDefaults()
}

func (c TransportConfig) Validate() error {
	switch c.Type {
	case TransportWebSocket:
		return c.WebSocket.Validate()
	case TransportMQTT:
		return c.MQTT.Validate()
	}
	return fmt.Errorf("unknown type %q", c.Type)
}

// LocationConfig holds the reporter thresholds and the position source.
type LocationConfig struct {
	Reporter location.Config      `json:"reporter"`
	Source   factory.ModuleConfig `json:"source"`
}

func (c *LocationConfig) SetDefaults() {
	c.Reporter.SetDefaults()
	if c.Source.Type == "" {
		c.Source.Type = "static"
	}
}

func (c LocationConfig) Validate() error {
	if !slices.Contains(position.Types(), c.Source.Type) {
		return fmt.Errorf("unknown position source %q", c.Source.Type)
	}
	return nil
}

// StatusConfig configures the local read-only status API. A non-empty
// Token is required as a bearer token on the journal endpoint.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
	Token   string `json:"token"`
}

func (c *StatusConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = "127.0.0.1:8089"
	}
}

func (c StatusConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	return nil
}
