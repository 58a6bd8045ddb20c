package plugins

import (
	"github.com/kilianp07/ridesync/config"
	"github.com/kilianp07/ridesync/core/connection"
	"github.com/kilianp07/ridesync/core/logger"
	"github.com/kilianp07/ridesync/infra/transport/mqtt"
	"github.com/kilianp07/ridesync/infra/transport/ws"
)

func init() {
	RegisterTransport(config.TransportWebSocket, func(cfg config.TransportConfig, log logger.Logger) (connection.Transport, error) {
		return ws.New(cfg.WebSocket, log)
	})
	RegisterTransport(config.TransportMQTT, func(cfg config.TransportConfig, log logger.Logger) (connection.Transport, error) {
		return mqtt.New(cfg.MQTT, log)
	})
}
