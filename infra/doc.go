// Package infra contains technical adapters such as the WebSocket and MQTT
// transports, the REST client, position sources and metrics exporters.
// These packages should depend only on the interfaces defined in the core
// packages.
package infra
