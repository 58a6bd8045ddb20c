package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `identity:
  access_token: "tok"
  driver_id: "d1"
connection:
  connect_timeout: 5s
  backoff_base: 1s
  backoff_max: 8s
transport:
  type: mqtt
  mqtt:
    broker: "tcp://localhost:1883"
    qos:
      inbound: 1
      outbound: 0
api:
  base_url: "https://api.example.com"
  zone_id: "z1"
bid:
  timeout: 12s
  rider_id: "rider-7"
location:
  reporter:
    trip:
      min_distance_m: 4
  source:
    type: static
    conf:
      latitude: 33.7
      longitude: 72.8
metrics:
  sinks:
    - type: "nop"
logging:
  level: debug
journal:
  path: "events.jsonl"
  max_size_mb: 5
status:
  enabled: true
  address: "127.0.0.1:9999"
`

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", sample))
	require.NoError(t, err)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"driver_id", cfg.Identity.DriverID, "d1"},
		{"connect_timeout", cfg.Connection.ConnectTimeout, 5 * time.Second},
		{"backoff_max", cfg.Connection.BackoffMax, 8 * time.Second},
		{"ack_timeout default", cfg.Connection.AckTimeout, 5 * time.Second},
		{"transport", cfg.Transport.Type, TransportMQTT},
		{"broker", cfg.Transport.MQTT.Broker, "tcp://localhost:1883"},
		{"inbound topic default", cfg.Transport.MQTT.InboundTopic, "ridesync/driver/{id}/in"},
		{"qos", cfg.Transport.MQTT.QoS["outbound"], byte(0)},
		{"zone", cfg.API.ZoneID, "z1"},
		{"bid timeout", cfg.Bid.Timeout, 12 * time.Second},
		{"rider id shared", cfg.Location.Reporter.RiderID, "rider-7"},
		{"trip distance", cfg.Location.Reporter.Trip.MinDistance, 4.0},
		{"foreground default", cfg.Location.Reporter.Foreground.MinInterval, 10 * time.Second},
		{"source", cfg.Location.Source.Conf["latitude"], 33.7},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"level", cfg.Logging.Level, "debug"},
		{"journal", cfg.Journal.MaxSizeMB, 5},
		{"status", cfg.Status.Address, "127.0.0.1:9999"},
	}
	for _, c := range checks {
		assert.Equal(t, c.want, c.got, c.name)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RIDESYNC_TRANSPORT__TYPE", "websocket")
	t.Setenv("RIDESYNC_TRANSPORT__WEBSOCKET__URL", "wss://dispatch.example.com/socket")
	t.Setenv("RIDESYNC_BID__TIMEOUT", "3s")

	cfg, err := Load(writeConfig(t, "config.yaml", sample))
	require.NoError(t, err)
	assert.Equal(t, TransportWebSocket, cfg.Transport.Type)
	assert.Equal(t, "wss://dispatch.example.com/socket", cfg.Transport.WebSocket.URL)
	assert.Equal(t, 3*time.Second, cfg.Bid.Timeout)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("RIDESYNC_IDENTITY__ACCESS_TOKEN", "tok")
	t.Setenv("RIDESYNC_TRANSPORT__WEBSOCKET__URL", "ws://localhost:3000/socket")
	t.Setenv("RIDESYNC_API__BASE_URL", "http://localhost:3000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, TransportWebSocket, cfg.Transport.Type)
	assert.Equal(t, "static", cfg.Location.Source.Type)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Status.Enabled)
}

func TestLoadJSON(t *testing.T) {
	data := `{"identity":{"access_token":"t"},"transport":{"websocket":{"url":"ws://h/s"}},"api":{"base_url":"http://h"}}`
	cfg, err := Load(writeConfig(t, "config.json", data))
	require.NoError(t, err)
	assert.Equal(t, "ws://h/s", cfg.Transport.WebSocket.URL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no credentials":   `{"transport":{"websocket":{"url":"ws://h/s"}},"api":{"base_url":"http://h"}}`,
		"bad transport":    `{"identity":{"access_token":"t"},"transport":{"type":"carrier-pigeon"},"api":{"base_url":"http://h"}}`,
		"bad backoff":      `{"identity":{"access_token":"t"},"connection":{"backoff_base":"10s","backoff_max":"1s"},"transport":{"websocket":{"url":"ws://h/s"}},"api":{"base_url":"http://h"}}`,
		"bad level":        `{"identity":{"access_token":"t"},"transport":{"websocket":{"url":"ws://h/s"}},"api":{"base_url":"http://h"},"logging":{"level":"loud"}}`,
		"bad source":       `{"identity":{"access_token":"t"},"transport":{"websocket":{"url":"ws://h/s"}},"api":{"base_url":"http://h"},"location":{"source":{"type":"gps"}}}`,
		"bad status addr":  `{"identity":{"access_token":"t"},"transport":{"websocket":{"url":"ws://h/s"}},"api":{"base_url":"http://h"},"status":{"enabled":true,"address":"nope"}}`,
		"missing api base": `{"identity":{"access_token":"t"},"transport":{"websocket":{"url":"ws://h/s"}}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.json", data))
			assert.Error(t, err)
		})
	}

	_, err := Load(writeConfig(t, "config.toml", ""))
	assert.ErrorContains(t, err, "unsupported")
}
