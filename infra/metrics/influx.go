package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/ridesync/core/metrics"
	"github.com/kilianp07/ridesync/infra/logger"
)

// InfluxSink writes driver-client events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
	driverID string
}

// InfluxConfig configures an InfluxSink.
type InfluxConfig struct {
	URL      string `json:"url"`
	Token    string `json:"token"`
	Org      string `json:"org"`
	Bucket   string `json:"bucket"`
	DriverID string `json:"driver_id"`
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
		driverID: cfg.DriverID,
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	if s.driverID != "" {
		p.AddTag("driver_id", s.driverID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordConnection persists connection status changes and reconnect attempts.
func (s *InfluxSink) RecordConnection(ev coremetrics.ConnectionEvent) error {
	p := write.NewPointWithMeasurement("connection_event").
		AddTag("status", ev.Status).
		AddField("attempt", ev.Attempt).
		AddField("delay_ms", ev.Delay.Milliseconds()).
		SetTime(ev.Time)
	if ev.Error != "" {
		p.AddField("error", ev.Error)
	}
	return s.write(p)
}

// RecordDispatchEvent persists how an inbound event was reconciled.
func (s *InfluxSink) RecordDispatchEvent(ev coremetrics.DispatchEvent) error {
	p := write.NewPointWithMeasurement("dispatch_event").
		AddTag("kind", ev.Kind).
		AddTag("applied", strconv.FormatBool(ev.Applied())).
		AddField("request_id", ev.RequestID).
		SetTime(ev.Time)
	if ev.DropReason != "" {
		p.AddField("drop_reason", ev.DropReason)
	}
	return s.write(p)
}

// RecordBid persists a bid outcome.
func (s *InfluxSink) RecordBid(ev coremetrics.BidEvent) error {
	p := write.NewPointWithMeasurement("bid").
		AddTag("outcome", ev.Outcome).
		AddField("request_id", ev.RequestID).
		AddField("fare", round3(ev.Fare)).
		AddField("latency_ms", ev.Latency.Milliseconds()).
		SetTime(ev.Time)
	if ev.Reason != "" {
		p.AddField("reason", ev.Reason)
	}
	return s.write(p)
}

// RecordLocation persists an accepted position sample.
func (s *InfluxSink) RecordLocation(ev coremetrics.LocationEvent) error {
	p := write.NewPointWithMeasurement("driver_position").
		AddTag("mode", ev.Mode).
		AddTag("pushed", strconv.FormatBool(ev.Pushed)).
		AddField("lat", ev.Latitude).
		AddField("lng", ev.Longitude).
		AddField("acknowledged", ev.Acknowledged).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordTransition persists a lifecycle transition.
func (s *InfluxSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	p := write.NewPointWithMeasurement("lifecycle_transition").
		AddTag("from", ev.From).
		AddTag("to", ev.To).
		AddField("cause", ev.Cause).
		SetTime(ev.Time)
	return s.write(p)
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
