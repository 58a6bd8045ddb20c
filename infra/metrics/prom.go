package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/ridesync/core/metrics"
)

// PromSink records driver-client events in Prometheus metrics.
type PromSink struct {
	connState   *prometheus.GaugeVec
	reconnects  prometheus.Counter
	events      *prometheus.CounterVec
	bids        *prometheus.CounterVec
	bidLatency  prometheus.Histogram
	locations   *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewPromSink registers metrics on the default Prometheus registerer.
// The endpoint is served separately, see StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ridesync_connection_state",
			Help: "1 for the current connection status, 0 otherwise",
		}, []string{"status"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ridesync_reconnect_attempts_total",
			Help: "Reconnect attempts after unexpected drops",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ridesync_dispatch_events_total",
			Help: "Inbound dispatch events by kind and outcome",
		}, []string{"kind", "applied", "reason"}),
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ridesync_bids_total",
			Help: "Bids by terminal outcome",
		}, []string{"outcome"}),
		bidLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ridesync_bid_latency_seconds",
			Help:    "Time between placing a bid and its outcome",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}),
		locations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ridesync_location_samples_total",
			Help: "Accepted position samples by mode and delivery",
		}, []string{"mode", "pushed", "acknowledged"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ridesync_lifecycle_transitions_total",
			Help: "Ride lifecycle transitions",
		}, []string{"from", "to"}),
	}

	var err error
	if s.connState, err = register(reg, s.connState); err != nil {
		return nil, err
	}
	if s.reconnects, err = register(reg, s.reconnects); err != nil {
		return nil, err
	}
	if s.events, err = register(reg, s.events); err != nil {
		return nil, err
	}
	if s.bids, err = register(reg, s.bids); err != nil {
		return nil, err
	}
	if s.bidLatency, err = register(reg, s.bidLatency); err != nil {
		return nil, err
	}
	if s.locations, err = register(reg, s.locations); err != nil {
		return nil, err
	}
	if s.transitions, err = register(reg, s.transitions); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, reusing an already registered collector.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

var connStatuses = []string{"disconnected", "connecting", "connected"}

// RecordConnection sets the status gauge and counts reconnect attempts.
func (s *PromSink) RecordConnection(ev coremetrics.ConnectionEvent) error {
	for _, st := range connStatuses {
		v := 0.0
		if st == ev.Status {
			v = 1
		}
		s.connState.WithLabelValues(st).Set(v)
	}
	if ev.Attempt > 0 {
		s.reconnects.Inc()
	}
	return nil
}

// RecordDispatchEvent counts an inbound event.
func (s *PromSink) RecordDispatchEvent(ev coremetrics.DispatchEvent) error {
	s.events.WithLabelValues(ev.Kind, strconv.FormatBool(ev.Applied()), ev.DropReason).Inc()
	return nil
}

// RecordBid counts the outcome and observes the latency.
func (s *PromSink) RecordBid(ev coremetrics.BidEvent) error {
	s.bids.WithLabelValues(ev.Outcome).Inc()
	if ev.Latency > 0 {
		s.bidLatency.Observe(ev.Latency.Seconds())
	}
	return nil
}

// RecordLocation counts an accepted sample.
func (s *PromSink) RecordLocation(ev coremetrics.LocationEvent) error {
	s.locations.WithLabelValues(ev.Mode, strconv.FormatBool(ev.Pushed), strconv.FormatBool(ev.Acknowledged)).Inc()
	return nil
}

// RecordTransition counts a lifecycle transition.
func (s *PromSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	s.transitions.WithLabelValues(ev.From, ev.To).Inc()
	return nil
}
