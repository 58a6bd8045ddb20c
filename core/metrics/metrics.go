package metrics

import "time"

// ConnectionEvent records a connection state change or a reconnect attempt.
type ConnectionEvent struct {
	Status  string
	Attempt int
	Delay   time.Duration
	Error   string
	Time    time.Time
}

// ConnectionRecorder records connection lifecycle events.
type ConnectionRecorder interface {
	RecordConnection(ev ConnectionEvent) error
}

// DispatchEvent records how an inbound server event was reconciled.
// DropReason is empty when the event was applied.
type DispatchEvent struct {
	Kind       string
	RequestID  string
	DropReason string
	Time       time.Time
}

// Applied reports whether the event changed local state.
func (e DispatchEvent) Applied() bool { return e.DropReason == "" }

// DispatchEventRecorder records reconciled server events.
type DispatchEventRecorder interface {
	RecordDispatchEvent(ev DispatchEvent) error
}

// BidEvent captures the terminal outcome of a bid.
type BidEvent struct {
	RequestID string
	Fare      float64
	Outcome   string
	Reason    string
	Latency   time.Duration
	Time      time.Time
}

// BidRecorder records bid outcomes.
type BidRecorder interface {
	RecordBid(ev BidEvent) error
}

// LocationEvent captures one accepted position sample.
type LocationEvent struct {
	Latitude     float64
	Longitude    float64
	Mode         string
	Pushed       bool
	Acknowledged bool
	Time         time.Time
}

// LocationRecorder records location samples.
type LocationRecorder interface {
	RecordLocation(ev LocationEvent) error
}

// TransitionEvent records a lifecycle state change.
type TransitionEvent struct {
	From  string
	To    string
	Cause string
	Time  time.Time
}

// TransitionRecorder records lifecycle transitions.
type TransitionRecorder interface {
	RecordTransition(ev TransitionEvent) error
}

// MetricsSink is implemented by every sink.
type MetricsSink interface {
	ConnectionRecorder
	DispatchEventRecorder
	BidRecorder
	LocationRecorder
	TransitionRecorder
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordConnection(ConnectionEvent) error  { return nil }
func (NopSink) RecordDispatchEvent(DispatchEvent) error { return nil }
func (NopSink) RecordBid(BidEvent) error                { return nil }
func (NopSink) RecordLocation(LocationEvent) error      { return nil }
func (NopSink) RecordTransition(TransitionEvent) error  { return nil }
