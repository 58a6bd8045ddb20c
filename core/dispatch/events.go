package dispatch

import (
	"time"

	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/core/protocol"
)

// Event is a decoded inbound server event.
type Event interface {
	Kind() string
}

// NewRequest offers a ride request to the driver.
type NewRequest struct {
	Snapshot model.RideRequestSnapshot
}

// FareRaised supersedes the fare of a cached request. Snapshot is set when
// the payload carried the full request.
type FareRaised struct {
	RequestID string
	Fare      float64
	HasFare   bool
	Snapshot  *model.RideRequestSnapshot
}

// Withdrawn removes a request: the passenger withdrew it, or another driver
// got it when AssignedElsewhere is set.
type Withdrawn struct {
	RequestID         string
	AssignedElsewhere bool
	Reason            string
}

// BidAccepted reports that this driver's bid won. RideID may be empty.
type BidAccepted struct {
	RequestID string
	RideID    string
	Message   string
}

// BidScheduled reports a bid accepted for a scheduled ride. RequestID may be
// empty when the service omitted it.
type BidScheduled struct {
	RequestID string
	Message   string
}

// RideStarted reports that the assigned ride started.
type RideStarted struct {
	RideID string
	At     time.Time
}

// RideCompleted reports that the running ride ended.
type RideCompleted struct {
	RideID string
}

// RideCancelled reports that the ride or request was cancelled.
type RideCancelled struct {
	RideID string
	Reason string
}

func (NewRequest) Kind() string    { return protocol.EventNewRequest }
func (FareRaised) Kind() string    { return protocol.EventFareRaised }
func (BidAccepted) Kind() string   { return protocol.EventBidAccepted }
func (BidScheduled) Kind() string  { return protocol.EventBidScheduled }
func (RideStarted) Kind() string   { return protocol.EventRideStarted }
func (RideCompleted) Kind() string { return protocol.EventRideCompleted }
func (RideCancelled) Kind() string { return protocol.EventRideCancelled }

func (e Withdrawn) Kind() string {
	if e.AssignedElsewhere {
		return protocol.EventAssignedElsewhere
	}
	return protocol.EventWithdrawn
}

// requestIDOf returns the request or ride id an event refers to, for logs
// and metrics.
func requestIDOf(ev Event) string {
	switch e := ev.(type) {
	case NewRequest:
		return e.Snapshot.ID
	case FareRaised:
		return e.RequestID
	case Withdrawn:
		return e.RequestID
	case BidAccepted:
		return e.RequestID
	case BidScheduled:
		return e.RequestID
	case RideStarted:
		return e.RideID
	case RideCompleted:
		return e.RideID
	case RideCancelled:
		return e.RideID
	}
	return ""
}
