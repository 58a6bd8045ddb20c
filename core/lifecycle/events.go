package lifecycle

import "time"

// Event is submitted to a Machine to request a transition.
type Event interface {
	EventName() string
}

// GoOnline starts browsing requests.
type GoOnline struct{}

// GoOffline resets the machine to Idle from any state.
type GoOffline struct{}

// BidStarted moves Browsing to Bidding. The funds check must have passed.
type BidStarted struct {
	RequestID string
	Fare      float64
	ExpiresAt time.Time
}

// BidLost settles a bid that went to another driver or whose request was
// withdrawn.
type BidLost struct {
	RequestID string
	Reason    string
}

// BidExpired settles a bid that saw no answer before its deadline.
type BidExpired struct {
	RequestID string
}

// BidAborted settles a bid whose message could not be sent.
type BidAborted struct {
	RequestID string
}

// BidDeferred settles a bid the service accepted as a scheduled ride. The
// ride is not assigned now.
type BidDeferred struct {
	RequestID string
}

// BidAccepted reports that the dispatch service took this driver's bid.
// RideID is empty when the payload did not carry it.
type BidAccepted struct {
	RequestID string
	RideID    string
}

// AssignmentResolved supplies the ride id learned from the active ride pull.
type AssignmentResolved struct {
	RequestID string
	RideID    string
}

// RideStarted moves Assigned to InProgress. An empty RideID matches the
// assigned ride.
type RideStarted struct {
	RideID string
	At     time.Time
}

// RideCompleted moves InProgress to Completed.
type RideCompleted struct {
	RideID string
}

// RideCancelled ends the current ride or bid.
type RideCancelled struct {
	RideID string
	Reason string
}

// Acknowledge returns Completed or Cancelled to Idle.
type Acknowledge struct{}

func (GoOnline) EventName() string           { return "go_online" }
func (GoOffline) EventName() string          { return "go_offline" }
func (BidStarted) EventName() string         { return "bid_started" }
func (BidLost) EventName() string            { return "bid_lost" }
func (BidExpired) EventName() string         { return "bid_expired" }
func (BidAborted) EventName() string         { return "bid_aborted" }
func (BidDeferred) EventName() string        { return "bid_deferred" }
func (BidAccepted) EventName() string        { return "bid_accepted" }
func (AssignmentResolved) EventName() string { return "assignment_resolved" }
func (RideStarted) EventName() string        { return "ride_started" }
func (RideCompleted) EventName() string      { return "ride_completed" }
func (RideCancelled) EventName() string      { return "ride_cancelled" }
func (Acknowledge) EventName() string        { return "acknowledge" }
