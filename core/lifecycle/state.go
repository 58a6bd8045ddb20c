// Package lifecycle models what the driver is doing with respect to ride
// fulfillment. The state is a closed set of variants; components never set
// it directly but submit events to a Machine.
package lifecycle

import "time"

// State is one of Idle, Browsing, Bidding, AwaitingAssignment, Assigned,
// InProgress, Completed or Cancelled.
type State interface {
	Name() string
	isState()
}

type Idle struct{}

type Browsing struct{}

type Bidding struct {
	RequestID   string
	OfferedFare float64
	ExpiresAt   time.Time
}

// AwaitingAssignment means the bid was accepted but the ride id is not
// known yet.
type AwaitingAssignment struct {
	RequestID string
}

type Assigned struct {
	RideID    string
	RequestID string
}

type InProgress struct {
	RideID    string
	StartedAt time.Time
}

type Completed struct {
	RideID string
}

type Cancelled struct {
	RideID string
	Reason string
}

func (Idle) Name() string               { return "idle" }
func (Browsing) Name() string           { return "browsing" }
func (Bidding) Name() string            { return "bidding" }
func (AwaitingAssignment) Name() string { return "awaiting_assignment" }
func (Assigned) Name() string           { return "assigned" }
func (InProgress) Name() string         { return "in_progress" }
func (Completed) Name() string          { return "completed" }
func (Cancelled) Name() string          { return "cancelled" }

func (Idle) isState()               {}
func (Browsing) isState()           {}
func (Bidding) isState()            {}
func (AwaitingAssignment) isState() {}
func (Assigned) isState()           {}
func (InProgress) isState()         {}
func (Completed) isState()          {}
func (Cancelled) isState()          {}

// RequestID returns the ride request the state refers to, if any.
func RequestID(s State) string {
	switch v := s.(type) {
	case Bidding:
		return v.RequestID
	case AwaitingAssignment:
		return v.RequestID
	case Assigned:
		return v.RequestID
	}
	return ""
}

// RideID returns the ride the state refers to, if any.
func RideID(s State) string {
	switch v := s.(type) {
	case Assigned:
		return v.RideID
	case InProgress:
		return v.RideID
	case Completed:
		return v.RideID
	case Cancelled:
		return v.RideID
	}
	return ""
}

// HoldsRide reports whether the driver has a ride assigned or running.
func HoldsRide(s State) bool {
	switch s.(type) {
	case AwaitingAssignment, Assigned, InProgress:
		return true
	}
	return false
}

// BidInFlight reports whether a bid is pending resolution.
func BidInFlight(s State) bool {
	switch s.(type) {
	case Bidding, AwaitingAssignment:
		return true
	}
	return false
}

// View is a flat, serializable projection of a State.
type View struct {
	State       string     `json:"state"`
	RequestID   string     `json:"request_id,omitempty"`
	RideID      string     `json:"ride_id,omitempty"`
	OfferedFare float64    `json:"offered_fare,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// ViewOf projects s into a View.
func ViewOf(s State) View {
	if s == nil {
		s = Idle{}
	}
	v := View{State: s.Name(), RequestID: RequestID(s), RideID: RideID(s)}
	switch st := s.(type) {
	case Bidding:
		v.OfferedFare = st.OfferedFare
		exp := st.ExpiresAt
		v.ExpiresAt = &exp
	case InProgress:
		started := st.StartedAt
		v.StartedAt = &started
	case Cancelled:
		v.Reason = st.Reason
	}
	return v
}
