package dispatch

import (
	"github.com/kilianp07/ridesync/core/lifecycle"
	"github.com/kilianp07/ridesync/core/model"
	"github.com/kilianp07/ridesync/core/rideset"
)

// Drop reasons reported for discarded events.
const (
	DropMissingID = "missing request id"
	DropDuplicate = "duplicate"
	DropRemoved   = "request already removed"
	DropUnknown   = "unknown request"
	DropNoFare    = "no fare"
	DropStale     = "stale for lifecycle state"
)

// View is the read side of the ActiveRideSet the reducer needs.
type View interface {
	Contains(id string) bool
	Removed(id string) bool
	Get(id string) (model.RideRequestSnapshot, bool)
}

// ResolutionKind is how a server event settles the pending bid.
type ResolutionKind int

const (
	// ResolvedAccepted carries the assigned ride id.
	ResolvedAccepted ResolutionKind = iota
	// ResolvedAwaiting means accepted with the ride id still unknown.
	ResolvedAwaiting
	// ResolvedScheduled means accepted as a scheduled ride; nothing is
	// assigned now.
	ResolvedScheduled
	// ResolvedLost means the request went elsewhere, was withdrawn or was
	// cancelled.
	ResolvedLost
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolvedAccepted:
		return "accepted"
	case ResolvedAwaiting:
		return "awaiting"
	case ResolvedScheduled:
		return "scheduled"
	case ResolvedLost:
		return "lost"
	}
	return "unknown"
}

// Resolution settles the bid on RequestID.
type Resolution struct {
	RequestID string
	Kind      ResolutionKind
	RideID    string
	Reason    string
}

// NoticeKind classifies user-facing notices.
type NoticeKind string

const (
	// NoticeInterrupt is a blocking alert, e.g. ride cancelled.
	NoticeInterrupt NoticeKind = "interrupt"
	// NoticeScheduled tells the driver a bid was accepted for later.
	NoticeScheduled NoticeKind = "scheduled"
	// NoticeNavigate asks the UI to switch screens; Target names it.
	NoticeNavigate NoticeKind = "navigate"
)

// Navigation targets.
const (
	TargetTripDetail = "trip-detail"
	TargetRequests   = "requests"
)

// Notice is a non-blocking signal to the UI layer.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	RequestID string     `json:"request_id,omitempty"`
	RideID    string     `json:"ride_id,omitempty"`
	Target    string     `json:"target,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// Delta is the effect of one event. A non-empty Drop means nothing else
// applies.
type Delta struct {
	Change     rideset.Change
	Lifecycle  lifecycle.Event
	Resolution *Resolution
	Notices    []Notice
	Drop       string
}

// Dropped reports whether the event was discarded.
func (d Delta) Dropped() bool { return d.Drop != "" }

func drop(reason string) Delta { return Delta{Drop: reason} }

// Reduce computes the effect of ev given the cached requests and the current
// lifecycle state. It has no side effects.
func Reduce(view View, state lifecycle.State, ev Event) Delta {
	if state == nil {
		state = lifecycle.Idle{}
	}
	switch e := ev.(type) {
	case NewRequest:
		id := e.Snapshot.ID
		switch {
		case id == "":
			return drop(DropMissingID)
		case view.Contains(id):
			return drop(DropDuplicate)
		case view.Removed(id):
			return drop(DropRemoved)
		}
		return Delta{Change: rideset.Change{Op: rideset.OpInsert, ID: id, Snapshot: e.Snapshot}}

	case FareRaised:
		if e.RequestID == "" {
			return drop(DropMissingID)
		}
		cur, ok := view.Get(e.RequestID)
		if !ok {
			return drop(DropUnknown)
		}
		var next model.RideRequestSnapshot
		switch {
		case e.Snapshot != nil:
			next = *e.Snapshot
			next.ID = e.RequestID
		case e.HasFare:
			next = cur.WithFare(e.Fare)
		default:
			return drop(DropNoFare)
		}
		return Delta{Change: rideset.Change{Op: rideset.OpReplace, ID: e.RequestID, Snapshot: next}}

	case Withdrawn:
		if e.RequestID == "" {
			return drop(DropMissingID)
		}
		// Removal also tombstones an id never seen, so a late new-request
		// for it is refused.
		d := Delta{Change: rideset.Change{Op: rideset.OpRemove, ID: e.RequestID}}
		if b, ok := state.(lifecycle.Bidding); ok && b.RequestID == e.RequestID {
			reason := lostReason(e)
			d.Lifecycle = lifecycle.BidLost{RequestID: e.RequestID, Reason: reason}
			d.Resolution = &Resolution{RequestID: e.RequestID, Kind: ResolvedLost, Reason: reason}
		}
		return d

	case BidAccepted:
		switch s := state.(type) {
		case lifecycle.Bidding, lifecycle.AwaitingAssignment:
			if lifecycle.RequestID(s) != e.RequestID {
				return drop(DropStale)
			}
			if _, awaiting := s.(lifecycle.AwaitingAssignment); awaiting && e.RideID == "" {
				return drop(DropDuplicate)
			}
			res := &Resolution{RequestID: e.RequestID, Kind: ResolvedAccepted, RideID: e.RideID}
			if e.RideID == "" {
				res.Kind = ResolvedAwaiting
			}
			return Delta{
				Change:     rideset.Change{Op: rideset.OpRemove, ID: e.RequestID},
				Lifecycle:  lifecycle.BidAccepted{RequestID: e.RequestID, RideID: e.RideID},
				Resolution: res,
			}
		case lifecycle.Assigned:
			if s.RequestID == e.RequestID {
				return drop(DropDuplicate)
			}
		}
		return drop(DropStale)

	case BidScheduled:
		d := Delta{Notices: []Notice{{Kind: NoticeScheduled, RequestID: e.RequestID, Message: e.Message}}}
		if b, ok := state.(lifecycle.Bidding); ok && e.RequestID != "" && b.RequestID == e.RequestID {
			d.Change = rideset.Change{Op: rideset.OpRemove, ID: e.RequestID}
			d.Lifecycle = lifecycle.BidDeferred{RequestID: e.RequestID}
			d.Resolution = &Resolution{RequestID: e.RequestID, Kind: ResolvedScheduled}
		}
		return d

	case RideStarted:
		switch s := state.(type) {
		case lifecycle.Assigned:
			if matchesRide(s.RideID, e.RideID) {
				return Delta{Lifecycle: lifecycle.RideStarted{RideID: e.RideID, At: e.At}}
			}
		case lifecycle.InProgress:
			if matchesRide(s.RideID, e.RideID) {
				return drop(DropDuplicate)
			}
		}
		return drop(DropStale)

	case RideCompleted:
		switch s := state.(type) {
		case lifecycle.InProgress, lifecycle.Completed:
			if matchesRide(lifecycle.RideID(s), e.RideID) {
				return Delta{Lifecycle: lifecycle.RideCompleted{RideID: e.RideID}}
			}
		}
		return drop(DropStale)

	case RideCancelled:
		switch s := state.(type) {
		case lifecycle.Completed:
			return drop(DropStale)
		case lifecycle.Cancelled:
			if matchesRide(s.RideID, e.RideID) {
				return drop(DropDuplicate)
			}
			return drop(DropStale)
		}
		held := lifecycle.RideID(state)
		if held != "" && e.RideID != "" && held != e.RideID {
			return drop(DropStale)
		}
		rideID := e.RideID
		if rideID == "" {
			rideID = held
		}
		d := Delta{
			Lifecycle: lifecycle.RideCancelled{RideID: e.RideID, Reason: e.Reason},
			Notices:   []Notice{{Kind: NoticeInterrupt, RideID: rideID, Message: cancelMessage(e.Reason)}},
		}
		if lifecycle.BidInFlight(state) {
			id := lifecycle.RequestID(state)
			d.Resolution = &Resolution{RequestID: id, Kind: ResolvedLost, Reason: "cancelled"}
			d.Notices[0].RequestID = id
		}
		return d
	}
	return drop(DropStale)
}

func lostReason(e Withdrawn) string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.AssignedElsewhere {
		return "assigned elsewhere"
	}
	return "withdrawn"
}

func cancelMessage(reason string) string {
	if reason == "" {
		return "Ride has been cancelled"
	}
	return "Ride has been cancelled: " + reason
}

// matchesRide treats an empty event id as the current ride.
func matchesRide(held, got string) bool {
	return got == "" || held == got
}
