package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTransition is returned for local commands the current state
	// does not allow.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrBidAlreadyInFlight is returned when bidding while a bid is pending.
	ErrBidAlreadyInFlight = errors.New("bid already in flight")
	// ErrInsufficientFunds is returned when the wallet cannot cover the ride.
	// The machine stays in Browsing.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrStaleEvent marks a server event that no longer matches local state.
	// Callers drop such events.
	ErrStaleEvent = errors.New("stale lifecycle event")
)

// Next computes the state following s on ev. It never mutates anything. A
// duplicate of an already applied event returns s and a nil error.
func Next(s State, ev Event, now time.Time) (State, error) {
	if s == nil {
		s = Idle{}
	}
	switch e := ev.(type) {
	case GoOnline:
		switch s.(type) {
		case Idle:
			return Browsing{}, nil
		case Browsing:
			return s, nil
		}
		return s, invalid(s, ev)

	case GoOffline:
		return Idle{}, nil

	case BidStarted:
		switch s.(type) {
		case Browsing:
			return Bidding{RequestID: e.RequestID, OfferedFare: e.Fare, ExpiresAt: e.ExpiresAt}, nil
		case Bidding, AwaitingAssignment:
			return s, ErrBidAlreadyInFlight
		}
		return s, invalid(s, ev)

	case BidLost:
		return settleBid(s, ev, e.RequestID)
	case BidExpired:
		return settleBid(s, ev, e.RequestID)
	case BidAborted:
		return settleBid(s, ev, e.RequestID)
	case BidDeferred:
		return settleBid(s, ev, e.RequestID)

	case BidAccepted:
		switch cur := s.(type) {
		case Bidding:
			if cur.RequestID == e.RequestID {
				if e.RideID != "" {
					return Assigned{RideID: e.RideID, RequestID: e.RequestID}, nil
				}
				return AwaitingAssignment{RequestID: e.RequestID}, nil
			}
		case AwaitingAssignment:
			if cur.RequestID == e.RequestID {
				if e.RideID != "" {
					return Assigned{RideID: e.RideID, RequestID: e.RequestID}, nil
				}
				return s, nil
			}
		case Assigned:
			if cur.RequestID == e.RequestID {
				return s, nil
			}
		}
		return s, stale(s, ev)

	case AssignmentResolved:
		switch cur := s.(type) {
		case AwaitingAssignment:
			if cur.RequestID == e.RequestID && e.RideID != "" {
				return Assigned{RideID: e.RideID, RequestID: e.RequestID}, nil
			}
		case Assigned:
			if cur.RideID == e.RideID {
				return s, nil
			}
		}
		return s, stale(s, ev)

	case RideStarted:
		switch cur := s.(type) {
		case Assigned:
			if matches(cur.RideID, e.RideID) {
				at := e.At
				if at.IsZero() {
					at = now
				}
				return InProgress{RideID: cur.RideID, StartedAt: at}, nil
			}
		case InProgress:
			if matches(cur.RideID, e.RideID) {
				return s, nil
			}
		}
		return s, stale(s, ev)

	case RideCompleted:
		switch cur := s.(type) {
		case InProgress:
			if matches(cur.RideID, e.RideID) {
				return Completed{RideID: cur.RideID}, nil
			}
		case Completed:
			if matches(cur.RideID, e.RideID) {
				return s, nil
			}
		}
		return s, stale(s, ev)

	case RideCancelled:
		switch cur := s.(type) {
		case AwaitingAssignment, Assigned, InProgress:
			held := RideID(cur)
			if held != "" && e.RideID != "" && held != e.RideID {
				return s, stale(s, ev)
			}
			if held == "" {
				held = e.RideID
			}
			return Cancelled{RideID: held, Reason: e.Reason}, nil
		case Cancelled:
			if matches(cur.RideID, e.RideID) {
				return s, nil
			}
			return s, stale(s, ev)
		case Completed:
			return s, stale(s, ev)
		}
		return Idle{}, nil

	case Acknowledge:
		switch s.(type) {
		case Completed, Cancelled:
			return Idle{}, nil
		case Idle:
			return s, nil
		}
		return s, invalid(s, ev)
	}
	return s, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
}

func settleBid(s State, ev Event, requestID string) (State, error) {
	if b, ok := s.(Bidding); ok && b.RequestID == requestID {
		return Browsing{}, nil
	}
	return s, stale(s, ev)
}

// matches treats an empty event id as referring to the current ride.
func matches(held, got string) bool {
	return got == "" || held == got
}

func invalid(s State, ev Event) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev.EventName(), s.Name())
}

func stale(s State, ev Event) error {
	return fmt.Errorf("%w: %s in state %s", ErrStaleEvent, ev.EventName(), s.Name())
}
