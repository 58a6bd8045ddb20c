package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/ridesync/core/protocol"
)

var (
	// ErrUnknownEvent is returned for frames the router has no handler for.
	ErrUnknownEvent = errors.New("unknown dispatch event")
	// ErrMalformedEvent is returned when a payload cannot be decoded.
	ErrMalformedEvent = errors.New("malformed dispatch event")
)

type requestRef struct {
	ID            string `json:"id"`
	RideRequestID string `json:"rideRequestId"`
	Reason        string `json:"reason"`
}

func (r requestRef) requestID() string {
	if r.RideRequestID != "" {
		return r.RideRequestID
	}
	return r.ID
}

type bidAccepted struct {
	Message       string `json:"message"`
	RideRequestID string `json:"rideRequestId"`
	RideID        string `json:"rideId"`
	Scheduled     bool   `json:"scheduled"`
}

type ride struct {
	RideID    string     `json:"rideId"`
	ID        string     `json:"id"`
	Reason    string     `json:"reason"`
	Message   string     `json:"message"`
	StartedAt *time.Time `json:"startedAt"`
}

func (r ride) rideID() string {
	if r.RideID != "" {
		return r.RideID
	}
	return r.ID
}

// Decode maps an inbound frame to a typed event. A bid-accepted frame that
// is flagged scheduled or names no request decodes as BidScheduled.
func Decode(f protocol.Frame) (Event, error) {
	switch f.Event {
	case protocol.EventNewRequest:
		var p protocol.RideRequestPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return NewRequest{Snapshot: p.Snapshot()}, nil

	case protocol.EventFareRaised:
		var p protocol.RideRequestPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		ev := FareRaised{RequestID: p.RequestID()}
		ev.Fare, ev.HasFare = p.Fare()
		if p.HasRoute() {
			snap := p.Snapshot()
			ev.Snapshot = &snap
		}
		return ev, nil

	case protocol.EventWithdrawn, protocol.EventAssignedElsewhere:
		var p requestRef
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return Withdrawn{
			RequestID:         p.requestID(),
			AssignedElsewhere: f.Event == protocol.EventAssignedElsewhere,
			Reason:            p.Reason,
		}, nil

	case protocol.EventBidAccepted, protocol.EventBidScheduled:
		var p bidAccepted
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		if f.Event == protocol.EventBidScheduled || p.Scheduled || p.RideRequestID == "" {
			return BidScheduled{RequestID: p.RideRequestID, Message: p.Message}, nil
		}
		return BidAccepted{RequestID: p.RideRequestID, RideID: p.RideID, Message: p.Message}, nil

	case protocol.EventRideStarted:
		var p ride
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		ev := RideStarted{RideID: p.rideID()}
		if p.StartedAt != nil {
			ev.At = *p.StartedAt
		}
		return ev, nil

	case protocol.EventRideCompleted:
		var p ride
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return RideCompleted{RideID: p.rideID()}, nil

	case protocol.EventRideCancelled:
		var p ride
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		reason := p.Reason
		if reason == "" {
			reason = p.Message
		}
		return RideCancelled{RideID: p.rideID(), Reason: reason}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
}

// unmarshal decodes f.Data into v. An absent or null body leaves v zero.
func unmarshal(f protocol.Frame, v any) error {
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, f.Event, err)
	}
	return nil
}
