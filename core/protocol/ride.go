package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/ridesync/core/model"
)

// Number accepts JSON numbers, numeric strings and null.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("number %q: %w", s, err)
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// LatLng is the server's coordinate shape.
type LatLng struct {
	Lat Number `json:"lat"`
	Lng Number `json:"lng"`
}

func (p *LatLng) point() model.GeoPoint {
	if p == nil {
		return model.GeoPoint{}
	}
	return model.GeoPoint{Latitude: float64(p.Lat), Longitude: float64(p.Lng)}
}

// Locations groups pickup and dropoff as some endpoints nest them.
type Locations struct {
	Pickup          *LatLng `json:"pickup"`
	Dropoff         *LatLng `json:"dropoff"`
	PickupLocation  string  `json:"pickup_location"`
	DropoffLocation string  `json:"dropoff_location"`
}

// Stop is an intermediate stop.
type Stop struct {
	Lat             *Number `json:"lat"`
	Lng             *Number `json:"lng"`
	Dropoff         *LatLng `json:"dropoff"`
	Address         string  `json:"address"`
	DropoffLocation string  `json:"dropoff_location"`
}

// RideRequestPayload is a ride request as pushed on the socket and returned
// by the nearby-requests endpoint.
type RideRequestPayload struct {
	ID                string     `json:"id"`
	RideRequestID     string     `json:"rideRequestId"`
	PassengerID       string     `json:"passenger_id"`
	Locations         *Locations `json:"locations"`
	Pickup            *LatLng    `json:"pickup"`
	Dropoff           *LatLng    `json:"dropoff"`
	PickupLocation    string     `json:"pickup_location"`
	DropoffLocation   string     `json:"dropoff_location"`
	Stops             []Stop     `json:"stops"`
	OfferedFair       *Number    `json:"offered_fair"`
	OfferedFairCamel  *Number    `json:"offeredFair"`
	Distance          *Number    `json:"distance"`
	EstimatedDistance *Number    `json:"estimated_distance"`
	IsScheduled       bool       `json:"is_scheduled"`
	IsHourly          bool       `json:"is_hourly"`
	ScheduledAt       *time.Time `json:"scheduled_at"`
	CreatedAt         *time.Time `json:"createdAt"`
	PaymentVia        string     `json:"payment_via"`
}

// RequestID returns the request id from whichever field carries it.
func (p RideRequestPayload) RequestID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.RideRequestID
}

// Fare returns the offered fare and whether the payload carried one.
func (p RideRequestPayload) Fare() (float64, bool) {
	switch {
	case p.OfferedFair != nil:
		return float64(*p.OfferedFair), true
	case p.OfferedFairCamel != nil:
		return float64(*p.OfferedFairCamel), true
	}
	return 0, false
}

// HasRoute reports whether the payload carries pickup coordinates, i.e. is
// a full snapshot rather than a fare-only update.
func (p RideRequestPayload) HasRoute() bool {
	return p.Pickup != nil || (p.Locations != nil && p.Locations.Pickup != nil)
}

// Snapshot converts the payload to the domain snapshot.
func (p RideRequestPayload) Snapshot() model.RideRequestSnapshot {
	s := model.RideRequestSnapshot{
		ID:            p.RequestID(),
		PassengerRef:  p.PassengerID,
		PaymentMethod: "cash",
	}
	if p.PaymentVia != "" {
		s.PaymentMethod = strings.ToLower(p.PaymentVia)
	}

	pickup, dropoff := p.Pickup, p.Dropoff
	pickupAddr, dropoffAddr := p.PickupLocation, p.DropoffLocation
	if l := p.Locations; l != nil {
		if l.Pickup != nil {
			pickup = l.Pickup
		}
		if l.Dropoff != nil {
			dropoff = l.Dropoff
		}
		if l.PickupLocation != "" {
			pickupAddr = l.PickupLocation
		}
		if l.DropoffLocation != "" {
			dropoffAddr = l.DropoffLocation
		}
	}
	s.Pickup = model.Place{GeoPoint: pickup.point(), Address: pickupAddr}
	s.Dropoff = model.Place{GeoPoint: dropoff.point(), Address: dropoffAddr}

	for _, st := range p.Stops {
		var pt model.GeoPoint
		switch {
		case st.Lat != nil && st.Lng != nil:
			pt = model.GeoPoint{Latitude: float64(*st.Lat), Longitude: float64(*st.Lng)}
		case st.Dropoff != nil:
			pt = st.Dropoff.point()
		}
		s.Stops = append(s.Stops, pt)
	}

	s.EstimatedFare, _ = p.Fare()
	switch {
	case p.Distance != nil:
		s.Distance = float64(*p.Distance)
	case p.EstimatedDistance != nil:
		s.Distance = float64(*p.EstimatedDistance)
	}

	switch {
	case p.IsHourly:
		s.Kind = model.RideHourly
	case p.IsScheduled:
		s.Kind = model.RideScheduled
	}
	if p.IsScheduled && p.ScheduledAt != nil {
		s.RequestedAt = *p.ScheduledAt
	} else if p.CreatedAt != nil {
		s.RequestedAt = *p.CreatedAt
	}
	return s
}

// PassengerUser is the passenger block of an active ride.
type PassengerUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ActiveRidePayload is the body of the active ride pull.
type ActiveRidePayload struct {
	ID               string         `json:"id"`
	RideRequestID    string         `json:"ride_request_id"`
	RideRequestIDAlt string         `json:"rideRequestId"`
	Status           string         `json:"status"`
	PassengerUser    *PassengerUser `json:"passengerUser"`
	PassengerID      string         `json:"passenger_id"`
	OfferedFair      *Number        `json:"offered_fair"`
	Locations        *Locations     `json:"locations"`
	PickupLocation   string         `json:"pickup_location"`
	DropoffLocation  string         `json:"dropoff_location"`
	PaymentVia       string         `json:"payment_via"`
}

// ActiveRide converts the payload to the domain type.
func (p ActiveRidePayload) ActiveRide() model.ActiveRide {
	r := model.ActiveRide{
		RideID:        p.ID,
		RequestID:     p.RideRequestID,
		PassengerID:   p.PassengerID,
		Status:        strings.ToLower(p.Status),
		PaymentMethod: strings.ToLower(p.PaymentVia),
	}
	if r.RequestID == "" {
		r.RequestID = p.RideRequestIDAlt
	}
	if p.PassengerUser != nil && p.PassengerUser.ID != "" {
		r.PassengerID = p.PassengerUser.ID
	}
	if p.OfferedFair != nil {
		r.OfferedFare = float64(*p.OfferedFair)
	}
	r.Pickup.Address, r.Dropoff.Address = p.PickupLocation, p.DropoffLocation
	if l := p.Locations; l != nil {
		r.Pickup.GeoPoint = l.Pickup.point()
		r.Dropoff.GeoPoint = l.Dropoff.point()
		if l.PickupLocation != "" {
			r.Pickup.Address = l.PickupLocation
		}
		if l.DropoffLocation != "" {
			r.Dropoff.Address = l.DropoffLocation
		}
	}
	return r
}
