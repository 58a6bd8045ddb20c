package model

import (
	"fmt"
	"strings"
	"time"
)

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Place is a coordinate with a human readable address.
type Place struct {
	GeoPoint
	Address string `json:"address"`
}

// RideKind classifies a ride request.
type RideKind int

const (
	RideStandard RideKind = iota
	RideHourly
	RideScheduled
)

func (k RideKind) String() string {
	switch k {
	case RideHourly:
		return "hourly"
	case RideScheduled:
		return "scheduled"
	default:
		return "standard"
	}
}

// ParseRideKind maps the wire representation to a RideKind. Unknown values
// are treated as standard rides.
func ParseRideKind(s string) RideKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hourly":
		return RideHourly
	case "scheduled":
		return RideScheduled
	default:
		return RideStandard
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k RideKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RideKind) UnmarshalText(b []byte) error {
	*k = ParseRideKind(string(b))
	return nil
}

// RideRequestSnapshot is an immutable view of a ride request as pushed by the
// dispatch service. A newer snapshot with the same ID supersedes it.
type RideRequestSnapshot struct {
	ID            string     `json:"id"`
	PassengerRef  string     `json:"passenger_ref"`
	Pickup        Place      `json:"pickup"`
	Dropoff       Place      `json:"dropoff"`
	Stops         []GeoPoint `json:"stops,omitempty"`
	EstimatedFare float64    `json:"estimated_fare"`
	Distance      float64    `json:"distance"`
	RequestedAt   time.Time  `json:"requested_at"`
	Kind          RideKind   `json:"ride_kind"`
	PaymentMethod string     `json:"payment_method"`
}

// WithFare returns a copy of the snapshot carrying a new fare. Stops are
// copied so the two snapshots share no backing storage.
func (s RideRequestSnapshot) WithFare(fare float64) RideRequestSnapshot {
	out := s
	out.Stops = append([]GeoPoint(nil), s.Stops...)
	out.EstimatedFare = fare
	return out
}

// Validate reports whether the snapshot can be cached.
func (s RideRequestSnapshot) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("ride request: missing id")
	}
	if s.EstimatedFare < 0 {
		return fmt.Errorf("ride request %s: negative fare %v", s.ID, s.EstimatedFare)
	}
	return nil
}

// ActiveRide is the driver's current assignment as returned by the active
// ride pull.
type ActiveRide struct {
	RideID        string  `json:"ride_id"`
	RequestID     string  `json:"ride_request_id"`
	PassengerID   string  `json:"passenger_id"`
	Status        string  `json:"status"`
	OfferedFare   float64 `json:"offered_fare"`
	Pickup        Place   `json:"pickup"`
	Dropoff       Place   `json:"dropoff"`
	PaymentMethod string  `json:"payment_method"`
}
