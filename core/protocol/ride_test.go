package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/ridesync/core/model"
)

func TestNumberAcceptsStringsAndNull(t *testing.T) {
	var v struct {
		A Number  `json:"a"`
		B Number  `json:"b"`
		C *Number `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"25.50","b":12,"c":null}`), &v))
	assert.Equal(t, Number(25.5), v.A)
	assert.Equal(t, Number(12), v.B)
	assert.Nil(t, v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a":"abc"}`), &v))
}

func TestRideRequestPayloadSnapshot(t *testing.T) {
	raw := `{
		"id": "r1",
		"passenger_id": "p1",
		"locations": {
			"pickup": {"lat": 25.28, "lng": 51.53},
			"dropoff": {"lat": 25.30, "lng": 51.50},
			"pickup_location": "Souq Waqif",
			"dropoff_location": "Katara"
		},
		"stops": [{"lat": 25.29, "lng": 51.52}, {"dropoff": {"lat": 1, "lng": 2}}],
		"offered_fair": "20",
		"estimated_distance": 7.5,
		"is_scheduled": true,
		"scheduled_at": "2026-03-01T10:00:00Z",
		"payment_via": "CARD"
	}`
	var p RideRequestPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.True(t, p.HasRoute())

	s := p.Snapshot()
	assert.Equal(t, "r1", s.ID)
	assert.Equal(t, "p1", s.PassengerRef)
	assert.Equal(t, "Souq Waqif", s.Pickup.Address)
	assert.Equal(t, 25.28, s.Pickup.Latitude)
	assert.Equal(t, "Katara", s.Dropoff.Address)
	require.Len(t, s.Stops, 2)
	assert.Equal(t, model.GeoPoint{Latitude: 1, Longitude: 2}, s.Stops[1])
	assert.Equal(t, 20.0, s.EstimatedFare)
	assert.Equal(t, 7.5, s.Distance)
	assert.Equal(t, model.RideScheduled, s.Kind)
	assert.Equal(t, 2026, s.RequestedAt.Year())
	assert.Equal(t, "card", s.PaymentMethod)
}

func TestFareOnlyPayload(t *testing.T) {
	var p RideRequestPayload
	require.NoError(t, json.Unmarshal([]byte(`{"rideRequestId":"r1","offeredFair":"25"}`), &p))
	assert.Equal(t, "r1", p.RequestID())
	assert.False(t, p.HasRoute())
	fare, ok := p.Fare()
	assert.True(t, ok)
	assert.Equal(t, 25.0, fare)
}

func TestActiveRidePayload(t *testing.T) {
	raw := `{"id":"ride1","rideRequestId":"r1","status":"ACCEPTED","passengerUser":{"id":"u1","name":"Sara"},"offered_fair":"30","pickup_location":"A"}`
	var p ActiveRidePayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	r := p.ActiveRide()
	assert.Equal(t, "ride1", r.RideID)
	assert.Equal(t, "r1", r.RequestID)
	assert.Equal(t, "u1", r.PassengerID)
	assert.Equal(t, "accepted", r.Status)
	assert.Equal(t, 30.0, r.OfferedFare)
	assert.Equal(t, "A", r.Pickup.Address)
}
