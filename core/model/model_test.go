package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceMeters(t *testing.T) {
	a := GeoPoint{Latitude: 25.2854, Longitude: 51.5310}
	assert.InDelta(t, 0, DistanceMeters(a, a), 1e-9)

	// 0.0001 degree of latitude is roughly 11.1 m.
	b := GeoPoint{Latitude: 25.2855, Longitude: 51.5310}
	assert.InDelta(t, 11.1, DistanceMeters(a, b), 0.2)
}

func TestWithFareDoesNotShareStops(t *testing.T) {
	orig := RideRequestSnapshot{ID: "r1", EstimatedFare: 20, Stops: []GeoPoint{{Latitude: 1}}}
	raised := orig.WithFare(25)
	raised.Stops[0].Latitude = 2

	assert.Equal(t, 20.0, orig.EstimatedFare)
	assert.Equal(t, 25.0, raised.EstimatedFare)
	assert.Equal(t, 1.0, orig.Stops[0].Latitude)
}

func TestRideKindText(t *testing.T) {
	var s struct {
		Kind RideKind `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"Scheduled"}`), &s))
	assert.Equal(t, RideScheduled, s.Kind)
	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"scheduled"}`, string(out))
}

func TestValidate(t *testing.T) {
	assert.Error(t, RideRequestSnapshot{}.Validate())
	assert.Error(t, RideRequestSnapshot{ID: "r1", EstimatedFare: -1}.Validate())
	assert.NoError(t, RideRequestSnapshot{ID: "r1", EstimatedFare: 10}.Validate())
}
