package model

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371008.8

// DriverPosition is the last known device fix.
type DriverPosition struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"captured_at"`
}

// IsZero reports whether no fix has been captured yet.
func (p DriverPosition) IsZero() bool { return p.CapturedAt.IsZero() }

// Point returns the position as a GeoPoint.
func (p DriverPosition) Point() GeoPoint {
	return GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude}
}

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
