package geo

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// EarthRadiusKm is the mean Earth radius used for all great-circle distances.
	EarthRadiusKm = 6371.0
	// WalkMinPerKm is the walking-time heuristic: 5 km/h, so 12 minutes per km.
	WalkMinPerKm = 12
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is inside the lat/lng ranges and not NaN.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Point returns the coordinate as an orb point (lng, lat order).
func (c Coordinate) Point() orb.Point { return orb.Point{c.Lng, c.Lat} }

func toRad(d float64) float64 { return d * math.Pi / 180 }

// DistanceKm returns the haversine great-circle distance between a and b in kilometers.
func DistanceKm(a, b Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// EtaMinutes estimates the walking time for a distance in kilometers.
func EtaMinutes(distanceKm float64) int {
	return int(math.Round(distanceKm * WalkMinPerKm))
}
