package transit

import (
	"time"

	"busbeacon/internal/geo"
)

// Bus is one live vehicle position reported by the transit API.
type Bus struct {
	ID          string  `json:"bus_id"`
	Route       string  `json:"route"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	LastUpdated string  `json:"last_updated,omitempty"`
}

// Coordinate returns the bus position.
func (b Bus) Coordinate() geo.Coordinate { return geo.Coordinate{Lat: b.Lat, Lng: b.Lng} }

// UpdatedAt parses LastUpdated. ok is false when it is empty or in an unknown layout.
func (b Bus) UpdatedAt() (time.Time, bool) {
	if b.LastUpdated == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, b.LastUpdated); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Stop is the stop nearest to a queried coordinate.
type Stop struct {
	Name               string  `json:"name"`
	Lat                float64 `json:"lat"`
	Lng                float64 `json:"lng"`
	DistanceKm         float64 `json:"distance_km"`
	WalkingTimeMinutes int     `json:"walking_time_minutes"`
}

// Coordinate returns the stop position.
func (s Stop) Coordinate() geo.Coordinate { return geo.Coordinate{Lat: s.Lat, Lng: s.Lng} }

// StopQuery selects the stop nearest to At. BusID is used by the API
// finder; Route is used by finders that only know the static network.
type StopQuery struct {
	At    geo.Coordinate
	BusID string
	Route string
}
