package transit

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Pointer fields let validation tell a missing value from a zero one.
type wireBus struct {
	ID          *string  `json:"bus_id" validate:"required,min=1"`
	Route       *string  `json:"route"`
	Lat         *float64 `json:"lat" validate:"required,latitude"`
	Lng         *float64 `json:"lng" validate:"required,longitude"`
	LastUpdated *string  `json:"last_updated"`
}

type wireStop struct {
	Name               *string  `json:"name" validate:"required"`
	Lat                *float64 `json:"lat" validate:"required,latitude"`
	Lng                *float64 `json:"lng" validate:"required,longitude"`
	DistanceKm         *float64 `json:"distance_km" validate:"required,gte=0"`
	WalkingTimeMinutes *int     `json:"walking_time_minutes" validate:"required,gte=0"`
}

func decodeBuses(data []byte) ([]Bus, error) {
	var raw []wireBus
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		return nil, errors.New("expected an array, got null")
	}
	buses := make([]Bus, 0, len(raw))
	for i, w := range raw {
		if err := validate.Struct(w); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		buses = append(buses, Bus{
			ID:          *w.ID,
			Route:       deref(w.Route),
			Lat:         *w.Lat,
			Lng:         *w.Lng,
			LastUpdated: deref(w.LastUpdated),
		})
	}
	return buses, nil
}

func decodeStop(data []byte) (Stop, error) {
	var w wireStop
	if err := json.Unmarshal(data, &w); err != nil {
		return Stop{}, fmt.Errorf("decode: %w", err)
	}
	if err := validate.Struct(w); err != nil {
		return Stop{}, err
	}
	return Stop{
		Name:               *w.Name,
		Lat:                *w.Lat,
		Lng:                *w.Lng,
		DistanceKm:         *w.DistanceKm,
		WalkingTimeMinutes: *w.WalkingTimeMinutes,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
