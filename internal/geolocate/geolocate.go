package geolocate

import (
	"context"
	"errors"

	"busbeacon/internal/geo"
)

// ErrUnavailable means no position could be determined.
var ErrUnavailable = errors.New("geolocation unavailable")

// Fallback keeps the map centered on the default service area when the
// user's position is unknown.
var Fallback = geo.Coordinate{Lat: 44.65, Lng: -63.57}

// Locator resolves the user's position once per session.
type Locator interface {
	Locate(ctx context.Context) (geo.Coordinate, error)
}

// Static is a position supplied by configuration.
type Static geo.Coordinate

func (s Static) Locate(ctx context.Context) (geo.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return geo.Coordinate{}, err
	}
	c := geo.Coordinate(s)
	if !c.Valid() {
		return geo.Coordinate{}, ErrUnavailable
	}
	return c, nil
}

// Unavailable never knows the position.
type Unavailable struct{}

func (Unavailable) Locate(context.Context) (geo.Coordinate, error) {
	return geo.Coordinate{}, ErrUnavailable
}

// OrFallback resolves l and substitutes Fallback on any failure.
// The error is returned alongside for logging only.
func OrFallback(ctx context.Context, l Locator) (geo.Coordinate, error) {
	if l == nil {
		return Fallback, ErrUnavailable
	}
	c, err := l.Locate(ctx)
	if err != nil {
		return Fallback, err
	}
	if !c.Valid() {
		return Fallback, ErrUnavailable
	}
	return c, nil
}
