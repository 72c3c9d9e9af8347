package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// Bounds returns the bounding region over all valid coordinates.
// ok is false when none of the coordinates is valid.
func Bounds(coords ...Coordinate) (b orb.Bound, ok bool) {
	for _, c := range coords {
		if !c.Valid() {
			continue
		}
		if !ok {
			b = c.Point().Bound()
			ok = true
			continue
		}
		b = b.Extend(c.Point())
	}
	return b, ok
}

// Around returns a search box reaching km from c along the meridian and the parallel.
// Spans are clamped to the valid coordinate range.
func Around(c Coordinate, km float64) orb.Bound {
	dLat := km / EarthRadiusKm * 180 / math.Pi
	cosLat := math.Cos(toRad(c.Lat))
	dLng := 180.0
	if cosLat > 1e-9 {
		dLng = math.Min(dLat/cosLat, 180)
	}
	return orb.Bound{
		Min: orb.Point{math.Max(c.Lng-dLng, -180), math.Max(c.Lat-dLat, -90)},
		Max: orb.Point{math.Min(c.Lng+dLng, 180), math.Min(c.Lat+dLat, 90)},
	}
}
