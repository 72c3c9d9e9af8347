package proximity

import (
	"busbeacon/internal/geo"
	"busbeacon/internal/transit"
)

// AlertRadiusKm is the distance at or under which a bus raises an alert.
const AlertRadiusKm = 1.0

// Alert reports a bus close to the user.
type Alert struct {
	BusID      string  `json:"busId"`
	DistanceKm float64 `json:"distanceKm"`
	EtaMinutes int     `json:"etaMinutes"`
}

// Within checks a single bus against radiusKm. The boundary is inclusive.
func Within(user geo.Coordinate, bus transit.Bus, radiusKm float64) (Alert, bool) {
	d := geo.DistanceKm(user, bus.Coordinate())
	if !(d <= radiusKm) {
		return Alert{}, false
	}
	return Alert{BusID: bus.ID, DistanceKm: d, EtaMinutes: geo.EtaMinutes(d)}, true
}

// Evaluate returns an alert for every bus within radiusKm of user, in input order.
func Evaluate(user geo.Coordinate, buses []transit.Bus, radiusKm float64) []Alert {
	alerts := make([]Alert, 0, len(buses))
	for _, b := range buses {
		if a, ok := Within(user, b, radiusKm); ok {
			alerts = append(alerts, a)
		}
	}
	return alerts
}

// EvaluateDefault is Evaluate with AlertRadiusKm.
func EvaluateDefault(user geo.Coordinate, buses []transit.Bus) []Alert {
	return Evaluate(user, buses, AlertRadiusKm)
}
