package mapview

import (
	"fmt"
	"strings"

	"busbeacon/internal/geo"
	"busbeacon/internal/proximity"
	"busbeacon/internal/transit"
)

// FormatLastUpdated renders a bus timestamp for display.
func FormatLastUpdated(b transit.Bus) string {
	if b.LastUpdated == "" {
		return "N/A"
	}
	t, ok := b.UpdatedAt()
	if !ok {
		return b.LastUpdated
	}
	return t.Format("Jan 2, 03:04 PM MST")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func popupContent(b transit.Bus, user *geo.Coordinate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Bus ID: %s\n", orNA(b.ID))
	fmt.Fprintf(&sb, "Route: %s\n", orNA(b.Route))
	fmt.Fprintf(&sb, "Last Updated: %s\n", FormatLastUpdated(b))
	if user != nil {
		fmt.Fprintf(&sb, "Distance: %.2f km\n", geo.DistanceKm(*user, b.Coordinate()))
		if a, ok := proximity.Within(*user, b, proximity.AlertRadiusKm); ok {
			fmt.Fprintf(&sb, "Alert: Bus is within 1 km! (~%d min walk)\n", a.EtaMinutes)
		}
	}
	sb.WriteString("Status: Selected")
	return sb.String()
}
