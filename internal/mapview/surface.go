package mapview

import (
	"github.com/paulmach/orb"

	"busbeacon/internal/geo"
)

// Theme is the display preference forwarded to the surface.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme maps a dark-mode flag to a Theme.
func ParseTheme(dark bool) Theme {
	if dark {
		return ThemeDark
	}
	return ThemeLight
}

type MarkerKind string

const (
	KindBus  MarkerKind = "bus"
	KindUser MarkerKind = "user"
	KindStop MarkerKind = "stop"
)

const (
	userMarkerID = "user"
	stopMarkerID = "stop"
	busPrefix    = "bus:"
)

// Marker is one placed map symbol.
type Marker struct {
	ID       string         `json:"id"`
	Kind     MarkerKind     `json:"kind"`
	Position geo.Coordinate `json:"position"`
	Label    string         `json:"label,omitempty"`
	Alert    bool           `json:"alert,omitempty"`
}

// Surface is the rendering resource behind a View. A View calls it only
// from its own update cycle.
type Surface interface {
	AddMarker(m Marker) error
	RemoveMarker(id string) error
	OpenPopup(markerID, content string) error
	FitBounds(b orb.Bound) error
	SetTheme(t Theme) error
	// OnClick registers fn for marker clicks. detach removes it.
	OnClick(fn func(markerID string)) (detach func(), err error)
	Close() error
}
