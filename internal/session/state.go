package session

import (
	"busbeacon/internal/geo"
	"busbeacon/internal/proximity"
	"busbeacon/internal/transit"
)

// Phase is the session lifecycle position.
type Phase int

const (
	Idle Phase = iota
	Locating
	Ready
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Locating:
		return "locating"
	case Ready:
		return "ready"
	}
	return "unknown"
}

// Channel names one of the two independent fetch tracks.
type Channel int

const (
	ChannelObjects Channel = iota
	ChannelNearestPoint
	numChannels
)

func (c Channel) String() string {
	switch c {
	case ChannelObjects:
		return "objects"
	case ChannelNearestPoint:
		return "nearest_point"
	}
	return "unknown"
}

// Errors holds the last failure text per channel; empty means healthy.
type Errors struct {
	Objects      string `json:"objects,omitempty"`
	NearestPoint string `json:"nearestPoint,omitempty"`
}

// State is a point-in-time copy of the session. Version grows with every
// published change.
type State struct {
	Version      uint64            `json:"version"`
	Phase        Phase             `json:"phase"`
	UserLocation *geo.Coordinate   `json:"userLocation,omitempty"`
	Objects      []transit.Bus     `json:"objects"`
	NearestPoint *transit.Stop     `json:"nearestPoint,omitempty"`
	Alerts       []proximity.Alert `json:"alerts"`
	Selected     *transit.Bus      `json:"selected,omitempty"`
	Errors       Errors            `json:"errors"`
	Loading      bool              `json:"loading"`
}

// HasErrors reports whether either channel is failing.
func (s State) HasErrors() bool {
	return s.Errors.Objects != "" || s.Errors.NearestPoint != ""
}

func (s State) clone() State {
	c := s
	c.Objects = append([]transit.Bus(nil), s.Objects...)
	if c.Objects == nil {
		c.Objects = []transit.Bus{}
	}
	c.Alerts = append([]proximity.Alert(nil), s.Alerts...)
	if c.Alerts == nil {
		c.Alerts = []proximity.Alert{}
	}
	if s.UserLocation != nil {
		loc := *s.UserLocation
		c.UserLocation = &loc
	}
	if s.NearestPoint != nil {
		stop := *s.NearestPoint
		c.NearestPoint = &stop
	}
	if s.Selected != nil {
		bus := *s.Selected
		c.Selected = &bus
	}
	return c
}

func findBus(buses []transit.Bus, id string) (transit.Bus, bool) {
	if id == "" {
		return transit.Bus{}, false
	}
	for _, b := range buses {
		if b.ID == id {
			return b, true
		}
	}
	return transit.Bus{}, false
}
