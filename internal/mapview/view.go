package mapview

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"busbeacon/internal/geo"
	"busbeacon/internal/proximity"
	"busbeacon/internal/transit"
)

// ErrAlreadyMounted is returned by Mount on an initialized view.
var ErrAlreadyMounted = errors.New("map view already mounted")

const (
	DefaultDebounce = 100 * time.Millisecond
	minPadDegrees   = 0.002
)

// Snapshot is the part of the session state the view mirrors.
type Snapshot struct {
	Version      uint64
	Objects      []transit.Bus
	NearestPoint *transit.Stop
	UserLocation *geo.Coordinate
	Alerts       []proximity.Alert
}

// Metrics receives view instrumentation.
type Metrics interface {
	MarkersSet(n int)
	FitInc()
}

// Options configures a View. Zero values select defaults.
type Options struct {
	Debounce time.Duration
	Theme    Theme
	Metrics  Metrics
}

// View mirrors session state onto a Surface.
type View struct {
	onSelect func(busID string)
	debounce time.Duration
	metrics  Metrics

	mu          sync.Mutex
	surface     Surface
	initialized bool
	theme       Theme
	version     uint64
	markers     []string
	buses       map[string]transit.Bus
	user        *geo.Coordinate
	detach      []func()
	fitTimer    *time.Timer
	fitGen      uint64
}

// New creates an unmounted view. onSelect receives the id of a clicked bus.
func New(onSelect func(busID string), opts Options) *View {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Theme == "" {
		opts.Theme = ThemeLight
	}
	return &View{
		onSelect: onSelect,
		debounce: opts.Debounce,
		metrics:  opts.Metrics,
		theme:    opts.Theme,
	}
}

// Mount attaches the view to s. A view is mounted at most once until Teardown.
func (v *View) Mount(s Surface) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.initialized {
		return ErrAlreadyMounted
	}
	detach, err := s.OnClick(v.handleClick)
	if err != nil {
		return fmt.Errorf("attach click listener: %w", err)
	}
	v.surface = s
	v.detach = []func(){detach}
	v.initialized = true
	if err := s.SetTheme(v.theme); err != nil {
		slog.Warn("set theme failed", "theme", v.theme, "error", err)
	}
	return nil
}

// Mounted reports whether the view holds a surface.
func (v *View) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.initialized
}

// Theme returns the current display preference.
func (v *View) Theme() Theme {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.theme
}

// SetTheme changes the display preference and forwards it when mounted.
func (v *View) SetTheme(t Theme) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.theme = t
	if !v.initialized {
		return
	}
	if err := v.surface.SetTheme(t); err != nil {
		slog.Warn("set theme failed", "theme", t, "error", err)
	}
}

// Update re-creates every marker from s and schedules a viewport fit.
// Snapshots older than the last applied one are ignored.
func (v *View) Update(s Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.initialized || s.Version < v.version {
		return
	}
	v.version = s.Version
	v.stopFitLocked()
	v.clearMarkersLocked()

	var placed []geo.Coordinate
	if s.UserLocation != nil && s.UserLocation.Valid() {
		m := Marker{ID: userMarkerID, Kind: KindUser, Position: *s.UserLocation, Label: "Your Location"}
		if v.addLocked(m) {
			placed = append(placed, m.Position)
		}
	}

	alerting := make(map[string]bool, len(s.Alerts))
	for _, a := range s.Alerts {
		alerting[a.BusID] = true
	}
	v.buses = make(map[string]transit.Bus, len(s.Objects))
	for _, b := range s.Objects {
		pos := b.Coordinate()
		if b.ID == "" || !pos.Valid() {
			continue
		}
		m := Marker{ID: busPrefix + b.ID, Kind: KindBus, Position: pos, Label: b.Route, Alert: alerting[b.ID]}
		if v.addLocked(m) {
			v.buses[b.ID] = b
			placed = append(placed, pos)
		}
	}

	if s.NearestPoint != nil && s.NearestPoint.Coordinate().Valid() {
		name := s.NearestPoint.Name
		if name == "" {
			name = "Bus Stop"
		}
		m := Marker{ID: stopMarkerID, Kind: KindStop, Position: s.NearestPoint.Coordinate(), Label: "Nearest Stop: " + name}
		if v.addLocked(m) {
			placed = append(placed, m.Position)
		}
	}

	if s.UserLocation != nil {
		loc := *s.UserLocation
		v.user = &loc
	} else {
		v.user = nil
	}
	if v.metrics != nil {
		v.metrics.MarkersSet(len(v.markers))
	}
	if b, ok := geo.Bounds(placed...); ok {
		v.scheduleFitLocked(b)
	}
}

// Teardown releases markers, listeners and the surface. Safe to repeat.
func (v *View) Teardown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.initialized {
		return
	}
	v.stopFitLocked()
	v.clearMarkersLocked()
	for _, d := range v.detach {
		if d != nil {
			d()
		}
	}
	v.detach = nil
	if err := v.surface.Close(); err != nil {
		slog.Warn("map surface close failed", "error", err)
	}
	v.surface = nil
	v.initialized = false
	v.version = 0
	v.buses = nil
	v.user = nil
	if v.metrics != nil {
		v.metrics.MarkersSet(0)
	}
}

func (v *View) handleClick(markerID string) {
	v.mu.Lock()
	if !v.initialized {
		v.mu.Unlock()
		return
	}
	busID, ok := strings.CutPrefix(markerID, busPrefix)
	if !ok {
		v.mu.Unlock()
		return
	}
	bus, found := v.buses[busID]
	if !found {
		v.mu.Unlock()
		slog.Debug("click on unknown bus marker", "marker", markerID)
		return
	}
	if err := v.surface.OpenPopup(markerID, popupContent(bus, v.user)); err != nil {
		slog.Warn("open popup failed", "marker", markerID, "error", err)
	}
	onSelect := v.onSelect
	v.mu.Unlock()

	if onSelect != nil {
		onSelect(busID)
	}
}

func (v *View) addLocked(m Marker) bool {
	if err := v.surface.AddMarker(m); err != nil {
		slog.Warn("add marker failed", "marker", m.ID, "error", err)
		return false
	}
	v.markers = append(v.markers, m.ID)
	return true
}

func (v *View) clearMarkersLocked() {
	for _, id := range v.markers {
		if err := v.surface.RemoveMarker(id); err != nil {
			slog.Warn("remove marker failed", "marker", id, "error", err)
		}
	}
	v.markers = nil
}

func (v *View) stopFitLocked() {
	v.fitGen++
	if v.fitTimer != nil {
		v.fitTimer.Stop()
		v.fitTimer = nil
	}
}

// scheduleFitLocked fits the viewport to b after the debounce delay unless
// another update or teardown supersedes it first.
func (v *View) scheduleFitLocked(b orb.Bound) {
	gen := v.fitGen
	b = padBound(b)
	v.fitTimer = time.AfterFunc(v.debounce, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if !v.initialized || gen != v.fitGen {
			return
		}
		v.fitTimer = nil
		if err := v.surface.FitBounds(b); err != nil {
			slog.Warn("fit bounds failed", "error", err)
			return
		}
		if v.metrics != nil {
			v.metrics.FitInc()
		}
	})
}

func padBound(b orb.Bound) orb.Bound {
	span := math.Max(b.Right()-b.Left(), b.Top()-b.Bottom())
	return b.Pad(math.Max(span*0.1, minPadDegrees))
}
