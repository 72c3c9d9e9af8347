package mapview

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"
)

var errSurfaceClosed = errors.New("surface closed")

// MemorySurface keeps the rendered map in memory. It backs the terminal
// dashboard and the tests.
type MemorySurface struct {
	mu       sync.Mutex
	markers  map[string]Marker
	popups   map[string]string
	fits     []orb.Bound
	theme    Theme
	closes   int
	handlers map[int]func(string)
	nextID   int
}

func NewMemorySurface() *MemorySurface {
	return &MemorySurface{
		markers:  make(map[string]Marker),
		popups:   make(map[string]string),
		handlers: make(map[int]func(string)),
	}
}

func (m *MemorySurface) AddMarker(mk Marker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closes > 0 {
		return errSurfaceClosed
	}
	m.markers[mk.ID] = mk
	return nil
}

func (m *MemorySurface) RemoveMarker(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, id)
	delete(m.popups, id)
	return nil
}

func (m *MemorySurface) OpenPopup(markerID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markers[markerID]; !ok {
		return fmt.Errorf("no marker %q", markerID)
	}
	m.popups[markerID] = content
	return nil
}

func (m *MemorySurface) FitBounds(b orb.Bound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closes > 0 {
		return errSurfaceClosed
	}
	m.fits = append(m.fits, b)
	return nil
}

func (m *MemorySurface) SetTheme(t Theme) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.theme = t
	return nil
}

func (m *MemorySurface) OnClick(fn func(markerID string)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}, nil
}

// Close disposes the surface. Repeated calls are counted and ignored.
func (m *MemorySurface) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	if m.closes == 1 {
		m.markers = make(map[string]Marker)
		m.popups = make(map[string]string)
	}
	return nil
}

// Click simulates a user clicking markerID.
func (m *MemorySurface) Click(markerID string) {
	m.mu.Lock()
	handlers := make([]func(string), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(markerID)
	}
}

// Markers returns the placed markers sorted by id.
func (m *MemorySurface) Markers() []Marker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Marker, 0, len(m.markers))
	for _, mk := range m.markers {
		out = append(out, mk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemorySurface) Popup(markerID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popups[markerID]
}

func (m *MemorySurface) Fits() []orb.Bound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]orb.Bound(nil), m.fits...)
}

func (m *MemorySurface) Theme() Theme {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.theme
}

func (m *MemorySurface) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *MemorySurface) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// String renders the surface as text, one marker per line.
func (m *MemorySurface) String() string {
	markers := m.Markers()
	fits := m.Fits()
	var sb strings.Builder
	fmt.Fprintf(&sb, "map (%s theme, %d markers)\n", m.Theme(), len(markers))
	for _, mk := range markers {
		flag := ""
		if mk.Alert {
			flag = " [ALERT]"
		}
		fmt.Fprintf(&sb, "  %-5s %-12s %9.5f,%10.5f  %s%s\n", mk.Kind, mk.ID, mk.Position.Lat, mk.Position.Lng, mk.Label, flag)
	}
	if n := len(fits); n > 0 {
		b := fits[n-1]
		fmt.Fprintf(&sb, "  viewport %.5f,%.5f .. %.5f,%.5f\n", b.Bottom(), b.Left(), b.Top(), b.Right())
	}
	return sb.String()
}
