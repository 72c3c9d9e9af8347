package mapview

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"busbeacon/internal/geo"
	"busbeacon/internal/proximity"
	"busbeacon/internal/transit"
)

var (
	user = geo.Coordinate{Lat: 44.65, Lng: -63.57}
	near = transit.Bus{ID: "B1", Route: "1", Lat: 44.655, Lng: -63.575, LastUpdated: "2024-05-01T12:30:00Z"}
	far  = transit.Bus{ID: "B2", Route: "2", Lat: 44.70, Lng: -63.70}
	stop = transit.Stop{Name: "Barrington St", Lat: 44.651, Lng: -63.571}
)

type countingMetrics struct {
	mu      sync.Mutex
	markers int
	fits    int
}

func (m *countingMetrics) MarkersSet(n int) { m.mu.Lock(); m.markers = n; m.mu.Unlock() }
func (m *countingMetrics) FitInc()          { m.mu.Lock(); m.fits++; m.mu.Unlock() }

func snapshot(version uint64) Snapshot {
	u := user
	st := stop
	buses := []transit.Bus{near, far}
	return Snapshot{
		Version:      version,
		Objects:      buses,
		NearestPoint: &st,
		UserLocation: &u,
		Alerts:       proximity.EvaluateDefault(u, buses),
	}
}

func mounted(t *testing.T, onSelect func(string)) (*View, *MemorySurface) {
	t.Helper()
	v := New(onSelect, Options{Debounce: 10 * time.Millisecond})
	s := NewMemorySurface()
	if err := v.Mount(s); err != nil {
		t.Fatalf("mount: %v", err)
	}
	t.Cleanup(v.Teardown)
	return v, s
}

func waitFits(t *testing.T, s *MemorySurface, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(s.Fits()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d fits, got %d", n, len(s.Fits()))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMount_Once(t *testing.T) {
	v, s := mounted(t, nil)
	if !v.Mounted() {
		t.Fatal("expected mounted view")
	}
	if err := v.Mount(NewMemorySurface()); !errors.Is(err, ErrAlreadyMounted) {
		t.Fatalf("expected ErrAlreadyMounted, got %v", err)
	}
	if s.Listeners() != 1 {
		t.Fatalf("expected one click listener, got %d", s.Listeners())
	}
}

func TestUpdate_BeforeMountIgnored(t *testing.T) {
	v := New(nil, Options{})
	v.Update(snapshot(1))
	s := NewMemorySurface()
	if err := v.Mount(s); err != nil {
		t.Fatal(err)
	}
	defer v.Teardown()
	if n := len(s.Markers()); n != 0 {
		t.Fatalf("expected no markers, got %d", n)
	}
}

func TestUpdate_PlacesMarkers(t *testing.T) {
	m := &countingMetrics{}
	v := New(nil, Options{Debounce: 10 * time.Millisecond, Metrics: m})
	s := NewMemorySurface()
	if err := v.Mount(s); err != nil {
		t.Fatal(err)
	}
	defer v.Teardown()

	v.Update(snapshot(1))
	got := s.Markers()
	if len(got) != 4 {
		t.Fatalf("expected 4 markers, got %d: %v", len(got), got)
	}
	byID := map[string]Marker{}
	for _, mk := range got {
		byID[mk.ID] = mk
	}
	if byID["user"].Label != "Your Location" {
		t.Errorf("user label = %q", byID["user"].Label)
	}
	if !byID["bus:B1"].Alert {
		t.Error("expected alert flag on near bus")
	}
	if byID["bus:B2"].Alert {
		t.Error("unexpected alert flag on far bus")
	}
	if byID["stop"].Label != "Nearest Stop: Barrington St" {
		t.Errorf("stop label = %q", byID["stop"].Label)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markers != 4 {
		t.Errorf("markers gauge = %d", m.markers)
	}
}

func TestUpdate_RecreatesMarkers(t *testing.T) {
	v, s := mounted(t, nil)
	v.Update(snapshot(1))

	u := user
	v.Update(Snapshot{Version: 2, Objects: []transit.Bus{far}, UserLocation: &u})
	got := s.Markers()
	if len(got) != 2 {
		t.Fatalf("expected user and one bus, got %v", got)
	}
	for _, mk := range got {
		if mk.ID == "bus:B1" || mk.ID == "stop" {
			t.Fatalf("stale marker %q survived update", mk.ID)
		}
	}
}

func TestUpdate_SkipsInvalidCoordinates(t *testing.T) {
	v, s := mounted(t, nil)
	bad := transit.Bus{ID: "X", Lat: 123, Lng: 0}
	v.Update(Snapshot{Version: 1, Objects: []transit.Bus{bad, near}})
	got := s.Markers()
	if len(got) != 1 || got[0].ID != "bus:B1" {
		t.Fatalf("expected only bus:B1, got %v", got)
	}
}

func TestUpdate_UnnamedStop(t *testing.T) {
	v, s := mounted(t, nil)
	st := transit.Stop{Lat: 44.651, Lng: -63.571}
	v.Update(Snapshot{Version: 1, NearestPoint: &st})
	got := s.Markers()
	if len(got) != 1 || got[0].Label != "Nearest Stop: Bus Stop" {
		t.Fatalf("unexpected markers %v", got)
	}
}

func TestUpdate_StaleVersionIgnored(t *testing.T) {
	v, s := mounted(t, nil)
	v.Update(snapshot(5))
	v.Update(Snapshot{Version: 3})
	if n := len(s.Markers()); n != 4 {
		t.Fatalf("stale snapshot replaced markers, have %d", n)
	}
}

func TestUpdate_DebouncesFit(t *testing.T) {
	m := &countingMetrics{}
	v := New(nil, Options{Debounce: 40 * time.Millisecond, Metrics: m})
	s := NewMemorySurface()
	if err := v.Mount(s); err != nil {
		t.Fatal(err)
	}
	defer v.Teardown()

	for i := uint64(1); i <= 5; i++ {
		v.Update(snapshot(i))
	}
	waitFits(t, s, 1)
	time.Sleep(80 * time.Millisecond)
	fits := s.Fits()
	if len(fits) != 1 {
		t.Fatalf("expected one coalesced fit, got %d", len(fits))
	}
	b := fits[0]
	for _, c := range []geo.Coordinate{user, near.Coordinate(), far.Coordinate(), stop.Coordinate()} {
		if !b.Contains(c.Point()) {
			t.Errorf("viewport %v does not contain %v", b, c)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fits != 1 {
		t.Errorf("fit counter = %d", m.fits)
	}
}

func TestUpdate_NoFitWithoutMarkers(t *testing.T) {
	v, s := mounted(t, nil)
	v.Update(Snapshot{Version: 1})
	time.Sleep(40 * time.Millisecond)
	if n := len(s.Fits()); n != 0 {
		t.Fatalf("expected no fit, got %d", n)
	}
}

func TestClick_OpensPopupAndSelects(t *testing.T) {
	var selected []string
	v, s := mounted(t, func(id string) { selected = append(selected, id) })
	v.Update(snapshot(1))

	s.Click("bus:B1")
	if len(selected) != 1 || selected[0] != "B1" {
		t.Fatalf("onSelect got %v", selected)
	}
	popup := s.Popup("bus:B1")
	for _, want := range []string{
		"Bus ID: B1",
		"Route: 1",
		"Distance: 0.68 km",
		"Alert: Bus is within 1 km! (~8 min walk)",
		"Status: Selected",
	} {
		if !strings.Contains(popup, want) {
			t.Errorf("popup missing %q:\n%s", want, popup)
		}
	}

	s.Click("bus:B2")
	if !strings.Contains(s.Popup("bus:B2"), "Route: 2") {
		t.Errorf("far popup = %q", s.Popup("bus:B2"))
	}
	if strings.Contains(s.Popup("bus:B2"), "Alert:") {
		t.Error("far bus should not carry an alert line")
	}
}

func TestClick_NonBusMarkersIgnored(t *testing.T) {
	called := false
	v, s := mounted(t, func(string) { called = true })
	v.Update(snapshot(1))
	s.Click("user")
	s.Click("stop")
	s.Click("bus:unknown")
	if called {
		t.Fatal("onSelect fired for a non-bus marker")
	}
}

func TestClick_CallbackMayReenterView(t *testing.T) {
	var v *View
	done := make(chan struct{})
	v = New(func(string) {
		v.Update(snapshot(2))
		close(done)
	}, Options{Debounce: 10 * time.Millisecond})
	s := NewMemorySurface()
	if err := v.Mount(s); err != nil {
		t.Fatal(err)
	}
	defer v.Teardown()
	v.Update(snapshot(1))
	s.Click("bus:B1")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onSelect did not return")
	}
}

func TestTeardown_ReleasesEverything(t *testing.T) {
	v := New(nil, Options{Debounce: 30 * time.Millisecond})
	s := NewMemorySurface()
	if err := v.Mount(s); err != nil {
		t.Fatal(err)
	}
	v.Update(snapshot(1))
	v.Teardown()
	v.Teardown()

	if v.Mounted() {
		t.Fatal("view still mounted")
	}
	if s.Closes() != 1 {
		t.Fatalf("surface closed %d times", s.Closes())
	}
	if s.Listeners() != 0 {
		t.Fatalf("click listeners left: %d", s.Listeners())
	}
	if n := len(s.Markers()); n != 0 {
		t.Fatalf("markers left: %d", n)
	}
	time.Sleep(60 * time.Millisecond)
	if n := len(s.Fits()); n != 0 {
		t.Fatalf("fit ran after teardown: %d", n)
	}

	// a torn-down view can be mounted again
	s2 := NewMemorySurface()
	if err := v.Mount(s2); err != nil {
		t.Fatalf("remount: %v", err)
	}
	v.Teardown()
}

func TestSetTheme(t *testing.T) {
	v := New(nil, Options{Theme: ThemeDark})
	s := NewMemorySurface()
	if err := v.Mount(s); err != nil {
		t.Fatal(err)
	}
	defer v.Teardown()
	if s.Theme() != ThemeDark {
		t.Fatalf("mount theme = %q", s.Theme())
	}
	v.SetTheme(ThemeLight)
	if v.Theme() != ThemeLight || s.Theme() != ThemeLight {
		t.Fatalf("theme not forwarded: view=%q surface=%q", v.Theme(), s.Theme())
	}
	if ParseTheme(true) != ThemeDark || ParseTheme(false) != ThemeLight {
		t.Fatal("ParseTheme")
	}
}

func TestFormatLastUpdated(t *testing.T) {
	cases := map[string]string{
		"":                     "N/A",
		"not a time":           "not a time",
		"2024-05-01T12:30:00Z": "May 1, 12:30 PM UTC",
	}
	for in, want := range cases {
		if got := FormatLastUpdated(transit.Bus{LastUpdated: in}); got != want {
			t.Errorf("FormatLastUpdated(%q) = %q, want %q", in, got, want)
		}
	}
}
