package db

import (
	"context"
	"errors"
	"math"
	"testing"

	"busbeacon/internal/geo"
	"busbeacon/internal/transit"
)

func TestNearest(t *testing.T) {
	at := geo.Coordinate{Lat: 44.65, Lng: -63.57}
	cs := []candidate{
		{name: "Far", at: geo.Coordinate{Lat: 44.66, Lng: -63.59}},
		{name: "Broken", at: geo.Coordinate{Lat: 95, Lng: 0}},
		{name: "Close", at: geo.Coordinate{Lat: 44.651, Lng: -63.571}},
		{name: "Close twin", at: geo.Coordinate{Lat: 44.651, Lng: -63.571}},
	}
	s, ok := nearest(at, cs)
	if !ok {
		t.Fatal("expected a stop")
	}
	if s.Name != "Close" {
		t.Fatalf("picked %q", s.Name)
	}
	want := geo.DistanceKm(at, geo.Coordinate{Lat: 44.651, Lng: -63.571})
	if math.Abs(s.DistanceKm-want) > 1e-12 {
		t.Errorf("DistanceKm = %v, want %v", s.DistanceKm, want)
	}
	if s.WalkingTimeMinutes != geo.EtaMinutes(want) {
		t.Errorf("WalkingTimeMinutes = %d", s.WalkingTimeMinutes)
	}
}

func TestNearest_NoCandidates(t *testing.T) {
	at := geo.Coordinate{Lat: 44.65, Lng: -63.57}
	if _, ok := nearest(at, nil); ok {
		t.Fatal("expected no stop for empty input")
	}
	if _, ok := nearest(at, []candidate{{name: "x", at: geo.Coordinate{Lat: math.NaN()}}}); ok {
		t.Fatal("expected invalid coordinates to be skipped")
	}
}

func TestWithDBName(t *testing.T) {
	cases := []struct {
		dsn, db, want string
		wantErr       bool
	}{
		{"postgres://u:p@h:5432/postgres?sslmode=disable", "halifax_20240501", "postgres://u:p@h:5432/halifax_20240501?sslmode=disable", false},
		{"postgresql://h/a", "/b", "postgresql://h/b", false},
		{"u@h:5432/a", "b", "postgres://u@h:5432/b", false},
		{"", "b", "", true},
		{"mysql://h/a", "b", "", true},
	}
	for _, tc := range cases {
		got, err := WithDBName(tc.dsn, tc.db)
		if (err != nil) != tc.wantErr {
			t.Errorf("WithDBName(%q, %q) err = %v", tc.dsn, tc.db, err)
			continue
		}
		if got != tc.want {
			t.Errorf("WithDBName(%q, %q) = %q, want %q", tc.dsn, tc.db, got, tc.want)
		}
	}
}

func TestDBName(t *testing.T) {
	if got := dbName("postgres://u@h/stops?sslmode=disable"); got != "stops" {
		t.Fatalf("dbName = %q", got)
	}
}

// inBoxes filters stops the way stopsInBox does, without a database.
func inBoxes(at geo.Coordinate, stops []candidate, calls *[]float64) func(r float64) ([]candidate, error) {
	return func(r float64) ([]candidate, error) {
		*calls = append(*calls, r)
		box := geo.Around(at, r)
		var out []candidate
		for _, c := range stops {
			if box.Contains(c.at.Point()) {
				out = append(out, c)
			}
		}
		return out, nil
	}
}

func TestSearchNearest_CornerStopDoesNotWin(t *testing.T) {
	at := geo.Coordinate{Lat: 44.65, Lng: -63.57}
	dLat := 1 / geo.EarthRadiusKm * 180 / math.Pi
	dLng := dLat / math.Cos(at.Lat*math.Pi/180)
	corner := candidate{name: "Corner", at: geo.Coordinate{Lat: at.Lat + 0.99*dLat, Lng: at.Lng + 0.99*dLng}}
	north := candidate{name: "North", at: geo.Coordinate{Lat: at.Lat + 1.05*dLat, Lng: at.Lng}}
	if d := geo.DistanceKm(at, corner.at); d < 1.35 {
		t.Fatalf("corner stop is only %.3f km away", d)
	}

	var calls []float64
	s, ok, err := searchNearest(at, []float64{1, 5, 25}, inBoxes(at, []candidate{corner, north}, &calls))
	if err != nil || !ok {
		t.Fatalf("searchNearest: ok=%v err=%v", ok, err)
	}
	if s.Name != "North" {
		t.Fatalf("picked %q at %.3f km, want North", s.Name, s.DistanceKm)
	}
	if len(calls) != 2 {
		t.Errorf("searched radii %v, want the 1 km box then the 5 km box", calls)
	}
}

func TestSearchNearest_StopsAtFirstConclusiveBox(t *testing.T) {
	at := geo.Coordinate{Lat: 44.65, Lng: -63.57}
	var calls []float64
	near := candidate{name: "Close", at: geo.Coordinate{Lat: 44.651, Lng: -63.571}}
	s, ok, err := searchNearest(at, []float64{1, 5, 25}, inBoxes(at, []candidate{near}, &calls))
	if err != nil || !ok || s.Name != "Close" {
		t.Fatalf("searchNearest = %+v ok=%v err=%v", s, ok, err)
	}
	if len(calls) != 1 {
		t.Errorf("searched radii %v, want only the 1 km box", calls)
	}
}

func TestSearchNearest_LastBoxFallback(t *testing.T) {
	at := geo.Coordinate{Lat: 44.65, Lng: -63.57}
	dLat := 1 / geo.EarthRadiusKm * 180 / math.Pi
	dLng := dLat / math.Cos(at.Lat*math.Pi/180)
	corner := candidate{name: "Corner", at: geo.Coordinate{Lat: at.Lat + 0.99*dLat, Lng: at.Lng + 0.99*dLng}}

	var calls []float64
	s, ok, err := searchNearest(at, []float64{1}, inBoxes(at, []candidate{corner}, &calls))
	if err != nil || !ok {
		t.Fatalf("searchNearest: ok=%v err=%v", ok, err)
	}
	if s.Name != "Corner" || s.DistanceKm <= 1 {
		t.Errorf("fallback = %q at %.3f km", s.Name, s.DistanceKm)
	}

	calls = nil
	if _, ok, err := searchNearest(at, []float64{1, 5}, inBoxes(at, nil, &calls)); ok || err != nil {
		t.Errorf("empty boxes: ok=%v err=%v", ok, err)
	}
}

func TestSearchNearest_QueryError(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := searchNearest(geo.Coordinate{}, []float64{1, 5}, func(float64) ([]candidate, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestStopFinder_NearestStopAfterClose(t *testing.T) {
	f := &StopFinder{}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err := f.NearestStop(context.Background(), transit.StopQuery{At: geo.Coordinate{Lat: 44.65, Lng: -63.57}})
	if !errors.Is(err, errFinderClosed) {
		t.Fatalf("err = %v, want errFinderClosed", err)
	}
}
