package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"busbeacon/internal/geo"
	"busbeacon/internal/transit"
)

var errFinderClosed = errors.New("stop finder closed")

// SwitchMetrics counts database switches by reason (update|ping_failure).
type SwitchMetrics interface {
	DBSwitchInc(reason string)
}

// StopFinder answers nearest-stop queries from a GTFS stops database. When
// built for a city it follows the newest successful import.
type StopFinder struct {
	baseDSN string
	city    string
	metrics SwitchMetrics

	mu         sync.RWMutex
	db         *sql.DB
	name       string
	shortNames bool
}

// Connect opens the stops database. With a city the database is resolved
// through public.latest_successful_imports on the cluster's meta database.
func Connect(ctx context.Context, baseDSN, city string, m SwitchMetrics) (*StopFinder, error) {
	f := &StopFinder{baseDSN: baseDSN, city: city, metrics: m}
	dsn, name := baseDSN, dbName(baseDSN)
	if city != "" {
		var err error
		dsn, name, err = resolveCityDSN(ctx, baseDSN, city)
		if err != nil {
			return nil, fmt.Errorf("resolve stops database for city %q: %w", city, err)
		}
		slog.Info("using stops database", "db", name, "city", city)
	}
	conn, shortNames, err := openStops(ctx, dsn)
	if err != nil {
		return nil, err
	}
	f.db, f.name, f.shortNames = conn, name, shortNames
	return f, nil
}

func openStops(ctx context.Context, dsn string) (*sql.DB, bool, error) {
	conn, err := Open(dsn)
	if err != nil {
		return nil, false, fmt.Errorf("open stops db: %w", err)
	}
	if err := Ping(ctx, conn); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("ping stops db: %w", err)
	}
	cols, err := hasColumns(ctx, conn, "public", "routes", "route_short_name")
	if err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("inspect routes table: %w", err)
	}
	return conn, cols["route_short_name"], nil
}

// Name returns the database currently in use.
func (f *StopFinder) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

// NearestStop returns the stop closest to q.At. With q.Route set, stops on
// that route are preferred; the search widens before giving up with ErrNoStop.
func (f *StopFinder) NearestStop(ctx context.Context, q transit.StopQuery) (transit.Stop, error) {
	f.mu.RLock()
	conn, shortNames := f.db, f.shortNames
	f.mu.RUnlock()
	if conn == nil {
		return transit.Stop{}, errFinderClosed
	}

	routes := []string{""}
	if q.Route != "" {
		routes = []string{q.Route, ""}
	}
	for _, route := range routes {
		s, ok, err := searchNearest(q.At, searchRadiiKm, func(r float64) ([]candidate, error) {
			return stopsInBox(ctx, conn, q.At, r, route, shortNames)
		})
		if err != nil {
			return transit.Stop{}, fmt.Errorf("query stops: %w", err)
		}
		if ok {
			return s, nil
		}
	}
	return transit.Stop{}, ErrNoStop
}

// searchNearest queries growing boxes around at. A box of half-width r holds
// every stop within r km, so its nearest stop is final only when it lies
// within r; the corners reach further. The last box's best is the fallback.
func searchNearest(at geo.Coordinate, radii []float64, inBox func(r float64) ([]candidate, error)) (transit.Stop, bool, error) {
	var (
		best  transit.Stop
		found bool
	)
	for _, r := range radii {
		cs, err := inBox(r)
		if err != nil {
			return transit.Stop{}, false, err
		}
		best, found = nearest(at, cs)
		if found && best.DistanceKm <= r {
			return best, true, nil
		}
	}
	return best, found, nil
}

// Watch re-checks the database every interval until ctx is done. A failed
// ping or a newer import for the city switches the finder to a fresh pool.
func (f *StopFinder) Watch(ctx context.Context, every time.Duration) {
	if f.city == "" {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		f.check(ctx)
	}
}

func (f *StopFinder) check(ctx context.Context) {
	f.mu.RLock()
	conn, current := f.db, f.name
	f.mu.RUnlock()

	reason := ""
	if err := Ping(ctx, conn); err != nil {
		slog.Warn("stops db ping failed, re-resolving city db", "error", err)
		reason = "ping_failure"
	}
	dsn, name, err := resolveCityDSN(ctx, f.baseDSN, f.city)
	if err != nil {
		slog.Warn("resolve latest import failed", "city", f.city, "error", err)
		return
	}
	if name != current {
		slog.Info("detected updated stops db", "city", f.city, "from", current, "to", name)
		reason = "update"
	}
	if reason == "" {
		return
	}

	next, shortNames, err := openStops(ctx, dsn)
	if err != nil {
		slog.Warn("switch stops db failed", "db", name, "error", err)
		return
	}
	f.mu.Lock()
	old := f.db
	f.db, f.name, f.shortNames = next, name, shortNames
	f.mu.Unlock()
	old.Close()
	if f.metrics != nil {
		f.metrics.DBSwitchInc(reason)
	}
	slog.Info("switched stops db", "db", name, "city", f.city)
}

func (f *StopFinder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db == nil {
		return nil
	}
	err := f.db.Close()
	f.db = nil
	return err
}
