package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"busbeacon/internal/geo"
	"busbeacon/internal/transit"
)

// ErrNoStop is returned when no stop lies within the widest search radius.
var ErrNoStop = errors.New("no stop found near location")

// searchRadiiKm are tried in order until a stop is found.
var searchRadiiKm = []float64{1, 5, 25}

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

type candidate struct {
	name string
	at   geo.Coordinate
}

// nearest picks the candidate closest to at. Ties keep the first one.
func nearest(at geo.Coordinate, cs []candidate) (transit.Stop, bool) {
	best := -1
	bestKm := 0.0
	for i, c := range cs {
		if !c.at.Valid() {
			continue
		}
		d := geo.DistanceKm(at, c.at)
		if best < 0 || d < bestKm {
			best, bestKm = i, d
		}
	}
	if best < 0 {
		return transit.Stop{}, false
	}
	c := cs[best]
	return transit.Stop{
		Name:               c.name,
		Lat:                c.at.Lat,
		Lng:                c.at.Lng,
		DistanceKm:         bestKm,
		WalkingTimeMinutes: geo.EtaMinutes(bestKm),
	}, true
}

const stopsInBoxQuery = `
SELECT s.stop_name, s.stop_lat, s.stop_lon
FROM stops s
WHERE s.stop_lat BETWEEN $1 AND $2
  AND s.stop_lon BETWEEN $3 AND $4`

// routeFilter restricts stops to those served by a route, matched on id or,
// when the feed carries it, the public short name.
const routeFilter = `
  AND EXISTS (
    SELECT 1
    FROM stop_times st
    JOIN trips t ON t.trip_id = st.trip_id
    JOIN routes r ON r.route_id = t.route_id
    WHERE st.stop_id = s.stop_id
      AND (r.route_id = $5 %s))`

// stopsInBox returns the stops in the box radiusKm around at, optionally
// only those on route.
func stopsInBox(ctx context.Context, db *sql.DB, at geo.Coordinate, radiusKm float64, route string, shortNames bool) ([]candidate, error) {
	b := geo.Around(at, radiusKm)
	q := stopsInBoxQuery
	args := []any{b.Bottom(), b.Top(), b.Left(), b.Right()}
	if route != "" {
		short := ""
		if shortNames {
			short = "OR r.route_short_name = $5"
		}
		q += fmt.Sprintf(routeFilter, short)
		args = append(args, route)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []candidate
	for rows.Next() {
		var name sql.NullString
		var c candidate
		if err := rows.Scan(&name, &c.at.Lat, &c.at.Lng); err != nil {
			return nil, err
		}
		c.name = name.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
