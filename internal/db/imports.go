package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ResolveLatestImportDBName returns the db_name with the most recent imported_at
// from public.latest_successful_imports where db_name ILIKE '%city%'.
func ResolveLatestImportDBName(ctx context.Context, meta *sql.DB, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", errors.New("city is required")
	}
	// Fully qualified to the public schema (assumes we are connected to the 'postgres' database)
	q := `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`
	var dbName sql.NullString
	if err := meta.QueryRowContext(ctx, q, city).Scan(&dbName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("no stops database imported for city like %q", city)
		}
		return "", fmt.Errorf("query latest import: %w", err)
	}
	if !dbName.Valid || dbName.String == "" {
		return "", fmt.Errorf("empty db_name for city like %q", city)
	}
	return dbName.String, nil
}

// resolveCityDSN connects to the cluster's meta database and returns the DSN
// and name of the newest import for city.
func resolveCityDSN(ctx context.Context, baseDSN, city string) (dsn, name string, err error) {
	rootDSN, err := WithDBName(baseDSN, "postgres")
	if err != nil {
		return "", "", fmt.Errorf("invalid base DSN: %w", err)
	}
	meta, err := Open(rootDSN)
	if err != nil {
		return "", "", fmt.Errorf("open meta db: %w", err)
	}
	defer meta.Close()
	if err := Ping(ctx, meta); err != nil {
		return "", "", fmt.Errorf("ping meta db: %w", err)
	}
	name, err = ResolveLatestImportDBName(ctx, meta, city)
	if err != nil {
		return "", "", err
	}
	dsn, err = WithDBName(baseDSN, name)
	if err != nil {
		return "", "", fmt.Errorf("compose DSN: %w", err)
	}
	return dsn, name, nil
}
