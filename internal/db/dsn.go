package db

import (
	"errors"
	"net/url"
	"strings"
)

// WithDBName returns dsn with its database path replaced. A DSN without a
// scheme is treated as postgres://.
func WithDBName(dsn, database string) (string, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", errors.New("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", errors.New("unsupported DSN scheme " + u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// dbName returns the database path of dsn, or "" when it has none.
func dbName(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
