package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"API_URL", "ID_TOKEN", "ID_TOKEN_FILE", "USER_LAT", "USER_LNG",
	"REQUEST_TIMEOUT_MS", "FIT_DEBOUNCE_MS", "DARK_MODE",
	"NATS_URL", "NATS_SUBJECT_PREFIX", "LOG_NATS_SUBJECTS", "METRICS_ADDR",
	"STOPS_DATABASE_URL", "PG_DSN", "PGHOST", "PGPORT", "PGUSER", "PGPASSWORD", "PGDATABASE", "PGSSLMODE",
	"CITY", "CITY_NAME", "LOG_LEVEL",
}

func cleanEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t, map[string]string{"API_URL": "https://transit.example.com/api/"})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "https://transit.example.com/api" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.FitDebounce != 100*time.Millisecond {
		t.Errorf("FitDebounce = %v", cfg.FitDebounce)
	}
	if cfg.NATSSubjectPrefix != "busbeacon" {
		t.Errorf("NATSSubjectPrefix = %q", cfg.NATSSubjectPrefix)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if _, ok := cfg.UserLocation(); ok {
		t.Error("expected no configured location")
	}
	if cfg.DarkMode || cfg.StopsDatabaseURL != "" {
		t.Errorf("unexpected optional settings: %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cleanEnv(t, map[string]string{
		"API_URL":            "http://localhost:8080",
		"ID_TOKEN":           "tok",
		"USER_LAT":           "44.6488",
		"USER_LNG":           "-63.5752",
		"REQUEST_TIMEOUT_MS": "2500",
		"FIT_DEBOUNCE_MS":    "50",
		"DARK_MODE":          "yes",
		"METRICS_ADDR":       ":9102",
		"PGHOST":             "db",
		"PGUSER":             "gtfs",
		"PGPASSWORD":         "p@ss",
		"CITY":               "halifax",
		"LOG_LEVEL":          "debug",
	})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	loc, ok := cfg.UserLocation()
	if !ok || loc.Lat != 44.6488 || loc.Lng != -63.5752 {
		t.Errorf("UserLocation = %v, %v", loc, ok)
	}
	if cfg.RequestTimeout != 2500*time.Millisecond || cfg.FitDebounce != 50*time.Millisecond {
		t.Errorf("durations = %v, %v", cfg.RequestTimeout, cfg.FitDebounce)
	}
	if !cfg.DarkMode {
		t.Error("expected dark mode")
	}
	if want := "postgres://gtfs:p%40ss@db:5432/postgres?sslmode=disable"; cfg.StopsDatabaseURL != want {
		t.Errorf("StopsDatabaseURL = %q, want %q", cfg.StopsDatabaseURL, want)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing api url", map[string]string{}, "APIURL"},
		{"api url not a url", map[string]string{"API_URL": "transit"}, "APIURL"},
		{"lat without lng", map[string]string{"API_URL": "http://x", "USER_LAT": "44"}, "USER_LAT and USER_LNG"},
		{"lat out of range", map[string]string{"API_URL": "http://x", "USER_LAT": "91", "USER_LNG": "0"}, "UserLat"},
		{"lat not a number", map[string]string{"API_URL": "http://x", "USER_LAT": "north", "USER_LNG": "0"}, "USER_LAT"},
		{"bad timeout", map[string]string{"API_URL": "http://x", "REQUEST_TIMEOUT_MS": "0"}, "REQUEST_TIMEOUT_MS"},
		{"token and token file", map[string]string{"API_URL": "http://x", "ID_TOKEN": "a", "ID_TOKEN_FILE": "/tmp/t"}, "IDTokenFile"},
		{"city without database", map[string]string{"API_URL": "http://x", "CITY": "halifax"}, "City"},
		{"wildcard prefix", map[string]string{"API_URL": "http://x", "NATS_SUBJECT_PREFIX": "bus.>"}, "NATSSubjectPrefix"},
		{"bad metrics addr", map[string]string{"API_URL": "http://x", "METRICS_ADDR": "nope"}, "MetricsAddr"},
		{"bad log level", map[string]string{"API_URL": "http://x", "LOG_LEVEL": "chatty"}, "LOG_LEVEL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cleanEnv(t, tc.env)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
