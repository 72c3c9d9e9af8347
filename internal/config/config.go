package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"busbeacon/internal/geo"
)

type Config struct {
	APIURL         string        `validate:"required,url"`
	IDToken        string
	IDTokenFile    string        `validate:"excluded_with=IDToken"`
	UserLat        *float64      `validate:"omitempty,latitude"`
	UserLng        *float64      `validate:"omitempty,longitude"`
	RequestTimeout time.Duration `validate:"gt=0"`
	FitDebounce    time.Duration `validate:"gt=0"`
	DarkMode       bool

	NATSURL           string
	NATSSubjectPrefix string `validate:"required,excludesall=*>"`
	LogNATSSubjects   bool

	MetricsAddr      string `validate:"omitempty,hostname_port"`
	StopsDatabaseURL string
	City             string `validate:"excluded_without=StopsDatabaseURL"`

	LogLevel slog.Level
}

var validate = validator.New()

// UserLocation returns the configured position, if both coordinates are set.
func (c *Config) UserLocation() (geo.Coordinate, bool) {
	if c.UserLat == nil || c.UserLng == nil {
		return geo.Coordinate{}, false
	}
	return geo.Coordinate{Lat: *c.UserLat, Lng: *c.UserLng}, true
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		APIURL:            strings.TrimRight(strings.TrimSpace(os.Getenv("API_URL")), "/"),
		IDToken:           strings.TrimSpace(os.Getenv("ID_TOKEN")),
		IDTokenFile:       strings.TrimSpace(os.Getenv("ID_TOKEN_FILE")),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: strings.TrimSpace(getenvDefault("NATS_SUBJECT_PREFIX", "busbeacon")),
		LogNATSSubjects:   parseBool(os.Getenv("LOG_NATS_SUBJECTS")),
		DarkMode:          parseBool(os.Getenv("DARK_MODE")),
		// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		City:        firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME")),
	}

	var err error
	if cfg.UserLat, err = optionalFloat("USER_LAT"); err != nil {
		return nil, err
	}
	if cfg.UserLng, err = optionalFloat("USER_LNG"); err != nil {
		return nil, err
	}
	if (cfg.UserLat == nil) != (cfg.UserLng == nil) {
		return nil, errors.New("USER_LAT and USER_LNG must be set together")
	}

	if cfg.RequestTimeout, err = millis("REQUEST_TIMEOUT_MS", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.FitDebounce, err = millis("FIT_DEBOUNCE_MS", 100*time.Millisecond); err != nil {
		return nil, err
	}

	// Stop database DSN: prefer STOPS_DATABASE_URL / PG_DSN, else build from PG* vars when present
	cfg.StopsDatabaseURL = firstNonEmpty(os.Getenv("STOPS_DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.StopsDatabaseURL == "" && (os.Getenv("PGHOST") != "" || os.Getenv("PGDATABASE") != "") {
		cfg.StopsDatabaseURL = dsnFromPGEnv(cfg.City != "")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %q", v)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func dsnFromPGEnv(withCity bool) string {
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	// With CITY the base DB only hosts latest_successful_imports.
	if db == "" && withCity {
		db = "postgres"
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
}

func optionalFloat(k string) (*float64, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", k, v)
	}
	return &f, nil
}

func millis(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
