package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr  string
	MetricsAddr string

	DatabaseURL     string
	NATSURL         string
	NATSPrefix      string
	LogNATSSubjects bool

	JWTSecret string

	GeofenceRadiusMeters float64
	DelayThresholdMin    int
	MinUpdateInterval    time.Duration
	FallbackSpeedKph     float64

	EMAAlpha      float64
	StableSamples int

	PingInterval time.Duration

	Location *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("LISTEN_ADDR", ":8080")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	// NATS mirror. Empty URL disables the bridge.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "tracking")

	// Debug logging for NATS mirror subjects
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}

	// Geofence radius around stops (meters)
	if v := os.Getenv("GEOFENCE_RADIUS_METERS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid GEOFENCE_RADIUS_METERS: %q", v)
		}
		cfg.GeofenceRadiusMeters = f
	} else {
		cfg.GeofenceRadiusMeters = 60
	}

	// Delay alert threshold (minutes)
	if v := os.Getenv("DELAY_THRESHOLD_MINUTES"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil || min <= 0 {
			return nil, fmt.Errorf("invalid DELAY_THRESHOLD_MINUTES: %q", v)
		}
		cfg.DelayThresholdMin = min
	} else {
		cfg.DelayThresholdMin = 5
	}

	// Minimum interval between accepted position updates per trip.
	// Zero disables rate limiting.
	if v := os.Getenv("MIN_UPDATE_INTERVAL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			return nil, fmt.Errorf("invalid MIN_UPDATE_INTERVAL_SEC: %q", v)
		}
		cfg.MinUpdateInterval = time.Duration(sec) * time.Second
	} else {
		cfg.MinUpdateInterval = 2 * time.Second
	}

	// Fallback speed for ETA when no tracker estimate exists (km/h).
	// Zero disables the fallback.
	if v := os.Getenv("FALLBACK_SPEED_KPH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid FALLBACK_SPEED_KPH: %q", v)
		}
		cfg.FallbackSpeedKph = f
	} else {
		cfg.FallbackSpeedKph = 25
	}

	// EMA smoothing factor for speed estimates
	if v := os.Getenv("EMA_ALPHA"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			return nil, fmt.Errorf("invalid EMA_ALPHA: %q", v)
		}
		cfg.EMAAlpha = f
	} else {
		cfg.EMAAlpha = 0.2
	}

	// Samples before a speed estimate is considered stable
	if v := os.Getenv("STABLE_SAMPLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid STABLE_SAMPLES: %q", v)
		}
		cfg.StableSamples = n
	} else {
		cfg.StableSamples = 3
	}

	// WebSocket ping interval (seconds)
	if v := os.Getenv("PING_INTERVAL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid PING_INTERVAL_SEC: %q", v)
		}
		cfg.PingInterval = time.Duration(sec) * time.Second
	} else {
		cfg.PingInterval = 30 * time.Second
	}

	// Time zone for notification day buckets
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
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
